package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tempotrain/internal/builder"
	"tempotrain/internal/models"
	"tempotrain/internal/shared"
)

// mockEngine is a test double for [PlaylistBuilder].
type mockEngine struct {
	result     *builder.Result
	err        error
	buildCalls int
	lastSpec   builder.TargetSpec
	lastToken  string
	lastOwner  string
}

func (m *mockEngine) Build(ctx context.Context, token, ownerID string, spec builder.TargetSpec) (*builder.Result, error) {
	m.buildCalls++
	m.lastSpec = spec
	m.lastToken = token
	m.lastOwner = ownerID
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func newTestPlaylistHandler(t *testing.T, engine *mockEngine) *PlaylistHandler {
	t.Helper()
	return NewPlaylistHandler(engine, testViews(t), shared.NewLogger(io.Discard))
}

func liveSession() *models.Session {
	session := models.NewSession(1, "runner42", "Runner", "access", "refresh", time.Now().Add(time.Hour))
	session.SetID("session-1")
	return session
}

func TestPlaylistHandlerViews(t *testing.T) {
	handler := newTestPlaylistHandler(t, &mockEngine{})

	t.Run("Index", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Make Playlist Form", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/make-playlist", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "artist_to_search") || !strings.Contains(body, "bpm_to_search") {
			t.Error("form should carry the artist and bpm fields")
		}
	})

	t.Run("Artist Not Found Page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/artist-not-found", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Unknown Path Renders 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/no-such-page", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestYourPlaylist(t *testing.T) {
	withLiveSession := func(r *http.Request) *http.Request {
		return r.WithContext(withSession(r.Context(), liveSession()))
	}

	t.Run("No Session Redirects To Login", func(t *testing.T) {
		engine := &mockEngine{}
		handler := newTestPlaylistHandler(t, engine)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/your-playlist?artist_to_search=x&bpm_to_search=120", nil))

		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rec.Code)
		}
		if location := rec.Header().Get("Location"); location != "/login" {
			t.Errorf("expected redirect to /login, got %s", location)
		}
		if engine.buildCalls != 0 {
			t.Error("no build should run without a session")
		}
	})

	t.Run("Invalid Input", func(t *testing.T) {
		engine := &mockEngine{}
		handler := newTestPlaylistHandler(t, engine)

		req := withLiveSession(httptest.NewRequest("GET", "/your-playlist?artist_to_search=x&bpm_to_search=fast", nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if engine.buildCalls != 0 {
			t.Error("no build should run on invalid input")
		}
	})

	t.Run("Artist Not Found Redirects", func(t *testing.T) {
		engine := &mockEngine{err: fmt.Errorf("%w: %q", shared.ErrArtistNotFound, "x")}
		handler := newTestPlaylistHandler(t, engine)

		req := withLiveSession(httptest.NewRequest("GET", "/your-playlist?artist_to_search=x&bpm_to_search=120", nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rec.Code)
		}
		if location := rec.Header().Get("Location"); location != "/artist-not-found" {
			t.Errorf("expected redirect to /artist-not-found, got %s", location)
		}
	})

	t.Run("Catalog Failure", func(t *testing.T) {
		engine := &mockEngine{err: fmt.Errorf("%w: status 503", shared.ErrCatalogUnavailable)}
		handler := newTestPlaylistHandler(t, engine)

		req := withLiveSession(httptest.NewRequest("GET", "/your-playlist?artist_to_search=x&bpm_to_search=120", nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
	})

	t.Run("Success", func(t *testing.T) {
		engine := &mockEngine{result: &builder.Result{
			ArtistName:     "Daft Punk",
			ArtistImageURL: "http://img/1",
			PlaylistID:     "pl1",
			PlaylistName:   "Tempo training, inspired by Daft Punk",
			OwnerID:        "runner42",
			EmbedURL:       builder.EmbedURL("runner42", "pl1"),
			TrackCount:     12,
		}}
		handler := newTestPlaylistHandler(t, engine)

		req := withLiveSession(httptest.NewRequest("GET", "/your-playlist?artist_to_search=Daft+Punk&bpm_to_search=120", nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		if engine.lastToken != "access" || engine.lastOwner != "runner42" {
			t.Error("build should run with the session's token and owner")
		}
		if engine.lastSpec.ArtistQuery != "Daft Punk" || engine.lastSpec.DesiredBPM != 120 {
			t.Errorf("unexpected target spec %+v", engine.lastSpec)
		}

		body := rec.Body.String()
		if !strings.Contains(body, "Daft Punk") {
			t.Error("result page should name the artist")
		}
		// html/template escapes the & in the query string, so match the URI part.
		if !strings.Contains(body, "spotify:user:runner42:playlist:pl1") {
			t.Error("result page should embed the playlist")
		}
	})
}
