package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"tempotrain/internal/builder"
	"tempotrain/internal/shared"
)

// PlaylistBuilder runs one tempo-filtered build; implemented by [builder.Engine].
type PlaylistBuilder interface {
	Build(ctx context.Context, token, ownerID string, spec builder.TargetSpec) (*builder.Result, error)
}

// PlaylistHandler serves the playlist-building views.
type PlaylistHandler struct {
	engine PlaylistBuilder
	views  *Views
	logger *log.Logger
}

// NewPlaylistHandler creates a new PlaylistHandler.
func NewPlaylistHandler(engine PlaylistBuilder, views *Views, logger *log.Logger) *PlaylistHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &PlaylistHandler{engine: engine, views: views, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
//
// The "/" pattern also catches unknown paths, which render the 404 page.
func (h *PlaylistHandler) Routes() []string {
	return []string{"/", "/make-playlist", "/your-playlist", "/artist-not-found"}
}

// ServeHTTP dispatches to the playlist views.
func (h *PlaylistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		h.views.Render(w, http.StatusOK, "index.html", nil)
	case "/make-playlist":
		h.views.Render(w, http.StatusOK, "make-playlist.html", nil)
	case "/your-playlist":
		h.yourPlaylist(w, r)
	case "/artist-not-found":
		h.views.Render(w, http.StatusOK, "artist-not-found.html", nil)
	default:
		h.views.Render(w, http.StatusNotFound, "404.html", nil)
	}
}

// yourPlaylist validates the form input, runs the build, and renders the result.
func (h *PlaylistHandler) yourPlaylist(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	query := r.URL.Query()
	spec, err := builder.ParseTargetSpec(query.Get("artist_to_search"), query.Get("bpm_to_search"))
	if err != nil {
		h.views.RenderError(w, http.StatusBadRequest, "Enter an artist name and a whole-number BPM")
		return
	}

	result, err := h.engine.Build(r.Context(), session.AccessToken(), session.UserID(), spec)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrArtistNotFound):
			http.Redirect(w, r, "/artist-not-found", http.StatusFound)
		case errors.Is(err, shared.ErrInvalidInput):
			h.views.RenderError(w, http.StatusBadRequest, "Enter an artist name and a whole-number BPM")
		default:
			h.logger.Error("playlist build failed", "artist", spec.ArtistQuery, "err", err)
			h.views.RenderError(w, http.StatusBadGateway, "Spotify is unavailable right now, try again shortly")
		}
		return
	}

	h.logger.Info("playlist built", "artist", result.ArtistName, "tracks", result.TrackCount, "playlist", result.PlaylistID)
	h.views.Render(w, http.StatusOK, "your-playlist.html", result)
}
