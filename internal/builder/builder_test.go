package builder

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"tempotrain/internal/services"
	"tempotrain/internal/shared"
)

// mockCatalog is a test double for [services.Catalog] with per-call counters.
// Safe for concurrent use; window fetches run in parallel.
type mockCatalog struct {
	mu sync.Mutex

	artists         []services.Artist
	topTracks       []services.Track
	relatedArtists  []services.Artist
	tempos          map[string]float64          // track id -> tempo
	recommendations map[string][]services.Track // seed key -> candidates

	searchErr    error
	topErr       error
	relatedErr   error
	featuresErr  error
	recommendErr error
	createErr    error
	addErr       error

	searchCalls    int
	topCalls       int
	relatedCalls   int
	featuresCalls  int
	recommendCalls int
	createCalls    int
	addCalls       int

	createdNames []string
	addedTracks  [][]string
	addedOwner   string
}

func (m *mockCatalog) Name() string { return "mock" }

func (m *mockCatalog) SearchArtist(ctx context.Context, token, query string) ([]services.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.artists, nil
}

func (m *mockCatalog) TopTracks(ctx context.Context, token, artistID string) ([]services.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topCalls++
	if m.topErr != nil {
		return nil, m.topErr
	}
	return m.topTracks, nil
}

func (m *mockCatalog) RelatedArtists(ctx context.Context, token, artistID string) ([]services.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relatedCalls++
	if m.relatedErr != nil {
		return nil, m.relatedErr
	}
	return m.relatedArtists, nil
}

func (m *mockCatalog) AudioFeatures(ctx context.Context, token string, trackIDs []string) ([]services.TempoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.featuresCalls++
	if m.featuresErr != nil {
		return nil, m.featuresErr
	}
	records := make([]services.TempoRecord, 0, len(trackIDs))
	for _, id := range trackIDs {
		if tempo, ok := m.tempos[id]; ok {
			records = append(records, services.TempoRecord{TrackID: id, TempoBPM: tempo})
		}
	}
	return records, nil
}

func (m *mockCatalog) Recommendations(ctx context.Context, token string, seeds services.Seeds, limit int) ([]services.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recommendCalls++
	if m.recommendErr != nil {
		return nil, m.recommendErr
	}
	return m.recommendations[seedKey(seeds)], nil
}

func (m *mockCatalog) CurrentUser(ctx context.Context, token string) (*services.User, error) {
	return &services.User{ID: "runner42"}, nil
}

func (m *mockCatalog) CreatePlaylist(ctx context.Context, token, ownerID, name string) (*services.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createdNames = append(m.createdNames, name)
	return &services.Playlist{ID: "pl1", OwnerID: ownerID, Name: name}, nil
}

func (m *mockCatalog) AddTracks(ctx context.Context, token, ownerID, playlistID string, trackIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	if m.addErr != nil {
		return m.addErr
	}
	m.addedOwner = ownerID
	m.addedTracks = append(m.addedTracks, trackIDs)
	return nil
}

func seedKey(seeds services.Seeds) string {
	if len(seeds.Tracks) > 0 {
		return "t:" + strings.Join(seeds.Tracks, ",")
	}
	return "a:" + strings.Join(seeds.Artists, ",")
}

func TestMatchesTempo(t *testing.T) {
	t.Run("Direct Match", func(t *testing.T) {
		if !MatchesTempo(119.5, 120, 2) {
			t.Error("119.5 should match a 120 target with tolerance 2")
		}
		if !MatchesTempo(121.5, 120, 2) {
			t.Error("121.5 should match a 120 target with tolerance 2")
		}
		if MatchesTempo(122.5, 120, 2) {
			t.Error("122.5 should not match a 120 target with tolerance 2 (double is out of range too)")
		}
	})

	t.Run("Half Tempo Match", func(t *testing.T) {
		if !MatchesTempo(60.5, 120, 2) {
			t.Error("60.5 should match a 120 target via doubling")
		}
		if !MatchesTempo(59.5, 120, 2) {
			t.Error("59.5 should match a 120 target via doubling")
		}
	})

	t.Run("Double Tempo Never Matches", func(t *testing.T) {
		// The check is one-sided: t*2 is tested, t/2 is not.
		if MatchesTempo(240, 120, 2) {
			t.Error("240 should not match a 120 target")
		}
		if MatchesTempo(239.5, 120, 2) {
			t.Error("239.5 should not match a 120 target")
		}
	})

	t.Run("Boundary Exclusivity", func(t *testing.T) {
		if MatchesTempo(118, 120, 2) {
			t.Error("exact lower bound should not match")
		}
		if MatchesTempo(122, 120, 2) {
			t.Error("exact upper bound should not match")
		}
		if MatchesTempo(59, 120, 2) {
			t.Error("doubled exact lower bound should not match")
		}
		if MatchesTempo(61, 120, 2) {
			t.Error("doubled exact upper bound should not match")
		}
		if !MatchesTempo(118.01, 120, 2) {
			t.Error("just inside lower bound should match")
		}
	})
}

func TestParseTargetSpec(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		spec, err := ParseTargetSpec("  Daft Punk ", " 120 ")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if spec.ArtistQuery != "Daft Punk" {
			t.Errorf("expected trimmed artist query, got %q", spec.ArtistQuery)
		}
		if spec.DesiredBPM != 120 {
			t.Errorf("expected bpm 120, got %d", spec.DesiredBPM)
		}
	})

	t.Run("Empty Artist", func(t *testing.T) {
		if _, err := ParseTargetSpec("  ", "120"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input error, got %v", err)
		}
	})

	t.Run("Non Integer BPM", func(t *testing.T) {
		if _, err := ParseTargetSpec("Daft Punk", "fast"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input error, got %v", err)
		}
		if _, err := ParseTargetSpec("Daft Punk", "120.5"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input error for fractional bpm, got %v", err)
		}
	})

	t.Run("Non Positive BPM", func(t *testing.T) {
		if _, err := ParseTargetSpec("Daft Punk", "0"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input error, got %v", err)
		}
		if _, err := ParseTargetSpec("Daft Punk", "-10"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected invalid input error, got %v", err)
		}
	})
}

func TestFilterTracks(t *testing.T) {
	spec := TargetSpec{DesiredBPM: 120, ArtistQuery: "x"}

	t.Run("Keeps Matches In Order", func(t *testing.T) {
		records := []services.TempoRecord{
			{TrackID: "a", TempoBPM: 119},
			{TrackID: "b", TempoBPM: 150},
			{TrackID: "c", TempoBPM: 60},
		}
		seen := make(map[string]struct{})

		got := FilterTracks(records, spec, 2, seen)
		want := []string{"a", "c"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Skips Already Seen", func(t *testing.T) {
		seen := map[string]struct{}{"a": {}}
		records := []services.TempoRecord{
			{TrackID: "a", TempoBPM: 120},
			{TrackID: "b", TempoBPM: 120},
		}

		got := FilterTracks(records, spec, 2, seen)
		if !reflect.DeepEqual(got, []string{"b"}) {
			t.Errorf("expected only b, got %v", got)
		}
	})

	t.Run("Marks Matches Seen", func(t *testing.T) {
		seen := make(map[string]struct{})
		records := []services.TempoRecord{{TrackID: "a", TempoBPM: 120}}

		FilterTracks(records, spec, 2, seen)
		if _, ok := seen["a"]; !ok {
			t.Error("matched id should be marked seen")
		}

		// A second pool containing the same id contributes nothing.
		again := FilterTracks(records, spec, 2, seen)
		if len(again) != 0 {
			t.Errorf("expected no new matches, got %v", again)
		}
	})
}

func TestWindows(t *testing.T) {
	t.Run("Disjoint Contiguous", func(t *testing.T) {
		ids := []string{"a", "b", "c", "d", "e", "f", "g"}
		got := Windows(ids, 3)
		want := [][]string{{"a", "b", "c"}, {"d", "e", "f"}, {"g"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Empty Input", func(t *testing.T) {
		if got := Windows(nil, 5); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("Invalid Size", func(t *testing.T) {
		if got := Windows([]string{"a"}, 0); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}

// fixtureCatalog builds a catalog where top tracks t1..t6 (t1, t3 in tempo),
// one track-seeded batch per window, and one artist-seeded batch contribute
// candidates, with r1/r2/r3 matching and r2 duplicated across pools.
func fixtureCatalog() *mockCatalog {
	return &mockCatalog{
		artists: []services.Artist{{ID: "art1", Name: "Daft Punk", ImageURL: "http://img/1"}},
		topTracks: []services.Track{
			{ID: "t1"}, {ID: "t2"}, {ID: "t3"}, {ID: "t4"}, {ID: "t5"}, {ID: "t6"},
		},
		relatedArtists: []services.Artist{{ID: "ra1"}, {ID: "ra2"}},
		tempos: map[string]float64{
			"t1": 120.5, "t2": 99, "t3": 60.2, "t4": 140, "t5": 87, "t6": 131,
			"r1": 119.2, "r2": 121.3, "r3": 59.8, "r4": 180, "r5": 95,
		},
		recommendations: map[string][]services.Track{
			"t:t1,t2,t3,t4,t5": {{ID: "r1"}, {ID: "r4"}},
			"t:t6":             {{ID: "r2"}, {ID: "r5"}},
			"a:ra1,ra2":        {{ID: "r3"}, {ID: "r2"}, {ID: "t1"}},
		},
	}
}

func TestEngineBuild(t *testing.T) {
	ctx := context.Background()
	spec := TargetSpec{DesiredBPM: 120, ArtistQuery: "Daft Punk"}

	t.Run("Artist Not Found Short Circuits", func(t *testing.T) {
		catalog := &mockCatalog{}
		engine := NewEngine(catalog, nil, Opts{})

		_, err := engine.Build(ctx, "tok", "runner42", spec)
		if !errors.Is(err, shared.ErrArtistNotFound) {
			t.Fatalf("expected artist not found, got %v", err)
		}

		if catalog.topCalls != 0 || catalog.relatedCalls != 0 || catalog.featuresCalls != 0 ||
			catalog.recommendCalls != 0 || catalog.createCalls != 0 || catalog.addCalls != 0 {
			t.Error("no further catalog calls should follow a failed search")
		}
	})

	t.Run("Full Build", func(t *testing.T) {
		catalog := fixtureCatalog()
		engine := NewEngine(catalog, nil, Opts{ToleranceBPM: 2, FetchConcurrency: 4})

		result, err := engine.Build(ctx, "tok", "runner42", spec)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.ArtistName != "Daft Punk" {
			t.Errorf("expected artist name Daft Punk, got %s", result.ArtistName)
		}
		if result.ArtistImageURL != "http://img/1" {
			t.Errorf("expected artist image, got %s", result.ArtistImageURL)
		}
		if result.PlaylistName != "Tempo training, inspired by Daft Punk" {
			t.Errorf("unexpected playlist name %q", result.PlaylistName)
		}
		if !strings.Contains(result.EmbedURL, "runner42") || !strings.Contains(result.EmbedURL, "pl1") {
			t.Errorf("embed URL should reference owner and playlist, got %s", result.EmbedURL)
		}

		if catalog.createCalls != 1 {
			t.Errorf("expected exactly one playlist creation, got %d", catalog.createCalls)
		}
		if catalog.addCalls != 1 {
			t.Errorf("expected exactly one bulk append, got %d", catalog.addCalls)
		}

		// Seed pool first (t1, t3), then window batches in index order.
		// r2 appears in two batches but is appended once; t1 reappears in the
		// artist batch and is skipped.
		want := []string{"t1", "t3", "r1", "r2", "r3"}
		if !reflect.DeepEqual(catalog.addedTracks[0], want) {
			t.Errorf("expected %v, got %v", want, catalog.addedTracks[0])
		}
		if result.TrackCount != len(want) {
			t.Errorf("expected track count %d, got %d", len(want), result.TrackCount)
		}
	})

	t.Run("Deterministic Across Concurrency Levels", func(t *testing.T) {
		var sequential []string
		for i, workers := range []int{1, 4, 8} {
			catalog := fixtureCatalog()
			engine := NewEngine(catalog, nil, Opts{ToleranceBPM: 2, FetchConcurrency: workers})

			if _, err := engine.Build(ctx, "tok", "runner42", spec); err != nil {
				t.Fatalf("workers=%d: %v", workers, err)
			}

			if i == 0 {
				sequential = catalog.addedTracks[0]
				continue
			}
			if !reflect.DeepEqual(catalog.addedTracks[0], sequential) {
				t.Errorf("workers=%d: expected %v, got %v", workers, sequential, catalog.addedTracks[0])
			}
		}
	})

	t.Run("Empty Accumulator Still Creates And Appends", func(t *testing.T) {
		catalog := fixtureCatalog()
		for id := range catalog.tempos {
			catalog.tempos[id] = 200 // nothing matches a 120 target
		}
		engine := NewEngine(catalog, nil, Opts{ToleranceBPM: 2})

		result, err := engine.Build(ctx, "tok", "runner42", spec)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if catalog.createCalls != 1 {
			t.Errorf("expected playlist creation even with no matches, got %d calls", catalog.createCalls)
		}
		if catalog.addCalls != 1 {
			t.Errorf("expected append even with no matches, got %d calls", catalog.addCalls)
		}
		if len(catalog.addedTracks[0]) != 0 {
			t.Errorf("expected empty track list, got %v", catalog.addedTracks[0])
		}
		if result.TrackCount != 0 {
			t.Errorf("expected zero track count, got %d", result.TrackCount)
		}
	})

	t.Run("Recommendation Failure Aborts Build", func(t *testing.T) {
		catalog := fixtureCatalog()
		catalog.recommendErr = fmt.Errorf("%w: status 503", shared.ErrCatalogUnavailable)
		engine := NewEngine(catalog, nil, Opts{ToleranceBPM: 2})

		_, err := engine.Build(ctx, "tok", "runner42", spec)
		if !errors.Is(err, shared.ErrCatalogUnavailable) {
			t.Fatalf("expected catalog unavailable, got %v", err)
		}

		if catalog.createCalls != 0 || catalog.addCalls != 0 {
			t.Error("no playlist should be created after a failed fetch")
		}
	})

	t.Run("Append Failure Propagates", func(t *testing.T) {
		catalog := fixtureCatalog()
		catalog.addErr = fmt.Errorf("%w: status 500", shared.ErrCatalogUnavailable)
		engine := NewEngine(catalog, nil, Opts{ToleranceBPM: 2})

		if _, err := engine.Build(ctx, "tok", "runner42", spec); !errors.Is(err, shared.ErrCatalogUnavailable) {
			t.Fatalf("expected catalog unavailable, got %v", err)
		}
	})

	t.Run("Owner Passed Through", func(t *testing.T) {
		catalog := fixtureCatalog()
		engine := NewEngine(catalog, nil, Opts{ToleranceBPM: 2})

		if _, err := engine.Build(ctx, "tok", "runner42", spec); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if catalog.addedOwner != "runner42" {
			t.Errorf("expected owner runner42, got %s", catalog.addedOwner)
		}
	})
}
