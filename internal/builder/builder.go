// package builder implements the tempo-filtered playlist aggregation engine.
//
// A build resolves an artist, gathers candidate tracks from the artist's top
// tracks and from recommendation batches seeded by those tracks and by
// related artists, keeps the candidates whose tempo sits inside the target
// window, then realizes the accumulated set as a new playlist on the user's
// account.
package builder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"tempotrain/internal/services"
	"tempotrain/internal/shared"
)

// TargetSpec is the validated user input for one build.
type TargetSpec struct {
	DesiredBPM  int
	ArtistQuery string
}

// ParseTargetSpec validates raw form input into a TargetSpec.
//
// The BPM must parse as a positive integer and the artist query must be
// non-empty; either failure is a client error.
func ParseTargetSpec(artistQuery, bpm string) (TargetSpec, error) {
	artistQuery = strings.TrimSpace(artistQuery)
	if artistQuery == "" {
		return TargetSpec{}, fmt.Errorf("%w: artist name is required", shared.ErrInvalidInput)
	}

	desired, err := strconv.Atoi(strings.TrimSpace(bpm))
	if err != nil {
		return TargetSpec{}, fmt.Errorf("%w: bpm must be a whole number", shared.ErrInvalidInput)
	}
	if desired <= 0 {
		return TargetSpec{}, fmt.Errorf("%w: bpm must be positive", shared.ErrInvalidInput)
	}

	return TargetSpec{DesiredBPM: desired, ArtistQuery: artistQuery}, nil
}

// MatchesTempo reports whether a track tempo fits the target window.
//
// A track matches when its tempo, or double its tempo, lies strictly inside
// (target-tolerance, target+tolerance). Doubling catches tracks written at
// half the felt tempo. The check is deliberately one-sided: a track at double
// the target tempo never matches.
func MatchesTempo(tempo float64, targetBPM int, tolerance float64) bool {
	target := float64(targetBPM)
	lo, hi := target-tolerance, target+tolerance
	if tempo > lo && tempo < hi {
		return true
	}
	double := tempo * 2
	return double > lo && double < hi
}

// FilterTracks returns the IDs of records matching the target tempo, in input
// order, skipping any ID already present in seen. Matched IDs are added to
// seen so the caller's accumulator never holds a duplicate.
func FilterTracks(records []services.TempoRecord, spec TargetSpec, tolerance float64, seen map[string]struct{}) []string {
	var matches []string
	for _, rec := range records {
		if _, ok := seen[rec.TrackID]; ok {
			continue
		}
		if !MatchesTempo(rec.TempoBPM, spec.DesiredBPM, tolerance) {
			continue
		}
		seen[rec.TrackID] = struct{}{}
		matches = append(matches, rec.TrackID)
	}
	return matches
}

// Windows partitions ids into disjoint contiguous windows of the given size,
// preserving order. The final window may be shorter.
func Windows(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// Result is what a successful build hands back to the presentation layer.
type Result struct {
	ArtistName     string
	ArtistImageURL string
	PlaylistID     string
	PlaylistName   string
	OwnerID        string
	EmbedURL       string
	TrackCount     int
}

// Opts tunes a build.
type Opts struct {
	ToleranceBPM        float64       // BPM window half-width (default: 2)
	SeedWindowSize      int           // Seed ids per recommendation call, capped at 5
	RecommendationLimit int           // Candidates per recommendation call, capped at 100
	FetchConcurrency    int           // Concurrent window fetches (default: 4)
	CallTimeout         time.Duration // Per-remote-call timeout (default: 10s)
	MaxRelatedArtists   int           // Related-artist seed pool bound (default: 20)
}

func (o Opts) withDefaults() Opts {
	if o.ToleranceBPM <= 0 {
		o.ToleranceBPM = 2
	}
	if o.SeedWindowSize <= 0 || o.SeedWindowSize > 5 {
		o.SeedWindowSize = 5
	}
	if o.RecommendationLimit <= 0 || o.RecommendationLimit > 100 {
		o.RecommendationLimit = 100
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.MaxRelatedArtists <= 0 {
		o.MaxRelatedArtists = 20
	}
	return o
}

// Engine runs tempo-filtered playlist builds against a [services.Catalog].
type Engine struct {
	catalog services.Catalog
	logger  *log.Logger
	opts    Opts
}

// NewEngine creates an Engine with the provided catalog and options.
func NewEngine(catalog services.Catalog, logger *log.Logger, opts Opts) *Engine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Engine{
		catalog: catalog,
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

// seedJob is one recommendation window to fetch and tempo-check.
type seedJob struct {
	index int
	seeds services.Seeds
}

// Build produces a new playlist of tempo-matched tracks for the given owner.
//
// Candidate pools are gathered in a fixed order: the artist's top tracks
// first, then recommendation batches seeded by windows over the top tracks,
// then batches seeded by windows over related artists. Window fetches run
// concurrently but merge deterministically by window index, so the output is
// reproducible regardless of completion order. Any remote failure aborts the
// whole build; there are no partial playlists.
func (e *Engine) Build(ctx context.Context, token, ownerID string, spec TargetSpec) (*Result, error) {
	if e.catalog == nil {
		return nil, fmt.Errorf("%w: catalog not initialized", shared.ErrCatalogUnavailable)
	}

	artist, err := e.resolveArtist(ctx, token, spec.ArtistQuery)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("artist", artist.Name, "bpm", spec.DesiredBPM)

	topTracks, err := e.fetchTopTracks(ctx, token, artist.ID)
	if err != nil {
		return nil, err
	}

	seedIDs := make([]string, 0, len(topTracks))
	for _, t := range topTracks {
		seedIDs = append(seedIDs, t.ID)
	}

	seen := make(map[string]struct{})
	var accumulated []string

	if len(seedIDs) > 0 {
		records, err := e.fetchAudioFeatures(ctx, token, seedIDs)
		if err != nil {
			return nil, err
		}
		accumulated = append(accumulated, FilterTracks(records, spec, e.opts.ToleranceBPM, seen)...)
	}

	related, err := e.fetchRelatedArtists(ctx, token, artist.ID)
	if err != nil {
		return nil, err
	}
	if len(related) > e.opts.MaxRelatedArtists {
		related = related[:e.opts.MaxRelatedArtists]
	}
	relatedIDs := make([]string, 0, len(related))
	for _, a := range related {
		relatedIDs = append(relatedIDs, a.ID)
	}

	jobs := buildSeedJobs(seedIDs, relatedIDs, e.opts.SeedWindowSize)

	batches, err := e.fetchBatches(ctx, token, spec, jobs)
	if err != nil {
		return nil, err
	}

	// Deterministic merge: window index order, within-batch order preserved.
	for _, records := range batches {
		accumulated = append(accumulated, FilterTracks(records, spec, e.opts.ToleranceBPM, seen)...)
	}

	logger.Info("accumulated tempo-matched tracks", "count", len(accumulated), "windows", len(jobs))

	playlistName := fmt.Sprintf("Tempo training, inspired by %s", artist.Name)
	playlist, err := e.createPlaylist(ctx, token, ownerID, playlistName)
	if err != nil {
		return nil, err
	}

	// The append is issued even for an empty accumulator so every build
	// leaves exactly one real playlist behind.
	if err := e.addTracks(ctx, token, ownerID, playlist.ID, accumulated); err != nil {
		return nil, err
	}

	return &Result{
		ArtistName:     artist.Name,
		ArtistImageURL: artist.ImageURL,
		PlaylistID:     playlist.ID,
		PlaylistName:   playlistName,
		OwnerID:        ownerID,
		EmbedURL:       EmbedURL(ownerID, playlist.ID),
		TrackCount:     len(accumulated),
	}, nil
}

// EmbedURL builds the playable embed reference for a playlist.
func EmbedURL(ownerID, playlistID string) string {
	return fmt.Sprintf("https://open.spotify.com/embed?uri=spotify:user:%s:playlist:%s&theme=white", ownerID, playlistID)
}

// buildSeedJobs lays out the recommendation windows in their canonical order:
// track-seeded windows first, artist-seeded windows after.
func buildSeedJobs(trackIDs, artistIDs []string, windowSize int) []seedJob {
	var jobs []seedJob
	for _, window := range Windows(trackIDs, windowSize) {
		jobs = append(jobs, seedJob{index: len(jobs), seeds: services.Seeds{Tracks: window}})
	}
	for _, window := range Windows(artistIDs, windowSize) {
		jobs = append(jobs, seedJob{index: len(jobs), seeds: services.Seeds{Artists: window}})
	}
	return jobs
}

// fetchBatches fetches every window's recommendations and tempo metadata with
// bounded concurrency. Results are slotted by window index; the first error
// cancels the remaining fetches and fails the batch.
func (e *Engine) fetchBatches(ctx context.Context, token string, spec TargetSpec, jobs []seedJob) ([][]services.TempoRecord, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make([][]services.TempoRecord, len(jobs))
	errs := make([]error, len(jobs))

	jobCh := make(chan seedJob, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	workers := e.opts.FetchConcurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				records, err := e.fetchBatch(ctx, token, job.seeds)
				if err != nil {
					errs[job.index] = err
					cancel()
					return
				}
				batches[job.index] = records
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return batches, nil
}

// fetchBatch fetches one window's recommendations and correlates tempo
// metadata by track ID, preserving the recommendation order.
func (e *Engine) fetchBatch(ctx context.Context, token string, seeds services.Seeds) ([]services.TempoRecord, error) {
	var candidates []services.Track
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = e.catalog.Recommendations(ctx, token, seeds, e.opts.RecommendationLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, t := range candidates {
		ids = append(ids, t.ID)
	}

	records, err := e.fetchAudioFeatures(ctx, token, ids)
	if err != nil {
		return nil, err
	}

	// Feature response order is not guaranteed; re-order by candidate order.
	tempoByID := make(map[string]float64, len(records))
	for _, rec := range records {
		tempoByID[rec.TrackID] = rec.TempoBPM
	}

	ordered := make([]services.TempoRecord, 0, len(candidates))
	for _, t := range candidates {
		tempo, ok := tempoByID[t.ID]
		if !ok {
			continue
		}
		ordered = append(ordered, services.TempoRecord{TrackID: t.ID, TempoBPM: tempo})
	}

	return ordered, nil
}

func (e *Engine) resolveArtist(ctx context.Context, token, query string) (*services.Artist, error) {
	var artists []services.Artist
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		artists, err = e.catalog.SearchArtist(ctx, token, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(artists) == 0 {
		return nil, fmt.Errorf("%w: %q", shared.ErrArtistNotFound, query)
	}
	// First result is the canonical match, no further disambiguation.
	return &artists[0], nil
}

func (e *Engine) fetchTopTracks(ctx context.Context, token, artistID string) ([]services.Track, error) {
	var tracks []services.Track
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		tracks, err = e.catalog.TopTracks(ctx, token, artistID)
		return err
	})
	return tracks, err
}

func (e *Engine) fetchRelatedArtists(ctx context.Context, token, artistID string) ([]services.Artist, error) {
	var artists []services.Artist
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		artists, err = e.catalog.RelatedArtists(ctx, token, artistID)
		return err
	})
	return artists, err
}

func (e *Engine) fetchAudioFeatures(ctx context.Context, token string, ids []string) ([]services.TempoRecord, error) {
	var records []services.TempoRecord
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		records, err = e.catalog.AudioFeatures(ctx, token, ids)
		return err
	})
	return records, err
}

func (e *Engine) createPlaylist(ctx context.Context, token, ownerID, name string) (*services.Playlist, error) {
	var playlist *services.Playlist
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		playlist, err = e.catalog.CreatePlaylist(ctx, token, ownerID, name)
		return err
	})
	return playlist, err
}

func (e *Engine) addTracks(ctx context.Context, token, ownerID, playlistID string, trackIDs []string) error {
	return e.call(ctx, func(ctx context.Context) error {
		return e.catalog.AddTracks(ctx, token, ownerID, playlistID, trackIDs)
	})
}

// call runs one remote operation under the per-call timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return fn(ctx)
}
