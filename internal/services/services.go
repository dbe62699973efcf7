// package services defines interface Catalog for interacting with the music catalog HTTP API
package services

import (
	"context"
)

// Catalog defines the remote catalog operations the playlist builder depends on.
// All operations require an authenticated bearer credential.
type Catalog interface {
	// SearchArtist searches the catalog for artists matching the query.
	// The first result is treated as the canonical match by callers.
	SearchArtist(ctx context.Context, token, query string) ([]Artist, error)

	// TopTracks retrieves an artist's top tracks (bounded, typically up to 10).
	TopTracks(ctx context.Context, token, artistID string) ([]Track, error)

	// RelatedArtists retrieves artists similar to the given artist (bounded, typically up to 20).
	RelatedArtists(ctx context.Context, token, artistID string) ([]Artist, error)

	// AudioFeatures bulk-fetches tempo metadata for the given track IDs.
	// Response order is not guaranteed to match input order; correlate by ID.
	AudioFeatures(ctx context.Context, token string, trackIDs []string) ([]TempoRecord, error)

	// Recommendations fetches candidate tracks generated from the given seeds.
	// Exactly one seed kind may be supplied per call, with at most five seeds.
	Recommendations(ctx context.Context, token string, seeds Seeds, limit int) ([]Track, error)

	// CurrentUser retrieves the authenticated user's profile.
	CurrentUser(ctx context.Context, token string) (*User, error)

	// CreatePlaylist creates a new, initially empty playlist owned by the given user.
	CreatePlaylist(ctx context.Context, token, ownerID, name string) (*Playlist, error)

	// AddTracks appends tracks to a playlist in a single bulk call.
	AddTracks(ctx context.Context, token, ownerID, playlistID string, trackIDs []string) error

	// Name returns the name of the catalog service (e.g., "Spotify")
	Name() string
}

// Artist represents a catalog artist
type Artist struct {
	ID       string
	Name     string
	ImageURL string
}

// Track represents a catalog track
type Track struct {
	ID   string
	Name string
}

// TempoRecord is the tempo metadata for one track, keyed by track ID.
type TempoRecord struct {
	TrackID  string
	TempoBPM float64
}

// Playlist represents a playlist on the catalog service
type Playlist struct {
	ID      string
	OwnerID string
	Name    string
}

// User represents the authenticated catalog user
type User struct {
	ID          string
	DisplayName string
}

// Seeds carries recommendation seed identifiers. Exactly one field may be set per call.
type Seeds struct {
	Tracks  []string
	Artists []string
}
