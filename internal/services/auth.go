package services

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"tempotrain/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
)

// Authenticator wraps an [oauth2.Config] for the Spotify authorization-code flow.
//
// Handles the authorize redirect, the code-for-token exchange, and refreshing
// expired tokens. Session persistence is the caller's concern.
type Authenticator struct {
	config *oauth2.Config
}

// NewAuthenticator creates an Authenticator from Spotify credentials.
func NewAuthenticator(cfg shared.SpotifyConfig) (*Authenticator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", shared.ErrMissingCredentials)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:3000/callback"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"playlist-modify-public"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &Authenticator{config: config}, nil
}

// AuthCodeURL returns the Spotify authorize URL carrying the given anti-forgery state.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// Exchange swaps an authorization code for a token set.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrTokenExchange, err)
	}
	return token, nil
}

// Refresh obtains a fresh token set using a refresh token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	source := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	return token, nil
}
