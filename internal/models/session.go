package models

import (
	"fmt"
	"time"
)

// expirySkew is subtracted from the token expiry so a session counts as
// expired slightly early. The build issues a chain of remote calls, and a
// token that dies mid-chain fails the whole request.
const expirySkew = 30 * time.Second

// Session is the typed record of an authenticated Spotify user session.
//
// Replaces ad hoc token bags: the access token, refresh token, and expiry are
// explicit so expiry can be checked and refresh handled before a build starts.
type Session struct {
	id           string
	sequence     int
	userID       string
	displayName  string
	accessToken  string
	refreshToken string
	tokenType    string
	expiry       time.Time
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewSession creates a session for the given Spotify user and token set.
func NewSession(sequence int, userID, displayName, accessToken, refreshToken string, expiry time.Time) *Session {
	now := time.Now()
	return &Session{
		sequence:     sequence,
		userID:       userID,
		displayName:  displayName,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		tokenType:    "Bearer",
		expiry:       expiry,
		createdAt:    now,
		updatedAt:    now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Sequence() int        { return s.sequence }
func (s *Session) UserID() string       { return s.userID }
func (s *Session) DisplayName() string  { return s.displayName }
func (s *Session) AccessToken() string  { return s.accessToken }
func (s *Session) RefreshToken() string { return s.refreshToken }
func (s *Session) TokenType() string    { return s.tokenType }
func (s *Session) Expiry() time.Time    { return s.expiry }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }
func (s *Session) DeletedAt() *time.Time {
	return s.deletedAt
}

func (s *Session) SetID(id string)              { s.id = id }
func (s *Session) SetUpdatedAt(t time.Time)     { s.updatedAt = t }
func (s *Session) SetDeletedAt(t *time.Time)    { s.deletedAt = t }
func (s *Session) SetTokenType(tokenType string) {
	if tokenType != "" {
		s.tokenType = tokenType
	}
}

// UpdateTokens replaces the token set after a refresh.
func (s *Session) UpdateTokens(accessToken, refreshToken string, expiry time.Time) {
	s.accessToken = accessToken
	if refreshToken != "" {
		s.refreshToken = refreshToken
	}
	s.expiry = expiry
	s.updatedAt = time.Now()
}

// Expired reports whether the access token is past (or within skew of) its expiry.
// A zero expiry means the provider did not report one and the token is assumed live.
func (s *Session) Expired() bool {
	if s.expiry.IsZero() {
		return false
	}
	return time.Now().After(s.expiry.Add(-expirySkew))
}

// Validate checks that the session carries the fields every build requires.
func (s *Session) Validate() error {
	if s.userID == "" {
		return fmt.Errorf("session user_id is required")
	}
	if s.accessToken == "" {
		return fmt.Errorf("session access_token is required")
	}
	return nil
}
