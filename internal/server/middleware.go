package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"tempotrain/internal/models"
	"tempotrain/internal/shared"
)

// Cookie names used by the auth flow.
const (
	stateCookieName   = "spotify_auth_state"
	sessionCookieName = "session_id"
)

type contextKey string

const sessionContextKey contextKey = "session"

// RequestLogger logs method, path, and duration for every request.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

// SessionStore is the subset of the session repository the HTTP layer needs.
type SessionStore interface {
	Create(session *models.Session) error
	Get(id string) (*models.Session, error)
	Update(session *models.Session) error
}

// RefreshFunc obtains a fresh token set from a refresh token. It returns the
// new access token, a replacement refresh token (may be empty), and the expiry.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// SessionLoader resolves the session cookie into a [models.Session] for
// protected routes, refreshing expired tokens before the request proceeds.
type SessionLoader struct {
	sessions SessionStore
	refresh  RefreshFunc
	logger   *log.Logger
}

// NewSessionLoader creates a SessionLoader. The refresh function may be nil,
// in which case expired sessions always redirect to login.
func NewSessionLoader(sessions SessionStore, refresh RefreshFunc, logger *log.Logger) *SessionLoader {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SessionLoader{sessions: sessions, refresh: refresh, logger: logger}
}

// Require wraps a handler so it only runs with a live session in the request
// context. Missing, unknown, or unrefreshable sessions redirect to /login.
func (l *SessionLoader) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := l.load(r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) && !errors.Is(err, shared.ErrSessionNotFound) {
				l.logger.Warn("session rejected", "err", err)
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

func (l *SessionLoader) load(r *http.Request) (*models.Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, err
	}

	session, err := l.sessions.Get(cookie.Value)
	if err != nil {
		return nil, err
	}

	if !session.Expired() {
		return session, nil
	}

	if l.refresh == nil || session.RefreshToken() == "" {
		return nil, shared.ErrTokenExpired
	}

	access, refresh, expiry, err := l.refresh(r.Context(), session.RefreshToken())
	if err != nil {
		return nil, err
	}

	session.UpdateTokens(access, refresh, expiry)
	if err := l.sessions.Update(session); err != nil {
		return nil, err
	}

	l.logger.Info("refreshed expired session token", "user", session.UserID())
	return session, nil
}

func withSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the session placed in the context by [SessionLoader.Require].
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*models.Session)
	return session, ok
}
