package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"tempotrain/internal/models"
	"tempotrain/internal/services"
	"tempotrain/internal/shared"
)

// AuthProvider is the OAuth surface the handlers need; implemented by [services.Authenticator].
type AuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// AuthHandler drives the Spotify authorization-code flow.
//
// /login generates a random state token, stores it client-side in a cookie,
// and redirects to the provider. /callback verifies the returned state
// byte-for-byte against the cookie before any token exchange, then exchanges
// the code, persists a session, and hands off to the playlist form.
type AuthHandler struct {
	auth          AuthProvider
	catalog       services.Catalog
	sessions      SessionStore
	views         *Views
	logger        *log.Logger
	secureCookies bool
	callTimeout   time.Duration
}

// AuthHandlerOpts contains configuration options for creating an AuthHandler.
type AuthHandlerOpts struct {
	Auth          AuthProvider
	Catalog       services.Catalog
	Sessions      SessionStore
	Views         *Views
	Logger        *log.Logger
	SecureCookies bool
	CallTimeout   time.Duration
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(opts AuthHandlerOpts) *AuthHandler {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &AuthHandler{
		auth:          opts.Auth,
		catalog:       opts.Catalog,
		sessions:      opts.Sessions,
		views:         opts.Views,
		logger:        opts.Logger,
		secureCookies: opts.SecureCookies,
		callTimeout:   opts.CallTimeout,
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *AuthHandler) Routes() []string {
	return []string{"/login", "/callback"}
}

// ServeHTTP dispatches to the login or callback flow.
func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/login":
		h.login(w, r)
	case "/callback":
		h.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

// login starts the authorization flow.
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	state, err := shared.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state token", "err", err)
		h.views.RenderError(w, http.StatusInternalServerError, "Could not start login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// callback completes the authorization flow.
//
// The state check happens before anything else; a missing cookie or a
// mismatch is a hard 400 and no exchange is attempted.
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	returnedState := query.Get("state")

	stored, err := r.Cookie(stateCookieName)
	if err != nil || returnedState == "" || stored.Value != returnedState {
		var expected string
		if stored != nil {
			expected = stored.Value
		}
		h.logger.Error("oauth state mismatch", "expected", expected, "actual", returnedState, "provider_error", query.Get("error"))
		h.views.RenderError(w, http.StatusBadRequest, "Login state check failed")
		return
	}

	// State cookie is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Error("authorization denied by provider", "err", errParam)
		h.views.RenderError(w, http.StatusBadRequest, "Authorization was denied")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.views.RenderError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
	defer cancel()

	token, err := h.auth.Exchange(ctx, code)
	if err != nil {
		status := http.StatusBadGateway
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			// Propagate the provider's status verbatim, no retry.
			status = retrieveErr.Response.StatusCode
		}
		h.logger.Error("token exchange failed", "status", status, "err", err)
		h.views.RenderError(w, status, "Could not complete login")
		return
	}

	user, err := h.catalog.CurrentUser(ctx, token.AccessToken)
	if err != nil {
		h.logger.Error("failed to resolve user profile", "err", err)
		h.views.RenderError(w, http.StatusBadGateway, "Could not load your profile")
		return
	}

	session := models.NewSession(0, user.ID, user.DisplayName, token.AccessToken, token.RefreshToken, token.Expiry)
	session.SetTokenType(token.TokenType)
	if err := h.sessions.Create(session); err != nil {
		h.logger.Error("failed to persist session", "err", err)
		h.views.RenderError(w, http.StatusInternalServerError, "Could not establish a session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID(),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
	})

	h.logger.Info("user authenticated", "user", user.ID)
	http.Redirect(w, r, "/make-playlist", http.StatusFound)
}
