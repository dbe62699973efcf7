package server

import (
	"github.com/charmbracelet/log"
)

// NewAppRouter assembles the application's route table.
//
// The auth routes and the public views are open; the playlist form and the
// build endpoint sit behind the session loader.
func NewAppRouter(auth *AuthHandler, playlists *PlaylistHandler, loader *SessionLoader, logger *log.Logger) *BasicRouter {
	router := NewBasicRouter()
	router.Use(RequestLogger(logger))

	router.Handler(auth)

	router.Handle("GET", "/make-playlist", loader.Require(playlists))
	router.Handle("GET", "/your-playlist", loader.Require(playlists))
	router.Handle("GET", "/artist-not-found", playlists)
	router.Handle("GET", "/", playlists)

	return router
}
