package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"tempotrain/internal/builder"
	"tempotrain/internal/repositories"
	"tempotrain/internal/server"
	"tempotrain/internal/services"
	"tempotrain/internal/shared"
)

var (
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#1DB954")).Bold(true)
	urlStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{logger: opts.Logger, output: opts.Output}
}

// loadConfig reads the config file named by the flag, falling back to defaults
// (plus environment overrides) when the file is absent.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		if config, err := shared.LoadConfig(path); err == nil {
			return config
		} else {
			r.logger.Warn("failed to load config file, using defaults", "path", path, "err", err)
		}
	}
	return shared.DefaultConfig()
}

// Serve starts the web server.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	if err := config.Validate(); err != nil {
		return err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		return err
	}

	auth, err := services.NewAuthenticator(config.Credentials.Spotify)
	if err != nil {
		return err
	}

	catalog := services.NewSpotifyCatalog(services.SpotifyCatalogOpts{
		RateLimit: config.Builder.RateLimit,
	})

	callTimeout := time.Duration(config.Server.RequestTimeoutSeconds) * time.Second

	engine := builder.NewEngine(catalog, r.logger, builder.Opts{
		ToleranceBPM:        config.Builder.ToleranceBPM,
		SeedWindowSize:      config.Builder.SeedWindowSize,
		RecommendationLimit: config.Builder.RecommendationLimit,
		FetchConcurrency:    config.Builder.FetchConcurrency,
		CallTimeout:         callTimeout,
	})

	views, err := server.NewViews(r.logger)
	if err != nil {
		return err
	}

	sessions := repositories.NewSessionRepository(db)

	loader := server.NewSessionLoader(sessions, func(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
		token, err := auth.Refresh(ctx, refreshToken)
		if err != nil {
			return "", "", time.Time{}, err
		}
		return token.AccessToken, token.RefreshToken, token.Expiry, nil
	}, r.logger)

	authHandler := server.NewAuthHandler(server.AuthHandlerOpts{
		Auth:          auth,
		Catalog:       catalog,
		Sessions:      sessions,
		Views:         views,
		Logger:        r.logger,
		SecureCookies: config.Server.SecureCookies,
		CallTimeout:   callTimeout,
	})

	playlistHandler := server.NewPlaylistHandler(engine, views, r.logger)

	router := server.NewAppRouter(authHandler, playlistHandler, loader, r.logger)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintln(r.output, bannerStyle.Render("tempotrain"))
	fmt.Fprintf(r.output, "listening on %s\n", urlStyle.Render("http://"+addr))

	r.logger.Info("server starting", "addr", addr)
	return srv.ListenAndServe()
}

// Setup creates a starter config file and initializes the session database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	if err := shared.CreateConfigFile(path); err != nil {
		r.logger.Warn("config file not created", "path", path, "err", err)
	} else {
		r.logger.Info("created config file", "path", path)
	}

	config := r.loadConfig(cmd)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := shared.RunMigrations(db); err != nil {
		return err
	}

	r.logger.Info("database initialized", "path", config.Database.Path)
	fmt.Fprintln(r.output, bannerStyle.Render("setup complete"))
	return nil
}
