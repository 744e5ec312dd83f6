package application

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/benjspriggs/chooser/internal/api"
	"github.com/benjspriggs/chooser/internal/cache"
	"github.com/benjspriggs/chooser/internal/chooser"
	"github.com/benjspriggs/chooser/internal/config"
	"github.com/benjspriggs/chooser/internal/manifest"
	"github.com/benjspriggs/chooser/internal/picker"
	"github.com/benjspriggs/chooser/internal/tinify"
)

// compressionRPS throttles outbound shrink calls so a large URL list cannot
// burn through the monthly tinify quota in one refresh.
const (
	compressionRPS   = 2.0
	compressionBurst = 4
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	chooser *chooser.Chooser
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	svc := buildChooser(cfg, logger)

	handler := api.NewHandler(svc)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	rootHandler := BuildRootHandler(apiRouter, cfg.CachePath())
	server := NewServer(cfg, rootHandler)

	return &App{
		chooser: svc,
		handler: handler,
		router:  apiRouter,
		logger:  logger,
		server:  server,
	}, nil
}

// buildChooser assembles the chooser service from configuration: manifest
// store and image cache under the app root, seedable picker, and the tinify
// client when an API key is present.
func buildChooser(cfg config.Config, logger *zap.Logger) *chooser.Chooser {
	store := manifest.NewFileStore(cfg.ManifestFile())
	imgCache := cache.New(cfg.CachePath())
	pick := picker.New(cfg.Seed)

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	opts := []chooser.Option{chooser.WithHTTPClient(httpClient)}

	if cfg.CompressionEnabled() {
		client := tinify.NewClient(cfg.APIKey,
			tinify.WithHTTPClient(httpClient),
			tinify.WithLimiter(rate.NewLimiter(rate.Limit(compressionRPS), compressionBurst)),
		)
		opts = append(opts, chooser.WithCompressor(client))
	}

	return chooser.New(cfg.URLsFile(), cfg.CachePrefix, store, imgCache, pick, logger, opts...)
}

// BuildRootHandler constructs the root HTTP handler: API routes under /api/,
// cached images under /cache/, and a redirect from the root to the
// background endpoint.
func BuildRootHandler(apiHandler http.Handler, cacheDir string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/", apiHandler)
	mux.Handle("/cache/", http.StripPrefix("/cache/", http.FileServer(http.Dir(cacheDir))))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/background", http.StatusTemporaryRedirect)
	}))

	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// PickOne refreshes the manifest and returns the URL of one randomly chosen
// background image. Used by the one-shot CLI mode.
func (a *App) PickOne(ctx context.Context) (string, error) {
	img, err := a.chooser.Respond(ctx)
	if err != nil {
		return "", err
	}
	return img.URL, nil
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}
