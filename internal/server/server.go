package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/api"
	"github.com/joeblew999/plat-water/internal/api/viewer"
	"github.com/joeblew999/plat-water/internal/config"
	"github.com/joeblew999/plat-water/internal/db"
	"github.com/joeblew999/plat-water/internal/humastar"
	"github.com/joeblew999/plat-water/internal/log"
	"github.com/joeblew999/plat-water/internal/metrics"
	"github.com/joeblew999/plat-water/internal/service"
	"github.com/joeblew999/plat-water/internal/templates"
	"github.com/joeblew999/plat-water/pkg/waterclient"
)

// Config holds the server configuration.
type Config struct {
	Host       string
	Port       string
	DataDir    string // DuckDB ledger location, in-memory when empty
	WebDir     string // optional web/ directory with static files and template overrides
	ConfigPath string // YAML file, defaults apply when missing
	BackendURL string // overrides backend.url from the file
}

// Server is the surface water viewer HTTP server.
type Server struct {
	config   Config
	settings config.Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
	viewer   *viewer.Handler
	stop     context.CancelFunc
	log      *zap.SugaredLogger
}

// New creates a new viewer server.
func New(cfg Config) (*Server, error) {
	settings, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.BackendURL != "" {
		settings.Backend.URL = cfg.BackendURL
	}
	opacity, err := settings.LayerOpacity()
	if err != nil {
		return nil, err
	}
	logger := log.Sugared().Named("server")

	mux := http.NewServeMux()

	links := &humastar.LinkIndex{}
	humaConfig := huma.DefaultConfig("plat-water API", "1.0.0")
	humaConfig.Info.Description = "Surface water viewer: water layers, region selection and exports backed by a remote analysis service."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	humaAPI := humago.New(mux, humaConfig)

	renderer, err := newRenderer(cfg.WebDir, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		settings: settings,
		mux:      mux,
		humaAPI:  humaAPI,
		renderer: renderer,
		log:      logger,
	}

	var ledger *db.Ledger
	if settings.Ledger.Enabled {
		conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: settings.Ledger.DBName})
		if err != nil {
			return nil, err
		}
		s.db = conn
		if ledger, err = db.NewLedger(context.Background(), conn); err != nil {
			conn.Close()
			return nil, err
		}
	}

	backend := waterclient.New(settings.Backend.URL, waterclient.Options{
		TileBase:      settings.Backend.TileURL,
		Timeout:       settings.Backend.Timeout,
		MaxConcurrent: settings.Backend.MaxConcurrent,
		OnRequest:     metrics.ObserveBackend,
	})
	sessionCfg := service.SessionConfig{
		Backend:  backend,
		Limits:   settings.Limits,
		Defaults: settings.Defaults,
		Opacity:  opacity,
		View:     settings.Map.Center,
		MaxZoom:  settings.Map.MaxZoom,
		Examples: settings.Examples,
		Logger:   log.Sugared().Named("session"),
		IdleTTL:  settings.Sessions.IdleTTL,
	}
	if ledger != nil {
		sessionCfg.Ledger = ledger
	}
	s.services = &api.Services{
		Sessions: service.NewSessionManager(sessionCfg),
		Examples: settings.Examples,
	}
	if ledger != nil {
		s.services.Exports = ledger
	}
	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	go s.services.Sessions.ExpireIdle(ctx, settings.Sessions.SweepInterval)

	if err := s.routes(links); err != nil {
		s.Close()
		return nil, err
	}
	s.handler = log.HTTPMiddleware(logger, mux)
	return s, nil
}

func newRenderer(webDir string, logger *zap.SugaredLogger) (*templates.Renderer, error) {
	if webDir != "" {
		dir := filepath.Join(webDir, "templates", "fragments")
		if r, err := templates.NewFromDir(dir); err == nil {
			logger.Infow("loaded fragment templates", "dir", dir)
			return r, nil
		}
	}
	return templates.New()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// API returns the Huma API, for printing the OpenAPI document.
func (s *Server) API() huma.API { return s.humaAPI }

// Settings returns the loaded configuration.
func (s *Server) Settings() config.Config { return s.settings }

// Close closes every session and the ledger.
func (s *Server) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if s.services != nil {
		s.services.Sessions.CloseAll()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) routes(links *humastar.LinkIndex) error {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.settings.Backend.URL, s.config.DataDir, s.services.Exports != nil, s.settings.Limits).RegisterRoutes(s.humaAPI)

	// Register viewer SSE routes using Huma + Datastar SDK
	s.viewer = viewer.New(s.services.Sessions, s.renderer, s.settings.Examples, s.settings.Defaults, log.Sugared().Named("viewer"))
	s.viewer.RegisterRoutes(s.humaAPI)

	links.Build(s.humaAPI, viewer.Tag)
	forms := []humastar.FormSchema{viewer.Form()}
	humastar.InjectExtensions(s.humaAPI, forms)
	if err := humastar.RegisterForms(s.humaAPI, s.renderer, forms); err != nil {
		return err
	}

	s.mux.Handle("GET /metrics", promhttp.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("GET /{$}", s.viewer.Page)
	return nil
}
