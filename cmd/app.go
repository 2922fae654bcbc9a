package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apicomponents/s3-collection/collection"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const indexRefreshTimeout = 5 * time.Second

type AppConfig struct {
	Address              string
	ReadHeaderTimeout    time.Duration
	ShutdownTimeout      time.Duration
	IndexRefreshInterval time.Duration
	Logger               *slog.Logger
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Address:              "127.0.0.1:8080",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		IndexRefreshInterval: 60 * time.Second,
		Logger:               slog.Default(),
	}
}

type App struct {
	manifest *collection.Manifest
	echo     *echo.Echo
	config   AppConfig
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
	started  bool

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

func NewApp(manifest *collection.Manifest, cfg AppConfig) *App {
	cfg = mergeWithDefaultAppConfig(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(requestLoggerMiddleware(logger))

	app := &App{
		manifest: manifest,
		echo:     e,
		config:   cfg,
		logger:   logger,
		errCh:    make(chan error, 1),
	}
	app.registerRoutes()
	return app
}

func mergeWithDefaultAppConfig(cfg AppConfig) AppConfig {
	d := DefaultAppConfig()
	if cfg.Address != "" {
		d.Address = cfg.Address
	}
	if cfg.ReadHeaderTimeout > 0 {
		d.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		d.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.IndexRefreshInterval > 0 {
		d.IndexRefreshInterval = cfg.IndexRefreshInterval
	}
	if cfg.Logger != nil {
		d.Logger = cfg.Logger
	}
	return d
}

func requestLoggerMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			latencyMS := time.Since(start).Milliseconds()
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			attrs := []any{
				"method", c.Request().Method,
				"path", path,
				"status", status,
				"latency_ms", latencyMS,
				"remote_ip", c.RealIP(),
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.ErrorContext(c.Request().Context(), "http request", attrs...)
			case status >= http.StatusBadRequest:
				logger.WarnContext(c.Request().Context(), "http request", attrs...)
			default:
				logger.InfoContext(c.Request().Context(), "http request", attrs...)
			}
			return nil
		}
	}
}

func (a *App) registerRoutes() {
	deps := Dependencies{
		IndexMetricsHandler: collection.NewIndexOpenMetricsHandler(a.manifestMetrics()),
		GetDatesBefore: func(ctx context.Context, date string, limit int) ([]string, error) {
			if a.manifest == nil {
				return nil, fmt.Errorf("index unavailable")
			}
			return a.manifest.GetDatesBefore(ctx, date, limit)
		},
		AddDate: func(ctx context.Context, date string) error {
			if a.manifest == nil {
				return fmt.Errorf("index unavailable")
			}
			return a.manifest.AddDate(ctx, date)
		},
		RefreshIndex: func(ctx context.Context) error {
			if a.manifest == nil {
				return fmt.Errorf("index unavailable")
			}
			a.manifest.Invalidate()
			return a.manifest.Load(ctx)
		},
		Logger: a.logger,
	}
	Register(a.echo, deps)
	RegisterUI(a.echo)
}

func (a *App) manifestMetrics() *collection.IndexMetrics {
	if a.manifest == nil {
		return nil
	}
	return a.manifest.Metrics()
}

func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}

	if a.manifest != nil {
		a.startIndexRefreshLoopLocked()
	}

	ln, err := net.Listen("tcp", a.config.Address)
	if err != nil {
		if a.manifest != nil {
			a.stopIndexRefreshLoopLocked()
		}
		return err
	}
	a.listener = ln
	a.started = true

	srv := &http.Server{Handler: a.echo, ReadHeaderTimeout: a.config.ReadHeaderTimeout}
	a.echo.Server = srv

	go func() {
		err := a.echo.Server.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		a.errCh <- err
	}()

	return nil
}

func (a *App) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	addr := a.listener.Addr().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	host = strings.TrimSpace(host)
	if host == "" || host == "::" || host == "0.0.0.0" || host == "[::]" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (a *App) Wait() error {
	return <-a.errCh
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if !started {
		return nil
	}

	if a.manifest != nil {
		a.mu.Lock()
		a.stopIndexRefreshLoopLocked()
		a.mu.Unlock()
	}

	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		ctx = c
	}

	if err := a.echo.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}

// startIndexRefreshLoopLocked keeps the in-memory index warm so reads rarely
// pay a cold load. The freshness cache makes a refresh within the TTL free.
func (a *App) startIndexRefreshLoopLocked() {
	if a.manifest == nil || a.config.IndexRefreshInterval <= 0 {
		return
	}
	if a.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.refreshCancel = cancel
	a.refreshDone = done
	interval := a.config.IndexRefreshInterval

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				loadCtx, loadCancel := context.WithTimeout(context.Background(), indexRefreshTimeout)
				if err := a.manifest.Load(loadCtx); err != nil {
					a.logger.Warn("background index refresh failed", "error", err)
				}
				loadCancel()
			}
		}
	}()
}

func (a *App) stopIndexRefreshLoopLocked() {
	if a.refreshCancel == nil {
		return
	}
	cancel := a.refreshCancel
	done := a.refreshDone
	a.refreshCancel = nil
	a.refreshDone = nil
	cancel()
	if done != nil {
		<-done
	}
}
