// Package pwstudio wires the recorder supervisor, the test runner and the
// saved-spec store into one embeddable service.
package pwstudio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/pwstudio/internal/config"
	"github.com/loykin/pwstudio/internal/history"
	"github.com/loykin/pwstudio/internal/history/factory"
	"github.com/loykin/pwstudio/internal/logger"
	"github.com/loykin/pwstudio/internal/metrics"
	"github.com/loykin/pwstudio/internal/recorder"
	"github.com/loykin/pwstudio/internal/runner"
	iapi "github.com/loykin/pwstudio/internal/server"
	"github.com/loykin/pwstudio/internal/specstore"
	itls "github.com/loykin/pwstudio/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type RecorderStatus = recorder.Status

type Result = runner.Result

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Studio owns one recorder, one runner and the spec store.
type Studio struct {
	cfg   *Config
	log   *slog.Logger
	rec   *recorder.Supervisor
	run   *runner.Runner
	store *specstore.Store
	sinks []history.Sink
}

// LoadConfig reads and validates the configuration; path may be empty.
func LoadConfig(path string) (*Config, error) {
	c, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// New builds a Studio from c. It creates the storage directories and opens the
// configured history sinks.
func New(c *Config, log *slog.Logger) (*Studio, error) {
	if log == nil {
		log = slog.Default()
	}
	env, err := c.ProcessEnv()
	if err != nil {
		return nil, err
	}
	store := specstore.New(c.Storage.SavedDir, c.ScratchDir(), c.Runner.Ext)
	if err := store.EnsureDirs(); err != nil {
		return nil, err
	}
	s := &Studio{
		cfg:   c,
		log:   log,
		rec:   recorder.New(c.RecorderConfig(env), log),
		run:   runner.New(c.RunnerConfig(env), log),
		store: store,
	}
	if c.History.Enabled {
		for _, dsn := range c.History.Sinks {
			sink, err := factory.NewSinkFromDSN(dsn)
			if err != nil {
				_ = s.closeSinks()
				return nil, fmt.Errorf("history sink %q: %w", redactDSN(dsn), err)
			}
			s.sinks = append(s.sinks, sink)
		}
		s.rec.SetHistorySinks(s.sinks...)
		s.run.SetHistorySinks(s.sinks...)
	}
	return s, nil
}

// AddHistorySinks attaches extra sinks, for embedders with their own exporters.
func (s *Studio) AddHistorySinks(sinks ...HistorySink) {
	s.sinks = append(s.sinks, sinks...)
	s.rec.SetHistorySinks(s.sinks...)
	s.run.SetHistorySinks(s.sinks...)
}

func (s *Studio) Config() *Config                { return s.cfg }
func (s *Studio) Recorder() *recorder.Supervisor { return s.rec }
func (s *Studio) Runner() *runner.Runner         { return s.run }
func (s *Studio) Store() *specstore.Store        { return s.store }

// Handler returns the HTTP API. metricsHandler, when non-nil, is mounted at /metrics.
func (s *Studio) Handler(metricsHandler http.Handler) http.Handler {
	opts := iapi.Options{
		BasePath:    s.cfg.Server.BasePath,
		CORSOrigins: s.cfg.Server.CORSOrigins,
		Metrics:     metricsHandler,
		Logger:      s.log,
	}
	for _, sk := range s.sinks {
		if rd, ok := sk.(history.Reader); ok {
			opts.History = rd
			break
		}
	}
	return iapi.NewRouter(s.rec, s.run, s.store, opts).Handler()
}

// NewHTTPServer returns an unstarted server for the API on the configured
// address. TLSConfig is set when server.tls is enabled; start such a server
// with ListenAndServeTLS("", "").
func (s *Studio) NewHTTPServer(metricsHandler http.Handler) (*http.Server, error) {
	tc, err := itls.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, err
	}
	srv := iapi.NewServer(s.cfg.Addr(), s.Handler(metricsHandler))
	srv.TLSConfig = tc
	return srv, nil
}

// Close stops an active recording and releases history sinks.
func (s *Studio) Close() error {
	s.rec.Shutdown()
	return s.closeSinks()
}

func (s *Studio) closeSinks() error {
	var errs []error
	for _, sk := range s.sinks {
		if c, ok := sk.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewMetricsServer returns an unstarted server exposing /metrics on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// NewLogger builds the service logger described by the [log] section. The
// closer releases a rotated log file and is never nil.
func NewLogger(c *Config) (*slog.Logger, io.Closer, error) {
	return logger.Setup(c.LoggerSettings(), os.Stderr)
}
