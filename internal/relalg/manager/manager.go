// Package manager runs the client-facing side of the engine: the session
// endpoint, the dispatcher behind it, and the metrics and health endpoints.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ariyn/relalg/internal/log"
	"github.com/ariyn/relalg/internal/relalg/broker"
	"github.com/ariyn/relalg/internal/relalg/dispatch"
	"github.com/ariyn/relalg/internal/relalg/metrics"
	"github.com/ariyn/relalg/internal/relalg/session"
)

type Config struct {
	Addr            string
	Path            string
	ShutdownTimeout time.Duration

	TaskQueue    string
	PurgeOnStart bool
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/task"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.TaskQueue == "" {
		c.TaskQueue = dispatch.DefaultTaskQueue
	}
}

type Manager struct {
	cfg         Config
	metrics     *metrics.Metrics
	dispatcher  *dispatch.Dispatcher
	coordinator *session.Coordinator
	server      *http.Server
	listener    net.Listener

	done      chan struct{}
	doneOnce  sync.Once
	serveErr  error
	closeOnce sync.Once
	closeErr  error
}

// Start opens a dispatcher on b and begins serving. rec may be nil. The
// broker stays owned by the caller.
func Start(ctx context.Context, b broker.Broker, rec session.Recorder, cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	m := metrics.New()

	d, err := dispatch.Open(ctx, b, dispatch.Config{TaskQueue: cfg.TaskQueue, PurgeOnOpen: cfg.PurgeOnStart}, m)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = d.Close()
		return nil, errors.Wrapf(err, "listen on %s", cfg.Addr)
	}

	mgr := &Manager{
		cfg:         cfg,
		metrics:     m,
		dispatcher:  d,
		coordinator: session.New(d, rec, m),
		listener:    ln,
		done:        make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, mgr.coordinator)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", mgr.handleHealth)
	mgr.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := mgr.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf(ctx, "manager server error: %v", err)
			mgr.serveErr = err
		}
		mgr.signalDone()
	}()
	log.Infof(ctx, "manager listening on %s%s", ln.Addr(), cfg.Path)
	return mgr, nil
}

// Run starts a manager and serves until ctx is done or the server fails.
func Run(ctx context.Context, b broker.Broker, rec session.Recorder, cfg Config) error {
	mgr, err := Start(ctx, b, rec, cfg)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-mgr.Done()
		return mgr.serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof(ctx, "shutting down manager")
		return mgr.Close()
	})
	return g.Wait()
}

// Addr is the address the manager listens on.
func (m *Manager) Addr() net.Addr { return m.listener.Addr() }

// URL is the WebSocket URL of the task endpoint.
func (m *Manager) URL() string {
	return fmt.Sprintf("ws://%s%s", m.listener.Addr(), m.cfg.Path)
}

func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// Done is closed once the server stopped serving.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Close ends running sessions, stops the server and the dispatcher.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.coordinator.Close()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
		defer cancel()
		err := m.server.Shutdown(ctx)
		m.closeErr = errors.CombineErrors(err, m.dispatcher.Close())
		m.signalDone()
	})
	return m.closeErr
}

func (m *Manager) signalDone() {
	m.doneOnce.Do(func() {
		close(m.done)
	})
}

type health struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Pending: m.dispatcher.Pending()})
}
