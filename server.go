// Package core assembles the Transport Listener, Worker Pool Manager,
// Handler Pipeline, and Client Session driver into one runnable server
// (spec.md §2 "System Overview").
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/savsgio/gotils/nocopy"

	"github.com/mhttpd/core/internal/accesslog"
	"github.com/mhttpd/core/internal/clientsession"
	"github.com/mhttpd/core/internal/fastcgi"
	"github.com/mhttpd/core/internal/handler"
	"github.com/mhttpd/core/internal/metrics"
	"github.com/mhttpd/core/internal/model"
	"github.com/mhttpd/core/internal/transport"
	"github.com/mhttpd/core/internal/workerpool"
)

// Version is the build-reported server version, substituted into the
// admin status page (spec.md §8 scenario 6).
const Version = "mhttpd/1.0"

// Server owns the assembled pipeline (spec.md §2). It is prohibited to
// copy Server values.
type Server struct {
	noCopy nocopy.NoCopy // nolint:structcheck,unused

	cfg        Config
	hcfg       *handler.Config
	pool       *workerpool.Manager
	loop       *transport.Loop
	accessLog  *accesslog.Logger
	metrics    *metrics.Registry
	logger     Logger
	launchedAt time.Time
}

// poolLogAdapter satisfies workerpool.Logger (and transport.Logger,
// an identical shape) from the root Logger.
type poolLogAdapter struct{ l Logger }

func (a poolLogAdapter) Printf(format string, args ...interface{}) {
	if a.l != nil {
		a.l.Printf(format, args...)
	}
}

// metricsAdapter satisfies clientsession.MetricsSink, recording each
// completed response's status code against the registry's
// ResponsesByStatus counter.
type metricsAdapter struct{ reg *metrics.Registry }

func (a metricsAdapter) ObserveResponse(status int) {
	a.reg.ResponsesByStatus.WithLabelValues(strconv.Itoa(status)).Inc()
}

// New assembles a Server from cfg: it starts the worker pool (spawning
// the configured minimum process count), builds the handler pipeline,
// and wires the Client Session driver, but does not yet listen
// (spec.md §4.2 "the pool is populated to min_processes at startup").
func New(cfg Config) (*Server, error) {
	if err := ensureDir(cfg.Paths.LogDir); err != nil {
		return nil, fmt.Errorf("core: preparing log dir: %w", err)
	}
	if err := ensureDir(cfg.Paths.TempDir); err != nil {
		return nil, fmt.Errorf("core: preparing temp dir: %w", err)
	}

	hcfg, err := cfg.handlerConfig()
	if err != nil {
		return nil, fmt.Errorf("core: handler config: %w", err)
	}

	pool, err := workerpool.NewManager(cfg.poolConfig(), poolLogAdapter{cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("core: worker pool: %w", err)
	}

	logFile, err := openAccessLog(cfg.Paths.LogDir)
	if err != nil {
		return nil, fmt.Errorf("core: opening access log: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		hcfg:       hcfg,
		pool:       pool,
		logger:     cfg.Logger,
		launchedAt: time.Now(),
		metrics:    metrics.NewRegistry(prometheus.NewRegistry()),
		accessLog:  accesslog.New(logFile, 256, nil),
	}

	steps := s.buildSteps(pool)

	loopCfg := transport.Config{
		Address:          fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		MaxClients:       cfg.Server.MaxClients,
		PollTimeout:      200 * time.Millisecond,
		PublicDocroot:    cfg.Paths.PublicDocroot,
		SendFileAllow:    cfg.Paths.SendFileAllow,
		ClientSessionCfg: clientsession.Config{KeepAliveTimeout: cfg.Server.KeepAliveTimeout, KeepAliveMaxRequests: cfg.Server.KeepAliveMaxRequests},
	}
	s.loop = transport.NewLoop(loopCfg, steps, pool, poolLogAdapter{cfg.Logger}, s.accessLog, metricsAdapter{s.metrics})

	return s, nil
}

// openAccessLog opens (creating if necessary) access.log under dir; an
// empty dir routes access logging to stderr instead, so a server under
// test can run without a configured log directory.
func openAccessLog(dir string) (*os.File, error) {
	if dir == "" {
		return os.Stderr, nil
	}
	return os.OpenFile(filepath.Join(dir, "access.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// buildSteps loads the configured ordered handler list (spec.md §6
// "Handlers: ordered list of pipeline step names to load"), falling
// back to the full built-in set in spec order when Handlers is empty.
func (s *Server) buildSteps(pool *workerpool.Manager) []model.Step {
	names := s.HandlerNames()

	available := map[string]model.Step{
		"auth":      handler.NewAuthStep(s.hcfg),
		"admin":     handler.NewAdminStep(s.hcfg, s, s.metrics),
		"private":   handler.NewPrivateStep(s.hcfg),
		"rewrite":   handler.NewRewriteStep(s.hcfg),
		"dynamic":   handler.NewDynamicStep(s.hcfg, fastcgi.PoolConnector(pool)),
		"static":    handler.NewStaticStep(s.hcfg),
		"directory": handler.NewDirectoryStep(s.hcfg),
	}

	steps := make([]model.Step, 0, len(names))
	for _, n := range names {
		if step, ok := available[n]; ok {
			steps = append(steps, step)
		} else if s.logger != nil {
			s.logger.Printf("core: unknown handler step %q, skipping", n)
		}
	}
	return steps
}

// ListenAndServe runs the main loop until ctx is canceled (spec.md
// §4.1 "Cancellation"). It blocks for the server's lifetime.
func (s *Server) ListenAndServe(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// Shutdown stops the worker pool and flushes the access log (spec.md
// §7 "Shutdown signal"). The Transport Listener itself is stopped by
// canceling the context passed to ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pool.Shutdown()
		s.accessLog.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// The methods below implement handler.StatsProvider for the admin
// status page (spec.md §8 scenario 6); they are only ever called from
// within the loop's own goroutine, since AdminStep.Execute runs inline
// in the single-threaded dispatch path (spec.md §5).

func (s *Server) Version() string       { return Version }
func (s *Server) LaunchedAt() time.Time { return s.launchedAt }
func (s *Server) BytesUp() int64        { return s.loop.BytesUp() }
func (s *Server) BytesDown() int64      { return s.loop.BytesDown() }
func (s *Server) ClientCount() int      { return s.loop.ClientCount() }
func (s *Server) AbortedCount() int     { return s.loop.AbortedCount() }

func (s *Server) Scoreboard() []handler.WorkerRow {
	entries := s.pool.Scoreboard()
	rows := make([]handler.WorkerRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, handler.WorkerRow{
			ID:           e.ID,
			PID:          e.PID,
			State:        e.State,
			Clients:      e.ClientCount,
			Age:          e.Age,
			RequestCount: e.RequestCount,
		})
	}
	return rows
}

func (s *Server) HandlerNames() []string {
	if len(s.cfg.Handlers) == 0 {
		return []string{"auth", "admin", "private", "rewrite", "dynamic", "static", "directory"}
	}
	return s.cfg.Handlers
}
