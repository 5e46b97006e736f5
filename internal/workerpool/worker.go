// Package workerpool implements the Worker Pool Manager (spec.md
// §4.2): it launches, tracks, and culls FastCGI worker processes,
// assigns workers to clients, and maintains the per-worker scoreboard.
// Worker lifecycle (spawn/stop/monitor, atomic state) is grounded on
// mevdschee/tqserver's pkg/php Worker (other_examples), generalized
// from a PHP-specific php-cgi launcher into the configurable command
// template spec.md §6 describes.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// defaultStopGrace is how long stop() waits for os.Interrupt to take
// effect before force-killing the process.
const defaultStopGrace = 5 * time.Second

// State is a Worker's lifecycle state.
type State int

const (
	StateStarting State = iota
	StateIdle
	StateActive
	StateTerminating
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Worker is one external FastCGI process (spec.md §3 Worker entity).
type Worker struct {
	ID   int
	Bind string // addr:port this worker listens on

	cmd *exec.Cmd
	pid atomic.Int64

	state        atomic.Value // State
	requestCount atomic.Int64
	clientCount  atomic.Int32

	startTime time.Time
	mu        sync.RWMutex
	lastUsed  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// newWorker constructs a Worker record for id/bind; start still needs
// to be called to actually spawn the process.
func newWorker(id int, bind string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ID:        id,
		Bind:      bind,
		startTime: time.Now(),
		lastUsed:  time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	w.setState(StateStarting)
	return w
}

// start spawns the worker process from a command template, e.g.
// "php-cgi -b {{bind}}" (spec.md §6 "FastCGI: worker command
// template"). argv is the already-templated argument vector.
func (w *Worker) start(path string, argv []string, env []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cmd != nil {
		return errors.New("workerpool: worker already started")
	}

	w.cmd = exec.CommandContext(w.ctx, path, argv...)
	w.cmd.Env = append(os.Environ(), env...)

	if err := w.cmd.Start(); err != nil {
		return errors.Wrapf(err, "workerpool: spawning worker %d", w.ID)
	}
	w.pid.Store(int64(w.cmd.Process.Pid))
	w.setState(StateIdle)

	go w.monitor()
	return nil
}

// monitor waits for the process to exit and marks it crashed unless
// the exit was requested via stop().
func (w *Worker) monitor() {
	err := w.cmd.Wait()

	w.mu.RLock()
	st := w.getState()
	w.mu.RUnlock()

	if st != StateTerminating {
		w.setState(StateCrashed)
		_ = err
	}
	close(w.done)
}

// stop sends os.Interrupt then force-kills after a grace period.
func (w *Worker) stop(grace time.Duration) error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	w.setState(StateTerminating)
	_ = cmd.Process.Signal(os.Interrupt)
	// Cancelling w.ctx makes exec kill the process, so it waits until
	// the grace period has been given.
	defer w.cancel()

	select {
	case <-w.done:
		return nil
	case <-time.After(grace):
		if err := cmd.Process.Kill(); err != nil {
			return errors.Wrapf(err, "workerpool: force-killing worker %d", w.ID)
		}
		return fmt.Errorf("workerpool: worker %d killed after %s grace period", w.ID, grace)
	}
}

// killByPID is the "batched OS-level kill" spec.md §4.2 describes for
// culling; it does not require the Worker's own exec.Cmd handle,
// matching a pool launched by a detached runner (spec.md §9 "Process
// launching portability").
func killByPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (w *Worker) setState(s State)    { w.state.Store(s) }
func (w *Worker) getState() State {
	if v := w.state.Load(); v != nil {
		return v.(State)
	}
	return StateStarting
}

// PID returns the cached process id (0 before a successful PID probe
// -- spec.md §4.2 "PID discovery").
func (w *Worker) PID() int { return int(w.pid.Load()) }

// SetPID caches the PID learned from the zero-id HEAD probe.
func (w *Worker) SetPID(pid int) { w.pid.Store(int64(pid)) }

// ClientCount returns the number of sessions currently bound to w
// (spec.md §3 invariant: 0 <= clientCount < max_clients_per_worker).
func (w *Worker) ClientCount() int { return int(w.clientCount.Load()) }

func (w *Worker) incClients() { w.clientCount.Add(1) }
func (w *Worker) decClients() {
	if w.clientCount.Load() > 0 {
		w.clientCount.Add(-1)
	}
}

// RequestCount returns the number of requests routed to w.
func (w *Worker) RequestCount() int64 { return w.requestCount.Load() }

func (w *Worker) noteRequest() {
	w.requestCount.Add(1)
	w.mu.Lock()
	w.lastUsed = time.Now()
	w.mu.Unlock()
}

// Age returns how long the worker has been alive (spec.md §3
// "age" essential attribute).
func (w *Worker) Age() time.Duration { return time.Since(w.startTime) }

// IdleFor returns 0 while any client is bound to w, otherwise the time
// since a request was last routed to it.
func (w *Worker) IdleFor() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ClientCount() > 0 {
		return 0
	}
	return time.Since(w.lastUsed)
}

// Alive reports whether the worker's process is still running,
// either via the cheap state check or, when force is true, the
// accurate but expensive OS process-existence query reserved for
// connection failures (spec.md §4.2 "Liveness").
func (w *Worker) Alive(force bool) bool {
	st := w.getState()
	if !force {
		return st == StateIdle || st == StateActive
	}
	w.mu.RLock()
	cmd := w.cmd
	w.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	if syscallSig0 == nil {
		return st == StateIdle || st == StateActive
	}
	// Signal 0 probes existence without affecting the process.
	return cmd.Process.Signal(syscallSig0) == nil
}

// ShouldRecycle reports whether the worker has crossed the configured
// max-requests recycle threshold (spec.md §4.2 "cheap check").
func (w *Worker) ShouldRecycle(maxRequests int) bool {
	return maxRequests > 0 && w.RequestCount() >= int64(maxRequests)
}
