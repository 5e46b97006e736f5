package workerpool

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mhttpd/core/internal/fastcgi"
)

// Logger is the minimal logging seam every engine component takes
// (mirrors the teacher's atreugo.Logger interface).
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config is the subset of spec.md §6 "FastCGI" configuration the pool
// manager consumes.
type Config struct {
	CommandPath    string
	CommandArgs    []string // templated per worker, {{bind}} substituted
	Binds          []string // binds[i] = addr:port
	MinProcesses   int
	MaxProcesses   int
	MaxRequests    int           // per worker recycle threshold
	MaxClients     int           // per worker
	CullTimeLimit  time.Duration // spec.md §9: minutes, not seconds
	DialTimeout    time.Duration
	ProbeEndpoint  string // well-known PID-probe URI (spec.md §4.2)
}

var ErrPoolExhausted = errors.New("workerpool: no worker available (502)")

// Manager owns the id -> Worker mapping (spec.md §4.2). It is mutated
// only by the single Transport Listener thread per spec.md §5's
// "Shared resources" -- no internal locking is required for the
// connect/cull hot path, but a mutex guards the map itself so the
// admin status page (read from the same thread) and any future
// thread-per-client port (spec.md §5) stay safe.
type Manager struct {
	cfg    Config
	logger Logger

	mu      sync.Mutex
	workers map[int]*Worker
	nextID  int
}

// NewManager constructs a pool manager from cfg and spawns the
// configured minimum worker count.
func NewManager(cfg Config, logger Logger) (*Manager, error) {
	m := &Manager{cfg: cfg, logger: logger, workers: make(map[int]*Worker)}
	for i := 0; i < cfg.MinProcesses; i++ {
		if _, err := m.spawn(); err != nil {
			return nil, errors.Wrap(err, "workerpool: initial pool spawn")
		}
	}
	return m, nil
}

// spawn launches one new worker bound to the next configured bind
// address, assigning it the next small-integer id.
func (m *Manager) spawn() (*Worker, error) {
	m.mu.Lock()
	id := m.nextID + 1
	if id > len(m.cfg.Binds) {
		m.mu.Unlock()
		return nil, fmt.Errorf("workerpool: no configured bind for worker %d", id)
	}
	bind := m.cfg.Binds[id-1]
	m.nextID = id
	m.mu.Unlock()

	w := newWorker(id, bind)
	argv := templateArgs(m.cfg.CommandArgs, bind)
	if err := w.start(m.cfg.CommandPath, argv, nil); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()

	if pid, err := m.probePID(w); err == nil {
		w.SetPID(pid)
	} else if m.logger != nil {
		m.logger.Printf("workerpool: PID probe failed for worker %d: %v", id, err)
	}
	return w, nil
}

func templateArgs(args []string, bind string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = replaceAll(a, "{{bind}}", bind)
	}
	return out
}

func replaceAll(s, old, new string) string {
	for {
		i := indexOf(s, old)
		if i < 0 {
			return s
		}
		s = s[:i] + new + s[i+len(old):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// probePID dials the fresh worker directly and issues the zero-id HEAD
// FastCGI request spec.md §4.2 describes, reading the PID back from a
// response header. This is a raw one-shot exchange (not a
// fastcgi.Session) precisely so the pool manager never needs to
// depend on its own Connect() to bootstrap a brand-new worker.
func (m *Manager) probePID(w *Worker) (int, error) {
	conn, err := net.DialTimeout("tcp", w.Bind, m.dialTimeout())
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	params := map[string]string{
		"REQUEST_METHOD":  "HEAD",
		"SCRIPT_NAME":     m.cfg.ProbeEndpoint,
		"SERVER_PROTOCOL": "HTTP/1.1",
	}
	var out []byte
	begin := fastcgi.Record{Type: fastcgi.TypeBeginRequest, RequestID: 0, Content: fastcgi.EncodeBeginRequest(fastcgi.RoleResponder)}
	out, err = fastcgi.Encode(out, &begin)
	if err != nil {
		return 0, err
	}
	blocks, err := fastcgi.EncodeNameValuePairs(params)
	if err != nil {
		return 0, err
	}
	for _, b := range blocks {
		rec := fastcgi.Record{Type: fastcgi.TypeParams, RequestID: 0, Content: b}
		if out, err = fastcgi.Encode(out, &rec); err != nil {
			return 0, err
		}
	}
	empty := fastcgi.Record{Type: fastcgi.TypeParams, RequestID: 0}
	if out, err = fastcgi.Encode(out, &empty); err != nil {
		return 0, err
	}
	stdinTerm := fastcgi.Record{Type: fastcgi.TypeStdin, RequestID: 0}
	if out, err = fastcgi.Encode(out, &stdinTerm); err != nil {
		return 0, err
	}
	if _, err := conn.Write(out); err != nil {
		return 0, err
	}

	var rec fastcgi.Record
	var headerBuf []byte
	for {
		if err := fastcgi.Decode(conn, &rec); err != nil {
			return 0, err
		}
		if rec.Type == fastcgi.TypeStdout {
			headerBuf = append(headerBuf, rec.Content...)
			continue
		}
		if rec.Type == fastcgi.TypeEndRequest {
			break
		}
	}
	return parsePIDHeader(headerBuf)
}

func (m *Manager) dialTimeout() time.Duration {
	if m.cfg.DialTimeout > 0 {
		return m.cfg.DialTimeout
	}
	return 2 * time.Second
}

func parsePIDHeader(block []byte) (int, error) {
	const marker = "X-Worker-Pid:"
	s := string(block)
	idx := indexOf(s, marker)
	if idx < 0 {
		return 0, fmt.Errorf("workerpool: no %s header in PID probe response", marker)
	}
	rest := s[idx+len(marker):]
	end := indexOf(rest, "\r")
	if end < 0 {
		end = indexOf(rest, "\n")
	}
	if end < 0 {
		end = len(rest)
	}
	var pid int
	for _, c := range rest[:end] {
		if c == ' ' {
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		pid = pid*10 + int(c-'0')
	}
	if pid == 0 {
		return 0, fmt.Errorf("workerpool: empty PID in probe response")
	}
	return pid, nil
}

// Connect implements spec.md §4.2's five-step policy.
func (m *Manager) Connect(clientID, preferredWorkerID int) (int, net.Conn, error) {
	m.cull()

	// Step 1: preferred worker, if given and alive.
	if preferredWorkerID > 0 {
		m.mu.Lock()
		w, ok := m.workers[preferredWorkerID]
		m.mu.Unlock()
		if ok && w.Alive(false) {
			return m.dialWorker(w)
		}
	}

	// Step 2: an idle worker.
	if w := m.pickIdle(); w != nil {
		return m.dialWorker(w)
	}

	// Step 3: spawn up to the configured maximum.
	m.mu.Lock()
	count := len(m.workers)
	m.mu.Unlock()
	if count < m.cfg.MaxProcesses {
		w, err := m.spawn()
		if err == nil {
			return m.dialWorker(w)
		}
		if m.logger != nil {
			m.logger.Printf("workerpool: spawn-on-demand failed: %v", err)
		}
	}

	// Step 4: least-busy alive worker.
	if w := m.pickLeastBusy(); w != nil {
		return m.dialWorker(w)
	}

	// Step 5: fail.
	return 0, nil, ErrPoolExhausted
}

func (m *Manager) dialWorker(w *Worker) (int, net.Conn, error) {
	conn, err := net.DialTimeout("tcp", w.Bind, m.dialTimeout())
	if err != nil {
		// The cheap state check let this worker through; a failed dial
		// means it needs the accurate, expensive liveness query to tell
		// a truly-dead process from a transient connection failure
		// (spec.md §4.2 "Liveness").
		if !w.Alive(true) {
			w.setState(StateCrashed)
		}
		return 0, nil, errors.Wrapf(err, "workerpool: dialing worker %d", w.ID)
	}
	w.incClients()
	w.noteRequest()
	return w.ID, conn, nil
}

// Release decrements a worker's client count once its session socket
// has drained (spec.md §4.1 "Cancellation", §5).
func (m *Manager) Release(workerID int) {
	m.mu.Lock()
	w, ok := m.workers[workerID]
	m.mu.Unlock()
	if ok {
		w.decClients()
	}
}

func (m *Manager) pickIdle() *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDs() {
		w := m.workers[id]
		if w.Alive(false) && w.ClientCount() == 0 {
			return w
		}
	}
	return nil
}

func (m *Manager) pickLeastBusy() *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Worker
	for _, id := range m.sortedIDs() {
		w := m.workers[id]
		if !w.Alive(false) {
			continue
		}
		if w.ClientCount() >= m.cfg.MaxClients {
			continue
		}
		if best == nil || w.ClientCount() < best.ClientCount() {
			best = w
		}
	}
	return best
}

func (m *Manager) sortedIDs() []int {
	ids := make([]int, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// cull runs at the top of each Connect() call: while the pool exceeds
// the configured minimum, any worker idle longer than CullTimeLimit is
// terminated and removed via a single batched kill-by-PID pass
// (spec.md §4.2).
func (m *Manager) cull() {
	m.mu.Lock()
	if len(m.workers) <= m.cfg.MinProcesses {
		m.mu.Unlock()
		return
	}
	var toKill []int
	var victimIDs []int
	for _, id := range m.sortedIDs() {
		if len(m.workers)-len(victimIDs) <= m.cfg.MinProcesses {
			break
		}
		w := m.workers[id]
		if w.IdleFor() > m.cfg.CullTimeLimit {
			toKill = append(toKill, w.PID())
			victimIDs = append(victimIDs, id)
		}
	}
	for _, id := range victimIDs {
		delete(m.workers, id)
	}
	m.mu.Unlock()

	for _, pid := range toKill {
		if pid <= 0 {
			continue
		}
		if err := killByPID(pid); err != nil && m.logger != nil {
			m.logger.Printf("workerpool: cull kill pid %d: %v", pid, err)
		}
	}
}

// Recycle stops and respawns any worker past its max-requests
// threshold (spec.md §4.2 "cheap check").
func (m *Manager) Recycle() {
	m.mu.Lock()
	var victims []*Worker
	for _, w := range m.workers {
		if w.ShouldRecycle(m.cfg.MaxRequests) && w.ClientCount() == 0 {
			victims = append(victims, w)
		}
	}
	m.mu.Unlock()

	for _, w := range victims {
		_ = w.stop(defaultStopGrace)
		m.mu.Lock()
		delete(m.workers, w.ID)
		m.mu.Unlock()
		if _, err := m.spawn(); err != nil && m.logger != nil {
			m.logger.Printf("workerpool: respawn after recycle: %v", err)
		}
	}
}

// Shutdown stops every worker (spec.md §4.1 "Cancellation": a
// shutdown signal signals every worker to terminate).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		_ = w.stop(defaultStopGrace)
	}
}

// ScoreboardEntry is one row of the per-worker scoreboard spec.md §2
// describes (id, PID, client-count, request-count, age).
type ScoreboardEntry struct {
	ID           int
	PID          int
	Bind         string
	ClientCount  int
	RequestCount int64
	Age          time.Duration
	State        string
}

// Scoreboard returns a stable-ordered snapshot for the admin status
// page and metrics exporter.
func (m *Manager) Scoreboard() []ScoreboardEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ScoreboardEntry, 0, len(m.workers))
	for _, id := range m.sortedIDs() {
		w := m.workers[id]
		out = append(out, ScoreboardEntry{
			ID:           w.ID,
			PID:          w.PID(),
			Bind:         w.Bind,
			ClientCount:  w.ClientCount(),
			RequestCount: w.RequestCount(),
			Age:          w.Age(),
			State:        w.getState().String(),
		})
	}
	return out
}

// Count returns the current live worker count (spec.md §8 P1).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
