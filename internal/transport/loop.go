package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/mhttpd/core/internal/clientsession"
	"github.com/mhttpd/core/internal/model"
)

// Logger is the minimal logging seam (mirrors workerpool.Logger).
type Logger interface {
	Printf(format string, args ...interface{})
}

// WorkerPool is the seam to the Worker Pool Manager the loop consults
// for periodic recycling; connecting to a worker is the handler
// pipeline's job (dynamic.go holds the fastcgi.PoolConnector), not the
// loop's.
type WorkerPool interface {
	Recycle()
	Shutdown()
}

// Config configures the Transport Listener (spec.md §6 "Server").
type Config struct {
	Address           string
	MaxClients        int
	PollTimeout       time.Duration
	PublicDocroot     string
	SendFileAllow     []string
	ClientSessionCfg  clientsession.Config
	TLS               *tls.Config
}

// Loop is the single-threaded, readiness-based main loop (spec.md
// §4.1), grounded on searchktools/fast-server's core.Engine.Run
// accept/dispatch shape (other_examples), adapted to drive model.Client
// sessions and FastCGI worker sockets side by side through one Poller.
type Loop struct {
	cfg    Config
	ln     net.Listener
	lnFD   int
	poller Poller
	logger Logger
	steps  []model.Step
	pool   WorkerPool

	clients    map[int]*clientsession.Session
	fdToClient map[int]int
	fdToWorker map[int]int
	nextID     int

	accessLogger clientsession.AccessLogger
	metrics      clientsession.MetricsSink

	abortedCount int64
	bytesUp      int64 // bytes received from clients
	bytesDown    int64 // bytes sent to clients
}

// NewLoop constructs a Loop bound to cfg.Address, ready to run once
// steps/pool are supplied (wired by the root server package).
func NewLoop(cfg Config, steps []model.Step, pool WorkerPool, logger Logger, accessLogger clientsession.AccessLogger, metrics clientsession.MetricsSink) *Loop {
	return &Loop{
		cfg:          cfg,
		steps:        steps,
		pool:         pool,
		logger:       logger,
		accessLogger: accessLogger,
		metrics:      metrics,
		clients:      make(map[int]*clientsession.Session),
		fdToClient:   make(map[int]int),
		fdToWorker:   make(map[int]int),
	}
}

// ClientCount reports the number of currently connected clients
// (spec.md §8 scenario 6 "{clients}"). Safe to call from within the
// loop's own goroutine only — the architecture is single-threaded by
// design (spec.md §5).
func (l *Loop) ClientCount() int { return len(l.clients) }

// AbortedCount reports FastCGI/client sessions torn down on error
// since startup (spec.md §8 scenario 6 "{aborted}").
func (l *Loop) AbortedCount() int { return int(l.abortedCount) }

// BytesUp reports total bytes read from client sockets.
func (l *Loop) BytesUp() int64 { return l.bytesUp }

// BytesDown reports total bytes written to client sockets.
func (l *Loop) BytesDown() int64 { return l.bytesDown }

// Run accepts connections and drives the single main-loop tick until
// ctx is canceled (spec.md §4.1 "Cancellation").
func (l *Loop) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.cfg.Address, err)
	}
	if l.cfg.TLS != nil {
		ln = tls.NewListener(ln, l.cfg.TLS)
	}
	l.ln = ln
	defer ln.Close()

	poller, err := NewPoller()
	if err != nil {
		return fmt.Errorf("transport: poller init: %w", err)
	}
	l.poller = poller
	defer poller.Close()

	lnFD, err := listenerFD(ln)
	if err != nil {
		return fmt.Errorf("transport: listener fd: %w", err)
	}
	l.lnFD = lnFD
	if err := l.poller.Add(lnFD, false); err != nil {
		return fmt.Errorf("transport: registering listener: %w", err)
	}

	timeoutMS := int(l.cfg.PollTimeout / time.Millisecond)
	if timeoutMS <= 0 {
		timeoutMS = 200
	}

	for {
		if ctx.Err() != nil {
			l.shutdown()
			return ctx.Err()
		}

		events, err := l.poller.Wait(timeoutMS)
		if err != nil {
			if l.logger != nil {
				l.logger.Printf("transport: poll wait: %v", err)
			}
			continue
		}

		for _, ev := range events {
			l.handleEvent(ev)
		}

		l.outboundPass()
		if l.pool != nil {
			l.pool.Recycle()
		}
	}
}

func (l *Loop) handleEvent(ev Event) {
	switch {
	case ev.FD == l.lnFD:
		if ev.Readable {
			l.acceptAvailable()
		}
	default:
		if clientID, ok := l.fdToClient[ev.FD]; ok {
			l.handleClientEvent(clientID, ev)
			return
		}
		if clientID, ok := l.fdToWorker[ev.FD]; ok {
			l.handleWorkerEvent(clientID, ev)
			return
		}
	}
}

// acceptAvailable accepts up to the available backlog into free
// slots, bounded by a short per-Accept deadline so a listener with no
// pending connection never blocks the single thread (spec.md §4.1
// step 2).
func (l *Loop) acceptAvailable() {
	tcpLn, hasDeadline := l.ln.(interface{ SetDeadline(time.Time) error })
	for {
		if len(l.clients) >= l.cfg.MaxClients {
			if l.logger != nil {
				l.logger.Printf("transport: max_clients reached, leaving peer queued")
			}
			return
		}
		if hasDeadline {
			_ = tcpLn.SetDeadline(time.Now().Add(time.Millisecond))
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			if l.logger != nil {
				l.logger.Printf("transport: accept: %v", err)
			}
			return
		}
		l.acceptOne(conn)
	}
}

func (l *Loop) acceptOne(conn net.Conn) {
	fd, err := connFD(conn)
	if err != nil {
		if l.logger != nil {
			l.logger.Printf("transport: %v", err)
		}
		conn.Close()
		return
	}

	l.nextID++
	id := l.nextID
	client := model.NewClient(id, conn)
	client.KeepAlive = true
	queue := model.NewHandlerQueue(l.steps)
	sess := clientsession.New(client, queue, l.cfg.ClientSessionCfg, l.cfg.PublicDocroot, l.cfg.SendFileAllow, l.accessLogger, l.metrics)

	l.clients[id] = sess
	l.fdToClient[fd] = id
	if err := l.poller.Add(fd, false); err != nil && l.logger != nil {
		l.logger.Printf("transport: registering client %d: %v", id, err)
	}
}

func (l *Loop) handleClientEvent(clientID int, ev Event) {
	sess, ok := l.clients[clientID]
	if !ok || !ev.Readable {
		return
	}
	if sess.Client.State != model.StateIdle && sess.Client.State != model.StateReadingHeaders && sess.Client.State != model.StateReadingBody {
		return
	}

	buf := make([]byte, 8192)
	n, err := sess.Client.Conn.Read(buf)
	if err != nil || n == 0 {
		l.removeClient(clientID)
		return
	}
	l.bytesUp += int64(n)

	if err := sess.OnReadable(buf[:n]); err != nil {
		l.removeClient(clientID)
		return
	}
	l.syncWorkerRegistration(clientID, sess)
}

func (l *Loop) handleWorkerEvent(clientID int, ev Event) {
	sess, ok := l.clients[clientID]
	if !ok {
		return
	}
	if err := sess.AdvanceWorker(); err != nil {
		l.removeClient(clientID)
		return
	}
	l.syncWorkerRegistration(clientID, sess)
}

// syncWorkerRegistration registers a freshly opened worker socket with
// the poller, or deregisters one that just closed (spec.md §4.1 steps
// 4 and 6).
func (l *Loop) syncWorkerRegistration(clientID int, sess *clientsession.Session) {
	conn, open := sess.WorkerConn()
	wasRegistered := false
	var oldFD int
	for fd, cid := range l.fdToWorker {
		if cid == clientID {
			wasRegistered = true
			oldFD = fd
			break
		}
	}

	if !open {
		if wasRegistered {
			_ = l.poller.Remove(oldFD)
			delete(l.fdToWorker, oldFD)
		}
		return
	}
	if wasRegistered {
		return
	}
	fd, err := connFD(conn)
	if err != nil {
		return
	}
	l.fdToWorker[fd] = clientID
	_ = l.poller.Add(fd, true)
}

// outboundPass drives the send side for every client whose response is
// ready to advance (spec.md §4.1 step 5).
func (l *Loop) outboundPass() {
	for id, sess := range l.clients {
		switch sess.Client.State {
		case model.StateSendingHeaders, model.StateStreamingFile, model.StateChunking, model.StateFinishing:
		default:
			continue
		}

		sentBefore := sess.Client.BytesSent
		complete, err := sess.FlushOutbound()
		l.bytesDown += sess.Client.BytesSent - sentBefore
		if err != nil || sess.ZeroWriteStreak() >= 2 {
			l.removeClient(id)
			continue
		}
		if complete {
			if sess.FinishResponse() {
				continue // keep-alive: client stays registered, back to StateIdle
			}
			l.removeClient(id)
		}
	}
}

func (l *Loop) removeClient(id int) {
	sess, ok := l.clients[id]
	if !ok {
		return
	}
	if sess.Client.Session != nil {
		// a FastCGI session was still in flight when the client went
		// away (spec.md §8 scenario 6 "{aborted}").
		l.abortedCount++
	}
	for fd, cid := range l.fdToWorker {
		if cid == id {
			_ = l.poller.Remove(fd)
			delete(l.fdToWorker, fd)
		}
	}
	for fd, cid := range l.fdToClient {
		if cid == id {
			_ = l.poller.Remove(fd)
			delete(l.fdToClient, fd)
		}
	}
	_ = sess.Client.Conn.Close()
	delete(l.clients, id)
}

// shutdown closes every client connection and terminates the worker
// pool (spec.md §4.1 "Cancellation", §7 "Shutdown signal").
func (l *Loop) shutdown() {
	for id := range l.clients {
		l.removeClient(id)
	}
	if l.pool != nil {
		l.pool.Shutdown()
	}
}

func listenerFD(ln net.Listener) (int, error) {
	type syscallConner interface {
		SyscallConn() (syscall.RawConn, error)
	}
	sc, ok := ln.(syscallConner)
	if !ok {
		if tl, ok := ln.(interface{ NetListener() net.Listener }); ok {
			return listenerFD(tl.NetListener())
		}
		return 0, fmt.Errorf("listener type %T does not expose a raw fd", ln)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rc.Control(func(ptr uintptr) { fd = int(ptr) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

func connFD(conn net.Conn) (int, error) {
	type syscallConner interface {
		SyscallConn() (syscall.RawConn, error)
	}
	sc, ok := conn.(syscallConner)
	if !ok {
		if tc, ok := conn.(interface{ NetConn() net.Conn }); ok {
			return connFD(tc.NetConn())
		}
		return 0, fmt.Errorf("connection type %T does not expose a raw fd", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rc.Control(func(ptr uintptr) { fd = int(ptr) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
