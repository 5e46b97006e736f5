package fastcgi

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/savsgio/gotils/nocopy"

	"github.com/mhttpd/core/internal/httpmsg"
)

// Flags mirrors spec.md §3 Session (FastCGI) entity flags.
type Flags struct {
	Ended    bool
	Chunking bool
	Blocking bool
}

// connectRetries/connectBackoff implement spec.md §4.4 "Retry":
// connect() makes up to 3 attempts, 500µs apart.
const (
	connectRetries = 3
	connectBackoff = 500 * time.Microsecond
)

// heuristicFlushThreshold is the number of output flushes after which
// a still-open response is assumed to be a long-running script and is
// switched to server-generated chunked transfer (spec.md §4.4 step 5,
// §9 "heuristic... threshold is arbitrary").
const heuristicFlushThreshold = 1

var (
	ErrNoWorker      = errors.New("fastcgi: no worker available")
	ErrConnectFailed = errors.New("fastcgi: connect failed after retries")
	ErrPairTooWide   = errors.New("fastcgi: name/value pair too wide for a single record")
)

// PoolConnector is the seam to the Worker Pool Manager (spec.md §4.2).
// workerpool.Manager implements this; defining it here (rather than
// importing workerpool) keeps fastcgi free of a dependency cycle,
// since workerpool itself uses this package's Record codec for its
// own PID-discovery probe.
type PoolConnector interface {
	// Connect returns a socket to a worker for clientID, honoring
	// preferredWorkerID when > 0 (spec.md §4.2 policy steps 1-5).
	Connect(clientID, preferredWorkerID int) (workerID int, conn net.Conn, err error)
	// Release decrements the worker's client count once its socket
	// has drained (spec.md §4.1 "Cancellation", §5).
	Release(workerID int)
}

// Session is one active dynamic request: the socket to a chosen
// worker plus the BEGIN_REQUEST/PARAMS/STDIN emission and
// STDOUT/STDERR/END_REQUEST consumption state machine (spec.md §4.4).
// The connect/retry loop and read-loop routing are grounded on
// mevdschee/tqserver's pkg/fastcgi Server/Conn and pkg/php Handler
// (other_examples), adapted from tqserver's blocking per-goroutine
// model into single-record-per-tick stepping driven externally by the
// Transport Listener poller.
type Session struct {
	noCopy nocopy.NoCopy // nolint:structcheck,unused

	ClientID  int
	WorkerID  int
	RequestID uint16

	conn net.Conn
	pool PoolConnector

	params map[string]string

	pendingBody []byte
	bodyOffset  int
	stdinDone   bool

	codec       *httpmsg.ResponseCodec
	headersDone bool
	bodyBuf     bytes.Buffer
	flushCount  int

	flags      Flags
	endStatus  uint8
	appStatus  uint32
	connectErr error

	rec Record // reused scratch record for Step()
}

// NewSession allocates a Session bound to clientID, not yet connected.
func NewSession(clientID int, pool PoolConnector, params map[string]string, body []byte) *Session {
	return &Session{
		ClientID:    clientID,
		RequestID:   1,
		pool:        pool,
		params:      params,
		pendingBody: body,
		codec:       httpmsg.NewResponseCodec(),
	}
}

// Connect implements spec.md §4.4 step 1: ask the pool for a worker,
// making up to connectRetries attempts with connectBackoff spacing. A
// non-zero preferredWorkerID is honored for multi-round-trip sessions.
// Retries within one Connect call must not double-count the worker's
// client count; the manager's Connect itself increments on first
// success, never per retry attempt.
func (s *Session) Connect(preferredWorkerID int) error {
	var lastErr error
	for attempt := 0; attempt < connectRetries; attempt++ {
		wid, conn, err := s.pool.Connect(s.ClientID, preferredWorkerID)
		if err == nil {
			s.WorkerID = wid
			s.conn = conn
			return s.sendBeginAndParams()
		}
		lastErr = err
		if attempt < connectRetries-1 {
			time.Sleep(connectBackoff)
		}
	}
	s.connectErr = pkgerrors.Wrap(lastErr, "fastcgi: connect retries exhausted")
	return fmt.Errorf("%w: %v", ErrConnectFailed, s.connectErr)
}

// sendBeginAndParams emits BEGIN_REQUEST then one or more PARAMS
// records (spec.md §4.4 step 2).
func (s *Session) sendBeginAndParams() error {
	var out []byte
	begin := Record{Type: TypeBeginRequest, RequestID: s.RequestID, Content: EncodeBeginRequest(RoleResponder)}
	out, err := Encode(out, &begin)
	if err != nil {
		return err
	}

	paramBlocks, err := EncodeNameValuePairs(s.params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPairTooWide, err)
	}
	for _, block := range paramBlocks {
		rec := Record{Type: TypeParams, RequestID: s.RequestID, Content: block}
		if out, err = Encode(out, &rec); err != nil {
			return err
		}
	}
	// Terminating empty PARAMS record.
	empty := Record{Type: TypeParams, RequestID: s.RequestID}
	if out, err = Encode(out, &empty); err != nil {
		return err
	}

	_, err = s.conn.Write(out)
	return err
}

// WriteStdinChunk sends up to MaxContentLength bytes of the buffered
// request body and advances the offset (spec.md §4.4 step 3). Call
// repeatedly (once per poller tick) until StdinDone(); the first call
// made once the body is exhausted sends the terminating empty STDIN
// record.
func (s *Session) WriteStdinChunk() error {
	if s.stdinDone {
		return nil
	}
	remaining := s.pendingBody[s.bodyOffset:]
	chunkLen := len(remaining)
	if chunkLen > MaxContentLength {
		chunkLen = MaxContentLength
	}

	var rec Record
	rec.Type = TypeStdin
	rec.RequestID = s.RequestID
	rec.Content = remaining[:chunkLen]

	var out []byte
	out, err := Encode(out, &rec)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(out); err != nil {
		return err
	}
	s.bodyOffset += chunkLen

	// A zero-length record is the STDIN terminator.
	if chunkLen == 0 {
		s.stdinDone = true
	}
	return nil
}

// StdinDone reports whether the full request body (including the
// terminating empty record) has been sent.
func (s *Session) StdinDone() bool { return s.stdinDone }

// Ended reports whether END_REQUEST has been observed.
func (s *Session) Ended() bool { return s.flags.Ended }

// HeadersComplete reports whether the HTTP Message Codec has finished
// parsing the response header block out of STDOUT.
func (s *Session) HeadersComplete() bool { return s.headersDone }

// Step reads exactly one record from the worker socket and routes it
// by type (spec.md §4.4 step 4). It is meant to be called once per
// poller tick when the worker socket is readable -- a single bounded
// read, never a loop to EOF.
func (s *Session) Step() error {
	if err := Decode(s.conn, &s.rec); err != nil {
		return err
	}
	switch s.rec.Type {
	case TypeStdout:
		return s.handleStdout(s.rec.Content)
	case TypeStderr:
		// Forcing blocking mode captures the full error before
		// reporting, per spec.md §4.4 step 4.
		s.flags.Blocking = true
		return nil
	case TypeEndRequest:
		return s.handleEndRequest(s.rec.Content)
	default:
		return nil
	}
}

func (s *Session) handleStdout(content []byte) error {
	if len(content) == 0 {
		return nil
	}
	if !s.headersDone {
		done, err := s.codec.Feed(content)
		if err != nil {
			return err
		}
		if done {
			s.headersDone = true
			s.decideMode()
			if extra := s.codec.Unconsumed(); len(extra) > 0 {
				s.bodyBuf.Write(extra)
			}
		}
		return nil
	}
	s.bodyBuf.Write(content)
	s.NoteFlush()
	s.decideMode()
	return nil
}

func (s *Session) handleEndRequest(content []byte) error {
	if len(content) >= 8 {
		s.appStatus = uint32(content[0])<<24 | uint32(content[1])<<16 | uint32(content[2])<<8 | uint32(content[3])
		s.endStatus = content[4]
	}
	s.flags.Ended = true
	return nil
}

// decideMode applies spec.md §4.4 step 5: it runs once headers
// complete and again after every subsequent STDOUT body record, so a
// worker that keeps flushing past heuristicFlushThreshold is
// recognized as long-running mid-stream rather than only at the end.
func (s *Session) decideMode() {
	resp := s.codec.Response()
	if resp == nil {
		return
	}
	if resp.Header.Get("Transfer-Encoding") == "chunked" {
		s.flags.Blocking = false
		s.flags.Chunking = true
		return
	}
	if s.bodyBuf.Len() >= MaxContentLength || s.flushCount > heuristicFlushThreshold {
		s.flags.Chunking = true
	}
}

// NoteFlush records an output-buffer flush for the long-running-script
// heuristic in decideMode (spec.md §4.4 step 5, §9).
func (s *Session) NoteFlush() { s.flushCount++ }

// Response returns the HTTP Message Codec's parsed response headers,
// or nil if headers are not yet complete.
func (s *Session) Response() *httpmsg.ParsedResponse { return s.codec.Response() }

// BufferedBody returns the response body bytes accumulated so far.
func (s *Session) BufferedBody() []byte { return s.bodyBuf.Bytes() }

// Flags returns the session's current mode flags.
func (s *Session) Flags() Flags { return s.flags }

// AppStatus/EndStatus are the FastCGI END_REQUEST diagnostic fields,
// used by the empty-response synthesis path (spec.md §4.4 step 7).
func (s *Session) AppStatus() uint32 { return s.appStatus }
func (s *Session) EndStatus() uint8 { return s.endStatus }

// Close releases the worker socket and notifies the pool so the
// worker's client count can be decremented once drained (spec.md §4.1,
// §5).
func (s *Session) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	if s.pool != nil && s.WorkerID != 0 {
		s.pool.Release(s.WorkerID)
	}
	return err
}

// Conn exposes the underlying socket so the Transport Listener can
// register it with the poller.
func (s *Session) Conn() net.Conn { return s.conn }
