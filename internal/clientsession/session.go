// Package clientsession implements the Client Session state machine
// (spec.md §4.3): it owns one model.Client, feeds inbound bytes
// through the HTTP Message Codec, drives the HandlerQueue, bridges to
// a FastCGI Session for dynamic requests, and streams the outbound
// response one bounded unit per call (spec.md §5 "Suspension points").
package clientsession

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/mhttpd/core/internal/fastcgi"
	"github.com/mhttpd/core/internal/httpmsg"
	"github.com/mhttpd/core/internal/model"
)

// AccessLogger receives one completed-request record (spec.md §6
// "Access log line format").
type AccessLogger interface {
	Log(peer, user, requestLine string, status int, bytes int64, referer, userAgent string)
}

// MetricsSink receives one completed response's status code, for the
// Prometheus "responses by status" counter (spec.md SUPPLEMENTED
// FEATURES "Scoreboard export beyond the HTML template").
type MetricsSink interface {
	ObserveResponse(status int)
}

// Session drives one model.Client through parse -> dispatch -> (worker
// roundtrip) -> send (spec.md §4.3).
type Session struct {
	Client *model.Client

	queue         *model.HandlerQueue
	cfg           Config
	publicDocroot string
	sendFileAllow []string
	logger        AccessLogger

	headerBuf  []byte
	headerSent bool
	bodyOffset int

	dynOffset int // bytes of fastcgi.Session.BufferedBody already framed/sent

	zeroWriteStreak int

	metrics MetricsSink
}

// New builds a Session around client, using queue as the (persistent,
// per-connection) HandlerQueue and cfg/publicDocroot/sendFileAllow as
// the relevant slice of server configuration. metrics may be nil.
func New(client *model.Client, queue *model.HandlerQueue, cfg Config, publicDocroot string, sendFileAllow []string, logger AccessLogger, metrics MetricsSink) *Session {
	return &Session{
		Client:        client,
		queue:         queue,
		cfg:           cfg,
		publicDocroot: publicDocroot,
		sendFileAllow: sendFileAllow,
		logger:        logger,
		metrics:       metrics,
	}
}

// OnReadable feeds newly read bytes into the per-state parse/buffer
// pipeline (spec.md §4.1 step 3, §4.3).
func (s *Session) OnReadable(data []byte) error {
	s.Client.AppendInput(data)
	s.Client.Touch()

	for {
		switch s.Client.State {
		case model.StateIdle, model.StateReadingHeaders:
			s.Client.State = model.StateReadingHeaders
			req, consumed, err := httpmsg.ParseRequest(s.Client.InputBuffer())
			if err == httpmsg.ErrIncomplete {
				return nil
			}
			if err != nil {
				return s.abort(400, "Bad Request", err)
			}
			s.Client.ConsumeInput(consumed)
			s.Client.Request = req
			req.Docroot = s.publicDocroot

			if needsBody(req) {
				s.Client.State = model.StateReadingBody
				continue
			}
			s.dispatch()
			return nil

		case model.StateReadingBody:
			done, err := s.bufferBody()
			if err != nil {
				return s.abort(400, "Bad Request", err)
			}
			if !done {
				return nil
			}
			s.dispatch()
			return nil

		default:
			return nil
		}
	}
}

func needsBody(req *model.Request) bool {
	return req.Method == "POST" && (req.ContentLength() >= 0 || req.IsChunked())
}

// bufferBody implements spec.md §4.3 "Body buffering": Content-Length
// takes precedence; otherwise a chunked body is fully buffered and
// dechunked before dispatch.
func (s *Session) bufferBody() (bool, error) {
	req := s.Client.Request
	chunkSize := s.cfg.bodyChunk()

	if cl := req.ContentLength(); cl >= 0 {
		avail := s.Client.InputBuffer()
		want := int(cl) - len(req.Body)
		take := min3(want, len(avail), chunkSize)
		if take > 0 {
			req.Body = append(req.Body, avail[:take]...)
			s.Client.ConsumeInput(take)
		}
		return int64(len(req.Body)) >= cl, nil
	}

	if req.IsChunked() {
		if !httpmsg.ChunkedTerminated(s.Client.InputBuffer()) {
			return false, nil
		}
		decoded, err := httpmsg.Dechunk(s.Client.InputBuffer())
		if err != nil {
			return false, err
		}
		req.Body = decoded
		s.Client.ResetInput()
		return true, nil
	}

	return true, nil
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if m < 0 {
		return 0
	}
	return m
}

// dispatch runs the HandlerQueue to completion for the current
// request (spec.md §4.3 "Dispatch", §4.5).
func (s *Session) dispatch() {
	req := s.Client.Request
	s.Client.Response = model.NewResponse()
	s.queue.Reset()
	s.runQueue(req)
}

func (s *Session) runQueue(req *model.Request) {
	for {
		step := s.queue.Next(req)
		if step == nil {
			if s.Client.Response.Header.Len() == 0 && s.Client.Response.Body() == nil && !s.Client.Response.HasStream() {
				s.synthesize(500, "no handler available")
			}
			s.finishDispatch()
			return
		}

		resp := s.Client.Response
		outcome := step.Execute(s.Client, req, resp)
		produced := resp.Header.Len() > 0 || resp.Body() != nil || resp.HasStream()

		switch outcome {
		case model.OutcomeFatal:
			if step.Flags().SkipOnError && !produced {
				continue
			}
			if !produced {
				s.synthesize(500, fmt.Sprintf("handler %q failed", step.Name()))
			}
			s.finishDispatch()
			return

		case model.OutcomeSkip:
			continue

		case model.OutcomeOK:
			if s.Client.State == model.StateAwaitingWorker {
				// dynamic step opened a FastCGI session; the main loop
				// drives it from here (spec.md §4.1 step 4).
				return
			}
			if req.Reprocessing {
				req.Reprocessing = false
				s.queue.RewindForReprocessing()
				continue
			}
			if step.Flags().Final {
				s.finishDispatch()
				return
			}
		}
	}
}

func (s *Session) synthesize(status int, message string) {
	resp := s.Client.Response
	resp.Status = status
	resp.StatusText = "Internal Server Error"
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.SetBody([]byte(message))
}

// finishDispatch verifies the response and transitions the client into
// the outbound pipeline (spec.md §4.6 "verify()").
func (s *Session) finishDispatch() {
	resp := s.Client.Response
	resp.Verify()
	s.headerBuf = httpmsg.EmitResponseHeaders(resp)
	s.headerSent = false
	s.bodyOffset = 0
	s.dynOffset = 0

	if resp.Chunking {
		s.Client.State = model.StateChunking
	} else if resp.HasStream() {
		s.Client.State = model.StateStreamingFile
	} else {
		s.Client.State = model.StateFinishing
	}
}

// AdvanceWorker steps the client's FastCGI session by one record
// (spec.md §4.1 step 4, §4.4 step 4). It is called once per tick when
// the worker socket is ready.
func (s *Session) AdvanceWorker() error {
	sess, ok := s.Client.Session.(*fastcgi.Session)
	if !ok || sess == nil {
		return nil
	}

	if !sess.StdinDone() {
		return sess.WriteStdinChunk()
	}

	if err := sess.Step(); err != nil {
		s.abortDynamic(sess, 502, fmt.Sprintf("fastcgi: %v", err))
		return nil
	}

	if sess.Ended() {
		s.finishDynamic(sess)
	}
	return nil
}

// WorkerConn exposes the active FastCGI session's socket, or nil, so
// the Transport Listener can register/deregister it with the poller.
func (s *Session) WorkerConn() (net.Conn, bool) {
	sess, ok := s.Client.Session.(*fastcgi.Session)
	if !ok || sess == nil {
		return nil, false
	}
	return sess.Conn(), true
}

func (s *Session) abortDynamic(sess *fastcgi.Session, status int, message string) {
	_ = sess.Close()
	resp := s.Client.Response
	resp.Status = status
	resp.StatusText = "Bad Gateway"
	resp.Header = rebuiltHeader()
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.SetBody([]byte(message))
	s.Client.Session = nil
	s.finishDispatch()
}

func rebuiltHeader() *model.Header { return model.NewHeader() }

// finishDynamic assembles the final Response from a completed FastCGI
// session (spec.md §4.4 steps 5-7), including X-SendFile handoff and
// empty-response synthesis, then releases the worker.
func (s *Session) finishDynamic(sess *fastcgi.Session) {
	parsed := sess.Response()
	resp := s.Client.Response

	if parsed != nil {
		resp.Status = parsed.Status
		resp.Header = parsed.Header
	} else {
		resp.Status = 500
		resp.Header = model.NewHeader()
	}

	if sendFile := resp.Header.Get("X-SendFile"); sendFile != "" {
		if s.tryXSendFile(resp, sendFile) {
			_ = sess.Close()
			s.Client.Session = nil
			s.finishDispatch()
			return
		}
	}

	body := sess.BufferedBody()
	flags := sess.Flags()

	switch {
	case flags.Chunking:
		resp.Chunking = true
		resp.Header.Set("Transfer-Encoding", "chunked")
		resp.Header.Del("Content-Length")
		resp.SetBody(body)
	case len(body) == 0:
		s.synthesize(502, fmt.Sprintf(
			"fastcgi worker returned an empty response (appStatus=%d endStatus=%d)",
			sess.AppStatus(), sess.EndStatus()))
	default:
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		resp.SetBody(body)
	}

	_ = sess.Close()
	s.Client.Session = nil
	s.finishDispatch()
}

// tryXSendFile implements spec.md §4.4 step 6: discard the buffered
// body and stream the whitelisted absolute path instead.
func (s *Session) tryXSendFile(resp *model.Response, directive string) bool {
	path, encoded := parseSendFileDirective(directive)
	if !s.sendFileAllowed(path) {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return false
	}
	resp.Header.Del("X-SendFile")
	resp.Header.Del("Transfer-Encoding")
	if !encoded {
		resp.Header.Del("Content-Encoding")
	}
	resp.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	resp.Chunking = false
	resp.SetStream(f)
	return true
}

func parseSendFileDirective(v string) (path string, encoded bool) {
	parts := strings.Split(v, ";")
	path = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "encoded" {
			encoded = true
		}
	}
	return path, encoded
}

func (s *Session) sendFileAllowed(path string) bool {
	for _, prefix := range s.sendFileAllow {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// FlushOutbound performs at most one bounded write to the client
// socket (spec.md §4.1 step 5, §5 "a single bounded write"). It
// reports whether the response has fully completed (so the caller can
// decide keep-alive vs. close).
func (s *Session) FlushOutbound() (complete bool, err error) {
	c := s.Client

	if !s.headerSent {
		return s.writeHeaderChunk()
	}

	switch c.State {
	case model.StateStreamingFile:
		return s.writeStreamChunk()
	case model.StateChunking:
		return s.writeChunkedFrame()
	case model.StateFinishing:
		return s.writeBufferedChunk()
	default:
		return true, nil
	}
}

func (s *Session) writeHeaderChunk() (bool, error) {
	n, err := s.write(s.headerBuf)
	s.headerBuf = s.headerBuf[n:]
	if err != nil {
		return false, err
	}
	if len(s.headerBuf) == 0 {
		s.headerSent = true
	}
	return false, nil
}

func (s *Session) writeStreamChunk() (bool, error) {
	buf := make([]byte, 32*1024)
	n, rerr := s.Client.Response.Stream().Read(buf)
	if n > 0 {
		if _, werr := s.write(buf[:n]); werr != nil {
			return false, werr
		}
	}
	if rerr == io.EOF {
		s.Client.Response.Finish()
		return true, nil
	}
	if rerr != nil {
		s.Client.Response.Finish()
		return true, rerr
	}
	return false, nil
}

func (s *Session) writeBufferedChunk() (bool, error) {
	body := s.Client.Response.Body()
	remaining := body[s.bodyOffset:]
	if len(remaining) == 0 {
		return true, nil
	}
	n, err := s.write(remaining)
	s.bodyOffset += n
	if err != nil {
		return false, err
	}
	return s.bodyOffset >= len(body), nil
}

// writeChunkedFrame forwards any not-yet-framed response body bytes as
// one HTTP chunk, or the terminating "0\r\n\r\n" once all of it has
// been framed (spec.md §4.4 step 5 "forward frames as they arrive").
// The response body is only known in full once finishDynamic has run
// (the worker session has already ended by the time this state is
// reached), so in practice this emits one data frame plus the
// terminator rather than a frame per worker flush.
func (s *Session) writeChunkedFrame() (bool, error) {
	body := s.Client.Response.Body()
	pending := body[s.bodyOffset:]

	if len(pending) == 0 {
		if _, err := s.write([]byte("0\r\n\r\n")); err != nil {
			return false, err
		}
		return true, nil
	}

	frame := []byte(fmt.Sprintf("%x\r\n", len(pending)))
	frame = append(frame, pending...)
	frame = append(frame, '\r', '\n')
	if _, err := s.write(frame); err != nil {
		return false, err
	}
	s.bodyOffset += len(pending)
	return false, nil
}

func (s *Session) write(b []byte) (int, error) {
	n, err := s.Client.Conn.Write(b)
	s.Client.BytesSent += int64(n)
	if n == 0 && err == nil {
		s.zeroWriteStreak++
	} else {
		s.zeroWriteStreak = 0
	}
	return n, err
}

// ZeroWriteStreak reports consecutive zero-byte, no-error writes; two
// in a row marks the client for removal (spec.md §7).
func (s *Session) ZeroWriteStreak() int { return s.zeroWriteStreak }

// FinishResponse runs once FlushOutbound reports complete: logs the
// access line, decides keep-alive, and resets for the next request or
// signals the connection should close.
func (s *Session) FinishResponse() (keepAlive bool) {
	req := s.Client.Request
	resp := s.Client.Response

	if s.logger != nil && req != nil && resp != nil {
		requestLine := fmt.Sprintf("%s %s %s", req.Method, req.Target.RequestURI(), req.Proto)
		s.logger.Log(peerAddr(s.Client), req.Username, requestLine, resp.Status, resp.BytesSent, req.Header.Get("Referer"), req.Header.Get("User-Agent"))
	}
	if s.metrics != nil && resp != nil {
		s.metrics.ObserveResponse(resp.Status)
	}
	resp.Finish()

	s.Client.RemainingRequests++
	allowed := s.Client.KeepAlive && resp.Status <= 401 &&
		(s.cfg.KeepAliveMaxRequests <= 0 || s.Client.RemainingRequests < s.cfg.KeepAliveMaxRequests)

	s.Client.Response = nil
	s.Client.Request = nil
	s.Client.ResetInput()
	s.Client.State = model.StateIdle
	s.headerBuf = nil
	s.headerSent = false
	s.bodyOffset = 0

	return allowed
}

func peerAddr(c *model.Client) string {
	if c.Peer == nil {
		return "-"
	}
	host := c.Peer.String()
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

func (s *Session) abort(status int, text string, cause error) error {
	resp := model.NewResponse()
	resp.Status = status
	resp.StatusText = text
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.SetBody([]byte(text))
	s.Client.Response = resp
	s.Client.KeepAlive = false
	s.finishDispatch()
	return nil
}
