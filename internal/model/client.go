package model

import (
	"net"
	"time"

	"github.com/savsgio/gotils/nocopy"
)

// State is the per-connection state machine described in spec.md §3/§4.3.
type State int

const (
	StateIdle State = iota
	StateReadingHeaders
	StateReadingBody
	StateAwaitingWorker
	StateSendingHeaders
	StateStreamingFile
	StateChunking
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingHeaders:
		return "reading-headers"
	case StateReadingBody:
		return "reading-body"
	case StateAwaitingWorker:
		return "awaiting-worker"
	case StateSendingHeaders:
		return "sending-headers"
	case StateStreamingFile:
		return "streaming-file"
	case StateChunking:
		return "chunking"
	case StateFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// Client is the per-connection record the Transport Listener hands to
// the Client Session driver (spec.md §3). Session is an opaque
// reference to the active FastCGI session; it is typed as
// interface{} here to avoid a model->fastcgi import cycle and is
// type-asserted by package clientsession.
type Client struct {
	noCopy nocopy.NoCopy // nolint:structcheck,unused

	ID      int
	Conn    net.Conn
	Peer    net.Addr
	State   State

	Request  *Request
	Response *Response
	Session  interface{}

	BytesSent          int64
	RemainingRequests  int
	KeepAlive          bool

	inBuf []byte

	LastActivity time.Time
}

// NewClient wraps conn as slot id.
func NewClient(id int, conn net.Conn) *Client {
	return &Client{
		ID:           id,
		Conn:         conn,
		Peer:         conn.RemoteAddr(),
		State:        StateIdle,
		LastActivity: time.Now(),
	}
}

// AppendInput buffers raw bytes read off the socket until a full
// header block or body chunk is available.
func (c *Client) AppendInput(b []byte) {
	c.inBuf = append(c.inBuf, b...)
}

// InputBuffer returns the unconsumed input bytes.
func (c *Client) InputBuffer() []byte { return c.inBuf }

// ConsumeInput drops the first n bytes of the input buffer.
func (c *Client) ConsumeInput(n int) {
	c.inBuf = c.inBuf[n:]
}

// ResetInput clears the input buffer, e.g. after handler dispatch.
func (c *Client) ResetInput() { c.inBuf = c.inBuf[:0] }

// Touch refreshes LastActivity, used by the (optional) idle sweep.
func (c *Client) Touch() { c.LastActivity = time.Now() }
