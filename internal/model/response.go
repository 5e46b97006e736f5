package model

import (
	"io"

	"github.com/savsgio/gotils/nocopy"
)

// Response is produced by exactly one handler step and is either a
// buffered body or an owned stream, never both (spec.md §3 invariants).
// It is prohibited to copy a Response; embed nocopy.NoCopy the way the
// teacher package guards its own non-copyable values.
type Response struct {
	noCopy nocopy.NoCopy // nolint:structcheck,unused

	Status     int
	StatusText string
	Header     *Header

	body   []byte
	stream io.ReadCloser

	Chunking  bool
	BytesSent int64

	verified bool
}

// NewResponse returns a 200 OK response with an empty header set.
func NewResponse() *Response {
	return &Response{Status: 200, StatusText: "OK", Header: NewHeader()}
}

// SetBody buffers body as the response payload. It panics if a stream
// is already attached, enforcing the body-XOR-stream invariant.
func (r *Response) SetBody(body []byte) {
	if r.stream != nil {
		panic("model: Response already owns a stream")
	}
	r.body = body
}

// SetStream attaches stream as the response payload, replacing any
// buffered body. The stream is closed by Finish on every exit path.
func (r *Response) SetStream(stream io.ReadCloser) {
	r.body = nil
	r.stream = stream
}

// Body returns the buffered body, or nil if the response streams.
func (r *Response) Body() []byte { return r.body }

// Stream returns the owned stream, or nil if the response is buffered.
func (r *Response) Stream() io.ReadCloser { return r.stream }

// HasStream reports whether the response owns a stream rather than a
// buffered body.
func (r *Response) HasStream() bool { return r.stream != nil }

// Verify performs the final compliance pass described in spec.md §4.6:
// strips body and body-related headers for no-body statuses, and
// forces Connection: close for any status > 401. It is idempotent and
// must run before the response starts sending; after it runs, status
// and Connection/Keep-Alive headers are immutable (spec.md §3).
func (r *Response) Verify() {
	if r.verified {
		return
	}
	r.verified = true

	if NoBodyStatus(r.Status) {
		r.body = nil
		if r.stream != nil {
			_ = r.stream.Close()
			r.stream = nil
		}
		r.Header.Del("Content-Length")
		r.Header.Del("Transfer-Encoding")
		r.Chunking = false
	}
	if r.Status > 401 {
		r.Header.Set("Connection", "close")
	}
}

// Verified reports whether Verify has already run; Client Session uses
// this to enforce the "immutable once any byte sent" invariant.
func (r *Response) Verified() bool { return r.verified }

// Finish releases the owned stream, if any. Safe to call multiple
// times and on aborted transfers (spec.md §5 "Shared resources").
func (r *Response) Finish() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
}
