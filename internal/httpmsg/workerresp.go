package httpmsg

import (
	"strconv"
	"strings"

	"github.com/mhttpd/core/internal/model"
)

// ParsedResponse is the header side of a FastCGI worker's HTTP-ish
// output: either a full status line ("HTTP/1.1 200 OK") or the
// CGI-style "Status: 200 OK" spelling PHP-FPM/php-cgi use, normalized
// to the same shape gophpeek/fcgx's parseHTTPResponse produces.
type ParsedResponse struct {
	Status int
	Header *model.Header
}

// ResponseCodec incrementally accumulates STDOUT bytes from a FastCGI
// worker until a full header block is seen, then parses it. It is the
// response-header half of the HTTP Message Codec (spec.md §4.6),
// reused by fastcgi.Session instead of duplicating header parsing.
type ResponseCodec struct {
	buf        []byte
	resp       *ParsedResponse
	unconsumed []byte
}

// NewResponseCodec returns an empty codec.
func NewResponseCodec() *ResponseCodec { return &ResponseCodec{} }

// Feed appends content (one STDOUT record's payload) and attempts to
// complete header parsing. It returns true once headers are fully
// parsed; any bytes past the header terminator are retrievable via
// Unconsumed and must be appended to the response body by the caller.
func (c *ResponseCodec) Feed(content []byte) (bool, error) {
	if c.resp != nil {
		return true, nil
	}
	c.buf = append(c.buf, content...)

	end := headerBlockEnd(c.buf)
	if end < 0 {
		return false, nil
	}

	block := c.buf[:end]
	c.unconsumed = append([]byte{}, c.buf[end:]...)
	c.buf = nil

	resp, err := parseWorkerHeaderBlock(block)
	if err != nil {
		return false, err
	}
	c.resp = resp
	return true, nil
}

// Unconsumed returns body bytes that trailed the header block in the
// same Feed call, and clears the buffer.
func (c *ResponseCodec) Unconsumed() []byte {
	u := c.unconsumed
	c.unconsumed = nil
	return u
}

// Response returns the parsed headers, or nil until Feed reports done.
func (c *ResponseCodec) Response() *ParsedResponse { return c.resp }

// parseWorkerHeaderBlock parses either a "HTTP/x.y NNN ..." status
// line or a headers-only block beginning with "Status: NNN ..." or no
// status line at all (defaulting to 200, matching fcgx's fallback).
func parseWorkerHeaderBlock(block []byte) (*ParsedResponse, error) {
	lines := splitLines(block)
	if len(lines) == 0 {
		return &ParsedResponse{Status: 200, Header: model.NewHeader()}, nil
	}

	first := string(lines[0])
	status := 200
	headerLines := lines

	switch {
	case strings.HasPrefix(first, "HTTP/"):
		parts := strings.SplitN(first, " ", 3)
		if len(parts) >= 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				status = n
			}
		}
		headerLines = lines[1:]
	case strings.HasPrefix(first, "Status:"):
		rest := strings.TrimSpace(strings.TrimPrefix(first, "Status:"))
		code := rest
		if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			code = rest[:sp]
		}
		if n, err := strconv.Atoi(code); err == nil {
			status = n
		}
		headerLines = lines[1:]
	default:
		// No status line: treat the whole block as headers, matching
		// fcgx's "fallback to plain-text body, parse simple MIME
		// headers if present" behavior.
	}

	h := model.NewHeader()
	for _, raw := range headerLines {
		line := string(raw)
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		h.Add(name, value)
	}

	return &ParsedResponse{Status: status, Header: h}, nil
}
