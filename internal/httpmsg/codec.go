// Package httpmsg implements the HTTP Message Codec (spec.md §4.6): it
// parses request lines and header blocks from an 8-bit-clean buffer,
// emits response header blocks in known-good order, and enforces the
// header-size/count guardrails and body-elision rules per status
// class. It is used both for parsing client requests and for parsing
// the HTTP-ish header block a FastCGI worker emits on STDOUT.
package httpmsg

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mhttpd/core/internal/model"
)

var (
	ErrIncomplete   = errors.New("httpmsg: header block incomplete")
	ErrMalformed    = errors.New("httpmsg: malformed request line")
	ErrUnsupported  = errors.New("httpmsg: unsupported method")
)

// headerBlockEnd locates the first "\r\n\r\n" terminator, tolerating
// a bare "\n\n" the way many CGI-style emitters do.
func headerBlockEnd(buf []byte) int {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i + 2
	}
	return -1
}

// ParseRequest parses an 8-bit-clean buffer containing a full request
// line plus header block (spec.md §4.6). It returns the parsed
// Request and the number of bytes consumed (the header block only;
// any body bytes that followed in buf are left for the caller).
func ParseRequest(buf []byte) (*model.Request, int, error) {
	end := headerBlockEnd(buf)
	if end < 0 {
		return nil, 0, ErrIncomplete
	}
	block := buf[:end]

	lineEnd := bytes.IndexByte(block, '\n')
	if lineEnd < 0 {
		return nil, 0, ErrMalformed
	}
	line := strings.TrimRight(string(block[:lineEnd]), "\r\n")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, 0, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	method, target, proto := parts[0], parts[1], parts[2]
	switch method {
	case "GET", "HEAD", "POST":
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupported, method)
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad target %q: %v", ErrMalformed, target, err)
	}

	req := model.NewRequest()
	req.Method = method
	req.Target = u
	req.Proto = proto

	if err := parseHeaders(block[lineEnd+1:], req.Header, true); err != nil {
		return nil, 0, err
	}
	return req, end, nil
}

// parseHeaders parses a CRLF-delimited header block (without the
// blank-line terminator's leading bytes already trimmed by the
// caller's slicing) into h. When lowerNames is true, names are
// case-normalized to lower-case on insert (request semantics);
// otherwise the original case is preserved (response semantics).
// Over-limit input is truncated rather than failing the connection
// (spec.md §4.6 guardrails).
func parseHeaders(block []byte, h *model.Header, lowerNames bool) error {
	lines := splitLines(block)

	count := 0
	var lastName string
	for _, raw := range lines {
		line := string(raw)
		if line == "" {
			continue
		}
		if count >= MaxHeaders {
			return nil // truncate rather than fail
		}

		// Line continuation: leading whitespace appends to the prior
		// header's value.
		if lastName != "" && (line[0] == ' ' || line[0] == '\t') {
			cont := strings.TrimSpace(line)
			cur := h.Get(lastName)
			if len(cur)+len(cont) > MaxHeaderValueSize {
				cont = cont[:max0(MaxHeaderValueSize-len(cur))]
			}
			h.Set(lastName, cur+" "+cont)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])

		if len(name) > MaxHeaderNameSize {
			name = name[:MaxHeaderNameSize]
		}
		if len(value) > MaxHeaderValueSize {
			value = value[:MaxHeaderValueSize]
		}
		if lowerNames {
			name = strings.ToLower(name)
		}

		h.Add(name, value)
		lastName = name
		count++
	}
	return nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func splitLines(block []byte) [][]byte {
	var out [][]byte
	for len(block) > 0 {
		i := bytes.IndexByte(block, '\n')
		if i < 0 {
			out = append(out, trimCR(block))
			break
		}
		out = append(out, trimCR(block[:i]))
		block = block[i+1:]
	}
	return out
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// EmitResponseHeaders renders the status line plus header block in
// known-good order (spec.md §6). resp.Verify must have been called
// first by the caller (Client Session owns that invariant).
func EmitResponseHeaders(resp *model.Response) []byte {
	var buf bytes.Buffer
	statusText := resp.StatusText
	if statusText == "" {
		statusText = strconv.Itoa(resp.Status)
	}
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", resp.Status, statusText)

	emitted := make(map[string]bool)
	for _, name := range wellKnownOrder {
		if resp.Header.Has(name) {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, resp.Header.Get(name))
			emitted[strings.ToLower(name)] = true
		}
	}
	for _, name := range resp.Header.Names() {
		if emitted[strings.ToLower(name)] {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", name, resp.Header.Get(name))
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
