package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhttpd/core/internal/model"
)

func TestParseRequestIncomplete(t *testing.T) {
	_, _, err := ParseRequest([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParseRequestBasic(t *testing.T) {
	raw := "GET /index.html?x=1 HTTP/1.1\r\nHost: example.com\r\nX-Custom: a\r\n X-Custom-continued\r\n\r\n"
	req, consumed, err := ParseRequest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/index.html", req.Target.Path)
	assert.Equal(t, "example.com", req.Header.Get("host"))
	assert.Contains(t, req.Header.Get("x-custom"), "a")
}

func TestParseRequestUnsupportedMethod(t *testing.T) {
	_, _, err := ParseRequest([]byte("PUT / HTTP/1.1\r\nHost: x\r\n\r\n"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEmitResponseHeadersOrder(t *testing.T) {
	resp := model.NewResponse()
	resp.Header.Set("Content-Type", "text/plain")
	resp.Header.Set("Date", "Thu, 01 Jan 1970 00:00:00 GMT")
	resp.Header.Set("X-Custom", "z")
	resp.Header.Set("Content-Length", "3")

	buf := EmitResponseHeaders(resp)
	out := string(buf)

	dateIdx := indexOf(out, "Date:")
	clIdx := indexOf(out, "Content-Length:")
	ctIdx := indexOf(out, "Content-Type:")
	customIdx := indexOf(out, "X-Custom:")

	require.True(t, dateIdx >= 0 && clIdx >= 0 && ctIdx >= 0 && customIdx >= 0)
	assert.Less(t, dateIdx, clIdx)
	assert.Less(t, clIdx, ctIdx)
	assert.Less(t, ctIdx, customIdx)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
