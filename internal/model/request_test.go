package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderAddCombinesExceptConnectionAndKeepAlive(t *testing.T) {
	h := NewHeader()
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	assert.Equal(t, "text/html, application/json", h.Get("Accept"))

	h.Add("Connection", "keep-alive")
	h.Add("Connection", "close")
	assert.Equal(t, "close", h.Get("Connection"), "Connection is last-wins, not comma-joined")
}

func TestHeaderDelRemovesNameFromOrderAndValues(t *testing.T) {
	h := NewHeader()
	h.Set("X-A", "1")
	h.Set("X-B", "2")
	h.Del("X-A")

	assert.False(t, h.Has("X-A"))
	assert.Equal(t, []string{"X-B"}, h.Names())
	assert.Equal(t, 1, h.Len())
}

func TestHeaderGetIsCaseInsensitive(t *testing.T) {
	h := NewHeader()
	h.Set("Content-Type", "text/plain")
	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.True(t, h.Has("CONTENT-TYPE"))
}

func TestRequestContentLengthParsesOrDefaultsNegativeOne(t *testing.T) {
	r := NewRequest()
	assert.Equal(t, int64(-1), r.ContentLength(), "absent header")

	r.Header.Set("Content-Length", "1024")
	assert.Equal(t, int64(1024), r.ContentLength())

	r.Header.Set("Content-Length", "not-a-number")
	assert.Equal(t, int64(-1), r.ContentLength(), "malformed header")
}

func TestRequestIsChunkedIsCaseInsensitive(t *testing.T) {
	r := NewRequest()
	assert.False(t, r.IsChunked())

	r.Header.Set("Transfer-Encoding", "CHUNKED")
	assert.True(t, r.IsChunked())
}
