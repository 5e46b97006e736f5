package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCodecParsesStatusHeaderLine(t *testing.T) {
	c := NewResponseCodec()
	done, err := c.Feed([]byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\nbody-bytes"))
	require.NoError(t, err)
	require.True(t, done)

	resp := c.Response()
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte("body-bytes"), c.Unconsumed())
}

func TestResponseCodecDefaultsTo200WithoutStatusLine(t *testing.T) {
	c := NewResponseCodec()
	done, err := c.Feed([]byte("Content-Type: text/html\r\n\r\n<html></html>"))
	require.NoError(t, err)
	require.True(t, done)

	resp := c.Response()
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}

func TestResponseCodecBuffersAcrossFeeds(t *testing.T) {
	c := NewResponseCodec()
	done, err := c.Feed([]byte("Status: 200"))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = c.Feed([]byte(" OK\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 200, c.Response().Status)
}

func TestResponseCodecParsesHTTPStatusLine(t *testing.T) {
	c := NewResponseCodec()
	done, err := c.Feed([]byte("HTTP/1.1 500 Internal Server Error\r\nX-App: a\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, 500, c.Response().Status)
	assert.Equal(t, "a", c.Response().Header.Get("X-App"))
}
