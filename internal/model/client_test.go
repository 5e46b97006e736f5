package model

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientAppendConsumeResetInput(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewClient(1, server)
	c.AppendInput([]byte("hello"))
	c.AppendInput([]byte("world"))
	assert.Equal(t, []byte("helloworld"), c.InputBuffer())

	c.ConsumeInput(5)
	assert.Equal(t, []byte("world"), c.InputBuffer())

	c.ResetInput()
	assert.Empty(t, c.InputBuffer())
}

func TestClientTouchRefreshesLastActivity(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewClient(1, server)
	before := c.LastActivity
	c.Touch()
	assert.False(t, c.LastActivity.Before(before))
}

func TestStateStringCoversAllStates(t *testing.T) {
	cases := map[State]string{
		StateIdle:            "idle",
		StateReadingHeaders:  "reading-headers",
		StateReadingBody:     "reading-body",
		StateAwaitingWorker:  "awaiting-worker",
		StateSendingHeaders:  "sending-headers",
		StateStreamingFile:   "streaming-file",
		StateChunking:        "chunking",
		StateFinishing:       "finishing",
		State(99):            "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
