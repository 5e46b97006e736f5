package transport

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerReportsReadableFD(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	rfd := int(r.Fd())
	require.NoError(t, p.Add(rfd, false))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, rfd, events[0].FD)
	assert.True(t, events[0].Readable)
}

func TestPollerWaitReturnsEmptyWhenNothingRegistered(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	events, err := p.Wait(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPollerRemoveStopsReporting(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	rfd := int(r.Fd())
	require.NoError(t, p.Add(rfd, false))
	require.NoError(t, p.Remove(rfd))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
