package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerFDFromTCPListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fd, err := listenerFD(ln)
	require.NoError(t, err)
	assert.Greater(t, fd, 0)
}

func TestConnFDFromTCPConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		clientDone <- c
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()
	client := <-clientDone
	defer client.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	assert.Greater(t, fd, 0)
}

type fakeNetConnWrapper struct {
	net.Conn
}

func (w fakeNetConnWrapper) NetConn() net.Conn { return w.Conn }

func TestConnFDFallsBackThroughNetConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		clientDone <- c
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()
	client := <-clientDone
	defer client.Close()

	wrapped := fakeNetConnWrapper{Conn: server}
	fd, err := connFD(wrapped)
	require.NoError(t, err)
	assert.Greater(t, fd, 0)
}
