package handler

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhttpd/core/internal/model"
)

type fakePool struct {
	workerID int
	conn     net.Conn
	err      error
	released []int
}

func (p *fakePool) Connect(clientID, preferredWorkerID int) (int, net.Conn, error) {
	if p.err != nil {
		return 0, nil, p.err
	}
	return p.workerID, p.conn, nil
}

func (p *fakePool) Release(workerID int) { p.released = append(p.released, workerID) }

func TestDynamicStepMatchesConfiguredExtensions(t *testing.T) {
	step := NewDynamicStep(&Config{Extensions: map[string]bool{".php": true}}, &fakePool{})

	phpReq := newStaticRequest(t, "", "/index.php")
	assert.True(t, step.Matches(phpReq))

	txtReq := newStaticRequest(t, "", "/index.txt")
	assert.False(t, step.Matches(txtReq))
}

func TestDynamicStepConnectsSessionOnSuccess(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	pool := &fakePool{workerID: 3, conn: clientConn}
	step := NewDynamicStep(&Config{ServerSignature: "mhttpd/1.0"}, pool)

	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()
	client := model.NewClient(1, conn1)

	req := newStaticRequest(t, "/srv/www", "/index.php")
	req.Header.Set("Content-Type", "text/plain")
	resp := model.NewResponse()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		_, _ = serverConn.Read(buf)
		close(done)
	}()

	outcome := step.Execute(client, req, resp)

	require.Equal(t, model.OutcomeOK, outcome)
	assert.Equal(t, model.StateAwaitingWorker, client.State)
	require.NotNil(t, client.Session)
	<-done
}

func TestDynamicStepConnectFailureProducesBadGateway(t *testing.T) {
	pool := &fakePool{err: assertErr("boom")}
	step := NewDynamicStep(&Config{}, pool)

	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()
	client := model.NewClient(1, conn1)

	req := newStaticRequest(t, "/srv/www", "/index.php")
	resp := model.NewResponse()

	outcome := step.Execute(client, req, resp)

	assert.Equal(t, model.OutcomeOK, outcome)
	assert.Equal(t, 502, resp.Status)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
