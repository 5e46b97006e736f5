package clientsession

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhttpd/core/internal/model"
)

type fakeStep struct {
	name    string
	matches bool
	final   bool
	run     func(*model.Request, *model.Response) model.Outcome
}

func (f *fakeStep) Name() string              { return f.name }
func (f *fakeStep) Flags() model.StepFlags    { return model.StepFlags{Final: f.final} }
func (f *fakeStep) Matches(*model.Request) bool { return f.matches }
func (f *fakeStep) Execute(_ *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	return f.run(req, resp)
}

type recordingLogger struct {
	status int
	line   string
}

func (l *recordingLogger) Log(peer, user, requestLine string, status int, bytes int64, referer, userAgent string) {
	l.status = status
	l.line = requestLine
}

func newTestSession(t *testing.T, steps []model.Step, logger AccessLogger) (*Session, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	client := model.NewClient(1, serverConn)
	queue := model.NewHandlerQueue(steps)
	sess := New(client, queue, Config{}, "", nil, logger, nil)
	return sess, clientConn
}

func TestOnReadableDispatchesMatchingStep(t *testing.T) {
	step := &fakeStep{name: "ok", matches: true, final: true, run: func(req *model.Request, resp *model.Response) model.Outcome {
		resp.Status = 200
		resp.SetBody([]byte("hi"))
		return model.OutcomeOK
	}}
	sess, clientConn := newTestSession(t, []model.Step{step}, nil)

	req := []byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	readDone := make(chan []byte, 1)
	go func() {
		// Header block and body arrive as two separate writes.
		var out []byte
		buf := make([]byte, 4096)
		for i := 0; i < 2; i++ {
			n, _ := clientConn.Read(buf)
			out = append(out, buf[:n]...)
		}
		readDone <- out
	}()

	require.NoError(t, sess.OnReadable(req))
	assert.Equal(t, model.StateFinishing, sess.Client.State)

	complete, err := sess.FlushOutbound()
	require.NoError(t, err)
	for !complete {
		complete, err = sess.FlushOutbound()
		require.NoError(t, err)
	}

	out := <-readDone
	assert.Contains(t, string(out), "200 OK")
	assert.Contains(t, string(out), "hi")
}

func TestOnReadableSynthesizes500WhenNoStepMatches(t *testing.T) {
	step := &fakeStep{name: "never", matches: false}
	logger := &recordingLogger{}
	sess, clientConn := newTestSession(t, []model.Step{step}, logger)

	req := []byte("GET /anything HTTP/1.1\r\nHost: x\r\n\r\n")
	readDone := make(chan []byte, 1)
	go func() {
		// Header block and body arrive as two separate writes.
		var out []byte
		buf := make([]byte, 4096)
		for i := 0; i < 2; i++ {
			n, _ := clientConn.Read(buf)
			out = append(out, buf[:n]...)
		}
		readDone <- out
	}()

	require.NoError(t, sess.OnReadable(req))
	assert.Equal(t, 500, sess.Client.Response.Status)

	complete, err := sess.FlushOutbound()
	require.NoError(t, err)
	for !complete {
		complete, err = sess.FlushOutbound()
		require.NoError(t, err)
	}
	<-readDone

	keepAlive := sess.FinishResponse()
	assert.False(t, keepAlive)
	assert.Equal(t, 500, logger.status)
	assert.Equal(t, model.StateIdle, sess.Client.State)
}

func TestZeroWriteStreakStartsAtZero(t *testing.T) {
	step := &fakeStep{name: "ok", matches: true, final: true, run: func(req *model.Request, resp *model.Response) model.Outcome {
		resp.SetBody([]byte("x"))
		return model.OutcomeOK
	}}
	sess, _ := newTestSession(t, []model.Step{step}, nil)

	require.NoError(t, sess.OnReadable([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")))
	assert.Equal(t, 0, sess.ZeroWriteStreak())
}
