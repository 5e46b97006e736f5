package handler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhttpd/core/internal/metrics"
	"github.com/mhttpd/core/internal/model"
)

type fakeStats struct{}

func (fakeStats) Version() string        { return "mhttpd/1.0" }
func (fakeStats) LaunchedAt() time.Time  { return time.Unix(0, 0) }
func (fakeStats) BytesUp() int64         { return 100 }
func (fakeStats) BytesDown() int64       { return 200 }
func (fakeStats) ClientCount() int       { return 3 }
func (fakeStats) AbortedCount() int      { return 1 }
func (fakeStats) HandlerNames() []string { return []string{"static", "dynamic"} }
func (fakeStats) Scoreboard() []WorkerRow {
	return []WorkerRow{{ID: 1, PID: 999, State: "idle", Clients: 0, Age: time.Second, RequestCount: 7}}
}

func TestAdminStepMatchesOnlyWhenEnabled(t *testing.T) {
	step := NewAdminStep(&Config{AdminEnable: false}, fakeStats{}, nil)
	req := newStaticRequest(t, "", "/server-status")
	assert.False(t, step.Matches(req))

	step = NewAdminStep(&Config{AdminEnable: true}, fakeStats{}, nil)
	assert.True(t, step.Matches(req))
	assert.False(t, step.Matches(newStaticRequest(t, "", "/other")))
}

func TestAdminStepRendersScoreboard(t *testing.T) {
	step := NewAdminStep(&Config{AdminEnable: true, ServerSignature: "mhttpd"}, fakeStats{}, nil)
	req := newStaticRequest(t, "", "/server-status")
	resp := model.NewResponse()

	outcome := step.Execute(nil, req, resp)

	assert.Equal(t, model.OutcomeOK, outcome)
	assert.Equal(t, 200, resp.Status)
	body := string(resp.Body())
	assert.Contains(t, body, "mhttpd")
	assert.Contains(t, body, "pid=999")
	assert.Contains(t, body, "clients=0")
}

func TestAdminStepInfoTemplate(t *testing.T) {
	step := NewAdminStep(&Config{AdminEnable: true}, fakeStats{}, nil)
	req := newStaticRequest(t, "", "/server-info")
	resp := model.NewResponse()

	step.Execute(nil, req, resp)

	assert.Contains(t, string(resp.Body()), "mhttpd/1.0")
}

func TestAdminStepHandlesNilStats(t *testing.T) {
	step := NewAdminStep(&Config{AdminEnable: true, ServerSignature: "mhttpd"}, nil, nil)
	req := newStaticRequest(t, "", "/server-status")
	resp := model.NewResponse()

	outcome := step.Execute(nil, req, resp)

	assert.Equal(t, model.OutcomeOK, outcome)
	assert.Contains(t, string(resp.Body()), "mhttpd")
}

func TestAdminStepSyncsMetricsOnRender(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	step := NewAdminStep(&Config{AdminEnable: true}, fakeStats{}, reg)
	req := newStaticRequest(t, "", "/server-status")
	resp := model.NewResponse()

	step.Execute(nil, req, resp)

	var m dto.Metric
	require.NoError(t, reg.ClientsActive.Write(&m))
	assert.Equal(t, float64(3), m.GetGauge().GetValue())

	var workers dto.Metric
	require.NoError(t, reg.WorkerRequests.WithLabelValues("1").Write(&workers))
	assert.Equal(t, float64(7), workers.GetCounter().GetValue())
}
