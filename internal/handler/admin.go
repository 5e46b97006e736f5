package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mhttpd/core/internal/htmltpl"
	"github.com/mhttpd/core/internal/metrics"
	"github.com/mhttpd/core/internal/model"
)

// WorkerRow is one scoreboard line the admin page renders (spec.md §2
// "scoreboard", §8 scenario 6 "{fcgi-scoreboard}").
type WorkerRow struct {
	ID           int
	PID          int
	State        string
	Clients      int
	Age          time.Duration
	RequestCount int64
}

// StatsProvider is the seam to live server state the admin page needs;
// satisfied by the root server type so this package stays independent
// of workerpool/clientsession.
type StatsProvider interface {
	Version() string
	LaunchedAt() time.Time
	BytesUp() int64
	BytesDown() int64
	ClientCount() int
	AbortedCount() int
	Scoreboard() []WorkerRow
	HandlerNames() []string
}

// AdminStep renders /server-status and /server-info (spec.md §4.5
// "admin"), grounded on the corpus's own templated-page pattern
// (htmltpl.Render, used the way internal/htmltpl documents).
type AdminStep struct {
	cfg     *Config
	stats   StatsProvider
	metrics *metrics.Registry

	// lastAborted/lastBytesUp/lastBytesDown track the previously synced
	// cumulative values so the Prometheus counters (which only support
	// Add, not Set) receive the correct delta each render.
	lastAborted   int64
	lastBytesUp   int64
	lastBytesDown int64
	lastRequests  map[int]int64
}

// NewAdminStep builds the admin step; stats may be nil until the
// server wiring is complete, in which case Execute renders zero
// values rather than panicking. reg may also be nil, disabling the
// Prometheus sync.
func NewAdminStep(cfg *Config, stats StatsProvider, reg *metrics.Registry) *AdminStep {
	return &AdminStep{cfg: cfg, stats: stats, metrics: reg}
}

func (a *AdminStep) Name() string { return "admin" }

func (a *AdminStep) Flags() model.StepFlags {
	return model.StepFlags{Final: true, UseOnce: true}
}

func (a *AdminStep) Matches(req *model.Request) bool {
	if !a.cfg.AdminEnable {
		return false
	}
	p := req.Target.Path
	return p == "/server-status" || p == "/server-info"
}

func (a *AdminStep) Execute(client *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	a.syncMetrics()
	vars := a.templateVars(req)
	tpl := statusTemplate
	if req.Target.Path == "/server-info" {
		tpl = infoTemplate
	}

	body := htmltpl.Render(tpl, vars)
	resp.Status = 200
	resp.StatusText = "OK"
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.SetBody([]byte(body))
	return model.OutcomeOK
}

// syncMetrics pushes the current scoreboard and traffic counters into
// the Prometheus registry (spec.md SUPPLEMENTED FEATURES "Scoreboard
// export beyond the HTML template"). It runs every time the status
// page is rendered, the same cadence the teacher's status-page/metrics
// pairing assumes.
func (a *AdminStep) syncMetrics() {
	if a.metrics == nil || a.stats == nil {
		return
	}
	if a.lastRequests == nil {
		a.lastRequests = make(map[int]int64)
	}
	rows := a.stats.Scoreboard()
	a.metrics.WorkerCount.Set(float64(len(rows)))
	for _, w := range rows {
		id := strconv.Itoa(w.ID)
		a.metrics.WorkerClients.WithLabelValues(id).Set(float64(w.Clients))
		if w.RequestCount > a.lastRequests[w.ID] {
			a.metrics.WorkerRequests.WithLabelValues(id).Add(float64(w.RequestCount - a.lastRequests[w.ID]))
			a.lastRequests[w.ID] = w.RequestCount
		}
	}
	a.metrics.ClientsActive.Set(float64(a.stats.ClientCount()))

	if aborted := int64(a.stats.AbortedCount()); aborted > a.lastAborted {
		a.metrics.AbortedSessions.Add(float64(aborted - a.lastAborted))
		a.lastAborted = aborted
	}
	if up := a.stats.BytesUp(); up > a.lastBytesUp {
		a.metrics.BytesReceived.Add(float64(up - a.lastBytesUp))
		a.lastBytesUp = up
	}
	if down := a.stats.BytesDown(); down > a.lastBytesDown {
		a.metrics.BytesSentTotal.Add(float64(down - a.lastBytesDown))
		a.lastBytesDown = down
	}
}

func (a *AdminStep) templateVars(req *model.Request) map[string]string {
	if a.stats == nil {
		return map[string]string{"signature": a.cfg.ServerSignature}
	}
	var sb strings.Builder
	for _, w := range a.stats.Scoreboard() {
		fmt.Fprintf(&sb, "worker %d pid=%d state=%s clients=%d age=%s\n",
			w.ID, w.PID, w.State, w.Clients, w.Age.Truncate(time.Second))
	}
	return map[string]string{
		"version":         a.stats.Version(),
		"launched":        a.stats.LaunchedAt().Format(time.RFC1123),
		"traffic-up":      fmt.Sprintf("%d", a.stats.BytesUp()),
		"traffic-down":    fmt.Sprintf("%d", a.stats.BytesDown()),
		"clients":         fmt.Sprintf("%d", a.stats.ClientCount()),
		"fcgi-scoreboard": sb.String(),
		"aborted":         fmt.Sprintf("%d", a.stats.AbortedCount()),
		"handlers":        strings.Join(a.stats.HandlerNames(), ", "),
		"signature":       a.cfg.ServerSignature,
	}
}

const statusTemplate = `<html><head><title>Server Status</title></head><body>
<h1>{{signature}}</h1>
<p>Launched: {{launched}}</p>
<p>Traffic: up {{traffic-up}} / down {{traffic-down}}</p>
<p>Clients: {{clients}} (aborted: {{aborted}})</p>
<pre>{{fcgi-scoreboard}}</pre>
<p>Handlers: {{handlers}}</p>
</body></html>`

const infoTemplate = `<html><head><title>Server Info</title></head><body>
<h1>{{signature}} {{version}}</h1>
<p>Handlers: {{handlers}}</p>
</body></html>`
