package handler

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/mhttpd/core/internal/fastcgi"
	"github.com/mhttpd/core/internal/model"
)

// DynamicStep opens a FastCGI Session for requests whose file
// extension is in the configured FastCGI extension set (spec.md §4.5
// "dynamic"). It only creates and connects the session; the Transport
// Listener's main loop (spec.md §4.1 step 4) drives it to completion
// one record per tick.
type DynamicStep struct {
	cfg  *Config
	pool Pool
}

// NewDynamicStep builds the dynamic step from cfg, bound to pool for
// worker connections.
func NewDynamicStep(cfg *Config, pool Pool) *DynamicStep {
	return &DynamicStep{cfg: cfg, pool: pool}
}

func (d *DynamicStep) Name() string { return "dynamic" }

func (d *DynamicStep) Flags() model.StepFlags {
	return model.StepFlags{Final: true}
}

func (d *DynamicStep) Matches(req *model.Request) bool {
	return d.cfg.Extensions[filepath.Ext(req.Target.Path)]
}

// Execute builds the CGI-ish parameter set, creates the session, and
// dials a worker (spec.md §4.4 steps 1-2). A connect failure after
// retries produces the 502-class response inline (spec.md §7 "Worker
// unavailable").
func (d *DynamicStep) Execute(client *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	req.File.DiskPath = filepath.Join(req.Docroot, req.Target.Path)
	req.File.Extension = filepath.Ext(req.Target.Path)

	params := d.buildParams(client, req)

	preferred := 0
	if sess, ok := client.Session.(*fastcgi.Session); ok && sess != nil {
		preferred = sess.WorkerID
	}

	session := fastcgi.NewSession(client.ID, d.pool, params, req.Body)
	if err := session.Connect(preferred); err != nil {
		resp.Status = 502
		resp.StatusText = "Bad Gateway"
		resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		resp.SetBody([]byte(fmt.Sprintf("dynamic handler: %v", err)))
		return model.OutcomeOK
	}

	client.Session = session
	client.State = model.StateAwaitingWorker
	return model.OutcomeOK
}

func (d *DynamicStep) buildParams(client *model.Client, req *model.Request) map[string]string {
	params := map[string]string{
		"REQUEST_METHOD":    req.Method,
		"SCRIPT_NAME":       req.Target.Path,
		"SCRIPT_FILENAME":   req.File.DiskPath,
		"QUERY_STRING":      req.Target.RawQuery,
		"SERVER_PROTOCOL":   req.Proto,
		"SERVER_SOFTWARE":   d.cfg.ServerSignature,
		"GATEWAY_INTERFACE": "CGI/1.1",
		"REMOTE_ADDR":       peerIP(client),
		"DOCUMENT_ROOT":     req.Docroot,
	}
	if cl := req.ContentLength(); cl >= 0 {
		params["CONTENT_LENGTH"] = strconv.FormatInt(cl, 10)
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		params["CONTENT_TYPE"] = ct
	}
	if req.Username != "" {
		params["REMOTE_USER"] = req.Username
	}
	for _, name := range req.Header.Names() {
		params["HTTP_"+cgiHeaderName(name)] = req.Header.Get(name)
	}
	return params
}

func cgiHeaderName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '-' {
			out[i] = '_'
		} else if c >= 'a' && c <= 'z' {
			out[i] = c - 32
		} else {
			out[i] = c
		}
	}
	return string(out)
}

func peerIP(client *model.Client) string {
	if client.Peer == nil {
		return ""
	}
	return client.Peer.String()
}
