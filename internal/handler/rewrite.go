package handler

import (
	"os"
	"path/filepath"

	"github.com/mhttpd/core/internal/model"
)

// RewriteStep applies the first matching configured rewrite rule to
// the request path/query and requests reauthorization (spec.md §4.5
// "rewrite").
type RewriteStep struct {
	cfg *Config
}

// NewRewriteStep builds the rewrite step from cfg.
func NewRewriteStep(cfg *Config) *RewriteStep { return &RewriteStep{cfg: cfg} }

func (w *RewriteStep) Name() string { return "rewrite" }

func (w *RewriteStep) Flags() model.StepFlags {
	return model.StepFlags{Final: false, UseOnce: true, SkipOnError: true}
}

func (w *RewriteStep) Matches(req *model.Request) bool {
	_, ok := w.firstMatch(req)
	return ok
}

func (w *RewriteStep) firstMatch(req *model.Request) (*RewriteRule, bool) {
	path := req.Target.Path
	for i := range w.cfg.RewriteRules {
		r := &w.cfg.RewriteRules[i]
		if r.Exclude != nil && r.Exclude.MatchString(path) {
			continue
		}
		if r.Match == nil || !r.Match.MatchString(path) {
			continue
		}
		if r.RequireFile && !fileExists(filepath.Join(req.Docroot, path)) {
			continue
		}
		if r.RequireDir && !dirExists(filepath.Join(req.Docroot, path)) {
			continue
		}
		return r, true
	}
	return nil, false
}

// Execute rewrites req.Target.Path via the first matching rule's
// replacement (regex ReplaceAllString). A rule carrying a non-zero
// RedirectStatus instead produces a real redirect response and
// terminates the queue (spec.md §6 rewrite rule "redirect status"). A
// plain in-place rewrite flags Reprocessing and ReauthRequested so the
// mutated path is re-parsed through auth/static/dynamic exactly once
// (spec.md §4.3 "Reauthorization hook").
func (w *RewriteStep) Execute(client *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	rule, ok := w.firstMatch(req)
	if !ok {
		return model.OutcomeSkip
	}

	original := req.Target.Path
	rewritten := rule.Match.ReplaceAllString(original, rule.Replacement)

	if rule.RedirectStatus != 0 {
		resp.Status = rule.RedirectStatus
		resp.Header.Set("Location", rewritten)
		req.Rewrite = model.RewriteInfo{OriginalURL: original, RedirectStatus: rule.RedirectStatus}
		return model.OutcomeFatal
	}

	req.Target.Path = rewritten
	req.Rewrite = model.RewriteInfo{OriginalURL: original}
	req.Reprocessing = true
	req.ReauthRequested = true
	return model.OutcomeOK
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
