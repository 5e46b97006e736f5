package handler

import (
	"strings"

	"github.com/mhttpd/core/internal/model"
)

// PrivateStep remaps the docroot to the server's private tree for
// requests under a configured private prefix, e.g. /api-docs/* and
// /extras/* (spec.md §4.5 "private", §6 "two private document trees").
type PrivateStep struct {
	cfg *Config
}

// NewPrivateStep builds the private step from cfg.
func NewPrivateStep(cfg *Config) *PrivateStep { return &PrivateStep{cfg: cfg} }

func (p *PrivateStep) Name() string { return "private" }

func (p *PrivateStep) Flags() model.StepFlags {
	return model.StepFlags{Final: false, UseOnce: true}
}

func (p *PrivateStep) Matches(req *model.Request) bool {
	return p.cfg.PrivatePrefix != "" && strings.HasPrefix(req.Target.Path, p.cfg.PrivatePrefix)
}

// Execute rewrites the docroot and strips the private prefix from the
// path so static/dynamic resolve it against the private tree.
func (p *PrivateStep) Execute(client *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	req.Docroot = p.cfg.PrivateDocroot
	req.Target.Path = strings.TrimPrefix(req.Target.Path, p.cfg.PrivatePrefix)
	if req.Target.Path == "" {
		req.Target.Path = "/"
	}
	req.Reprocessing = true
	return model.OutcomeOK
}
