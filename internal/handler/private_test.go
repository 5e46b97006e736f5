package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mhttpd/core/internal/model"
)

func TestPrivateStepRewritesDocrootAndPath(t *testing.T) {
	cfg := &Config{PrivatePrefix: "/api-docs", PrivateDocroot: "/srv/private"}
	step := NewPrivateStep(cfg)

	req := newStaticRequest(t, "/srv/www", "/api-docs/guide.html")
	resp := model.NewResponse()

	assert.True(t, step.Matches(req))
	outcome := step.Execute(nil, req, resp)

	assert.Equal(t, model.OutcomeOK, outcome)
	assert.Equal(t, "/srv/private", req.Docroot)
	assert.Equal(t, "/guide.html", req.Target.Path)
	assert.True(t, req.Reprocessing)
}

func TestPrivateStepRootPrefixBecomesSlash(t *testing.T) {
	cfg := &Config{PrivatePrefix: "/extras", PrivateDocroot: "/srv/private"}
	step := NewPrivateStep(cfg)

	req := newStaticRequest(t, "/srv/www", "/extras")
	resp := model.NewResponse()

	step.Execute(nil, req, resp)

	assert.Equal(t, "/", req.Target.Path)
}

func TestPrivateStepDoesNotMatchOtherPaths(t *testing.T) {
	cfg := &Config{PrivatePrefix: "/api-docs", PrivateDocroot: "/srv/private"}
	step := NewPrivateStep(cfg)

	req := newStaticRequest(t, "/srv/www", "/public/page.html")
	assert.False(t, step.Matches(req))
}
