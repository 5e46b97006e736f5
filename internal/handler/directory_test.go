package handler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhttpd/core/internal/model"
)

func TestDirectoryStepRedirectsMissingSlash(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("hi"), 0o644))

	step := NewDirectoryStep(&Config{IndexFiles: []string{"index.html"}})
	req := newStaticRequest(t, dir, "/docs")
	req.Header.Set("Host", "example.com")
	resp := model.NewResponse()

	step.Execute(nil, req, resp)

	assert.Equal(t, 301, resp.Status)
	assert.Equal(t, "http://example.com/docs/", resp.Header.Get("Location"))
}

func TestDirectoryStepPicksIndexFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("hi"), 0o644))

	step := NewDirectoryStep(&Config{IndexFiles: []string{"index.html"}})
	req := newStaticRequest(t, dir, "/docs/")
	resp := model.NewResponse()

	outcome := step.Execute(nil, req, resp)

	assert.Equal(t, model.OutcomeOK, outcome)
	assert.True(t, req.Reprocessing)
	assert.Equal(t, "/docs/index.html", req.Target.Path)
}

func TestDirectoryStepNoIndexFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0o755))

	step := NewDirectoryStep(&Config{IndexFiles: []string{"index.html"}})
	req := newStaticRequest(t, dir, "/docs/")
	resp := model.NewResponse()

	step.Execute(nil, req, resp)

	assert.Equal(t, 404, resp.Status)
}
