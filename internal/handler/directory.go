package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhttpd/core/internal/model"
)

// DirectoryStep resolves extension-less URLs to an index file, or
// redirects to add a trailing slash (spec.md §4.5 "directory").
type DirectoryStep struct {
	cfg *Config
}

// NewDirectoryStep builds the directory step from cfg.
func NewDirectoryStep(cfg *Config) *DirectoryStep { return &DirectoryStep{cfg: cfg} }

func (d *DirectoryStep) Name() string { return "directory" }

func (d *DirectoryStep) Flags() model.StepFlags {
	return model.StepFlags{Final: true}
}

func (d *DirectoryStep) Matches(req *model.Request) bool {
	return filepath.Ext(req.Target.Path) == ""
}

// Execute implements spec.md §8 scenario 3: a directory without a
// trailing slash gets a 301 to add one; a trailing-slash request
// picks the first configured index file that exists, reprocessing the
// request through the pipeline once it is rewritten.
func (d *DirectoryStep) Execute(client *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	path := req.Target.Path
	diskDir := filepath.Join(req.Docroot, path)

	if !strings.HasSuffix(path, "/") {
		info, err := os.Stat(diskDir)
		if err == nil && info.IsDir() {
			resp.Status = 301
			resp.StatusText = "Moved Permanently"
			resp.Header.Set("Location", d.absoluteLocation(req, path+"/"))
			return model.OutcomeOK
		}
		resp.Status = 404
		resp.StatusText = "Not Found"
		resp.SetBody([]byte("404 Not Found"))
		return model.OutcomeOK
	}

	for _, index := range d.cfg.IndexFiles {
		candidate := filepath.Join(diskDir, index)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			req.Target.Path = path + index
			req.Reprocessing = true
			return model.OutcomeOK
		}
	}

	resp.Status = 404
	resp.StatusText = "Not Found"
	resp.SetBody([]byte("404 Not Found"))
	return model.OutcomeOK
}

func (d *DirectoryStep) absoluteLocation(req *model.Request, path string) string {
	scheme := "http"
	host := req.Header.Get("Host")
	if host == "" {
		host = "localhost"
	}
	query := ""
	if req.Target.RawQuery != "" {
		query = "?" + req.Target.RawQuery
	}
	return fmt.Sprintf("%s://%s%s%s", scheme, host, path, query)
}
