package handler

import (
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mhttpd/core/internal/model"
)

// StaticStep serves files from the request's docroot for any path
// carrying a non-FastCGI extension (spec.md §4.5 "static").
type StaticStep struct {
	cfg *Config
}

// NewStaticStep builds the static step from cfg.
func NewStaticStep(cfg *Config) *StaticStep { return &StaticStep{cfg: cfg} }

func (s *StaticStep) Name() string { return "static" }

func (s *StaticStep) Flags() model.StepFlags {
	return model.StepFlags{Final: true}
}

// Matches excludes both FastCGI extensions (handled by dynamic) and
// extension-less paths (handled by directory).
func (s *StaticStep) Matches(req *model.Request) bool {
	ext := filepath.Ext(req.Target.Path)
	return ext != "" && !s.cfg.Extensions[ext]
}

// Execute serves the file byte-for-byte, honoring If-Modified-Since
// (spec.md §8 P7, scenarios 1-2).
func (s *StaticStep) Execute(client *model.Client, req *model.Request, resp *model.Response) model.Outcome {
	diskPath := filepath.Join(req.Docroot, req.Target.Path)
	req.File.DiskPath = diskPath
	req.File.Extension = filepath.Ext(diskPath)

	info, err := os.Stat(diskPath)
	if err != nil || info.IsDir() {
		resp.Status = 404
		resp.StatusText = "Not Found"
		resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		resp.SetBody([]byte("404 Not Found"))
		return model.OutcomeOK
	}

	modTime := info.ModTime()
	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := time.Parse(time.RFC1123, ims); err == nil && !modTime.After(t.Add(time.Second - 1)) {
			resp.Status = 304
			resp.StatusText = "Not Modified"
			return model.OutcomeOK
		}
	}

	f, err := os.Open(diskPath)
	if err != nil {
		resp.Status = 500
		resp.StatusText = "Internal Server Error"
		resp.SetBody([]byte("500 Internal Server Error"))
		return model.OutcomeOK
	}

	req.File.MimeType = mimeType(req.File.Extension)

	resp.Status = 200
	resp.StatusText = "OK"
	resp.Header.Set("Content-Type", req.File.MimeType)
	resp.Header.Set("Last-Modified", modTime.UTC().Format(time.RFC1123))
	resp.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	resp.SetStream(f)
	return model.OutcomeOK
}

func mimeType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
