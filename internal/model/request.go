// Package model holds the data entities shared by the connection engine:
// Request, Response, Client and the handler-pipeline queue. None of these
// types own an open socket; that is Client's job (see client.go).
package model

import (
	"net/url"
	"strings"
)

// Header is a case-insensitive request/response header mapping. Request
// headers are normalized to lower-case keys on insert (spec.md §4.6);
// Response headers preserve the case they were set with.
type Header struct {
	keys   []string          // insertion order, original case
	values map[string]string // lower-case key -> comma-joined value
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

func normKey(k string) string { return strings.ToLower(k) }

// combineLastWins lists header names that keep last-wins semantics on
// duplicate instead of comma-joining (spec.md §4.6).
var combineLastWins = map[string]bool{
	"connection":   true,
	"keep-alive":   true,
}

// Add appends a value for key, combining with any prior value per
// spec.md §4.6 duplicate-header rules.
func (h *Header) Add(key, value string) {
	lk := normKey(key)
	if _, ok := h.values[lk]; !ok {
		h.keys = append(h.keys, key)
	}
	if prev, ok := h.values[lk]; ok && !combineLastWins[lk] {
		h.values[lk] = prev + ", " + value
	} else {
		h.values[lk] = value
	}
}

// Set overwrites any existing value for key.
func (h *Header) Set(key, value string) {
	lk := normKey(key)
	if _, ok := h.values[lk]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[lk] = value
}

// Get returns the value for key (case-insensitive), or "".
func (h *Header) Get(key string) string {
	return h.values[normKey(key)]
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.values[normKey(key)]
	return ok
}

// Del removes key.
func (h *Header) Del(key string) {
	lk := normKey(key)
	if _, ok := h.values[lk]; !ok {
		return
	}
	delete(h.values, lk)
	for i, k := range h.keys {
		if normKey(k) == lk {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct header names.
func (h *Header) Len() int { return len(h.keys) }

// Names returns header names in insertion order.
func (h *Header) Names() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// FileInfo is the parsed-on-demand disk-path classification of a
// Request's target (spec.md §3 Request entity).
type FileInfo struct {
	DiskPath  string
	Extension string
	MimeType  string
}

// RewriteInfo records how a Request's URL was mutated by the rewrite
// handler step (spec.md §3, §4.5).
type RewriteInfo struct {
	OriginalURL    string
	RedirectStatus int
}

// Request is the per-dispatch value mutated only by handler steps
// (spec.md §3 invariants).
type Request struct {
	Method   string
	Target   *url.URL
	Proto    string
	Header   *Header
	Body     []byte
	File     FileInfo
	Docroot  string
	Rewrite  RewriteInfo
	Username string

	// Reprocessing is set by a handler that mutated the request and
	// requires the pipeline to re-dispatch (spec.md §4.3, §4.5).
	Reprocessing bool

	// ReauthRequested flags that the auth step must run again even
	// though it is use-once (spec.md §4.3 "Reauthorization hook").
	ReauthRequested bool
}

// NewRequest returns an empty Request ready for the HTTP Message Codec
// to populate.
func NewRequest() *Request {
	return &Request{Header: NewHeader()}
}

// ContentLength returns the parsed Content-Length header, or -1 if
// absent or malformed.
func (r *Request) ContentLength() int64 {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := parseInt64(v)
	if err != nil {
		return -1
	}
	return n
}

// IsChunked reports whether Transfer-Encoding: chunked is present.
func (r *Request) IsChunked() bool {
	return strings.EqualFold(r.Header.Get("Transfer-Encoding"), "chunked")
}

func parseInt64(s string) (int64, error) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotNumber
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
