// Package handler implements the seven built-in HandlerStep
// implementations (spec.md §4.5): auth, admin, private, rewrite,
// dynamic, static, directory. Each satisfies model.Step so
// clientsession can drive them through a model.HandlerQueue without
// this package depending back on clientsession (the cycle is broken
// the same way model.Client.Session is an opaque interface{}).
package handler

import (
	"regexp"
	"time"

	"github.com/mhttpd/core/internal/fastcgi"
)

// AuthRealm maps a protected URI prefix to its Digest credentials
// (spec.md §6 "Auth: URI-prefix -> (realm, user, pass) mapping").
type AuthRealm struct {
	Prefix   string
	Realm    string
	Username string
	Password string
}

// RewriteRule is one entry of the configured rewrite rule list
// (spec.md §6 "Rewrite: rule list").
type RewriteRule struct {
	Match          *regexp.Regexp
	Exclude        *regexp.Regexp
	Replacement    string
	RequireFile    bool
	RequireDir     bool
	Strict         bool
	Last           bool
	RedirectStatus int // 0 means rewrite in place, no redirect
}

// SendFileRule whitelists one absolute path prefix X-SendFile may
// hand off to (spec.md §4.4 step 6, §6 "X-SendFile allow list").
type SendFileRule struct {
	Prefix string
}

// Config is the subset of the external configuration surface (spec.md
// §6) the built-in handler steps consume.
type Config struct {
	PublicDocroot  string
	PrivateDocroot string
	PrivatePrefix  string
	IndexFiles     []string

	Extensions map[string]bool // FastCGI-routed file suffixes, e.g. ".php"

	AuthRealms  []AuthRealm
	AdminRealm  AuthRealm
	AdminEnable bool

	RewriteRules []RewriteRule

	SendFileAllow []SendFileRule

	ServerSignature string
	LaunchedAt      time.Time

	NonceTTL time.Duration
}

// Pool is the seam dynamic.go uses to open a FastCGI session; it is
// satisfied by *workerpool.Manager through fastcgi.PoolConnector so
// this package never imports workerpool directly.
type Pool = fastcgi.PoolConnector
