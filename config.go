package core

import (
	"os"
	"regexp"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/mhttpd/core/internal/handler"
	"github.com/mhttpd/core/internal/workerpool"
)

// Logger is the diagnostic logging seam used throughout the server,
// satisfied by a *logrus.Logger in cmd/mhttpd and by the workerpool
// and transport packages' own narrower Logger interfaces.
type Logger interface {
	Printf(format string, args ...interface{})
}

// ServerConfig holds the listener-facing settings (spec.md §6 "Server").
type ServerConfig struct {
	Address              string        `json:"address"`
	Port                 int           `json:"port"`
	MaxClients           int           `json:"max_clients"`
	QueueBacklog         int           `json:"queue_backlog"`
	KeepAliveTimeout     time.Duration `json:"keep_alive_timeout"`
	KeepAliveMaxRequests int           `json:"keep_alive_max_requests"`
	IndexFiles           []string      `json:"index_files"`

	// ShutdownSignals lists the OS signals that trigger a graceful
	// shutdown, generalizing atreugo's Config.GracefulShutdownSignals
	// (spec.md §7 "Shutdown signal"). Defaults to SIGINT and SIGTERM
	// when empty -- see (*Config).ShutdownSignals.
	ShutdownSignals []string `json:"shutdown_signals"`
}

// TLSConfig holds the optional TLS settings (spec.md §6 "TLS").
type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	Passphrase string
}

// FastCGIConfig holds the Worker Pool Manager settings (spec.md §6
// "FastCGI").
type FastCGIConfig struct {
	CommandPath   string
	CommandArgs   []string
	Binds         []string
	MinProcesses  int
	MaxProcesses  int
	MaxRequests   int
	MaxClients    int
	CullTimeLimit time.Duration // minutes, per spec.md §6; stored already converted to a Duration
	Extensions    []string
	AllowFrom     []string
}

// AuthConfigEntry maps a URI prefix to a Digest realm and credential
// (spec.md §6 "Auth").
type AuthConfigEntry struct {
	Prefix   string
	Realm    string
	Username string
	Password string
}

// RewriteRuleConfig is the raw, string-regex form of a rewrite rule
// before compilation (spec.md §6 "Rewrite").
type RewriteRuleConfig struct {
	Match          string
	Exclude        string
	Replacement    string
	RequireFile    bool
	RequireDir     bool
	Strict         bool
	Last           bool
	RedirectStatus int
}

// PathsConfig holds the filesystem surface (spec.md §6 "Paths").
type PathsConfig struct {
	PublicDocroot   string
	PrivateDocroot  string
	PrivatePrefix   string
	LogDir          string
	TempDir         string
	SendFileAllow   []string
}

// Config is the full, validated configuration surface the core
// consumes (spec.md §6 "Configuration surface").
type Config struct {
	Server  ServerConfig
	TLS     TLSConfig
	FastCGI FastCGIConfig
	Handlers []string
	AdminRealm AuthConfigEntry
	AdminEnable bool
	AuthRealms []AuthConfigEntry
	Rewrite []RewriteRuleConfig
	Paths   PathsConfig
	Debug   bool

	Logger Logger
}

// FromMap decodes a generic configuration map (e.g. parsed from JSON
// or YAML) into a Config using mapstructure, matching the teacher's
// pattern of accepting loosely-typed configuration input.
func FromMap(m map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// handlerConfig translates Config into the internal/handler.Config
// every built-in Step shares.
func (c *Config) handlerConfig() (*handler.Config, error) {
	extensions := make(map[string]bool, len(c.FastCGI.Extensions))
	for _, ext := range c.FastCGI.Extensions {
		extensions[ext] = true
	}

	authRealms := make([]handler.AuthRealm, 0, len(c.AuthRealms))
	for _, a := range c.AuthRealms {
		authRealms = append(authRealms, handler.AuthRealm{
			Prefix:   a.Prefix,
			Realm:    a.Realm,
			Username: a.Username,
			Password: a.Password,
		})
	}

	rules := make([]handler.RewriteRule, 0, len(c.Rewrite))
	for _, r := range c.Rewrite {
		matchRe, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, err
		}
		var excludeRe *regexp.Regexp
		if r.Exclude != "" {
			excludeRe, err = regexp.Compile(r.Exclude)
			if err != nil {
				return nil, err
			}
		}
		rules = append(rules, handler.RewriteRule{
			Match:          matchRe,
			Exclude:        excludeRe,
			Replacement:    r.Replacement,
			RequireFile:    r.RequireFile,
			RequireDir:     r.RequireDir,
			Strict:         r.Strict,
			Last:           r.Last,
			RedirectStatus: r.RedirectStatus,
		})
	}

	sendFile := make([]handler.SendFileRule, 0, len(c.Paths.SendFileAllow))
	for _, prefix := range c.Paths.SendFileAllow {
		sendFile = append(sendFile, handler.SendFileRule{Prefix: prefix})
	}

	return &handler.Config{
		PublicDocroot:   c.Paths.PublicDocroot,
		PrivateDocroot:  c.Paths.PrivateDocroot,
		PrivatePrefix:   c.Paths.PrivatePrefix,
		IndexFiles:      c.Server.IndexFiles,
		Extensions:      extensions,
		AuthRealms:      authRealms,
		AdminRealm: handler.AuthRealm{
			Prefix:   "/server-",
			Realm:    c.AdminRealm.Realm,
			Username: c.AdminRealm.Username,
			Password: c.AdminRealm.Password,
		},
		AdminEnable:     c.AdminEnable,
		RewriteRules:    rules,
		SendFileAllow:   sendFile,
		ServerSignature: "mhttpd",
		LaunchedAt:      time.Now(),
		NonceTTL:        5 * time.Minute,
	}, nil
}

// poolConfig translates Config into the internal/workerpool.Config the
// Manager consumes.
func (c *Config) poolConfig() workerpool.Config {
	return workerpool.Config{
		CommandPath:   c.FastCGI.CommandPath,
		CommandArgs:   c.FastCGI.CommandArgs,
		Binds:         c.FastCGI.Binds,
		MinProcesses:  c.FastCGI.MinProcesses,
		MaxProcesses:  c.FastCGI.MaxProcesses,
		MaxRequests:   c.FastCGI.MaxRequests,
		MaxClients:    c.FastCGI.MaxClients,
		CullTimeLimit: c.FastCGI.CullTimeLimit,
		DialTimeout:   2 * time.Second,
	}
}

var namedSignals = map[string]os.Signal{
	"SIGINT":  os.Interrupt,
	"SIGTERM": syscall.SIGTERM,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
}

// ShutdownSignals resolves Server.ShutdownSignals to os.Signal values,
// defaulting to SIGINT and SIGTERM when the list is empty (spec.md §7
// "Shutdown signal"). Unrecognized names are skipped rather than
// rejected, since the configured set is meant to be additive.
func (c *Config) ShutdownSignals() []os.Signal {
	if len(c.Server.ShutdownSignals) == 0 {
		return []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	out := make([]os.Signal, 0, len(c.Server.ShutdownSignals))
	for _, name := range c.Server.ShutdownSignals {
		if sig, ok := namedSignals[name]; ok {
			out = append(out, sig)
		}
	}
	if len(out) == 0 {
		return []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return out
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}
