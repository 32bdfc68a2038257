package config

import (
	"os"
	"strconv"
	"time"

	blog "github.com/cuemby/buildgraph/pkg/log"
)

// Config holds every environment-derived setting buildgraph reads at
// startup (spec.md §6 plus the ambient BUILDGRAPH_* knobs).
type Config struct {
	// NodeConnectTimeout overrides the endpoint's default 900s connect
	// wait (NODECONNECTIONTIMEOUT).
	NodeConnectTimeout time.Duration

	// DebugComm mirrors DEBUGCOMM=1. It is loaded here only: no package
	// in this module reads it, and no framing or handshake trace logging
	// is produced.
	DebugComm bool
	// DebugPath mirrors DEBUGPATH (default os.TempDir()). It is loaded
	// here only: no package in this module reads it or writes files under it.
	DebugPath string

	// UseSymlinkTimestamp selects SymlinkStat over DefaultStat in the
	// tracking-log engine (USESYMLINKTIMESTAMP=1).
	UseSymlinkTimestamp bool

	// ClearXMLCacheOnBuildManager mirrors CLEARXMLCACHEONBUILDMANAGER=1.
	// Named for the environment variable it mirrors; buildgraph has no XML
	// evaluator of its own, so buildctl passes it to BeginBuild as
	// resetCaches, which replaces the config and results caches with
	// empty ones when the build starts.
	ClearXMLCacheOnBuildManager bool

	// LogLevel and LogJSON configure the package-level logger
	// (BUILDGRAPH_LOG_LEVEL, BUILDGRAPH_LOG_JSON).
	LogLevel blog.Level
	LogJSON  bool

	// MetricsAddr, if non-empty, serves /metrics and /health on this
	// address (BUILDGRAPH_METRICS_ADDR).
	MetricsAddr string
}

const defaultNodeConnectTimeout = 900 * time.Second

// Load reads the recognized environment variables into a Config, applying
// the same defaults the rest of the module falls back to when a Config
// field is left zero. Called once at process startup; nothing here is
// cached, so repeated calls simply re-read the environment.
func Load() Config {
	cfg := Config{
		NodeConnectTimeout: defaultNodeConnectTimeout,
		DebugPath:          os.TempDir(),
		LogLevel:           blog.InfoLevel,
	}

	if v := os.Getenv("NODECONNECTIONTIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.NodeConnectTimeout = time.Duration(secs) * time.Second
		}
	}

	cfg.DebugComm = envFlag("DEBUGCOMM")
	if v := os.Getenv("DEBUGPATH"); v != "" {
		cfg.DebugPath = v
	}

	cfg.UseSymlinkTimestamp = envFlag("USESYMLINKTIMESTAMP")
	cfg.ClearXMLCacheOnBuildManager = envFlag("CLEARXMLCACHEONBUILDMANAGER")

	if v := os.Getenv("BUILDGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = blog.Level(v)
	}
	cfg.LogJSON = envFlag("BUILDGRAPH_LOG_JSON")
	cfg.MetricsAddr = os.Getenv("BUILDGRAPH_METRICS_ADDR")

	return cfg
}

// envFlag reports whether the named variable is set to "1", the on-switch
// convention every boolean env var in spec.md §6 uses.
func envFlag(name string) bool {
	return os.Getenv(name) == "1"
}
