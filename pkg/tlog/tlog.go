package tlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	blog "github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/metrics"
)

// CompositeMode selects how a multi-path rooting marker is stored.
type CompositeMode int

const (
	// Shred splits a composite root into independent single-source roots,
	// each carrying its own copy of the dependency list. Default for
	// compiler-like tools (one source in, one set of outputs per source).
	Shred CompositeMode = iota
	// Keep retains a composite root as a single key; any member resolves
	// to the whole group. For linker/archiver-like tools with many-to-one
	// I/O, where per-source attribution doesn't exist.
	Keep
)

func (m CompositeMode) String() string {
	switch m {
	case Shred:
		return "shred"
	case Keep:
		return "keep"
	default:
		return "unknown"
	}
}

// RootMarker is a canonicalized rooting key: one or more absolute,
// upper-cased paths joined by "|" in sorted order.
type RootMarker string

// StatFunc resolves a path's last-write-time. A missing path must return
// the zero Time, which compares as "earlier than everything" (§4.7, "missing
// files are entered with time = minimum").
type StatFunc func(path string) time.Time

// DefaultStat follows symlinks, matching the common case.
func DefaultStat(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// SymlinkStat reports the symlink's own mtime rather than its target's,
// selected when USESYMLINKTIMESTAMP=1 (§6).
func SymlinkStat(path string) time.Time {
	fi, err := os.Lstat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// ErrMalformedLog is returned (wrapped) when a tracking log's content
// violates the parsing rules of §4.7: a blank line, an empty rooting
// marker, or a dependency path before any marker. The whole file is
// discarded on this error — none of its roots are committed.
var ErrMalformedLog = errors.New("tlog: malformed tracking log")

type entry struct {
	members []string
	deps    []string
}

// TrackingLog is the in-memory dependency table for one role (reads or
// writes) of one or more tool invocations. Safe for concurrent use.
type TrackingLog struct {
	mode CompositeMode

	mu          sync.Mutex
	cwd         string
	roots       map[RootMarker]*entry
	memberOf    map[string]RootMarker
	overrides   map[string][]string
	sourceFiles []string
	statCache   map[string]time.Time
}

// New creates an empty tracking log in the given composite mode.
func New(mode CompositeMode) *TrackingLog {
	return &TrackingLog{
		mode:      mode,
		roots:     make(map[RootMarker]*entry),
		memberOf:  make(map[string]RootMarker),
		overrides: make(map[string][]string),
		statCache: make(map[string]time.Time),
	}
}

var reservedNameChars = regexp.MustCompile(`[<>"|?*\x00-\x1f]`)

func validFilename(path string) bool {
	return !reservedNameChars.MatchString(filepath.Base(path))
}

// Load parses one or more persisted tracking-log files into t, merging
// their roots. cwd makes relative rooting markers absolute; pass "" to use
// the process's working directory. A log whose filename has reserved
// characters, or whose content violates the parsing rules, is discarded
// with a warning (its roots never enter the table) rather than failing the
// whole Load — consistent with §4.7 treating these as warning-class,
// per-file errors.
func (t *TrackingLog) Load(paths []string, cwd string) error {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("tlog: resolving working directory: %w", err)
		}
		cwd = wd
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cwd = cwd

	for _, p := range paths {
		if !validFilename(p) {
			t.warn(p, nil, "tracking log filename has reserved characters, discarding")
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("tlog: reading %s: %w", p, err)
		}
		lines, err := decodeLines(data)
		if err != nil {
			t.warn(p, err, "tracking log has invalid text encoding, discarding")
			continue
		}
		sections, err := t.parseLines(lines)
		if err != nil {
			t.warn(p, err, "tracking log malformed, discarding")
			continue
		}
		for _, sec := range sections {
			t.addRoot(sec.marker, sec.deps)
		}
		t.sourceFiles = append(t.sourceFiles, p)
	}
	return nil
}

func (t *TrackingLog) warn(path string, err error, msg string) {
	metrics.TlogParseWarningsTotal.Inc()
	ev := blog.WithComponent("tlog").Warn().
		Str("path", path).
		Str("aliased_name", CanonicalizeLogFileName(filepath.Base(path)))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// SourceFiles returns the log file paths successfully folded into t,
// in Load order. Callers that Save a compacted table back must leave these
// files in place — their absence is read as "never tracked" and forces a
// clean rebuild (§4.7, writer-side Save invariant).
func (t *TrackingLog) SourceFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sourceFiles...)
}

type pendingSection struct {
	marker RootMarker
	deps   []string
}

func (t *TrackingLog) parseLines(lines []string) ([]pendingSection, error) {
	var sections []pendingSection
	var cur *pendingSection

	for i, line := range lines {
		switch {
		case line == "":
			return nil, fmt.Errorf("blank line at %d: %w", i+1, ErrMalformedLog)
		case strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "^"):
			raw := strings.TrimPrefix(line, "^")
			marker, err := CanonicalizeRootMarker(raw, t.cwd)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w: %w", i+1, err, ErrMalformedLog)
			}
			sections = append(sections, pendingSection{marker: marker})
			cur = &sections[len(sections)-1]
		default:
			if cur == nil {
				return nil, fmt.Errorf("dependency path before any rooting marker at line %d: %w", i+1, ErrMalformedLog)
			}
			cur.deps = appendUnique(cur.deps, canonicalizeSinglePath(line, t.cwd))
		}
	}
	return sections, nil
}

// addRoot commits one parsed section, shredding or keeping it per mode.
func (t *TrackingLog) addRoot(marker RootMarker, deps []string) {
	parts := strings.Split(string(marker), "|")
	if t.mode == Shred {
		for _, p := range parts {
			t.setEntry(RootMarker(p), []string{p}, deps)
		}
		return
	}
	t.setEntry(marker, parts, deps)
}

func (t *TrackingLog) setEntry(key RootMarker, members []string, deps []string) {
	e, ok := t.roots[key]
	if !ok {
		e = &entry{members: append([]string(nil), members...)}
		t.roots[key] = e
	}
	e.deps = append(e.deps, deps...)
	for _, m := range members {
		t.memberOf[m] = key
	}
}

// rootFor resolves the canonicalized source to the root key that owns it.
func (t *TrackingLog) rootFor(source string) (RootMarker, bool) {
	canon := canonicalizeSinglePath(source, t.cwd)
	key, ok := t.memberOf[canon]
	return key, ok
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func decodeLines(data []byte) ([]string, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	if text == "" {
		return nil, nil
	}
	raw := strings.Split(text, "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}

// decodeText tolerates a UTF-8 or UTF-16 BOM (reader tolerates BOM, writer
// omits it, §6); text with no BOM is assumed UTF-8.
func decodeText(data []byte) (string, error) {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), nil
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		return decodeUTF16(data[2:], binary.LittleEndian)
	case len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF:
		return decodeUTF16(data[2:], binary.BigEndian)
	default:
		return string(data), nil
	}
}

func decodeUTF16(b []byte, order binary.ByteOrder) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("tlog: odd-length UTF-16 payload")
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = order.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), nil
}

// InvalidateCache drops every memoized last-write-time. Call this whenever
// a log file's own mtime changes underneath a long-lived TrackingLog (§5) —
// tool invocations within one process otherwise share the cache read-mostly.
func (t *TrackingLog) InvalidateCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statCache = make(map[string]time.Time)
}

func (t *TrackingLog) stat(path string, fn StatFunc) time.Time {
	t.mu.Lock()
	if ts, ok := t.statCache[path]; ok {
		t.mu.Unlock()
		return ts
	}
	t.mu.Unlock()

	ts := fn(path)

	t.mu.Lock()
	t.statCache[path] = ts
	t.mu.Unlock()
	return ts
}

// AddComputedOutputForSourceRoot records an explicit per-source output
// mapping, overriding the composite root's merged output set for the
// minimal-rebuild optimization (§4.7 bullet 3). Called on the outputs
// (write-log) TrackingLog, typically supplied by the tool's own write-log
// or an explicit per-output-to-source map the caller already has.
func (t *TrackingLog) AddComputedOutputForSourceRoot(source, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	canon := canonicalizeSinglePath(source, t.cwd)
	t.overrides[canon] = appendUnique(t.overrides[canon], canonicalizeSinglePath(output, t.cwd))
}

func (t *TrackingLog) override(source string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	outs, ok := t.overrides[source]
	return outs, ok
}
