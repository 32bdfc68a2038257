package tlog

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyMarker is returned for a "^" line with no path after it.
var ErrEmptyMarker = errors.New("tlog: rooting marker has no path")

// ErrInvalidUNCRoot is returned for a bare "\\" UNC root, which carries no
// host or share and is never a valid rooting marker.
var ErrInvalidUNCRoot = errors.New("tlog: bare UNC root is not a valid rooting marker")

// CanonicalizeRootMarker canonicalizes a raw "^" line's content into a
// stable RootMarker (§4.7.a). raw may list several paths joined by "|"
// (a composite root for many-to-one tools); each is made absolute against
// cwd, percent-decoded, and upper-cased, then the set is re-sorted
// lexicographically and re-joined — so composite identity never depends on
// the order a tool happened to write the paths in.
func CanonicalizeRootMarker(raw string, cwd string) (RootMarker, error) {
	parts := strings.Split(raw, "|")
	canon := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return "", ErrEmptyMarker
		}
		if p == `\\` {
			return "", ErrInvalidUNCRoot
		}
		decoded, err := url.PathUnescape(p)
		if err != nil {
			return "", fmt.Errorf("decoding rooting marker %q: %w", p, err)
		}
		canon = append(canon, canonicalizeSinglePath(decoded, cwd))
	}
	sort.Strings(canon)
	return RootMarker(strings.Join(canon, "|")), nil
}

// canonicalizeSinglePath makes p absolute against cwd (if it isn't
// already), aliases any process/thread-id suffix in its final path
// segment to "[ID]", and upper-cases the result component-wise. Used both
// for rooting markers and for the dependency/source paths compared
// against them, so the two sides always line up regardless of how each
// was spelled.
func canonicalizeSinglePath(p string, cwd string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	p = filepath.Clean(p)
	dir, base := filepath.Split(p)
	return strings.ToUpper(dir + CanonicalizeLogFileName(base))
}

// pidSegmentRe matches one whole dot-separated segment of the form
// "<digits>" or "<digits>-<tool>". CanonicalizeLogFileName only applies it
// to segments bounded by dots on both sides (a directory component earlier
// in a full path never reaches here — see canonicalizeSinglePath, which only
// hands CanonicalizeLogFileName the final path segment).
var pidSegmentRe = regexp.MustCompile(`^(\d+)(-[^.\\/]+)?$`)

// CanonicalizeLogFileName aliases every process-id or thread-id suffix in
// a tracking-log filename to a stable "[ID]" placeholder, so a tool's
// logs from different process instantiations (successive builds,
// parallel workers) refer to the same logical log rather than forking
// into separate ones (§4.7.a). A filename can carry more than one such
// segment (e.g. a PID in the tool-invocation segment and another right
// before the ".tlog" tail); every qualifying segment is substituted, not
// just the one nearest the tail.
func CanonicalizeLogFileName(name string) string {
	segs := strings.Split(name, ".")
	for i := 1; i < len(segs)-1; i++ {
		if m := pidSegmentRe.FindStringSubmatch(segs[i]); m != nil {
			segs[i] = "[ID]" + m[2]
		}
	}
	return strings.Join(segs, ".")
}
