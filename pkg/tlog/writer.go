package tlog

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
)

// OutputsForSource implements the writer-side mirror of rootFor (§4.7):
// if sources exactly matches a root's member set, that root's outputs are
// returned; if searchSubroots, outputs are additionally returned from any
// root all of whose members are contained in sources.
func (t *TrackingLog) OutputsForSource(sources []string, searchSubroots bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		want[canonicalizeSinglePath(s, t.cwd)] = struct{}{}
	}

	var out []string
	seen := map[string]struct{}{}
	for _, e := range t.roots {
		exact := sameSet(e.members, want)
		if !exact && !(searchSubroots && isSubsetOf(e.members, want)) {
			continue
		}
		for _, d := range e.deps {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// RemoveEntriesFor drops source from the table entirely: its whole root if
// it's the sole member, or just its membership if it shares a composite
// root with others (§4.7 writer-side operations).
func (t *TrackingLog) RemoveEntriesFor(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	canon := canonicalizeSinglePath(source, t.cwd)
	key, ok := t.memberOf[canon]
	if !ok {
		return
	}
	e := t.roots[key]
	if len(e.members) <= 1 {
		delete(t.roots, key)
		delete(t.memberOf, canon)
		return
	}
	remaining := make([]string, 0, len(e.members)-1)
	for _, m := range e.members {
		if m != canon {
			remaining = append(remaining, m)
		}
	}
	e.members = remaining
	delete(t.memberOf, canon)
}

// RemoveDependencyFromEntry drops one specific dependency path from
// source's entry, for targeted compaction before Save.
func (t *TrackingLog) RemoveDependencyFromEntry(source, dep string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.memberOf[canonicalizeSinglePath(source, t.cwd)]
	if !ok {
		return
	}
	e := t.roots[key]
	depCanon := canonicalizeSinglePath(dep, t.cwd)
	filtered := e.deps[:0]
	for _, d := range e.deps {
		if d != depCanon {
			filtered = append(filtered, d)
		}
	}
	e.deps = filtered
}

// RemoveRootsWithSharedOutputs removes any root whose outputs are a subset
// of the outputs just produced by sources, preventing stale duplicate
// output ownership (§4.7 writer-side operations). Call this on the
// outputs (write-log) TrackingLog after sources rebuild.
func (t *TrackingLog) RemoveRootsWithSharedOutputs(sources []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		want[canonicalizeSinglePath(s, t.cwd)] = struct{}{}
	}

	owned := map[string]struct{}{}
	for _, e := range t.roots {
		if sameSet(e.members, want) {
			for _, o := range e.deps {
				owned[o] = struct{}{}
			}
		}
	}

	for key, e := range t.roots {
		if sameSet(e.members, want) || len(e.deps) == 0 {
			continue
		}
		subset := true
		for _, o := range e.deps {
			if _, ok := owned[o]; !ok {
				subset = false
				break
			}
		}
		if subset {
			for _, m := range e.members {
				delete(t.memberOf, m)
			}
			delete(t.roots, key)
		}
	}
}

// Save writes the compacted table back to path, one "^root" line per root
// followed by its dependency paths that satisfy predicate (always-true if
// nil). The files originally Loaded into t are never touched by Save —
// callers must leave them in place, since their disappearance is read as
// "never tracked" and forces a clean rebuild (§4.7).
func (t *TrackingLog) Save(path string, predicate func(string) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if predicate == nil {
		predicate = func(string) bool { return true }
	}

	keys := make([]string, 0, len(t.roots))
	for k := range t.roots {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		e := t.roots[RootMarker(k)]
		fmt.Fprintf(&buf, "^%s\n", strings.Join(e.members, "|"))
		for _, d := range e.deps {
			if !predicate(d) {
				continue
			}
			buf.WriteString(d)
			buf.WriteByte('\n')
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func sameSet(members []string, want map[string]struct{}) bool {
	if len(members) != len(want) {
		return false
	}
	for _, m := range members {
		if _, ok := want[m]; !ok {
			return false
		}
	}
	return true
}

func isSubsetOf(members []string, want map[string]struct{}) bool {
	for _, m := range members {
		if _, ok := want[m]; !ok {
			return false
		}
	}
	return len(members) > 0
}
