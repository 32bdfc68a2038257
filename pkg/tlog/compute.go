package tlog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/buildgraph/pkg/metrics"
)

// StaleReason classifies why ComputeSourcesNeedingCompilation flagged a
// source, surfaced for logging/metrics (§4.0 ambient metrics).
type StaleReason int

const (
	// StaleReasonNoRoot means the source has never been tracked at all.
	StaleReasonNoRoot StaleReason = iota
	// StaleReasonMissingOutput means the source (or its group) has no
	// recorded output, or one of its outputs no longer exists.
	StaleReasonMissingOutput
	// StaleReasonDependencyNewer means a tracked dependency's last-write
	// time is newer than the source's earliest output.
	StaleReasonDependencyNewer
)

func (r StaleReason) String() string {
	switch r {
	case StaleReasonNoRoot:
		return "no-root"
	case StaleReasonMissingOutput:
		return "missing-output"
	case StaleReasonDependencyNewer:
		return "dependency-newer"
	default:
		return "unknown"
	}
}

// Options tunes ComputeSourcesNeedingCompilation.
type Options struct {
	// ExcludedDirectories lists directories whose dependencies are never
	// considered for staleness, even if they're newer than the output.
	ExcludedDirectories []string
	// MinimalRebuildOptimization, when true, narrows a composite group's
	// missing-output staleness down to only the sources with their own
	// individually-tracked output missing (§4.7 bullet 3). It never
	// narrows dependency-timestamp staleness, which is inherently shared
	// by every member of a composite root.
	MinimalRebuildOptimization bool
	// Stat resolves last-write-time; DefaultStat if nil.
	Stat StatFunc
}

// IncrementalState pairs a tool's read-log (source → dependencies) and
// write-log (source → outputs) and implements the out-of-date computation
// that spans both (§4.7).
type IncrementalState struct {
	Reads  *TrackingLog
	Writes *TrackingLog
}

// NewIncrementalState creates an IncrementalState with both logs sharing
// the given composite mode.
func NewIncrementalState(mode CompositeMode) *IncrementalState {
	return &IncrementalState{Reads: New(mode), Writes: New(mode)}
}

type groupStatus struct {
	outputMissing bool
	depStale      bool
}

// ComputeSourcesNeedingCompilation returns the subset of sources that must
// be rebuilt, per §4.7's algorithm, and the reason each was flagged.
func (s *IncrementalState) ComputeSourcesNeedingCompilation(sources []string, opts Options) ([]string, map[string]StaleReason) {
	stat := opts.Stat
	if stat == nil {
		stat = DefaultStat
	}
	excluded := make([]string, len(opts.ExcludedDirectories))
	for i, d := range opts.ExcludedDirectories {
		excluded[i] = canonicalizeSinglePath(d, s.Reads.cwd)
	}

	groupCache := make(map[RootMarker]groupStatus)
	stale := make([]string, 0, len(sources))
	reasons := make(map[string]StaleReason, len(sources))

	mark := func(source string, reason StaleReason) {
		stale = append(stale, source)
		reasons[source] = reason
		metrics.TlogSourcesStaleTotal.WithLabelValues(reason.String()).Inc()
	}

	for _, source := range sources {
		root, ok := s.Reads.rootFor(source)
		if !ok {
			mark(source, StaleReasonNoRoot)
			continue
		}

		gs, cached := groupCache[root]
		if !cached {
			gs = s.evaluateGroup(root, excluded, stat)
			groupCache[root] = gs
		}

		switch {
		case gs.depStale:
			mark(source, StaleReasonDependencyNewer)
		case gs.outputMissing:
			if !opts.MinimalRebuildOptimization {
				mark(source, StaleReasonMissingOutput)
				continue
			}
			canon := canonicalizeSinglePath(source, s.Reads.cwd)
			outs, ok := s.ownOutputs(canon)
			if !ok {
				outs = s.groupOutputs(root)
			}
			if _, missing := outputsStatus(outs, stat); missing {
				mark(source, StaleReasonMissingOutput)
			}
		}
	}
	return stale, reasons
}

// groupOutputs merges the outputs recorded for every member of a read
// root, tolerating the write-log grouping its own roots differently.
func (s *IncrementalState) groupOutputs(root RootMarker) []string {
	readRoot, ok := s.Reads.roots[root]
	if !ok {
		return nil
	}
	var outs []string
	seen := map[string]struct{}{}
	for _, member := range readRoot.members {
		wroot, ok := s.Writes.rootFor(member)
		if !ok {
			continue
		}
		for _, o := range s.Writes.roots[wroot].deps {
			if _, dup := seen[o]; dup {
				continue
			}
			seen[o] = struct{}{}
			outs = append(outs, o)
		}
	}
	return outs
}

// ownOutputs returns source's individually-tracked outputs, if the
// write-log (or an explicit AddComputedOutputForSourceRoot call) can tell
// them apart from the rest of its composite read group (§4.7 bullet 3).
// The second return is false when only a shared, undifferentiated output
// set is available, so the caller must fall back to the whole group.
func (s *IncrementalState) ownOutputs(source string) ([]string, bool) {
	if outs, ok := s.Writes.override(source); ok {
		return outs, true
	}
	wroot, ok := s.Writes.rootFor(source)
	if !ok {
		return nil, false
	}
	wentry := s.Writes.roots[wroot]
	if len(wentry.members) != 1 {
		return nil, false
	}
	return wentry.deps, true
}

func (s *IncrementalState) evaluateGroup(root RootMarker, excluded []string, stat StatFunc) groupStatus {
	readRoot := s.Reads.roots[root]
	outs := s.groupOutputs(root)

	tOut, missing := outputsStatus(outs, stat)
	if missing {
		return groupStatus{outputMissing: true}
	}

	depStale := false
	for _, d := range readRoot.deps {
		if isExcluded(d, excluded) {
			continue
		}
		if s.Reads.stat(d, stat).After(tOut) {
			depStale = true
			break
		}
	}
	return groupStatus{depStale: depStale}
}

// outputsStatus reports the earliest last-write-time among outs and
// whether any of them is missing, or outs is empty (§4.7 bullet 2: "if any
// output is missing or the task has no outputs at all").
func outputsStatus(outs []string, stat StatFunc) (earliest time.Time, missing bool) {
	if len(outs) == 0 {
		return time.Time{}, true
	}
	for i, o := range outs {
		t := stat(o)
		if t.IsZero() {
			missing = true
		}
		if i == 0 || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest, missing
}

func isExcluded(path string, excludedDirs []string) bool {
	for _, dir := range excludedDirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
