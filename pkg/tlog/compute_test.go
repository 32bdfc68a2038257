package tlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkStat(times map[string]time.Time) StatFunc {
	return func(path string) time.Time {
		return times[path]
	}
}

func mustLoad(t *testing.T, tl *TrackingLog, content string) {
	t.Helper()
	dir := t.TempDir()
	p := writeLog(t, dir, "t.tlog", content)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))
}

var (
	tOld = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tNew = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
)

func TestComputeSourcesNeedingCompilationFreshSourceIsNotStale(t *testing.T) {
	s := NewIncrementalState(Shred)
	mustLoad(t, s.Reads, "^/src/a.cs\n/src/common.h\n")
	mustLoad(t, s.Writes, "^/src/a.cs\n/out/a.obj\n")

	stat := mkStat(map[string]time.Time{
		"/SRC/COMMON.H": tOld,
		"/OUT/A.OBJ":    tNew,
	})

	stale, reasons := s.ComputeSourcesNeedingCompilation([]string{"/src/a.cs"}, Options{Stat: stat})
	assert.Empty(t, stale)
	assert.Empty(t, reasons)
}

func TestComputeSourcesNeedingCompilationDependencyNewerThanOutput(t *testing.T) {
	s := NewIncrementalState(Shred)
	mustLoad(t, s.Reads, "^/src/a.cs\n/src/common.h\n")
	mustLoad(t, s.Writes, "^/src/a.cs\n/out/a.obj\n")

	stat := mkStat(map[string]time.Time{
		"/SRC/COMMON.H": tNew,
		"/OUT/A.OBJ":    tOld,
	})

	stale, reasons := s.ComputeSourcesNeedingCompilation([]string{"/src/a.cs"}, Options{Stat: stat})
	assert.Equal(t, []string{"/src/a.cs"}, stale)
	assert.Equal(t, StaleReasonDependencyNewer, reasons["/src/a.cs"])
}

func TestComputeSourcesNeedingCompilationUnknownSourceIsStale(t *testing.T) {
	s := NewIncrementalState(Shred)
	mustLoad(t, s.Reads, "^/src/a.cs\n/src/common.h\n")
	mustLoad(t, s.Writes, "^/src/a.cs\n/out/a.obj\n")

	stale, reasons := s.ComputeSourcesNeedingCompilation([]string{"/src/new.cs"}, Options{Stat: mkStat(nil)})
	assert.Equal(t, []string{"/src/new.cs"}, stale)
	assert.Equal(t, StaleReasonNoRoot, reasons["/src/new.cs"])
}

func TestComputeSourcesNeedingCompilationMissingOutputWithoutOptimizationFlagsWholeGroup(t *testing.T) {
	s := NewIncrementalState(Keep)
	mustLoad(t, s.Reads, "^/src/a.cs|/src/b.cs\n/src/common.h\n")
	mustLoad(t, s.Writes, "^/src/a.cs\n/out/a.obj\n")
	mustLoad(t, s.Writes, "^/src/b.cs\n/out/missing.obj\n")
	// /out/missing.obj is tracked but was never actually produced — absent
	// from the stat map, mkStat reports the zero Time for it.

	stat := mkStat(map[string]time.Time{
		"/SRC/COMMON.H": tOld,
		"/OUT/A.OBJ":    tNew,
	})

	stale, reasons := s.ComputeSourcesNeedingCompilation([]string{"/src/a.cs", "/src/b.cs"}, Options{Stat: stat})
	assert.ElementsMatch(t, []string{"/src/a.cs", "/src/b.cs"}, stale)
	assert.Equal(t, StaleReasonMissingOutput, reasons["/src/a.cs"])
	assert.Equal(t, StaleReasonMissingOutput, reasons["/src/b.cs"])
}

func TestComputeSourcesNeedingCompilationMinimalRebuildNarrowsToMissingMember(t *testing.T) {
	s := NewIncrementalState(Keep)
	mustLoad(t, s.Reads, "^/src/a.cs|/src/b.cs\n/src/common.h\n")
	mustLoad(t, s.Writes, "^/src/a.cs\n/out/a.obj\n")
	mustLoad(t, s.Writes, "^/src/b.cs\n/out/missing.obj\n")

	stat := mkStat(map[string]time.Time{
		"/SRC/COMMON.H": tOld,
		"/OUT/A.OBJ":    tNew,
	})

	stale, reasons := s.ComputeSourcesNeedingCompilation(
		[]string{"/src/a.cs", "/src/b.cs"},
		Options{Stat: stat, MinimalRebuildOptimization: true},
	)
	assert.Equal(t, []string{"/src/b.cs"}, stale)
	assert.Equal(t, StaleReasonMissingOutput, reasons["/src/b.cs"])
}

func TestComputeSourcesNeedingCompilationExcludedDirectorySkipsDependency(t *testing.T) {
	s := NewIncrementalState(Shred)
	mustLoad(t, s.Reads, "^/src/a.cs\n/vendor/generated.h\n")
	mustLoad(t, s.Writes, "^/src/a.cs\n/out/a.obj\n")

	stat := mkStat(map[string]time.Time{
		"/VENDOR/GENERATED.H": tNew,
		"/OUT/A.OBJ":          tOld,
	})

	stale, _ := s.ComputeSourcesNeedingCompilation([]string{"/src/a.cs"}, Options{
		Stat:                stat,
		ExcludedDirectories: []string{"/vendor"},
	})
	assert.Empty(t, stale)
}
