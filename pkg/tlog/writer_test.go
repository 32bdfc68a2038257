package tlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputsForSourceExactMatch(t *testing.T) {
	tl := New(Shred)
	mustLoad(t, tl, "^/src/a.cs\n/out/a.obj\n")

	outs := tl.OutputsForSource([]string{"/src/a.cs"}, false)
	assert.Equal(t, []string{"/OUT/A.OBJ"}, outs)
}

func TestOutputsForSourceSearchSubroots(t *testing.T) {
	tl := New(Keep)
	mustLoad(t, tl, "^/src/a.cs|/src/b.cs\n/out/lib.lib\n")

	none := tl.OutputsForSource([]string{"/src/a.cs", "/src/b.cs", "/src/c.cs"}, false)
	assert.Empty(t, none)

	outs := tl.OutputsForSource([]string{"/src/a.cs", "/src/b.cs", "/src/c.cs"}, true)
	assert.Equal(t, []string{"/OUT/LIB.LIB"}, outs)
}

func TestRemoveEntriesForDeletesSoleMember(t *testing.T) {
	tl := New(Shred)
	mustLoad(t, tl, "^/src/a.cs\n/out/a.obj\n")

	tl.RemoveEntriesFor("/src/a.cs")

	_, ok := tl.rootFor("/src/a.cs")
	assert.False(t, ok)
}

func TestRemoveEntriesForShrinksComposite(t *testing.T) {
	tl := New(Keep)
	mustLoad(t, tl, "^/src/a.cs|/src/b.cs\n/out/lib.lib\n")

	tl.RemoveEntriesFor("/src/a.cs")

	_, ok := tl.rootFor("/src/a.cs")
	assert.False(t, ok)
	rootB, ok := tl.rootFor("/src/b.cs")
	require.True(t, ok)
	assert.Equal(t, []string{"/SRC/B.CS"}, tl.roots[rootB].members)
}

func TestRemoveDependencyFromEntry(t *testing.T) {
	tl := New(Shred)
	mustLoad(t, tl, "^/src/a.cs\n/src/common.h\n/src/extra.h\n")

	tl.RemoveDependencyFromEntry("/src/a.cs", "/src/extra.h")

	root, ok := tl.rootFor("/src/a.cs")
	require.True(t, ok)
	assert.Equal(t, []string{"/SRC/COMMON.H"}, tl.roots[root].deps)
}

func TestRemoveRootsWithSharedOutputs(t *testing.T) {
	tl := New(Shred)
	mustLoad(t, tl, "^/src/a.cs\n/out/a.obj\n")
	mustLoad(t, tl, "^/src/stale.cs\n/out/a.obj\n")

	tl.RemoveRootsWithSharedOutputs([]string{"/src/a.cs"})

	_, ok := tl.rootFor("/src/stale.cs")
	assert.False(t, ok)
	_, ok = tl.rootFor("/src/a.cs")
	assert.True(t, ok)
}

func TestSavePreservesSourceFilesAndWritesCompactedTable(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "cl.read.1.tlog")
	require.NoError(t, os.WriteFile(logPath, []byte("^/src/a.cs\n/src/common.h\n"), 0o644))

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{logPath}, "/cwd"))

	outPath := filepath.Join(dir, "compacted.tlog")
	require.NoError(t, tl.Save(outPath, nil))

	// the original log file must still be there (§4.7 Save invariant)
	_, err := os.Stat(logPath)
	assert.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "^/SRC/A.CS\n")
	assert.Contains(t, string(data), "/SRC/COMMON.H\n")
}

func TestSaveAppliesPredicate(t *testing.T) {
	tl := New(Shred)
	mustLoad(t, tl, "^/src/a.cs\n/src/common.h\n/vendor/skip.h\n")

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.tlog")
	require.NoError(t, tl.Save(outPath, func(p string) bool {
		return p != "/VENDOR/SKIP.H"
	}))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SKIP.H")
	assert.Contains(t, string(data), "COMMON.H")
}
