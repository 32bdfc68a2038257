package tlog

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadParsesSimpleShredLog(t *testing.T) {
	dir := t.TempDir()
	p := writeLog(t, dir, "cl.read.1.tlog", "#Command line\n^/src/a.cs\n/src/a.h\n/src/common.h\n")

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))

	root, ok := tl.rootFor("/src/a.cs")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"/SRC/A.H", "/SRC/COMMON.H"}, tl.roots[root].deps)
}

func TestLoadShredsCompositeRootAcrossMembers(t *testing.T) {
	dir := t.TempDir()
	p := writeLog(t, dir, "cl.read.1.tlog", "^/src/a.cs|/src/b.cs\n/src/common.h\n")

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))

	rootA, ok := tl.rootFor("/src/a.cs")
	require.True(t, ok)
	rootB, ok := tl.rootFor("/src/b.cs")
	require.True(t, ok)
	assert.NotEqual(t, rootA, rootB)
	assert.Equal(t, []string{"/SRC/COMMON.H"}, tl.roots[rootA].deps)
	assert.Equal(t, []string{"/SRC/COMMON.H"}, tl.roots[rootB].deps)
}

func TestLoadKeepsCompositeRootAsOneKey(t *testing.T) {
	dir := t.TempDir()
	p := writeLog(t, dir, "lib.write.1.tlog", "^/obj/a.obj|/obj/b.obj\n/out/lib.lib\n")

	tl := New(Keep)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))

	rootA, ok := tl.rootFor("/obj/a.obj")
	require.True(t, ok)
	rootB, ok := tl.rootFor("/obj/b.obj")
	require.True(t, ok)
	assert.Equal(t, rootA, rootB)
	assert.Equal(t, []string{"/OUT/LIB.LIB"}, tl.roots[rootA].deps)
}

func TestLoadDiscardsLogWithBlankLine(t *testing.T) {
	dir := t.TempDir()
	p := writeLog(t, dir, "cl.read.1.tlog", "^/src/a.cs\n\n/src/common.h\n")

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))

	_, ok := tl.rootFor("/src/a.cs")
	assert.False(t, ok)
	assert.Empty(t, tl.SourceFiles())
}

func TestLoadDiscardsLogWithEmptyMarker(t *testing.T) {
	dir := t.TempDir()
	p := writeLog(t, dir, "cl.read.1.tlog", "^\n/src/common.h\n")

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))
	assert.Empty(t, tl.SourceFiles())
}

func TestLoadDiscardsReservedFilename(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "cl|read.tlog")
	require.NoError(t, os.WriteFile(bad, []byte("^/src/a.cs\n/src/common.h\n"), 0o644))

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{bad}, "/cwd"))
	assert.Empty(t, tl.SourceFiles())
}

func TestLoadDecodesUTF16LittleEndianWithBOM(t *testing.T) {
	dir := t.TempDir()
	content := "^/src/a.cs\n/src/common.h\n"
	u16 := utf16.Encode([]rune(content))
	raw := []byte{0xFF, 0xFE}
	for _, u := range u16 {
		raw = append(raw, byte(u), byte(u>>8))
	}
	p := filepath.Join(dir, "cl.read.1.tlog")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{p}, "/cwd"))

	_, ok := tl.rootFor("/src/a.cs")
	assert.True(t, ok)
}

func TestLoadKeepsPriorRootsWhenALaterFileIsMalformed(t *testing.T) {
	dir := t.TempDir()
	good := writeLog(t, dir, "cl.read.1.tlog", "^/src/a.cs\n/src/common.h\n")
	bad := writeLog(t, dir, "cl.read.2.tlog", "^/src/b.cs\n\n")

	tl := New(Shred)
	require.NoError(t, tl.Load([]string{good, bad}, "/cwd"))

	_, ok := tl.rootFor("/src/a.cs")
	assert.True(t, ok)
	_, ok = tl.rootFor("/src/b.cs")
	assert.False(t, ok)
	assert.Equal(t, []string{good}, tl.SourceFiles())
}
