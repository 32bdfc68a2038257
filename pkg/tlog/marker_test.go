package tlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeRootMarkerAbsolutizesAndUppercases(t *testing.T) {
	got, err := CanonicalizeRootMarker("src/a.cs", "/home/build")
	require.NoError(t, err)
	assert.Equal(t, RootMarker("/HOME/BUILD/SRC/A.CS"), got)
}

func TestCanonicalizeRootMarkerDecodesPercentEncoding(t *testing.T) {
	got, err := CanonicalizeRootMarker("/src/a%20b.cs", "/cwd")
	require.NoError(t, err)
	assert.Equal(t, RootMarker("/SRC/A B.CS"), got)
}

func TestCanonicalizeRootMarkerSortsCompositeMembers(t *testing.T) {
	got, err := CanonicalizeRootMarker("/src/b.cs|/src/a.cs", "/cwd")
	require.NoError(t, err)
	assert.Equal(t, RootMarker("/SRC/A.CS|/SRC/B.CS"), got)
}

func TestCanonicalizeRootMarkerRejectsEmpty(t *testing.T) {
	_, err := CanonicalizeRootMarker("", "/cwd")
	assert.ErrorIs(t, err, ErrEmptyMarker)
}

func TestCanonicalizeRootMarkerRejectsBareUNCRoot(t *testing.T) {
	_, err := CanonicalizeRootMarker(`\\`, "/cwd")
	assert.ErrorIs(t, err, ErrInvalidUNCRoot)
}

func TestCanonicalizeLogFileNameAliasesProcessID(t *testing.T) {
	assert.Equal(t, "CL.read.[ID].tlog", CanonicalizeLogFileName("CL.read.1234.tlog"))
	assert.Equal(t, "CL.write.[ID]-cl.tlog", CanonicalizeLogFileName("CL.write.1234-cl.tlog"))
}

func TestCanonicalizeLogFileNameAliasesEveryQualifyingSegment(t *testing.T) {
	// A filename can carry more than one numeric segment; every one that
	// is itself bounded by dots qualifies, not just the one nearest the
	// ".tlog" tail (spec.md §8 scenario 5).
	assert.Equal(t, "a.[ID].b.tlog", CanonicalizeLogFileName("a.1234.b.tlog"))
	assert.Equal(t, "CL.tlog", CanonicalizeLogFileName("CL.tlog"))
}

func TestCanonicalizeRootMarkerLeavesDirectorySegmentsAlone(t *testing.T) {
	// A numeric-looking directory component earlier in the path is never
	// touched — only the final path segment (the filename) is scanned for
	// qualifying dotted segments.
	got, err := CanonicalizeRootMarker("a.1234.b/foo.read.8.tlog", "/cwd")
	require.NoError(t, err)
	assert.Equal(t, RootMarker("/CWD/A.1234.B/FOO.READ.[ID].TLOG"), got)
}

func TestCanonicalizeRootMarkerMatchesSpecUNCShareExample(t *testing.T) {
	// spec.md §8: format("\\share\foo.read.8.tlog") ends with
	// "FOO.READ.[ID].TLOG".
	got, err := CanonicalizeRootMarker(`\\share\foo.read.8.tlog`, "/cwd")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(got), `FOO.READ.[ID].TLOG`), "got %q", got)
}

func TestCanonicalizeRootMarkerMatchesSpecScenario5(t *testing.T) {
	// spec.md §8 scenario 5: Debug\link.9999-cvtres.write.1.tlog and
	// Debug\link.0000-cvtres.read.1.tlog both normalize to
	// …\DEBUG\LINK.[ID]-CVTRES.{WRITE|READ}.[ID].TLOG — two substitutions
	// in the same filename, not just the segment nearest ".tlog".
	write, err := CanonicalizeRootMarker(`Debug\link.9999-cvtres.write.1.tlog`, "/cwd")
	require.NoError(t, err)
	read, err := CanonicalizeRootMarker(`Debug\link.0000-cvtres.read.1.tlog`, "/cwd")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(string(write), `DEBUG\LINK.[ID]-CVTRES.WRITE.[ID].TLOG`), "got %q", write)
	assert.True(t, strings.HasSuffix(string(read), `DEBUG\LINK.[ID]-CVTRES.READ.[ID].TLOG`), "got %q", read)
}
