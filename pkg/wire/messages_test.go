package wire

import (
	"encoding/binary"
	"testing"

	"github.com/cuemby/buildgraph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBlockerRoundTrip(t *testing.T) {
	want := RequestBlocker{
		SubmissionID: 7,
		RequestID:    42,
		ConfigID:     3,
		ParentID:     0,
		Targets:      []string{"Build", "Clean"},
	}
	got, err := DecodeRequestBlocker(want.Encode())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRequestConfigRoundTripWithProperties(t *testing.T) {
	want := RequestConfig{
		RequestingNodeID: 2,
		ProjectPath:      `C:\proj\a.csproj`,
		ToolsVersion:     "Current",
		GlobalProperties: map[string]string{"Configuration": "Debug", "Platform": "x64"},
		ExplicitlyLoaded: true,
	}
	got, err := DecodeRequestConfig(want.Encode())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRequestConfigResponseRoundTrip(t *testing.T) {
	want := RequestConfigResponse{
		ConfigID:         5,
		OwningNodeID:     2,
		ProjectPath:      `C:\proj\a.csproj`,
		ToolsVersion:     "Current",
		GlobalProperties: map[string]string{"Configuration": "Debug"},
		DefaultTargets:   []string{"Build"},
		InitialTargets:   []string{"Build"},
	}
	got, err := DecodeRequestConfigResponse(want.Encode())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResultRoundTrip(t *testing.T) {
	want := Result{
		SubmissionID:   1,
		RequestID:      2,
		ConfigID:       5,
		Outcome:        types.OutcomeOK,
		DefaultTargets: []string{"Build"},
		InitialTargets: []string{"Build"},
		TargetNames:    []string{"Build", "Pack"},
		TargetOutcomes: []types.Outcome{types.OutcomeOK, types.OutcomeProjectInvalid},
		ErrMessage:     "",
	}
	got, err := DecodeResult(want.Encode())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNodeShutdownRoundTrip(t *testing.T) {
	want := NodeShutdown{Reason: ShutdownConnectionFailed}
	got, err := DecodeNodeShutdown(want.Encode())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeRejectsMismatchedKind(t *testing.T) {
	p := RequestBlocker{SubmissionID: 1}.Encode()
	_, err := DecodeResult(p)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	p := Result{SubmissionID: 1, TargetOutcomes: []types.Outcome{types.OutcomeOK}}.Encode()
	p.Payload = p.Payload[:len(p.Payload)-1]
	_, err := DecodeResult(p)
	assert.Error(t, err)
}

// TestDecodeRejectsOversizedLengthPrefix guards against a corrupted or
// malicious length prefix (e.g. 0xFFFFFFFF) driving a multi-gigabyte make()
// before the truncated payload is even noticed.
func TestDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	p := Result{SubmissionID: 1, TargetOutcomes: []types.Outcome{types.OutcomeOK}}.Encode()

	// TargetOutcomes' count sits right after DefaultTargets/InitialTargets/
	// TargetNames' own length-prefixed empty slices and the 1-byte Outcome
	// field; overwrite it with a huge bogus count instead of recomputing
	// the exact offset by re-decoding up to that field.
	d := newDecoder(p.Payload)
	d.int64()
	d.int64()
	d.int32()
	d.byte()
	d.stringSlice()
	d.stringSlice()
	d.stringSlice()
	offset := len(p.Payload) - d.r.Len()

	mutated := append([]byte(nil), p.Payload...)
	binary.LittleEndian.PutUint32(mutated[offset:], 0xFFFFFFFF)
	p.Payload = mutated

	_, err := DecodeResult(p)
	assert.Error(t, err)
}
