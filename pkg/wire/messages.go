package wire

import (
	"fmt"

	"github.com/cuemby/buildgraph/pkg/types"
)

// ShutdownReason qualifies a NodeShutdown packet.
type ShutdownReason byte

const (
	ShutdownNormal ShutdownReason = iota
	ShutdownError
	ShutdownConnectionFailed
)

// RequestBlocker asks the receiving node to build one request: a target
// list against a resolved configuration, on behalf of a submission. Sent
// manager → node to schedule work, and node → manager to report that the
// node's current request is blocked on a nested configuration it doesn't
// have yet (the scheduler's ReportBlocked, §4.5) — both directions share
// the same shape because "build this" and "I need this built" carry
// identical fields.
type RequestBlocker struct {
	SubmissionID int64
	RequestID    int64
	ConfigID     int32
	ParentID     int64
	Targets      []string
}

func (m RequestBlocker) Encode() Packet {
	var e encoder
	e.int64(m.SubmissionID)
	e.int64(m.RequestID)
	e.int32(m.ConfigID)
	e.int64(m.ParentID)
	e.stringSlice(m.Targets)
	return Packet{Kind: KindRequestBlocker, Payload: e.bytes()}
}

func DecodeRequestBlocker(p Packet) (RequestBlocker, error) {
	if p.Kind != KindRequestBlocker {
		return RequestBlocker{}, fmt.Errorf("wire: %s is not a RequestBlocker packet", p.Kind)
	}
	d := newDecoder(p.Payload)
	m := RequestBlocker{
		SubmissionID: d.int64(),
		RequestID:    d.int64(),
		ConfigID:     d.int32(),
		ParentID:     d.int64(),
		Targets:      d.stringSlice(),
	}
	if d.err != nil {
		return RequestBlocker{}, fmt.Errorf("wire: decode RequestBlocker: %w", d.err)
	}
	return m, nil
}

// RequestConfig asks the scheduler to resolve a configuration a node needs
// in order to satisfy a request it was just handed (a project reference it
// discovered while building). Sent node → manager.
type RequestConfig struct {
	RequestingNodeID int32
	ProjectPath      string
	ToolsVersion     string
	GlobalProperties map[string]string
	ExplicitlyLoaded bool
}

func (m RequestConfig) Encode() Packet {
	var e encoder
	e.int32(m.RequestingNodeID)
	e.string(m.ProjectPath)
	e.string(m.ToolsVersion)
	e.stringMap(m.GlobalProperties)
	e.bool(m.ExplicitlyLoaded)
	return Packet{Kind: KindRequestConfig, Payload: e.bytes()}
}

func DecodeRequestConfig(p Packet) (RequestConfig, error) {
	if p.Kind != KindRequestConfig {
		return RequestConfig{}, fmt.Errorf("wire: %s is not a RequestConfig packet", p.Kind)
	}
	d := newDecoder(p.Payload)
	m := RequestConfig{
		RequestingNodeID: d.int32(),
		ProjectPath:      d.string(),
		ToolsVersion:     d.string(),
		GlobalProperties: d.stringMap(),
		ExplicitlyLoaded: d.bool(),
	}
	if d.err != nil {
		return RequestConfig{}, fmt.Errorf("wire: decode RequestConfig: %w", d.err)
	}
	return m, nil
}

// RequestConfigResponse carries a resolved configuration back to a node:
// either in reply to that node's own RequestConfig, or pushed eagerly ahead
// of a RequestBlocker when the scheduler schedules onto a node that has
// never seen this configuration before (ScheduleWithConfiguration, §4.5).
// Sent manager → node.
type RequestConfigResponse struct {
	ConfigID         int32
	OwningNodeID     int32
	ProjectPath      string
	ToolsVersion     string
	GlobalProperties map[string]string
	DefaultTargets   []string
	InitialTargets   []string
}

func (m RequestConfigResponse) Encode() Packet {
	var e encoder
	e.int32(m.ConfigID)
	e.int32(m.OwningNodeID)
	e.string(m.ProjectPath)
	e.string(m.ToolsVersion)
	e.stringMap(m.GlobalProperties)
	e.stringSlice(m.DefaultTargets)
	e.stringSlice(m.InitialTargets)
	return Packet{Kind: KindRequestConfigResponse, Payload: e.bytes()}
}

func DecodeRequestConfigResponse(p Packet) (RequestConfigResponse, error) {
	if p.Kind != KindRequestConfigResponse {
		return RequestConfigResponse{}, fmt.Errorf("wire: %s is not a RequestConfigResponse packet", p.Kind)
	}
	d := newDecoder(p.Payload)
	m := RequestConfigResponse{
		ConfigID:         d.int32(),
		OwningNodeID:     d.int32(),
		ProjectPath:      d.string(),
		ToolsVersion:     d.string(),
		GlobalProperties: d.stringMap(),
		DefaultTargets:   d.stringSlice(),
		InitialTargets:   d.stringSlice(),
	}
	if d.err != nil {
		return RequestConfigResponse{}, fmt.Errorf("wire: decode RequestConfigResponse: %w", d.err)
	}
	return m, nil
}

// Result carries a request's terminal outcome. Sent node → manager, and
// manager → node to hand a nested request's outcome back to a blocked parent.
type Result struct {
	SubmissionID   int64
	RequestID      int64
	ConfigID       int32
	Outcome        types.Outcome
	DefaultTargets []string
	InitialTargets []string
	TargetNames    []string
	TargetOutcomes []types.Outcome
	ErrMessage     string
}

func (m Result) Encode() Packet {
	var e encoder
	e.int64(m.SubmissionID)
	e.int64(m.RequestID)
	e.int32(m.ConfigID)
	e.byte(byte(m.Outcome))
	e.stringSlice(m.DefaultTargets)
	e.stringSlice(m.InitialTargets)
	e.stringSlice(m.TargetNames)
	e.uint32(uint32(len(m.TargetOutcomes)))
	for _, o := range m.TargetOutcomes {
		e.byte(byte(o))
	}
	e.string(m.ErrMessage)
	return Packet{Kind: KindResult, Payload: e.bytes()}
}

func DecodeResult(p Packet) (Result, error) {
	if p.Kind != KindResult {
		return Result{}, fmt.Errorf("wire: %s is not a Result packet", p.Kind)
	}
	d := newDecoder(p.Payload)
	m := Result{
		SubmissionID:   d.int64(),
		RequestID:      d.int64(),
		ConfigID:       d.int32(),
		Outcome:        types.Outcome(d.byte()),
		DefaultTargets: d.stringSlice(),
		InitialTargets: d.stringSlice(),
		TargetNames:    d.stringSlice(),
	}
	n := d.uint32()
	if d.err == nil && uint64(n) > uint64(d.r.Len()) {
		d.fail(errShortPayload)
	}
	if d.err == nil {
		m.TargetOutcomes = make([]types.Outcome, n)
		for i := range m.TargetOutcomes {
			m.TargetOutcomes[i] = types.Outcome(d.byte())
		}
	}
	m.ErrMessage = d.string()
	if d.err != nil {
		return Result{}, fmt.Errorf("wire: decode Result: %w", d.err)
	}
	return m, nil
}

// NodeShutdown announces that a node is tearing down (or has been told to).
// Sent in either direction.
type NodeShutdown struct {
	Reason ShutdownReason
}

func (m NodeShutdown) Encode() Packet {
	var e encoder
	e.byte(byte(m.Reason))
	return Packet{Kind: KindNodeShutdown, Payload: e.bytes()}
}

func DecodeNodeShutdown(p Packet) (NodeShutdown, error) {
	if p.Kind != KindNodeShutdown {
		return NodeShutdown{}, fmt.Errorf("wire: %s is not a NodeShutdown packet", p.Kind)
	}
	d := newDecoder(p.Payload)
	m := NodeShutdown{Reason: ShutdownReason(d.byte())}
	if d.err != nil {
		return NodeShutdown{}, fmt.Errorf("wire: decode NodeShutdown: %w", d.err)
	}
	return m, nil
}

// LogMessage carries a line of build output for the submission's logger.
// The transport to the real logger is out of scope (§1); buildgraph only
// frames and routes the text.
type LogMessage struct {
	SubmissionID int64
	Text         string
}

func (m LogMessage) Encode() Packet {
	var e encoder
	e.int64(m.SubmissionID)
	e.string(m.Text)
	return Packet{Kind: KindLogMessage, Payload: e.bytes()}
}

func DecodeLogMessage(p Packet) (LogMessage, error) {
	if p.Kind != KindLogMessage {
		return LogMessage{}, fmt.Errorf("wire: %s is not a LogMessage packet", p.Kind)
	}
	d := newDecoder(p.Payload)
	m := LogMessage{
		SubmissionID: d.int64(),
		Text:         d.string(),
	}
	if d.err != nil {
		return LogMessage{}, fmt.Errorf("wire: decode LogMessage: %w", d.err)
	}
	return m, nil
}
