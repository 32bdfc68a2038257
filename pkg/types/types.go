// Package types holds the data model shared by every buildgraph package:
// configurations, submissions, requests, results, nodes and the outcome
// variant that replaces exception-based control flow at package boundaries.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a submission or request concluded. It collapses the
// source implementation's exception hierarchy into a single closed value, per
// the re-architecture guidance: no panics cross a package boundary in normal
// operation.
type Outcome int

const (
	// OutcomeOK means every target built successfully.
	OutcomeOK Outcome = iota
	// OutcomeProjectInvalid means project evaluation rejected the request.
	OutcomeProjectInvalid
	// OutcomeAborted means the build was cancelled before the request completed.
	OutcomeAborted
	// OutcomeInternal means a protocol or transport fault killed the request.
	OutcomeInternal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeProjectInvalid:
		return "project-invalid"
	case OutcomeAborted:
		return "aborted"
	case OutcomeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// NodeKind enumerates the worker flavors the node manager can spawn.
type NodeKind int

const (
	// NodeKindInProcess is the virtual node living inside the manager itself.
	NodeKindInProcess NodeKind = iota
	// NodeKindOutOfProcess is a spawned sibling worker process.
	NodeKindOutOfProcess
	// NodeKindTaskHost is a spawned worker hosting a single long-running task.
	NodeKindTaskHost
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindInProcess:
		return "in-process"
	case NodeKindOutOfProcess:
		return "out-of-process"
	case NodeKindTaskHost:
		return "task-host"
	default:
		return "unknown"
	}
}

// VirtualNodeID is the well-known id of the in-process node: every build has
// exactly one, and it is never spawned by the node manager.
const VirtualNodeID = 1

// FirstAssignableNodeID is the lowest node id the scheduler may hand out to a
// spawned node; ids below it are reserved for virtual/well-known nodes.
const FirstAssignableNodeID = 2

// FirstAssignableConfigID is the lowest id the config cache may assign to a
// newly resolved Configuration; 0 means "no configuration" and is never
// handed out.
const FirstAssignableConfigID = 1

// Configuration is a distinct project + global-properties + tools-version
// triple. Two Configurations compare equal only if they share an ID within a
// manager (§3 invariant); the ID is assigned once, atomically, when the
// configuration is first resolved.
type Configuration struct {
	ID               int
	ProjectPath      string
	ToolsVersion     string
	GlobalProperties map[string]string
	ExplicitlyLoaded bool
	OwningNode       int // 0 means "not yet built anywhere"

	// DefaultTargets/InitialTargets are backfilled from the first Result the
	// manager observes for this configuration, if the caller didn't already
	// know them (§4.6, Result packet handling).
	DefaultTargets []string
	InitialTargets []string
}

// Key returns a stable fingerprint of the structural identity of the
// configuration (project path, tools version and sorted global properties),
// used by the config cache for O(1) lookup instead of a linear property
// comparison.
func (c *Configuration) Key() string {
	return configKey(c.ProjectPath, c.ToolsVersion, c.GlobalProperties)
}

func configKey(projectPath, toolsVersion string, props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var b []byte
	b = append(b, projectPath...)
	b = append(b, '|')
	b = append(b, toolsVersion...)
	for _, k := range keys {
		b = append(b, '|')
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, props[k]...)
	}
	return string(b)
}

// sortStrings is a tiny insertion sort to avoid pulling in "sort" for a
// handful of property names at config-resolution time; call sites pass
// small maps (a project's global properties), so this stays O(n^2) on
// purpose rather than reaching for a heavier general-purpose sort.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Submission is one user-visible "build this" call. It carries exactly one
// terminal transition to Result (§3 invariant).
type Submission struct {
	ID       int64
	// ExternalHandle is a UUID handed to external callers/logs that need a
	// stable opaque reference to this submission; the monotonic ID above
	// stays the process-internal identity the data model's invariants are
	// defined over.
	ExternalHandle string
	Request        *BuildRequest
	done           chan struct{}
	result         *BuildResult
	Callback       func(*BuildResult)
}

// NewSubmission creates a pending submission wrapping the given request.
func NewSubmission(id int64, req *BuildRequest) *Submission {
	return &Submission{ID: id, ExternalHandle: uuid.NewString(), Request: req, done: make(chan struct{})}
}

// Complete files the terminal result for this submission exactly once. A
// second call is a programming error (an attempt at a second terminal
// transition) and panics, matching the spec's "exactly one terminal
// transition" invariant — this must never happen if the build manager/
// scheduler fan-in logic is correct.
func (s *Submission) Complete(result *BuildResult) {
	select {
	case <-s.done:
		panic("submission completed twice")
	default:
	}
	s.result = result
	close(s.done)
	if s.Callback != nil {
		s.Callback(result)
	}
}

// Wait blocks until Complete has filed a terminal result, then returns it.
func (s *Submission) Wait() *BuildResult {
	<-s.done
	return s.result
}

// Done reports whether the submission has a terminal result.
func (s *Submission) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// BuildRequest is one scheduled unit of work within a submission (§3).
type BuildRequest struct {
	ID           int64
	SubmissionID int64
	ConfigID     int
	Targets      []string
	ParentID     int64 // 0 means "top-level request", used for cycle detection
}

// TargetOutcome is the result of building a single target.
type TargetOutcome struct {
	Target    string
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// BuildResult is the outcome of a request (§3). Immutable once published.
type BuildResult struct {
	SubmissionID   int64
	ConfigID       int
	Outcome        Outcome
	Targets        []TargetOutcome
	DefaultTargets []string
	InitialTargets []string
	Err            error
	// Logged guards against double-logging a ProjectInvalid outcome (§7.4),
	// collapsing the source's "has-been-logged" flag into the value itself.
	Logged bool
}
