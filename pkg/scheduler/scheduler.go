package scheduler

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/buildgraph/pkg/cache"
	blog "github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/metrics"
	"github.com/cuemby/buildgraph/pkg/types"
)

// ActionKind enumerates the scheduler's output actions (§4.5).
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSchedule
	ActionScheduleWithConfiguration
	ActionResumeExecution
	ActionReportResults
	ActionCreateNode
	ActionSubmissionComplete
	ActionCircularDependency
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "NoAction"
	case ActionSchedule:
		return "Schedule"
	case ActionScheduleWithConfiguration:
		return "ScheduleWithConfiguration"
	case ActionResumeExecution:
		return "ResumeExecution"
	case ActionReportResults:
		return "ReportResults"
	case ActionCreateNode:
		return "CreateNode"
	case ActionSubmissionComplete:
		return "SubmissionComplete"
	case ActionCircularDependency:
		return "CircularDependency"
	default:
		return "Unknown"
	}
}

// Action is one instruction the build manager must carry out. Not every
// field is meaningful for every Kind; see the Kind table in §4.5.
type Action struct {
	Kind ActionKind

	NodeID  int
	Request *types.BuildRequest
	Config  *types.Configuration
	Result  *types.BuildResult

	CreateKind  types.NodeKind
	CreateCount int

	SubmissionID int64
}

// NodeKnownConfigs abstracts the per-node known-configuration tracking the
// node manager owns, so the scheduler can decide Schedule vs
// ScheduleWithConfiguration without importing the node manager package.
type NodeKnownConfigs interface {
	KnowsConfig(nodeID, configID int) bool
	MarkConfigKnown(nodeID, configID int)
}

type requestStatus int

const (
	statusPending requestStatus = iota
	statusScheduled
	statusDone
)

type requestRecord struct {
	id           int64
	submissionID int64
	configID     int
	parentID     int64
	targets      []string
	nodeID       int
	status       requestStatus
}

// Scheduler is the single decision point for which node builds which
// request. All methods are safe for concurrent use, but the build manager
// is expected to be the only caller (§5: a single logical consumer
// thread), so the lock mostly guards against the spawn/result callbacks
// running on different goroutines than the request path.
type Scheduler struct {
	cfgCache *cache.ConfigCache
	results  *cache.ResultsCache
	known    NodeKnownConfigs
	maxNodes int
	log      zerolog.Logger

	mu            sync.Mutex
	requests      map[int64]*requestRecord
	pending       []int64
	nextRequestID int64
	freeNodes     map[int]types.NodeKind
	busyNodes     map[int]int64
	pendingCreate int
	totalNodes    int
}

// New creates a Scheduler. maxNodes bounds the number of nodes it will
// ever ask to be created, including the always-present virtual node.
func New(cfgCache *cache.ConfigCache, results *cache.ResultsCache, known NodeKnownConfigs, maxNodes int) *Scheduler {
	if maxNodes < 1 {
		maxNodes = 1
	}
	s := &Scheduler{
		cfgCache: cfgCache,
		results:  results,
		known:    known,
		maxNodes: maxNodes,
		log:      blog.WithComponent("scheduler"),
	}
	s.Reset()
	return s
}

// Reset discards all in-flight scheduling state and reseeds the virtual
// in-process node as the sole free node, ready for a new build.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = make(map[int64]*requestRecord)
	s.pending = nil
	s.nextRequestID = 1
	s.freeNodes = map[int]types.NodeKind{types.VirtualNodeID: types.NodeKindInProcess}
	s.busyNodes = make(map[int]int64)
	s.pendingCreate = 0
	s.totalNodes = 1
}

// Submit enqueues a new top-level request (no parent) for submissionID
// against configID, returning whatever scheduling actions become possible
// as a result.
func (s *Scheduler) Submit(submissionID int64, configID int, targets []string) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.mint(submissionID, configID, 0, targets)
	s.pending = append(s.pending, rec.id)
	return s.trySchedule()
}

// ReportBlocked records that the request running on nodeID (requestID) is
// blocked on a new nested request against configID, detecting circular
// project references along the way (§4.5, cycle detection).
func (s *Scheduler) ReportBlocked(nodeID int, requestID int64, configID int, targets []string) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ancestorBuildsConfig(requestID, configID) {
		rec := s.mint(s.requests[requestID].submissionID, configID, requestID, targets)
		rec.status = statusDone
		s.log.Warn().Int64("request_id", requestID).Int("config_id", configID).Msg("circular dependency detected")
		metrics.RequestsCircularTotal.Inc()
		return []Action{{Kind: ActionCircularDependency, Request: toBuildRequest(rec), SubmissionID: rec.submissionID}}
	}

	rec := s.mint(s.requests[requestID].submissionID, configID, requestID, targets)
	s.pending = append(s.pending, rec.id)
	return s.trySchedule()
}

// ancestorBuildsConfig walks the parent chain from requestID (inclusive)
// and reports whether any still-unresolved ancestor is itself building
// configID — i.e. whether scheduling a new request for configID would
// close a cycle back on one of its own ancestors.
func (s *Scheduler) ancestorBuildsConfig(requestID int64, configID int) bool {
	for id := requestID; id != 0; {
		rec, ok := s.requests[id]
		if !ok || rec.status == statusDone {
			return false
		}
		if rec.configID == configID {
			return true
		}
		id = rec.parentID
	}
	return false
}

// ReportResult records the final result of requestID (produced on nodeID),
// frees the node, updates the results cache, and either resumes the
// parent request (if this was a nested blocker) or completes the
// submission (if this was a top-level request).
func (s *Scheduler) ReportResult(nodeID int, requestID int64, result *types.BuildResult) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.requests[requestID]
	if !ok {
		s.log.Error().Int64("request_id", requestID).Msg("result reported for unknown request")
		return nil
	}
	rec.status = statusDone
	s.freeNode(nodeID)
	s.results.Add(result)

	var actions []Action
	if rec.parentID != 0 {
		parent, ok := s.requests[rec.parentID]
		if ok && parent.nodeID != 0 {
			actions = append(actions, Action{
				Kind:         ActionResumeExecution,
				NodeID:       parent.nodeID,
				Request:      toBuildRequest(rec),
				Result:       result,
				SubmissionID: rec.submissionID,
			})
		}
	} else {
		actions = append(actions, Action{
			Kind:         ActionSubmissionComplete,
			Result:       result,
			SubmissionID: rec.submissionID,
		})
	}

	actions = append(actions, s.trySchedule()...)
	return actions
}

// ReportNodesCreated tells the scheduler that count new nodes of kind have
// come online with the given ids, making them available for scheduling.
func (s *Scheduler) ReportNodesCreated(ids []int, kind types.NodeKind) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.freeNodes[id] = kind
	}
	s.totalNodes += len(ids)
	s.pendingCreate = 0
	metrics.NodesActive.WithLabelValues(kind.String()).Add(float64(len(ids)))
	return s.trySchedule()
}

// ReportNodeShutdown marks whatever request nodeID was running as aborted
// and permanently removes nodeID from the free/selectable set (§4.6:
// NodeShutdown, any reason, removes the node from the active set). Unlike
// ReportResult's freeNode, the node is never added back
// to freeNodes — per §8, a later Schedule/ScheduleWithConfiguration must
// never be able to select a node that has shut down. A nested request's
// abort resumes its parent (mirroring ReportResult) rather than silently
// dropping the result: the parent is still waiting on ActionResumeExecution
// and would otherwise hold its node busy forever.
func (s *Scheduler) ReportNodeShutdown(nodeID int) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actions []Action

	if requestID, busy := s.busyNodes[nodeID]; busy {
		rec := s.requests[requestID]
		rec.status = statusDone

		result := &types.BuildResult{SubmissionID: rec.submissionID, ConfigID: rec.configID, Outcome: types.OutcomeAborted}
		s.results.Add(result)

		if rec.parentID != 0 {
			parent, ok := s.requests[rec.parentID]
			if ok && parent.nodeID != 0 {
				actions = append(actions, Action{
					Kind:         ActionResumeExecution,
					NodeID:       parent.nodeID,
					Request:      toBuildRequest(rec),
					Result:       result,
					SubmissionID: rec.submissionID,
				})
			}
		} else {
			actions = append(actions, Action{Kind: ActionSubmissionComplete, Result: result, SubmissionID: rec.submissionID})
		}
	}

	s.removeNode(nodeID)

	actions = append(actions, s.trySchedule()...)
	return actions
}

// removeNode deletes nodeID from both the busy and free sets, never to be
// scheduled onto again, and shrinks totalNodes so a replacement can be
// created if the build still needs one.
func (s *Scheduler) removeNode(nodeID int) {
	if nodeID == 0 {
		return
	}
	delete(s.busyNodes, nodeID)
	if _, wasFree := s.freeNodes[nodeID]; wasFree {
		delete(s.freeNodes, nodeID)
	}
	if s.totalNodes > 0 {
		s.totalNodes--
	}
}

func (s *Scheduler) freeNode(nodeID int) {
	if nodeID == 0 {
		return
	}
	delete(s.busyNodes, nodeID)
	if _, known := s.freeNodes[nodeID]; !known {
		s.freeNodes[nodeID] = types.NodeKindOutOfProcess
	}
}

func (s *Scheduler) mint(submissionID int64, configID int, parentID int64, targets []string) *requestRecord {
	rec := &requestRecord{
		id:           s.nextRequestID,
		submissionID: submissionID,
		configID:     configID,
		parentID:     parentID,
		targets:      targets,
	}
	s.nextRequestID++
	s.requests[rec.id] = rec
	return rec
}

// trySchedule assigns as many pending requests to free nodes as it can,
// preferring a configuration's owning node (affinity). If every node is
// busy and the cap hasn't been reached, it asks for exactly one more node
// per call rather than flooding CreateNode actions.
func (s *Scheduler) trySchedule() []Action {
	var actions []Action

	var stillPending []int64
	for _, id := range s.pending {
		rec := s.requests[id]
		if rec.status != statusPending {
			continue
		}

		nodeID, ok := s.selectFreeNode(rec.configID)
		if !ok {
			stillPending = append(stillPending, id)
			continue
		}

		delete(s.freeNodes, nodeID)
		s.busyNodes[nodeID] = rec.id
		rec.status = statusScheduled
		rec.nodeID = nodeID

		cfg, hasCfg := s.cfgCache.Get(rec.configID)
		if hasCfg && cfg.OwningNode == 0 {
			cfg.OwningNode = nodeID
		}

		action := Action{NodeID: nodeID, Request: toBuildRequest(rec), SubmissionID: rec.submissionID}
		if s.known != nil && s.known.KnowsConfig(nodeID, rec.configID) {
			action.Kind = ActionSchedule
		} else {
			action.Kind = ActionScheduleWithConfiguration
			action.Config = cfg
			if s.known != nil {
				s.known.MarkConfigKnown(nodeID, rec.configID)
			}
		}
		metrics.RequestsScheduledTotal.WithLabelValues(action.Kind.String()).Inc()
		actions = append(actions, action)
	}
	s.pending = stillPending

	if len(s.pending) > 0 && s.pendingCreate == 0 && s.totalNodes < s.maxNodes {
		s.pendingCreate = 1
		actions = append(actions, Action{Kind: ActionCreateNode, CreateKind: types.NodeKindOutOfProcess, CreateCount: 1})
	}

	if len(actions) == 0 {
		actions = append(actions, Action{Kind: ActionNone})
	}
	return actions
}

// selectFreeNode returns a free node for configID, preferring the
// configuration's recorded owning node if it happens to be free, and
// otherwise the lowest-numbered free node (a deterministic stand-in for
// the teacher's least-loaded round robin, since every free node is
// equally idle here).
func (s *Scheduler) selectFreeNode(configID int) (int, bool) {
	if cfg, ok := s.cfgCache.Get(configID); ok && cfg.OwningNode != 0 {
		if _, free := s.freeNodes[cfg.OwningNode]; free {
			return cfg.OwningNode, true
		}
	}

	if len(s.freeNodes) == 0 {
		return 0, false
	}
	ids := make([]int, 0, len(s.freeNodes))
	for id := range s.freeNodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids[0], true
}

func toBuildRequest(rec *requestRecord) *types.BuildRequest {
	return &types.BuildRequest{
		ID:           rec.id,
		SubmissionID: rec.submissionID,
		ConfigID:     rec.configID,
		Targets:      rec.targets,
		ParentID:     rec.parentID,
	}
}
