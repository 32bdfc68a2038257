package buildmanager

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/buildgraph/pkg/cache"
	blog "github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/metrics"
	"github.com/cuemby/buildgraph/pkg/nodemanager"
	"github.com/cuemby/buildgraph/pkg/scheduler"
	"github.com/cuemby/buildgraph/pkg/types"
	"github.com/cuemby/buildgraph/pkg/wire"
)

// State is the build manager's lifecycle state (§4.6).
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateWaitingForBuildToComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateWaitingForBuildToComplete:
		return "waiting-for-build-to-complete"
	default:
		return "unknown"
	}
}

// ErrNotBuilding is returned by operations that require StateBuilding.
var ErrNotBuilding = errors.New("buildmanager: not in Building state")

// ErrAlreadyBuilding is returned by BeginBuild when a build is already active.
var ErrAlreadyBuilding = errors.New("buildmanager: build already in progress")

// InProcessBuilder executes a request on the virtual in-process node.
// Project/XML evaluation is out of scope for this module (spec.md §1); real
// callers inject their own evaluator here. It runs on its own goroutine,
// off the work queue, and its result is posted back onto the queue.
type InProcessBuilder func(req *types.BuildRequest, cfg *types.Configuration) *types.BuildResult

func defaultInProcessBuilder(req *types.BuildRequest, _ *types.Configuration) *types.BuildResult {
	targets := make([]types.TargetOutcome, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = types.TargetOutcome{Target: t, Outcome: types.OutcomeOK}
	}
	return &types.BuildResult{
		SubmissionID: req.SubmissionID,
		ConfigID:     req.ConfigID,
		Outcome:      types.OutcomeOK,
		Targets:      targets,
	}
}

// Config configures a BuildManager.
type Config struct {
	MaxNodes           int
	CacheSizeThreshold int
	ConnectTimeout     time.Duration
	HostHandshake      uint64
	ClientHandshake    uint64
	Identity           wire.IdentityVerifier
	Spawn              nodemanager.SpawnFunc
	Terminate          nodemanager.TerminateFunc
	InProcessBuilder   InProcessBuilder
	QueueDepth         int
}

func (c *Config) setDefaults() {
	if c.MaxNodes < 1 {
		c.MaxNodes = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 900 * time.Second
	}
	if c.InProcessBuilder == nil {
		c.InProcessBuilder = defaultInProcessBuilder
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 4096
	}
}

// BuildManager is the top-level driver: one instance owns one build's
// caches, scheduler and node manager. Safe to reuse across sequential
// builds via BeginBuild/EndBuild.
type BuildManager struct {
	cfg Config
	log zerolog.Logger

	cfgCache *cache.ConfigCache
	results  *cache.ResultsCache
	sched    *scheduler.Scheduler
	nm       *nodemanager.NodeManager

	mu           sync.Mutex
	state        State
	submissions  map[int64]*types.Submission
	requestStart map[int64]time.Time
	nextSubID    int64
	shuttingDown bool
	threadErr    error

	queue   chan func()
	queueWG sync.WaitGroup
	subWG   sync.WaitGroup
}

// New creates a BuildManager in the Idle state.
func New(cfg Config) *BuildManager {
	cfg.setDefaults()
	m := &BuildManager{
		cfg: cfg,
		log: blog.WithComponent("buildmanager"),
	}
	m.cfgCache = cache.NewConfigCache(cfg.CacheSizeThreshold)
	m.results = cache.NewResultsCache()
	m.nm = nodemanager.New(nodemanager.Config{
		MaxNodes:        cfg.MaxNodes,
		ConnectTimeout:  cfg.ConnectTimeout,
		HostHandshake:   cfg.HostHandshake,
		ClientHandshake: cfg.ClientHandshake,
		Identity:        cfg.Identity,
		Spawn:           cfg.Spawn,
		Terminate:       cfg.Terminate,
	})
	m.sched = scheduler.New(m.cfgCache, m.results, m.nm, cfg.MaxNodes)

	metrics.RegisterNodeSource(m.nm)
	metrics.SetNodeConnectTimeout(cfg.ConnectTimeout)

	return m
}

// State reports the current lifecycle state.
func (m *BuildManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NodeCounts reports the number of currently active nodes, by kind, for
// metrics collection (§4.0 ambient metrics).
func (m *BuildManager) NodeCounts() map[types.NodeKind]int {
	return m.nm.ActiveCounts()
}

// ConfigCacheSize reports how many configurations are currently cached.
func (m *BuildManager) ConfigCacheSize() int {
	m.mu.Lock()
	c := m.cfgCache
	m.mu.Unlock()
	return c.Len()
}

// BeginBuild transitions Idle → Building (§4.6). resetCaches forces a full
// cache rebuild even if the size threshold hasn't been crossed.
func (m *BuildManager) BeginBuild(resetCaches bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return ErrAlreadyBuilding
	}

	if resetCaches || m.cfgCache.IsSizeAboveThreshold() {
		m.cfgCache = cache.NewConfigCache(m.cfg.CacheSizeThreshold)
		m.results = cache.NewResultsCache()
	} else {
		for _, id := range m.cfgCache.ClearNonExplicit() {
			m.results.ClearFor(id)
		}
	}
	m.sched = scheduler.New(m.cfgCache, m.results, m.nm, m.cfg.MaxNodes)

	m.submissions = make(map[int64]*types.Submission)
	m.requestStart = make(map[int64]time.Time)
	m.nextSubID = 1
	m.shuttingDown = false
	m.threadErr = nil

	m.queue = make(chan func(), m.cfg.QueueDepth)
	m.queueWG.Add(1)
	go m.runQueue()

	m.state = StateBuilding
	m.log.Info().Msg("build started")
	return nil
}

func (m *BuildManager) runQueue() {
	defer m.queueWG.Done()
	for fn := range m.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.mu.Lock()
					if m.threadErr == nil {
						m.threadErr = fmt.Errorf("buildmanager: work queue panic: %v", r)
					}
					m.mu.Unlock()
				}
			}()
			fn()
		}()
	}
}

func (m *BuildManager) enqueue(fn func()) {
	m.mu.Lock()
	down := m.shuttingDown
	m.mu.Unlock()
	if down {
		return
	}
	select {
	case m.queue <- fn:
	default:
		m.log.Warn().Msg("work queue full, dropping item")
	}
}

// SubmissionSpec describes one build request to submit.
type SubmissionSpec struct {
	ProjectPath      string
	ToolsVersion     string
	GlobalProperties map[string]string
	Targets          []string
	ExplicitlyLoaded bool
}

// Submit allocates a Submission (pend_submission) and schedules its
// execution on the work queue (execute_submission), returning immediately.
// Call Wait on the returned submission to block for its terminal result.
func (m *BuildManager) Submit(spec SubmissionSpec) (*types.Submission, error) {
	m.mu.Lock()
	if m.state != StateBuilding {
		m.mu.Unlock()
		return nil, ErrNotBuilding
	}
	id := m.nextSubID
	m.nextSubID++
	sub := types.NewSubmission(id, nil)
	m.submissions[id] = sub
	m.mu.Unlock()

	m.subWG.Add(1)
	m.enqueue(func() { m.executeSubmission(sub, spec) })
	return sub, nil
}

func (m *BuildManager) executeSubmission(sub *types.Submission, spec SubmissionSpec) {
	cfg := &types.Configuration{
		ProjectPath:      spec.ProjectPath,
		ToolsVersion:     spec.ToolsVersion,
		GlobalProperties: spec.GlobalProperties,
		ExplicitlyLoaded: spec.ExplicitlyLoaded,
	}
	cfg = m.cfgCache.Add(cfg)
	metrics.ConfigCacheSize.Set(float64(m.cfgCache.Len()))

	actions := m.sched.Submit(sub.ID, cfg.ID, spec.Targets)
	if len(actions) > 0 && actions[0].Request != nil {
		sub.Request = actions[0].Request
	}
	m.applyActions(actions)
}

// routePacket is the nodemanager.PacketRouter handed to every node created
// for this build. It only ever posts to the work queue.
func (m *BuildManager) routePacket(nodeID int, p wire.Packet) {
	m.enqueue(func() { m.handlePacket(nodeID, p) })
}

func (m *BuildManager) handlePacket(nodeID int, p wire.Packet) {
	switch p.Kind {
	case wire.KindRequestBlocker:
		m.handleRequestBlocker(nodeID, p)
	case wire.KindRequestConfig:
		m.handleRequestConfig(nodeID, p)
	case wire.KindResult:
		m.handleResult(nodeID, p)
	case wire.KindNodeShutdown:
		m.handleNodeShutdown(nodeID, p)
	case wire.KindLogMessage:
		m.handleLogMessage(p)
	default:
		m.log.Error().Int("node_id", nodeID).Str("kind", p.Kind.String()).Msg("unknown packet kind, shutting node down")
		_ = m.nm.Send(nodeID, wire.NodeShutdown{Reason: wire.ShutdownError}.Encode())
	}
}

func (m *BuildManager) handleRequestBlocker(nodeID int, p wire.Packet) {
	req, err := wire.DecodeRequestBlocker(p)
	if err != nil {
		m.log.Error().Err(err).Int("node_id", nodeID).Msg("malformed RequestBlocker")
		return
	}
	timer := metrics.NewTimer()
	actions := m.sched.ReportBlocked(nodeID, req.RequestID, int(req.ConfigID), req.Targets)
	timer.ObserveDuration(metrics.SchedulingLatency)
	m.applyCircularAwareActions(nodeID, actions)
}

// applyCircularAwareActions handles the one Action kind (CircularDependency)
// that needs to reply directly to the reporting node rather than flow
// through the normal schedule/resume/complete paths, then delegates the rest.
func (m *BuildManager) applyCircularAwareActions(reportingNodeID int, actions []scheduler.Action) {
	var rest []scheduler.Action
	for _, a := range actions {
		if a.Kind != scheduler.ActionCircularDependency {
			rest = append(rest, a)
			continue
		}
		m.log.Warn().Int("node_id", reportingNodeID).Int64("request_id", a.Request.ID).Msg("circular dependency, failing request")
		result := &types.BuildResult{
			SubmissionID: a.SubmissionID,
			ConfigID:     a.Request.ConfigID,
			Outcome:      types.OutcomeInternal,
			Err:          fmt.Errorf("circular dependency detected for config %d", a.Request.ConfigID),
		}
		_ = m.nm.Send(reportingNodeID, wire.Result{
			SubmissionID: result.SubmissionID,
			RequestID:    a.Request.ID,
			ConfigID:     int32(result.ConfigID),
			Outcome:      result.Outcome,
			ErrMessage:   result.Err.Error(),
		}.Encode())
	}
	m.applyActions(rest)
}

func (m *BuildManager) handleRequestConfig(nodeID int, p wire.Packet) {
	req, err := wire.DecodeRequestConfig(p)
	if err != nil {
		m.log.Error().Err(err).Int("node_id", nodeID).Msg("malformed RequestConfig")
		return
	}
	cfg := &types.Configuration{
		ProjectPath:      req.ProjectPath,
		ToolsVersion:     req.ToolsVersion,
		GlobalProperties: req.GlobalProperties,
		ExplicitlyLoaded: req.ExplicitlyLoaded,
	}
	cfg = m.cfgCache.Add(cfg)
	metrics.ConfigCacheSize.Set(float64(m.cfgCache.Len()))

	_ = m.nm.Send(int(req.RequestingNodeID), wire.RequestConfigResponse{
		ConfigID:       int32(cfg.ID),
		OwningNodeID:   int32(cfg.OwningNode),
		DefaultTargets: cfg.DefaultTargets,
		InitialTargets: cfg.InitialTargets,
	}.Encode())
}

func (m *BuildManager) handleResult(nodeID int, p wire.Packet) {
	res, err := wire.DecodeResult(p)
	if err != nil {
		m.log.Error().Err(err).Int("node_id", nodeID).Msg("malformed Result")
		return
	}

	cfg, ok := m.cfgCache.Get(int(res.ConfigID))
	if ok && len(cfg.DefaultTargets) == 0 {
		cfg.DefaultTargets = res.DefaultTargets
	}
	if ok && len(cfg.InitialTargets) == 0 {
		cfg.InitialTargets = res.InitialTargets
	}

	targets := make([]types.TargetOutcome, 0, len(res.TargetNames))
	n := len(res.TargetNames)
	if len(res.TargetOutcomes) < n {
		n = len(res.TargetOutcomes)
	}
	m.mu.Lock()
	start, hasStart := m.requestStart[res.RequestID]
	delete(m.requestStart, res.RequestID)
	m.mu.Unlock()
	var dur time.Duration
	if hasStart {
		dur = time.Since(start)
	}
	for i := 0; i < n; i++ {
		targets = append(targets, types.TargetOutcome{
			Target:    res.TargetNames[i],
			Outcome:   res.TargetOutcomes[i],
			StartedAt: start,
			Duration:  dur,
		})
	}

	result := &types.BuildResult{
		SubmissionID:   res.SubmissionID,
		ConfigID:       int(res.ConfigID),
		Outcome:        res.Outcome,
		Targets:        targets,
		DefaultTargets: res.DefaultTargets,
		InitialTargets: res.InitialTargets,
	}
	if res.ErrMessage != "" {
		result.Err = errors.New(res.ErrMessage)
	}

	actions := m.sched.ReportResult(nodeID, res.RequestID, result)
	m.applyActions(actions)
}

func (m *BuildManager) handleNodeShutdown(nodeID int, p wire.Packet) {
	shutdown, err := wire.DecodeNodeShutdown(p)
	if err != nil {
		m.log.Error().Err(err).Int("node_id", nodeID).Msg("malformed NodeShutdown")
		return
	}
	m.applyActions(m.sched.ReportNodeShutdown(nodeID))
	m.nm.Forget(nodeID)

	if shutdown.Reason == wire.ShutdownError || shutdown.Reason == wire.ShutdownConnectionFailed {
		err := fmt.Errorf("node %d shut down: %s", nodeID, shutdown.Reason)
		m.log.Error().Err(err).Msg("node failure, aborting build")
		m.abort(err)
	}
}

func (m *BuildManager) handleLogMessage(p wire.Packet) {
	msg, err := wire.DecodeLogMessage(p)
	if err != nil {
		m.log.Error().Err(err).Msg("malformed LogMessage")
		return
	}
	m.log.Info().Int64("submission_id", msg.SubmissionID).Msg(msg.Text)
}

// applyActions carries out scheduler actions: sending packets, spawning
// nodes, completing submissions. It may recurse (e.g. ReportNodesCreated's
// follow-on schedule actions).
func (m *BuildManager) applyActions(actions []scheduler.Action) {
	for _, a := range actions {
		switch a.Kind {
		case scheduler.ActionNone:
			// nothing to do
		case scheduler.ActionCreateNode:
			m.createNodes(a.CreateKind, a.CreateCount)
		case scheduler.ActionSchedule:
			m.dispatchSchedule(a, nil)
		case scheduler.ActionScheduleWithConfiguration:
			m.dispatchSchedule(a, a.Config)
		case scheduler.ActionResumeExecution:
			m.dispatchResume(a)
		case scheduler.ActionSubmissionComplete:
			m.completeSubmission(a)
		case scheduler.ActionReportResults:
			m.log.Debug().Int64("submission_id", a.SubmissionID).Msg("results reported")
		case scheduler.ActionCircularDependency:
			// handled by applyCircularAwareActions before reaching here; if
			// it does reach here (e.g. from ReportResult's trySchedule tail)
			// there is no reporting node to reply to, so just log.
			m.log.Warn().Int64("request_id", a.Request.ID).Msg("circular dependency with no reporting node to notify")
		}
	}
}

func (m *BuildManager) createNodes(kind types.NodeKind, count int) {
	ids := make([]int, 0, count)
	for i := 0; i < count; i++ {
		n, ok := m.nm.Create(kind, m.routePacket)
		if !ok {
			m.log.Warn().Msg("node manager at capacity, cannot create node")
			break
		}
		ids = append(ids, n.ID)
	}
	if len(ids) == 0 {
		return
	}
	metrics.NodesCreatedTotal.WithLabelValues(kind.String()).Add(float64(len(ids)))
	actions := m.sched.ReportNodesCreated(ids, kind)
	m.applyActions(actions)
}

func (m *BuildManager) dispatchSchedule(a scheduler.Action, cfg *types.Configuration) {
	m.mu.Lock()
	m.requestStart[a.Request.ID] = time.Now()
	m.mu.Unlock()

	if a.NodeID == types.VirtualNodeID {
		effectiveCfg := cfg
		if effectiveCfg == nil {
			effectiveCfg, _ = m.cfgCache.Get(a.Request.ConfigID)
		}
		// Run off the work queue goroutine: the virtual node's build must not
		// stall scheduling decisions for every other node, any more than a
		// real out-of-process node's build would. The result rejoins the
		// queue the same way a node's Result packet does, through enqueue.
		req := a.Request
		go func() {
			result := m.cfg.InProcessBuilder(req, effectiveCfg)
			m.enqueue(func() {
				actions := m.sched.ReportResult(types.VirtualNodeID, req.ID, result)
				m.applyActions(actions)
			})
		}()
		return
	}

	if cfg != nil {
		_ = m.nm.Send(a.NodeID, wire.RequestConfigResponse{
			ConfigID:         int32(cfg.ID),
			OwningNodeID:     int32(cfg.OwningNode),
			ProjectPath:      cfg.ProjectPath,
			ToolsVersion:     cfg.ToolsVersion,
			GlobalProperties: cfg.GlobalProperties,
			DefaultTargets:   cfg.DefaultTargets,
			InitialTargets:   cfg.InitialTargets,
		}.Encode())
	}
	_ = m.nm.Send(a.NodeID, wire.RequestBlocker{
		SubmissionID: a.SubmissionID,
		RequestID:    a.Request.ID,
		ConfigID:     int32(a.Request.ConfigID),
		ParentID:     a.Request.ParentID,
		Targets:      a.Request.Targets,
	}.Encode())
}

func (m *BuildManager) dispatchResume(a scheduler.Action) {
	_ = m.nm.Send(a.NodeID, wire.Result{
		SubmissionID:   a.SubmissionID,
		RequestID:      a.Request.ID,
		ConfigID:       int32(a.Request.ConfigID),
		Outcome:        a.Result.Outcome,
		DefaultTargets: a.Result.DefaultTargets,
		InitialTargets: a.Result.InitialTargets,
	}.Encode())
}

func (m *BuildManager) completeSubmission(a scheduler.Action) {
	m.mu.Lock()
	sub, ok := m.submissions[a.SubmissionID]
	if ok {
		delete(m.submissions, a.SubmissionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	outcome := types.OutcomeOK
	if a.Result != nil {
		outcome = a.Result.Outcome
	}
	metrics.SubmissionsTotal.WithLabelValues(outcome.String()).Inc()

	if a.Result != nil && a.Result.Outcome == types.OutcomeProjectInvalid && !a.Result.Logged {
		m.log.Error().Int64("submission_id", a.SubmissionID).Err(a.Result.Err).Msg("project invalid")
		a.Result.Logged = true
	}

	sub.Complete(a.Result)
	m.subWG.Done()
}

// abort synthesizes an Aborted result for every outstanding submission,
// tells the node manager to abort (not reuse), and marks the manager as
// shutting down so enqueue drops any further work.
// Equivalent to cancel_all_submissions (§4.6/§5).
func (m *BuildManager) abort(cause error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return
	}
	m.shuttingDown = true
	if cause != nil && m.threadErr == nil {
		m.threadErr = cause
	}
	pending := make([]*types.Submission, 0, len(m.submissions))
	for id, sub := range m.submissions {
		pending = append(pending, sub)
		delete(m.submissions, id)
	}
	m.mu.Unlock()

	for _, sub := range pending {
		sub.Complete(&types.BuildResult{SubmissionID: sub.ID, Outcome: types.OutcomeAborted, Err: cause})
		metrics.SubmissionsTotal.WithLabelValues(types.OutcomeAborted.String()).Inc()
		m.subWG.Done()
	}
	m.nm.ShutdownConnected(false)
}

// CancelAll aborts every outstanding submission and drains the build back
// to Idle (§4.6 cancellation, §5 cancellation ordering).
func (m *BuildManager) CancelAll() {
	m.abort(nil)
	_, _ = m.EndBuild()
}

// EndBuild waits for every outstanding submission to complete, stops the
// work queue, transitions back to Idle, and surfaces any captured
// work-queue error (§4.6 failure semantics).
func (m *BuildManager) EndBuild() (State, error) {
	m.mu.Lock()
	if m.state != StateBuilding {
		m.mu.Unlock()
		return m.state, nil
	}
	m.state = StateWaitingForBuildToComplete
	m.mu.Unlock()

	m.subWG.Wait()

	m.mu.Lock()
	close(m.queue)
	m.mu.Unlock()
	m.queueWG.Wait()

	m.nm.ShutdownConnected(true)

	m.mu.Lock()
	err := m.threadErr
	m.threadErr = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.log.Info().Msg("build ended")
	return StateIdle, err
}
