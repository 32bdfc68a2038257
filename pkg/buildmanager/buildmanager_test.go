package buildmanager

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/types"
	"github.com/cuemby/buildgraph/pkg/wire"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func testHandshake() (host, client uint64) {
	base := wire.BaseHandshake(wire.Context(true, 1), wire.VersionHash("buildgraph-test"))
	return wire.HostHandshake(base, false), wire.ClientHandshake(base)
}

func TestBeginBuildRequiresIdle(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.BeginBuild(false))
	assert.ErrorIs(t, m.BeginBuild(false), ErrAlreadyBuilding)
}

func TestSubmitRequiresBuilding(t *testing.T) {
	m := New(Config{})
	_, err := m.Submit(SubmissionSpec{ProjectPath: "a.csproj"})
	assert.ErrorIs(t, err, ErrNotBuilding)
}

func TestSubmitOnVirtualNodeCompletesWithDefaultBuilder(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.BeginBuild(false))

	sub, err := m.Submit(SubmissionSpec{ProjectPath: "a.csproj", Targets: []string{"Build"}})
	require.NoError(t, err)

	result := sub.Wait()
	require.NotNil(t, result)
	assert.Equal(t, types.OutcomeOK, result.Outcome)
	require.Len(t, result.Targets, 1)
	assert.Equal(t, "Build", result.Targets[0].Target)

	state, err := m.EndBuild()
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestCustomInProcessBuilderIsUsed(t *testing.T) {
	m := New(Config{InProcessBuilder: func(req *types.BuildRequest, cfg *types.Configuration) *types.BuildResult {
		return &types.BuildResult{SubmissionID: req.SubmissionID, ConfigID: req.ConfigID, Outcome: types.OutcomeProjectInvalid}
	}})
	require.NoError(t, m.BeginBuild(false))

	sub, err := m.Submit(SubmissionSpec{ProjectPath: "bad.csproj", Targets: []string{"Build"}})
	require.NoError(t, err)

	result := sub.Wait()
	assert.Equal(t, types.OutcomeProjectInvalid, result.Outcome)

	_, err = m.EndBuild()
	require.NoError(t, err)
}

func TestCancelAllAbortsOutstandingSubmission(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	m := New(Config{InProcessBuilder: func(req *types.BuildRequest, cfg *types.Configuration) *types.BuildResult {
		close(started)
		<-gate
		return &types.BuildResult{SubmissionID: req.SubmissionID, ConfigID: req.ConfigID, Outcome: types.OutcomeOK}
	}})
	require.NoError(t, m.BeginBuild(false))

	sub, err := m.Submit(SubmissionSpec{ProjectPath: "a.csproj", Targets: []string{"Build"}})
	require.NoError(t, err)

	<-started
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate)
	}()

	m.CancelAll()

	result := sub.Wait()
	assert.Equal(t, types.OutcomeAborted, result.Outcome)
	assert.Equal(t, StateIdle, m.State())
}

func TestScheduleWithConfigurationRoundTripsOverRealNode(t *testing.T) {
	host, client := testHandshake()

	var workerConn net.Conn
	// Spawn blocks until the handshake completes, the way a real
	// process-spawn hook would block until the child process's pipe/socket
	// connects back — otherwise the manager could schedule work onto a node
	// before it's Active and have Send silently drop the packets.
	spawn := func(id int, kind types.NodeKind, addr string) error {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return err
		}
		if err := wire.Dial(conn, host, client); err != nil {
			return err
		}
		workerConn = conn
		return nil
	}

	virtualStarted := make(chan struct{})
	virtualRelease := make(chan struct{})
	m := New(Config{
		MaxNodes:        2,
		ConnectTimeout:  2 * time.Second,
		HostHandshake:   host,
		ClientHandshake: client,
		Spawn:           spawn,
		InProcessBuilder: func(req *types.BuildRequest, cfg *types.Configuration) *types.BuildResult {
			close(virtualStarted)
			<-virtualRelease
			return &types.BuildResult{SubmissionID: req.SubmissionID, ConfigID: req.ConfigID, Outcome: types.OutcomeOK}
		},
	})
	require.NoError(t, m.BeginBuild(false))

	// occupy the virtual node so the second submission forces a real
	// out-of-process node to be spawned and scheduled over the wire.
	sub1, err := m.Submit(SubmissionSpec{ProjectPath: "a.csproj", Targets: []string{"Build"}})
	require.NoError(t, err)
	<-virtualStarted

	sub2, err := m.Submit(SubmissionSpec{ProjectPath: "worker.csproj", Targets: []string{"Build"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return workerConn != nil }, 2*time.Second, 5*time.Millisecond)

	// act as the worker: read the pushed configuration, then the build
	// request, then reply with a Result.
	cfgPkt, err := wire.Read(workerConn)
	require.NoError(t, err)
	_, err = wire.DecodeRequestConfigResponse(cfgPkt)
	require.NoError(t, err)

	reqPkt, err := wire.Read(workerConn)
	require.NoError(t, err)
	req, err := wire.DecodeRequestBlocker(reqPkt)
	require.NoError(t, err)

	result := wire.Result{
		SubmissionID:   req.SubmissionID,
		RequestID:      req.RequestID,
		ConfigID:       req.ConfigID,
		Outcome:        types.OutcomeOK,
		TargetNames:    req.Targets,
		TargetOutcomes: []types.Outcome{types.OutcomeOK},
	}
	require.NoError(t, wire.Write(workerConn, result.Encode()))

	got := sub2.Wait()
	require.NotNil(t, got)
	assert.Equal(t, types.OutcomeOK, got.Outcome)

	close(virtualRelease)
	sub1.Wait()

	_, err = m.EndBuild()
	require.NoError(t, err)
}
