package nodemanager

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

func dialingSpawn(t *testing.T, host, client uint64) SpawnFunc {
	t.Helper()
	return func(id int, kind types.NodeKind, addr string) error {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return err
		}
		go func() {
			_ = wire.Dial(conn, host, client)
		}()
		return nil
	}
}

func TestCreateAssignsIncreasingIDsStartingAtFirstAssignable(t *testing.T) {
	host, client := testHandshake()
	m := New(Config{MaxNodes: 3, ConnectTimeout: time.Second, HostHandshake: host, ClientHandshake: client, Spawn: dialingSpawn(t, host, client)})

	n1, ok := m.Create(types.NodeKindOutOfProcess, func(int, wire.Packet) {})
	require.True(t, ok)
	n2, ok := m.Create(types.NodeKindOutOfProcess, func(int, wire.Packet) {})
	require.True(t, ok)

	assert.Equal(t, types.FirstAssignableNodeID, n1.ID)
	assert.Equal(t, types.FirstAssignableNodeID+1, n2.ID)
}

func TestCreateRespectsCap(t *testing.T) {
	host, client := testHandshake()
	m := New(Config{MaxNodes: 1, ConnectTimeout: time.Second, HostHandshake: host, ClientHandshake: client, Spawn: dialingSpawn(t, host, client)})

	_, ok := m.Create(types.NodeKindOutOfProcess, func(int, wire.Packet) {})
	require.True(t, ok)

	_, ok = m.Create(types.NodeKindOutOfProcess, func(int, wire.Packet) {})
	assert.False(t, ok)
}

func TestSendToUnknownNodeIsUndeliverable(t *testing.T) {
	m := New(Config{MaxNodes: 1})
	err := m.Send(999, wire.NodeShutdown{}.Encode())
	assert.ErrorIs(t, err, ErrUndeliverable)
}

func TestKnownConfigTracking(t *testing.T) {
	host, client := testHandshake()
	m := New(Config{MaxNodes: 1, ConnectTimeout: time.Second, HostHandshake: host, ClientHandshake: client, Spawn: dialingSpawn(t, host, client)})

	n, ok := m.Create(types.NodeKindOutOfProcess, func(int, wire.Packet) {})
	require.True(t, ok)

	assert.False(t, m.KnowsConfig(n.ID, 42))
	m.MarkConfigKnown(n.ID, 42)
	assert.True(t, m.KnowsConfig(n.ID, 42))
}

func TestShutdownConnectedWithoutReuseForgetsNodes(t *testing.T) {
	host, client := testHandshake()
	var terminated []int
	m := New(Config{
		MaxNodes: 1, ConnectTimeout: time.Second, HostHandshake: host, ClientHandshake: client,
		Spawn:     dialingSpawn(t, host, client),
		Terminate: func(id int) { terminated = append(terminated, id) },
	})

	n, ok := m.Create(types.NodeKindOutOfProcess, func(int, wire.Packet) {})
	require.True(t, ok)

	require.Eventually(t, func() bool { return n.State().String() == "active" }, time.Second, 5*time.Millisecond)

	m.ShutdownConnected(false)

	assert.Equal(t, []int{n.ID}, terminated)
	assert.Equal(t, 0, m.Count())
}
