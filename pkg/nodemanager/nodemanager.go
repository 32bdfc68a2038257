package nodemanager

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	blog "github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/metrics"
	"github.com/cuemby/buildgraph/pkg/node"
	"github.com/cuemby/buildgraph/pkg/types"
	"github.com/cuemby/buildgraph/pkg/wire"
)

// ErrUndeliverable is returned by Send when the target node id is unknown
// to this manager — per §4.3 this is always a fatal internal error, never
// a routine "try again" condition.
var ErrUndeliverable = errors.New("nodemanager: packet undeliverable")

// SpawnFunc launches the OS process backing a new out-of-process or
// task-host node, pointed at listenAddr so it can dial in and handshake.
// The concrete mechanism (process creation, working directory, env) is an
// external collaborator (§1); tests pass a fake that dials listenAddr
// itself.
type SpawnFunc func(id int, kind types.NodeKind, listenAddr string) error

// TerminateFunc hard-stops a previously spawned process. Called only when
// ShutdownConnected(reuse=false) tears a node down for good.
type TerminateFunc func(id int)

// Config configures a NodeManager.
type Config struct {
	MaxNodes        int
	ConnectTimeout  time.Duration
	HostHandshake   uint64
	ClientHandshake uint64
	Identity        wire.IdentityVerifier
	Spawn           SpawnFunc
	Terminate       TerminateFunc
}

type trackedNode struct {
	node         *node.Node
	kind         types.NodeKind
	knownConfigs map[int]struct{}
	createdAt    time.Time
}

// NodeManager creates, tracks, and tears down worker nodes.
type NodeManager struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	nodes  map[int]*trackedNode
	nextID int
}

// New creates a NodeManager. Node ids are assigned starting at
// types.FirstAssignableNodeID, since lower ids are reserved for virtual
// nodes the manager never spawns.
func New(cfg Config) *NodeManager {
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = 1
	}
	return &NodeManager{
		cfg:    cfg,
		log:    blog.WithComponent("nodemanager"),
		nodes:  make(map[int]*trackedNode),
		nextID: types.FirstAssignableNodeID,
	}
}

// Create attempts to spawn a new node of the given kind, routing its
// inbound packets through router. It returns (nil, false) if the
// configured cap has been reached or the spawn failed — both cases the
// caller is expected to log and treat as a build-affecting failure, not
// retry silently (§4.3).
func (m *NodeManager) Create(kind types.NodeKind, router node.PacketRouter) (*node.Node, bool) {
	m.mu.Lock()
	if len(m.nodes) >= m.cfg.MaxNodes {
		m.mu.Unlock()
		m.log.Warn().Int("cap", m.cfg.MaxNodes).Msg("node cap reached")
		return nil, false
	}
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		m.log.Error().Err(err).Msg("failed to bind node listener")
		return nil, false
	}

	n := node.New(id, kind)
	n.Listen(l, router, m.cfg.HostHandshake, m.cfg.ClientHandshake, m.cfg.Identity, m.cfg.ConnectTimeout)

	if m.cfg.Spawn != nil {
		if err := m.cfg.Spawn(id, kind, l.Addr().String()); err != nil {
			m.log.Error().Err(err).Int("node_id", id).Msg("failed to spawn node process")
			_ = l.Close()
			return nil, false
		}
	}

	m.mu.Lock()
	m.nodes[id] = &trackedNode{node: n, kind: kind, knownConfigs: make(map[int]struct{}), createdAt: time.Now()}
	m.mu.Unlock()

	m.log.Info().Int("node_id", id).Str("kind", kind.String()).Msg("node created")
	return n, true
}

// Send routes p to nodeID. An unknown node id is always ErrUndeliverable —
// there is no such thing as "the node isn't ready yet" at this layer; by
// the time the scheduler addresses a node id, Create must already have
// registered it.
func (m *NodeManager) Send(nodeID int, p wire.Packet) error {
	m.mu.Lock()
	tn, ok := m.nodes[nodeID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: node %d", ErrUndeliverable, nodeID)
	}
	if p.TraceID == "" {
		p.TraceID = uuid.NewString()
	}
	m.log.Debug().Str("trace_id", p.TraceID).Int("node_id", nodeID).Str("kind", p.Kind.String()).Msg("dispatching packet")
	tn.node.Send(p)
	return nil
}

// Node returns the tracked node for id, if any.
func (m *NodeManager) Node(id int) (*node.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tn, ok := m.nodes[id]
	if !ok {
		return nil, false
	}
	return tn.node, true
}

// MarkConfigKnown records that node nodeID has already resolved (and so
// already holds) configuration configID, letting the scheduler send a bare
// Schedule instead of ScheduleWithConfiguration next time (§4.5).
func (m *NodeManager) MarkConfigKnown(nodeID, configID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tn, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	tn.knownConfigs[configID] = struct{}{}
}

// KnowsConfig reports whether nodeID has previously been sent configID.
func (m *NodeManager) KnowsConfig(nodeID, configID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tn, ok := m.nodes[nodeID]
	if !ok {
		return false
	}
	_, known := tn.knownConfigs[configID]
	return known
}

// ShutdownConnected sends a shutdown packet to every tracked node and
// disconnects it. When reuse is false the manager also asks the
// configured TerminateFunc to stop the underlying process and forgets the
// node entirely, so it can never be handed another request in this build
// (§3: "once shut down, never reused within the same build").
func (m *NodeManager) ShutdownConnected(reuse bool) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.nodes))
	nodes := make([]*node.Node, 0, len(m.nodes))
	for id, tn := range m.nodes {
		ids = append(ids, id)
		nodes = append(nodes, tn.node)
	}
	m.mu.Unlock()

	for i, n := range nodes {
		n.Send(wire.NodeShutdown{Reason: wire.ShutdownNormal}.Encode())
		n.Disconnect()
		if !reuse && m.cfg.Terminate != nil {
			m.cfg.Terminate(ids[i])
		}
	}

	if !reuse {
		m.mu.Lock()
		m.nodes = make(map[int]*trackedNode)
		m.mu.Unlock()
	}
}

// Forget disconnects nodeID and removes it from the tracked set for good.
// After this call Send(nodeID, ...) returns ErrUndeliverable — per §8, a
// packet aimed at a node that has shut down must be a fatal internal
// error, never silently dropped. Unlike ShutdownConnected, this affects
// only the one node and never touches the rest of the pool.
func (m *NodeManager) Forget(nodeID int) {
	m.mu.Lock()
	tn, ok := m.nodes[nodeID]
	if ok {
		delete(m.nodes, nodeID)
	}
	m.mu.Unlock()
	if ok {
		tn.node.Disconnect()
	}
}

// Count returns the number of currently tracked nodes.
func (m *NodeManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// ActiveCounts returns the number of tracked nodes in node.StateActive, by
// kind, for metrics collection (§4.0 ambient metrics).
func (m *NodeManager) ActiveCounts() map[types.NodeKind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[types.NodeKind]int)
	for _, tn := range m.nodes {
		if tn.node.State() == node.StateActive {
			counts[tn.kind]++
		}
	}
	return counts
}

// NodeSnapshots implements metrics.NodeSource: a point-in-time view of
// every tracked node's kind and handshake-wait state, so readiness checks
// can flag a node still in StateListening past its connect timeout and
// report per-NodeKind counts without caching a copy that could drift from
// the manager's own state.
func (m *NodeManager) NodeSnapshots() []metrics.NodeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metrics.NodeSnapshot, 0, len(m.nodes))
	for _, tn := range m.nodes {
		out = append(out, metrics.NodeSnapshot{
			Kind:      tn.kind,
			Listening: tn.node.State() == node.StateListening,
			Since:     tn.createdAt,
		})
	}
	return out
}
