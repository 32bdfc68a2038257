package node

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	blog "github.com/cuemby/buildgraph/pkg/log"
	"github.com/cuemby/buildgraph/pkg/types"
	"github.com/cuemby/buildgraph/pkg/wire"
)

// State is one position in the node endpoint's lifecycle (§4.2).
type State int32

const (
	StateInactive State = iota
	StateListening
	StateActive
	StateFailed
	StateConnectionFailed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateListening:
		return "listening"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateConnectionFailed:
		return "connection-failed"
	default:
		return "unknown"
	}
}

// PacketRouter dispatches one inbound packet from nodeID to whatever owns
// routing (the build manager's work queue in production, a recording stub
// in tests).
type PacketRouter func(nodeID int, p wire.Packet)

// DefaultConnectionTimeout is the fallback connect wait (§6,
// NODECONNECTIONTIMEOUT's default of 900s) before Listen gives up and
// transitions to ConnectionFailed.
const DefaultConnectionTimeout = 900 * time.Second

const outboundQueueDepth = 256

// Node is a per-worker connection actor. The zero value is not usable;
// construct with New.
type Node struct {
	ID   int
	Kind types.NodeKind

	log zerolog.Logger

	mu        sync.Mutex
	state     State
	conn      net.Conn
	outbound  chan wire.Packet
	terminate chan struct{}
	pumpDone  chan struct{}
}

// New creates a node endpoint with the given process-unique id and kind.
// It starts Inactive; call Listen to bind it to a listener.
func New(id int, kind types.NodeKind) *Node {
	return &Node{
		ID:    id,
		Kind:  kind,
		log:   blog.WithComponent("node").With().Int("node_id", id).Logger(),
		state: StateInactive,
	}
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Listen binds the node to l: it accepts exactly one handshake-validated
// connection, then spawns the read/write pump and returns. Acceptance of
// the first connection is bounded by connectTimeout; connections that fail
// the handshake because they're a legacy or mismatched peer are dropped
// without consuming that budget's outcome — Listen keeps waiting for
// another attempt until the timeout elapses or a connection succeeds.
//
// Listen itself returns immediately; the outcome of the accept loop is
// observable via State().
func (n *Node) Listen(l net.Listener, router PacketRouter, hostHandshake, clientHandshake uint64, identity wire.IdentityVerifier, connectTimeout time.Duration) {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectionTimeout
	}
	n.setState(StateListening)
	go n.acceptLoop(l, router, hostHandshake, clientHandshake, identity, connectTimeout)
}

type acceptResult struct {
	conn net.Conn
	err  error
}

func (n *Node) acceptLoop(l net.Listener, router PacketRouter, hostHandshake, clientHandshake uint64, identity wire.IdentityVerifier, connectTimeout time.Duration) {
	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	acceptCh := make(chan acceptResult, 1)
	tryAccept := func() {
		go func() {
			conn, err := l.Accept()
			acceptCh <- acceptResult{conn: conn, err: err}
		}()
	}
	tryAccept()

	for {
		select {
		case <-timer.C:
			n.log.Warn().Msg("connection timeout waiting for node to connect")
			n.setState(StateConnectionFailed)
			_ = l.Close()
			return

		case res := <-acceptCh:
			if res.err != nil {
				n.log.Debug().Err(res.err).Msg("listener closed")
				n.setState(StateInactive)
				return
			}

			err := wire.Accept(res.conn, hostHandshake, clientHandshake, identity)
			if err == nil {
				timer.Stop()
				n.becomeActive(res.conn, router)
				return
			}

			_ = res.conn.Close()
			if errors.Is(err, wire.ErrLegacyPeer) || errors.Is(err, wire.ErrHandshakeMismatch) {
				n.log.Info().Err(err).Msg("rejected incompatible peer, still listening")
				tryAccept()
				continue
			}

			n.log.Warn().Err(err).Msg("handshake failed")
			n.setState(StateConnectionFailed)
			return
		}
	}
}

func (n *Node) becomeActive(conn net.Conn, router PacketRouter) {
	n.mu.Lock()
	n.conn = conn
	n.outbound = make(chan wire.Packet, outboundQueueDepth)
	n.terminate = make(chan struct{})
	n.pumpDone = make(chan struct{})
	outbound := n.outbound
	terminate := n.terminate
	pumpDone := n.pumpDone
	n.mu.Unlock()

	n.setState(StateActive)
	go n.pump(conn, router, outbound, terminate, pumpDone)
}

type readFailureKind int

const (
	readFailureIO readFailureKind = iota
	readFailureDeserialize
)

type readFailure struct {
	kind readFailureKind
	err  error
}

func (n *Node) readLoop(conn net.Conn, router PacketRouter, fail chan<- readFailure) {
	for {
		p, err := wire.Read(conn)
		if err != nil {
			fail <- readFailure{kind: readFailureIO, err: err}
			return
		}
		if !p.Kind.Valid() {
			fail <- readFailure{kind: readFailureDeserialize, err: fmt.Errorf("%w: kind %d", wire.ErrUnknownKind, p.Kind)}
			return
		}
		router(n.ID, p)
	}
}

// pump is the write side of the connection. It prefers servicing the
// outbound queue over honoring a terminate signal, draining whatever is
// already enqueued before the connection closes (§4.2).
func (n *Node) pump(conn net.Conn, router PacketRouter, outbound chan wire.Packet, terminate chan struct{}, done chan struct{}) {
	defer close(done)

	fail := make(chan readFailure, 1)
	go n.readLoop(conn, router, fail)

	for {
		select {
		case pkt := <-outbound:
			n.writeFrame(conn, pkt)
			continue
		default:
		}

		select {
		case pkt := <-outbound:
			n.writeFrame(conn, pkt)
		case rf := <-fail:
			n.drainOutbound(conn, outbound)
			_ = conn.Close()
			n.onReadFailure(rf)
			return
		case <-terminate:
			n.drainOutbound(conn, outbound)
			_ = conn.Close()
			n.setState(StateInactive)
			return
		}
	}
}

func (n *Node) drainOutbound(conn net.Conn, outbound chan wire.Packet) {
	for {
		select {
		case pkt := <-outbound:
			n.writeFrame(conn, pkt)
		default:
			return
		}
	}
}

func (n *Node) writeFrame(conn net.Conn, pkt wire.Packet) {
	if err := wire.Write(conn, pkt); err != nil {
		n.log.Warn().Err(err).Str("kind", pkt.Kind.String()).Msg("failed writing outbound packet")
	}
}

func (n *Node) onReadFailure(rf readFailure) {
	switch rf.kind {
	case readFailureDeserialize:
		n.log.Error().Err(rf.err).Msg("malformed packet, node is not reusable")
		n.setState(StateFailed)
	default:
		n.log.Info().Err(rf.err).Msg("read failed, node reusable")
		n.setState(StateInactive)
	}
}

// Send enqueues p for delivery if the node is Active. Per §4.2 the
// scheduler must never observe a send failure once shutdown has begun, so
// a non-Active node silently drops the packet instead of returning an
// error.
func (n *Node) Send(p wire.Packet) {
	n.mu.Lock()
	st := n.state
	out := n.outbound
	n.mu.Unlock()

	if st != StateActive || out == nil {
		return
	}
	select {
	case out <- p:
	default:
		n.log.Warn().Str("kind", p.Kind.String()).Msg("outbound queue full, dropping packet")
	}
}

// Disconnect signals the pump to exit, waits for it to drain and close the
// connection, then transitions to Inactive.
func (n *Node) Disconnect() {
	n.mu.Lock()
	st := n.state
	term := n.terminate
	done := n.pumpDone
	n.mu.Unlock()

	if st != StateActive {
		return
	}
	if term != nil {
		close(term)
	}
	if done != nil {
		<-done
	}
}
