package wire

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHashStableAndSensitive(t *testing.T) {
	a := VersionHash("buildgraph-1.0.0")
	b := VersionHash("buildgraph-1.0.0")
	c := VersionHash("buildgraph-1.0.1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHostClientHandshakeDiffer(t *testing.T) {
	base := BaseHandshake(Context(true, 1), VersionHash("buildgraph-1.0.0"))
	host := HostHandshake(base, false)
	client := ClientHandshake(base)

	assert.NotEqual(t, host, client)
	assert.Zero(t, host&^highByteMask)
	assert.Zero(t, client&^highByteMask)
}

func TestHostHandshakeElevationFolds(t *testing.T) {
	base := BaseHandshake(Context(true, 1), VersionHash("buildgraph-1.0.0"))
	assert.NotEqual(t, HostHandshake(base, false), HostHandshake(base, true))
}

func TestHandshakeSuccessfulExchange(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	base := BaseHandshake(Context(true, 1), VersionHash("buildgraph-1.0.0"))
	host := HostHandshake(base, false)
	client := ClientHandshake(base)

	var wg sync.WaitGroup
	wg.Add(2)

	var serverErr, clientErr error
	go func() {
		defer wg.Done()
		serverErr = Accept(serverConn, host, client, nil)
	}()
	go func() {
		defer wg.Done()
		clientErr = Dial(clientConn, host, client)
	}()
	wg.Wait()

	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
}

func TestHandshakeRejectsLegacyPeer(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	host := HostHandshake(BaseHandshake(Context(true, 1), VersionHash("v1")), false)
	client := ClientHandshake(BaseHandshake(Context(true, 1), VersionHash("v1")))

	var wg sync.WaitGroup
	wg.Add(2)

	var serverErr error
	go func() {
		defer wg.Done()
		serverErr = Accept(serverConn, host, client, nil)
	}()

	var reply [1]byte
	go func() {
		defer wg.Done()
		_, _ = clientConn.Write([]byte{0x5F, 0, 0, 0, 0, 0, 0, 0})
		_, _ = clientConn.Read(reply[:])
	}()
	wg.Wait()

	require.ErrorIs(t, serverErr, ErrLinkFailed)
	require.ErrorIs(t, serverErr, ErrLegacyPeer)
	assert.Equal(t, byte(rejectByte), reply[0])
}

func TestHandshakeMismatch(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverHost := HostHandshake(BaseHandshake(Context(true, 1), VersionHash("v1")), false)
	clientHost := HostHandshake(BaseHandshake(Context(true, 1), VersionHash("v2")), false)
	client := ClientHandshake(BaseHandshake(Context(true, 1), VersionHash("v1")))

	var wg sync.WaitGroup
	wg.Add(2)

	var serverErr, clientErr error
	go func() {
		defer wg.Done()
		serverErr = Accept(serverConn, serverHost, client, nil)
		_ = serverConn.Close()
	}()
	go func() {
		defer wg.Done()
		clientErr = Dial(clientConn, clientHost, client)
	}()
	wg.Wait()

	assert.ErrorIs(t, serverErr, ErrHandshakeMismatch)
	assert.Error(t, clientErr)
}

func TestHandshakeIdentityFailure(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	base := BaseHandshake(Context(true, 1), VersionHash("v1"))
	host := HostHandshake(base, false)
	client := ClientHandshake(base)

	var wg sync.WaitGroup
	wg.Add(2)

	var serverErr, clientErr error
	go func() {
		defer wg.Done()
		serverErr = Accept(serverConn, host, client, func() error { return assert.AnError })
		// A real node closes the link on any handshake failure; the
		// handshake functions themselves only see an io.ReadWriter and
		// leave teardown to the caller.
		_ = serverConn.Close()
	}()
	go func() {
		defer wg.Done()
		clientErr = Dial(clientConn, host, client)
	}()
	wg.Wait()

	assert.ErrorIs(t, serverErr, ErrLinkFailed)
	assert.Error(t, clientErr)
}
