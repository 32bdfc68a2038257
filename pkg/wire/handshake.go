package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
)

// ErrLinkFailed reports a framing, I/O, or identity failure during the
// handshake (§4.1, §7). It is the only error a rejected legacy peer or a
// dropped connection ever produces; callers should not try to distinguish
// reasons beyond what's wrapped in it.
var ErrLinkFailed = errors.New("wire: link failed")

// ErrHandshakeMismatch reports that both sides completed framing but
// disagreed on the handshake value — different build, different bitness,
// or different elevation.
var ErrHandshakeMismatch = errors.New("wire: handshake mismatch")

// ErrLegacyPeer marks the specific ErrLinkFailed case of a peer whose
// leading handshake byte matched the legacy-reject list. Callers that want
// to keep listening after rejecting a legacy peer (rather than tearing the
// whole endpoint down) check for this with errors.Is.
var ErrLegacyPeer = errors.New("wire: legacy peer rejected")

// legacyReject lists the leading handshake bytes that identify a peer from
// a protocol generation old enough to only ever send a single byte before
// going silent. Writing a 0xFF reply unblocks it immediately instead of
// leaving it to time out.
var legacyReject = [...]byte{0x5F, 0x60}

const rejectByte = 0xFF

// highByteMask clears the high byte of a handshake value; every handshake
// this package produces satisfies value&^highByteMask == 0, which is also
// how Dial disambiguates a real 8-byte reply from a 1-byte
// reject (0xFF can never be the leading byte of a genuine value).
const highByteMask = 0x00FFFFFFFFFFFFFF

const maxInt64 = 0x7FFFFFFFFFFFFFFF

// elevatedFold is XORed into the base handshake when the host process is
// running elevated, so an elevated and a non-elevated peer with otherwise
// identical version and bitness never agree.
const elevatedFold uint64 = 0x00A5A5A5A5A5A5A5

func rol5(x uint32) uint32 {
	return (x << 5) + x + (x >> 27)
}

// VersionHash computes the stable DJB2-variant double hash over the UTF-16
// code units of version, per §6. It is the same hash the .NET runtime uses
// for String.GetHashCode on this platform family, chosen by the source
// protocol because it's cheap and stable across processes of the same
// build without needing a crypto primitive.
func VersionHash(version string) uint32 {
	units := utf16.Encode([]rune(version))

	hash1 := uint32(5381<<16) + 5381
	hash2 := hash1

	i := 0
	n := len(units)
	for n-i > 2 {
		w0 := packWord(units, i)
		w1 := packWord(units, i+2)
		hash1 = rol5(hash1) ^ w0
		hash2 = rol5(hash2) ^ w1
		i += 4
	}
	if n-i > 0 {
		hash1 = rol5(hash1) ^ packWord(units, i)
	}

	return hash1 + hash2*1566083941
}

func packWord(units []uint16, i int) uint32 {
	lo := uint32(units[i])
	var hi uint32
	if i+1 < len(units) {
		hi = uint32(units[i+1])
	}
	return lo | hi<<16
}

// Context packs the bitness and runtime major version that both peers must
// agree on into the 16 bits that occupy the base handshake's bits 40-55,
// leaving the high byte (56-63) at zero.
func Context(is64Bit bool, runtimeMajor int) uint64 {
	c := uint64(runtimeMajor) & 0x7FFF
	if is64Bit {
		c |= 0x8000
	}
	return c
}

// BaseHandshake computes (context << 40) | (versionHash << 8), per §4.1.
func BaseHandshake(context uint64, versionHash uint32) uint64 {
	return (context << 40) | (uint64(versionHash) << 8)
}

// HostHandshake derives the value the accepting side expects to read
// first, folding in elevation so only same-elevation peers agree.
func HostHandshake(base uint64, elevated bool) uint64 {
	h := base & highByteMask
	if elevated {
		h ^= elevatedFold
	}
	return h & highByteMask
}

// ClientHandshake derives the value the accepting side writes back once it
// has validated the host handshake.
func ClientHandshake(base uint64) uint64 {
	return (base ^ maxInt64) & highByteMask
}

// IdentityVerifier checks that the peer on the other end of conn is
// running as the same user (and, where applicable, the same elevation) as
// this process. The concrete OS-specific check (SID/uid comparison over a
// named pipe or domain socket) is out of scope (§1, external collaborator);
// buildgraph only specifies the hook and the consequence of failure.
type IdentityVerifier func() error

// Accept runs the accepting (server) side of the handshake described in
// §4.1 over conn. hostHandshake and clientHandshake are the values this
// process independently computed via BaseHandshake/HostHandshake/
// ClientHandshake. identity may be nil, meaning "trust the transport"
// (appropriate for an in-process virtual node or a test double).
func Accept(conn io.ReadWriter, hostHandshake, clientHandshake uint64, identity IdentityVerifier) error {
	var buf [8]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return fmt.Errorf("%w: reading handshake: %v", ErrLinkFailed, err)
	}

	for _, b := range legacyReject {
		if buf[0] == b {
			_, _ = conn.Write([]byte{rejectByte})
			return fmt.Errorf("%w: %w (leading byte 0x%02X)", ErrLinkFailed, ErrLegacyPeer, buf[0])
		}
	}

	got := binary.BigEndian.Uint64(buf[:])
	if got != hostHandshake {
		return fmt.Errorf("%w: got 0x%016X want 0x%016X", ErrHandshakeMismatch, got, hostHandshake)
	}

	if identity != nil {
		if err := identity(); err != nil {
			return fmt.Errorf("%w: identity check: %v", ErrLinkFailed, err)
		}
	}

	var out [8]byte
	binary.BigEndian.PutUint64(out[:], clientHandshake)
	if _, err := conn.Write(out[:]); err != nil {
		return fmt.Errorf("%w: writing handshake reply: %v", ErrLinkFailed, err)
	}
	return nil
}

// Dial runs the connecting (client) side of the handshake over conn.
// hostHandshake is written first; expectedClientHandshake is what this
// process expects to read back if the server accepted it.
func Dial(conn io.ReadWriter, hostHandshake, expectedClientHandshake uint64) error {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], hostHandshake)
	if _, err := conn.Write(out[:]); err != nil {
		return fmt.Errorf("%w: writing handshake: %v", ErrLinkFailed, err)
	}

	var first [1]byte
	if _, err := io.ReadFull(conn, first[:]); err != nil {
		return fmt.Errorf("%w: reading handshake reply: %v", ErrLinkFailed, err)
	}
	if first[0] == rejectByte {
		return fmt.Errorf("%w: server rejected handshake", ErrLinkFailed)
	}

	var rest [7]byte
	if _, err := io.ReadFull(conn, rest[:]); err != nil {
		return fmt.Errorf("%w: reading handshake reply: %v", ErrLinkFailed, err)
	}

	var full [8]byte
	full[0] = first[0]
	copy(full[1:], rest[:])
	got := binary.BigEndian.Uint64(full[:])
	if got != expectedClientHandshake {
		return fmt.Errorf("%w: got 0x%016X want 0x%016X", ErrHandshakeMismatch, got, expectedClientHandshake)
	}
	return nil
}
