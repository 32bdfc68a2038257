/*
Package wire implements the length-prefixed packet framing and the
version-and-identity handshake that two buildgraph peers (a build manager
and a spawned node, or a node and its own children) use to agree they are
talking to a compatible sibling before any build traffic crosses the pipe.

Framing is deliberately simple: one byte of kind, four bytes of
little-endian length, then the payload. The handshake runs once, before
any framed packet, and uses big-endian on the wire regardless of host byte
order, matching the source protocol this package is modeled on.

Kind-specific payloads (RequestBlocker, RequestConfig, ...) are encoded
with the same little-endian, length-prefixed primitives as the outer
frame; see messages.go for the explicit per-kind encode/decode table that
replaces reflection-based dispatch.
*/
package wire
