/*
Package node implements the per-worker connection actor described by the
build manager's node endpoint: it accepts one connection, runs the wire
handshake, then pumps framed packets in both directions until told to
disconnect.

The state machine is Inactive -> Listening -> Active -> (Failed |
ConnectionFailed | Inactive). A legacy or mismatched handshake attempt does
not fail the endpoint: the accept loop closes that connection and keeps
listening, the same way a wrong-version node can retry without taking the
whole build manager down.

Where the source protocol describes a single event loop waiting on
{inbound-read-complete, outbound-packet-available, terminate}, this
package splits reading and writing into two goroutines, since that's how
Go naturally expresses "two independent I/O directions on one connection."
The write side still honors the ordering invariant that matters: any
outbound packets queued before a terminate signal are drained before the
connection closes, so in-flight log or result packets are never dropped on
shutdown.
*/
package node
