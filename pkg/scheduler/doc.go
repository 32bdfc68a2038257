/*
Package scheduler decides which node builds which request (§4.5). It is
deliberately I/O-free: every exported method takes one reported event and
returns the actions the caller (the build manager) must carry out — send a
packet, spawn a node, complete a submission. This keeps the scheduling
decision testable without a real node manager or network.

The teacher's scheduler ran a ticker-driven reconciliation loop
(Start/Stop/run) because its domain — converging actual container counts
toward a desired replica count — is a level-triggered problem. This
scheduler's domain is edge-triggered: every decision is a reaction to one
reported event (a result came back, a node was created, a node reported
it's blocked), so the loop and ticker have no equivalent here; trySchedule
runs synchronously inside whichever reporting method triggered it. The
round-robin "pick the least-loaded node" idea in the teacher's selectNode
survives as selectFreeNode, generalized from container counts to
configuration affinity.

The scheduler tracks three things across a build: which requests are
pending, scheduled, or done; which nodes are free or busy; and which
configuration "owns" which node, so repeat requests against an
already-warm node skip re-sending the configuration body.
*/
package scheduler
