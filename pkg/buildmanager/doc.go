/*
Package buildmanager drives one build end to end: it owns the config and
results caches, the scheduler, and the node manager, and is the only thing
in this module that touches all three (§4.6).

Concurrency model: a single consumer goroutine (the "work queue") executes
every scheduler/cache mutation and every packet handler in order, matching
the source's "single logical thread" guarantee (§5). Everything else —
Submit callers, node read-loops delivering packets — only ever
*posts* a closure onto that queue; they never touch scheduler or cache
state directly. This is the same cooperative-task-over-a-channel shape
pkg/node already uses for its reader/pump split, just with the build
manager instead of a single connection as the serialization point.

Project/XML evaluation is explicitly out of scope (spec.md §1): the virtual
in-process node doesn't actually evaluate or build anything here. Its work
is carried out by an injected InProcessBuilder hook, the same pattern
pkg/nodemanager uses for out-of-process spawning (SpawnFunc) — callers that
need real evaluation wire a working evaluator in; the default hook returns
an OK result immediately, good enough for tests and for driving the
scheduler/protocol machinery in isolation.

Wire protocol note: the module's closed packet-kind set (§6) has no
dedicated "resume with this result" kind. ScheduleWithConfiguration sends
RequestConfigResponse (manager→node, carrying the full configuration body
ahead of the request, the same packet a node's own RequestConfig gets
answered with) followed by RequestBlocker (manager→node, the same struct
shape a node uses to report it's blocked — SubmissionID/RequestID/ConfigID/
Targets — reused here as "go build this request"); ResumeExecution reuses
Result (manager→node, handing back the nested build's outcome). This is a
protocol-layer convention, not a codec change, and avoids inventing a
seventh kind the spec's "reject unknown kinds" rule would otherwise require
every peer to understand.
*/
package buildmanager
