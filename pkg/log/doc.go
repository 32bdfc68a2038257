/*
Package log provides structured logging for buildgraph using zerolog.

The package wraps zerolog with a single global logger, initialized once via
Init, and component-scoped child loggers obtained through WithComponent and
friends. All call sites log through these child loggers rather than the
global Logger directly, so every line carries a "component" field identifying
which subsystem emitted it (wire, node, scheduler, buildmanager, tlog, ...).

JSON output is the production default; console output with a human-readable
timestamp is meant for local development. DEBUGCOMM is loaded into
config.Config but has no effect on logging: the wire package does no
logging of its own and no per-connection trace file is written.
*/
package log
