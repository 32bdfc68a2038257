/*
Package tlog implements the tracking-log engine (§4.7): given a tool's
persisted read- and write-logs, compute the minimal set of sources that
need to re-run, and maintain those logs as the build progresses.

A TrackingLog is a generic path-to-dependency table keyed by a rooting
marker — the same structure serves as a read-log (source → its
dependencies) or a write-log (source → its outputs); which role it plays
is just which files get Loaded into it and how callers interpret the
result. An IncrementalState pairs one of each and implements
ComputeSourcesNeedingCompilation, the out-of-date algorithm.

Composite rooting has two modes. Shred (the default, for compiler-like
tools) splits a composite root A|B|C into three independent single-source
roots, each carrying a full copy of the dependency list. Keep (for
linker/archiver-like tools with many-to-one I/O) retains the composite as
one key; any member's lookup resolves to the whole group.

Timestamps are never stored in the log itself — only paths are persisted.
Last-write-time is always resolved live against the filesystem through a
StatFunc, with a per-TrackingLog cache the caller invalidates
whenever a log file's own mtime changes (§5), mirroring the source's
design of treating the table as structure and the filesystem as the clock.
*/
package tlog
