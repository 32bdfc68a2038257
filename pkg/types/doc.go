/*
Package types defines the core data structures shared across buildgraph.

This package has no dependencies on any other buildgraph package; it exists so
wire, node, nodemanager, cache, scheduler and buildmanager can all refer to the
same Configuration, Submission, BuildRequest and BuildResult shapes without
importing one another.

# Entities

Configuration is a project + global-properties + tools-version triple, keyed
by Key() for cache lookup. Submission is the user-visible handle returned by
the build manager; it carries exactly one terminal transition, enforced by
Complete panicking on a second call. BuildRequest is one scheduled unit within
a submission; BuildResult is its published, immutable outcome.

Outcome replaces the source implementation's exception-based control flow
with a closed variant: OutcomeOK, OutcomeProjectInvalid, OutcomeAborted,
OutcomeInternal. BuildResult.Logged collapses the source's "has this already
been logged" guard into the result value itself, so no package-level mutable
flag is needed to avoid double-logging a project error.
*/
package types
