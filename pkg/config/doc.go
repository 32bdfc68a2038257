/*
Package config loads buildgraph's environment-driven knobs into a single
struct, mirroring the teacher's pattern of plain Config structs populated by
callers rather than a reflection-based env-binding library: every field here
traces to one of the environment inputs in spec.md §6, plus the ambient
BUILDGRAPH_* logging/metrics knobs SPEC_FULL.md §4.0 adds on top.

Load() is deterministic for a fixed environment — calling it twice without an
intervening os.Setenv yields equal structs, which is one of the testable
properties SPEC_FULL.md §8 asks for.
*/
package config
