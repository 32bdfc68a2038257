/*
Package cache implements the two content-addressed stores the build
manager keeps for the lifetime of one build (§4.4): the config cache,
keyed by a project's structural identity, and the results cache, keyed by
the config id it belongs to.

Both caches are in-memory and never persisted (§9, Non-goals). They are
not cleared at build end: the build manager's BeginBuild drops every
non-explicitly-loaded configuration and its results when the next build
starts, and replaces both caches with empty ones when asked to reset or
when the config cache is above its size threshold.
*/
package cache
