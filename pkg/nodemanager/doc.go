/*
Package nodemanager owns the pool of worker nodes (§4.3): it creates nodes
up to a configured cap, assigns each a process-wide-unique id, routes
outbound packets to the right node, and tears the pool down at the end of
a build.

Spawning an actual OS process for an out-of-process or task-host node is
an external collaborator (§1, "OS-specific framework/SDK discovery" is out
of scope); this package only specifies the hook (Config.Spawn) a caller
plugs in, and binds a loopback listener the spawned process is expected to
dial and handshake against.
*/
package nodemanager
