// Package session owns rank<->rank connection setup for the TCP mesh.
//
// Ownership boundary:
// - registration control messages exchanged once per connection
// - connect/handshake timeouts
// - retry/backoff primitives used while the mesh forms
package session
