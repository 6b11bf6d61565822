// Package protocol owns the rank-to-rank wire contract and parsing primitives.
//
// Ownership boundary:
// - fixed header + TLV field encoding
// - schema validation entry points
// - row message conversion (halo rows, bands, scatter)
package protocol
