// Package crdt implements the replicated task document exchanged between
// devices.
//
// # Model
//
// The document is a last-writer-wins element map keyed by task uuid. Each
// element holds the task JSON together with a millisecond stamp, the id of
// the writing device and a tombstone flag. Two elements for the same uuid are
// compared by (stamp, tombstone, actor, payload) and the greater one wins,
// which makes merging commutative, associative and idempotent: devices that
// have seen the same set of deltas hold the same state regardless of the
// order they saw them in.
//
// Local writes stamp max(now, previous stamp + 1), so a device's own edits to
// a task always move forward even with a skewed clock.
//
// # Deltas
//
// GetUpdate exports every local change not yet acknowledged:
//
//	"TSD1" || zstd( CBOR{1: version, 2: actor, 3: [entry...]} )
//
// The CBOR payload uses Core Deterministic Encoding, so identical state
// always produces identical bytes. ApplyUpdate fully decodes and validates a
// delta before touching any state.
//
// # Acknowledgement
//
// A delta stays pending after GetUpdate. Only AckUpdate, called once the
// delta has been stored remotely, clears the changes that delta covered.
// A failed upload therefore never loses local edits; the next GetUpdate
// includes them again.
package crdt
