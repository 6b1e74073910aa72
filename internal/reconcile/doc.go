// Package reconcile keeps the local task store and the replicated document
// in agreement.
//
// The local store is what the user reads and writes; the document is what
// devices exchange. Engine is the only writer of both once running:
//
//   - Add, Update and Delete write the store, then mirror into the document.
//   - SyncDocumentToLocal applies the merged document back onto the store as
//     a diff of inserts, in-place updates and deletions.
//   - ExportDelta, AckDelta and ImportDelta expose the document's delta
//     exchange to the sync orchestrator.
//
// Initialize runs once per process. It removes duplicate rows left by a
// crash between a store write and its mirror, fills in missing or colliding
// weights, and then seeds the document from the repaired store.
//
// Subscribers receive a coalesced signal after every change; see Subscribe.
package reconcile
