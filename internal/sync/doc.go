// Package sync runs sync passes between the local task list and the shared folder.
//
// Overview
//
// Devices never talk to each other. Each one writes its local changes as
// immutable delta files into a shared folder and merges the files written by
// the others. Because the document merge is commutative and idempotent, the
// order in which devices see the files does not matter and re-merging a file
// is harmless.
//
// Architecture
//
//	reconcile.Engine ── ExportDelta ──▶ updates/update_<device>_<millis>.bin
//	       ▲                                         │
//	       │                                   blob.Client
//	       │                                         │
//	SyncDocumentToLocal ◀── ImportDelta ◀── other devices' files
//
// Usage
//
// Basic usage:
//
//	syncer := sync.New(sync.Config{
//	    Engine:  engine,
//	    Meta:    meta,
//	    Connect: remote.Connector(loadSettings),
//	    Logger:  sink.Logger("[sync] "),
//	    Flusher: sink,
//	})
//
//	res, err := syncer.Sync(ctx, "manual")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Message)
//
// Ledger
//
// The processed-files ledger records every delta this device pushed or
// merged. Files in the ledger, and files whose name contains this device's
// id, are never downloaded again. A file that fails to download or merge is
// not recorded and is retried on every later pass.
//
// Concurrency
//
// Network calls run outside the engine lock; only export, acknowledge,
// import and reconcile take it. Callers must not run two passes at once;
// package daemon enforces that with a scheduler singleton and a file lock.
package sync
