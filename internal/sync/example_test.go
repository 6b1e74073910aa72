package sync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/vifly/tasksApp/internal/config"
	"github.com/vifly/tasksApp/internal/crdt"
	"github.com/vifly/tasksApp/internal/db"
	"github.com/vifly/tasksApp/internal/reconcile"
	"github.com/vifly/tasksApp/internal/remote"
	"github.com/vifly/tasksApp/internal/sync"
	"github.com/vifly/tasksApp/internal/syncmeta"
)

// This example demonstrates wiring a syncer and running one pass.
// Note: This is for documentation only and won't run as a test.
func ExampleNew() {
	ctx := context.Background()

	// Open database
	store, err := db.Open(".tasksync/tasks.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	// Initialize schema (first time only)
	if err := store.InitSchema(); err != nil {
		log.Fatal(err)
	}
	meta := syncmeta.New(store.RawDB())
	if err := meta.InitSchema(ctx); err != nil {
		log.Fatal(err)
	}
	deviceID, err := meta.DeviceID(ctx)
	if err != nil {
		log.Fatal(err)
	}

	// Seed the document from the local store
	engine := reconcile.New(store, crdt.New(deviceID, nil), nil, nil)
	if err := engine.Initialize(ctx); err != nil {
		log.Fatal(err)
	}

	syncer := sync.New(sync.Config{
		Engine: engine,
		Meta:   meta,
		Connect: remote.Connector(func() (*config.Settings, error) {
			return config.Load(".tasksync/config.toml")
		}),
	})

	res, err := syncer.Sync(ctx, "manual")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Status, res.Message)
}
