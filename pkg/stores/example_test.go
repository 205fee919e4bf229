package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Record demonstrates journaling engine decisions under a run.
func ExampleSQLiteStore_Record() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	run := &stores.Run{Command: "apply", Source: "billing.yaml"}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}
	ctx = stores.ContextWithRun(ctx, run.ID)

	// The store is handed to the billing service as its journal.
	var journal engine.Journal = store
	_ = journal.Record(ctx, engine.OperationRecord{
		Kind:      "customer",
		EntityID:  "cus_000001",
		UniqueKey: "ada@example.com",
		Action:    engine.OperationCreate,
		State:     []byte(`{"id":"cus_000001","email":"ada@example.com"}`),
	})

	if err := store.FinishRun(ctx, run.ID, stores.RunStatusCompleted, nil, nil); err != nil {
		log.Fatal(err)
	}

	ops, err := store.ListOperations(ctx, stores.OperationFilter{RunID: &run.ID})
	if err != nil {
		log.Fatal(err)
	}
	for _, op := range ops {
		fmt.Printf("%s %s %s\n", op.Action, op.Kind, op.UniqueKey)
	}

	snap, err := store.GetSnapshot(ctx, "customer", "ada@example.com")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(snap.EntityID)
	// Output:
	// create customer ada@example.com
	// cus_000001
}
