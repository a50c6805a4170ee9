package snapshotstore

import (
	"context"
	"errors"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustDBStore(testContext *testing.T) *DBStore {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := database.AutoMigrate(&dbObject{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return NewDBStore(database, nil)
}

func TestPutThenGetRoundTrips(testContext *testing.T) {
	store := mustDBStore(testContext)
	key, err := store.Put(context.Background(), "doc-a", 7, []byte("snapshot-bytes"))
	if err != nil {
		testContext.Fatalf("put failed: %v", err)
	}
	if key != Key("doc-a", 7) {
		testContext.Fatalf("unexpected key: %s", key)
	}

	payload, err := store.Get(context.Background(), key)
	if err != nil {
		testContext.Fatalf("get failed: %v", err)
	}
	if string(payload) != "snapshot-bytes" {
		testContext.Fatalf("unexpected payload: %s", payload)
	}
}

func TestGetMissingKeyReturnsNotFound(testContext *testing.T) {
	store := mustDBStore(testContext)
	_, err := store.Get(context.Background(), Key("doc-missing", 1))
	if !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneKeepsOnlyNewestObjects(testContext *testing.T) {
	store := mustDBStore(testContext)
	for seq := int64(1); seq <= 5; seq++ {
		if _, err := store.Put(context.Background(), "doc-prune", seq, []byte("v")); err != nil {
			testContext.Fatalf("put failed: %v", err)
		}
	}

	if err := store.Prune(context.Background(), "doc-prune", 2); err != nil {
		testContext.Fatalf("prune failed: %v", err)
	}

	if _, err := store.Get(context.Background(), Key("doc-prune", 1)); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected seq 1 to be pruned")
	}
	if _, err := store.Get(context.Background(), Key("doc-prune", 5)); err != nil {
		testContext.Fatalf("expected newest seq 5 to survive prune: %v", err)
	}
}
