package hub

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/snapshotstore"
	"github.com/lattice-editor/server/internal/updatelog"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	documentID documents.DocumentID
	docService *documents.Service
	updateLog  *updatelog.Service
	snapshots  *snapshotstore.DBStore
}

func mustFixture(testContext *testing.T) *fixture {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := database.AutoMigrate(&documents.Document{}, &documents.Membership{}, &documents.DocumentState{}, &updatelog.Entry{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := snapshotstore.AutoMigrate(database); err != nil {
		testContext.Fatalf("failed to create snapshot table: %v", err)
	}

	docService, err := documents.NewService(documents.ServiceConfig{Database: database, Clock: time.Now})
	if err != nil {
		testContext.Fatalf("failed to construct documents service: %v", err)
	}
	updateLogService, err := updatelog.NewService(updatelog.ServiceConfig{Database: database, Clock: time.Now})
	if err != nil {
		testContext.Fatalf("failed to construct update log service: %v", err)
	}
	snapshots := snapshotstore.NewDBStore(database, nil)

	owner, err := documents.NewUserID("owner-" + testContext.Name())
	if err != nil {
		testContext.Fatalf("invalid user id: %v", err)
	}
	document, err := docService.Create(context.Background(), owner, "Doc")
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	return &fixture{
		documentID: documents.DocumentID(document.DocumentID),
		docService: docService,
		updateLog:  updateLogService,
		snapshots:  snapshots,
	}
}

func (f *fixture) newHub(testContext *testing.T, policy SnapshotPolicy) *Hub {
	testContext.Helper()
	return newHub(f.documentID, Config{
		UpdateLog: f.updateLog,
		Snapshots: f.snapshots,
		Policy:    policy,
		Clock:     time.Now,
	})
}

func TestJoinLoadsEmptyDocumentAndRegistersPeer(testContext *testing.T) {
	f := mustFixture(testContext)
	h := f.newHub(testContext, SnapshotPolicy{})

	state, err := f.docService.GetState(context.Background(), f.documentID)
	if err != nil {
		testContext.Fatalf("get_state failed: %v", err)
	}

	peer := NewPeer("peer-1", "user-1", "Alice", documents.RoleOwner)
	payload, err := h.Join(context.Background(), state, peer)
	if err != nil {
		testContext.Fatalf("join failed: %v", err)
	}
	if payload.SnapshotSeq != 0 {
		testContext.Fatalf("expected fresh document to have no snapshot, got seq %d", payload.SnapshotSeq)
	}
	if len(payload.Entries) != 0 {
		testContext.Fatalf("expected no tail entries for fresh document")
	}
	if peer.State != PeerJoined {
		testContext.Fatalf("expected peer to be joined, got %q", peer.State)
	}
}

func TestEditBroadcastsToOtherPeersNotSender(testContext *testing.T) {
	f := mustFixture(testContext)
	h := f.newHub(testContext, SnapshotPolicy{})
	state, _ := f.docService.GetState(context.Background(), f.documentID)

	peerA := NewPeer("peer-a", "user-a", "Alice", documents.RoleOwner)
	peerB := NewPeer("peer-b", "user-b", "Bob", documents.RoleEditor)
	if _, err := h.Join(context.Background(), state, peerA); err != nil {
		testContext.Fatalf("join a failed: %v", err)
	}
	if _, err := h.Join(context.Background(), state, peerB); err != nil {
		testContext.Fatalf("join b failed: %v", err)
	}

	// peer b's join asks peer a to republish presence; consume that first.
	select {
	case msg := <-peerA.Outbox:
		if msg.Type != MessagePresenceRequest {
			testContext.Fatalf("expected presence-request for peer a, got %+v", msg)
		}
	default:
		testContext.Fatalf("expected peer a to receive a presence-request")
	}

	seq, err := h.Edit(context.Background(), peerA, "AQID", nil)
	if err != nil {
		testContext.Fatalf("edit failed: %v", err)
	}
	if seq != 1 {
		testContext.Fatalf("expected seq 1, got %d", seq)
	}

	select {
	case msg := <-peerB.Outbox:
		if msg.Type != MessageUpdate || msg.Seq != 1 {
			testContext.Fatalf("unexpected message: %+v", msg)
		}
	default:
		testContext.Fatalf("expected peer b to receive the update")
	}

	select {
	case msg := <-peerA.Outbox:
		testContext.Fatalf("sender should not receive its own update, got %+v", msg)
	default:
	}
}

func TestEditRejectsViewerRole(testContext *testing.T) {
	f := mustFixture(testContext)
	h := f.newHub(testContext, SnapshotPolicy{})
	state, _ := f.docService.GetState(context.Background(), f.documentID)

	peer := NewPeer("peer-viewer", "user-viewer", "Viewer", documents.RoleViewer)
	if _, err := h.Join(context.Background(), state, peer); err != nil {
		testContext.Fatalf("join failed: %v", err)
	}

	_, err := h.Edit(context.Background(), peer, "AQID", nil)
	if err == nil {
		testContext.Fatalf("expected viewer edit to be rejected")
	}
}

func TestPresenceRelayIsNotPersistedAfterDisconnect(testContext *testing.T) {
	f := mustFixture(testContext)
	h := f.newHub(testContext, SnapshotPolicy{})
	state, _ := f.docService.GetState(context.Background(), f.documentID)

	peerA := NewPeer("peer-a", "user-a", "Alice", documents.RoleOwner)
	peerB := NewPeer("peer-b", "user-b", "Bob", documents.RoleEditor)
	h.Join(context.Background(), state, peerA)
	h.Join(context.Background(), state, peerB)

	h.Presence(peerA, "cursor-at-10")
	select {
	case msg := <-peerB.Outbox:
		if msg.Type != MessagePresence || msg.PresenceB64 != "cursor-at-10" {
			testContext.Fatalf("unexpected presence message: %+v", msg)
		}
	default:
		testContext.Fatalf("expected peer b to receive presence")
	}

	h.Leave(peerA.ID)
	h.Leave(peerB.ID)

	rejoined := NewPeer("peer-c", "user-c", "Carol", documents.RoleOwner)
	if _, err := h.Join(context.Background(), state, rejoined); err != nil {
		testContext.Fatalf("rejoin failed: %v", err)
	}
	if len(h.ActivePeerIDs()) != 1 {
		testContext.Fatalf("expected only the rejoined peer to be active")
	}
}

func TestSnapshotAndPruneRoundTrip(testContext *testing.T) {
	f := mustFixture(testContext)
	h := f.newHub(testContext, SnapshotPolicy{EveryNUpdates: 3, Prune: true, RetainCount: 2})
	state, _ := f.docService.GetState(context.Background(), f.documentID)

	peer := NewPeer("peer-a", "user-a", "Alice", documents.RoleOwner)
	if _, err := h.Join(context.Background(), state, peer); err != nil {
		testContext.Fatalf("join failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := h.Edit(context.Background(), peer, "AQID", func() { h.TakeSnapshot(context.Background()) }); err != nil {
			testContext.Fatalf("edit failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		updatedState, err := f.docService.GetState(context.Background(), f.documentID)
		if err != nil {
			testContext.Fatalf("get_state failed: %v", err)
		}
		if updatedState.LatestSnapshotSeq == 3 {
			entries, err := f.updateLog.Tail(context.Background(), f.documentID, 0)
			if err != nil {
				testContext.Fatalf("tail failed: %v", err)
			}
			if len(entries) != 0 {
				testContext.Fatalf("expected pruned tail to be empty after snapshot, got %d entries", len(entries))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	testContext.Fatalf("snapshot was not recorded within deadline")
}
