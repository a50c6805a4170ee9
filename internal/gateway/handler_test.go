package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lattice-editor/server/internal/auth"
	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/hub"
	"github.com/lattice-editor/server/internal/snapshotstore"
	"github.com/lattice-editor/server/internal/updatelog"
	"github.com/lattice-editor/server/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubVerifier struct {
	subject string
}

func (s stubVerifier) Verify(ctx context.Context, rawToken string) (auth.Claims, error) {
	return auth.Claims{Subject: rawToken, Email: rawToken + "@example.com", Name: rawToken}, nil
}

func mustTestServer(testContext *testing.T) (*httptest.Server, documents.DocumentID, *documents.Service) {
	testContext.Helper()

	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(&documents.Document{}, &documents.Membership{}, &documents.DocumentState{}, &updatelog.Entry{}, &users.Identity{}); err != nil {
		testContext.Fatalf("migrate: %v", err)
	}
	if err := snapshotstore.AutoMigrate(database); err != nil {
		testContext.Fatalf("migrate snapshot store: %v", err)
	}

	docService, err := documents.NewService(documents.ServiceConfig{Database: database, Clock: time.Now})
	if err != nil {
		testContext.Fatalf("documents service: %v", err)
	}
	updateLogService, err := updatelog.NewService(updatelog.ServiceConfig{Database: database, Clock: time.Now})
	if err != nil {
		testContext.Fatalf("update log service: %v", err)
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: database, Clock: time.Now})
	if err != nil {
		testContext.Fatalf("users service: %v", err)
	}
	snapshots := snapshotstore.NewDBStore(database, nil)

	ownerID, err := documents.NewUserID("owner-1")
	if err != nil {
		testContext.Fatalf("user id: %v", err)
	}
	document, err := docService.Create(context.Background(), ownerID, "Doc")
	if err != nil {
		testContext.Fatalf("create document: %v", err)
	}
	documentID := documents.DocumentID(document.DocumentID)

	registry := hub.NewRegistry(hub.Config{UpdateLog: updateLogService, Snapshots: snapshots}, 0)
	testContext.Cleanup(registry.Stop)

	handler := NewHandler(Config{
		Registry:  registry,
		Documents: docService,
		Users:     usersService,
		Verifier:  stubVerifier{},
	})

	server := httptest.NewServer(handler)
	testContext.Cleanup(server.Close)
	return server, documentID, docService
}

func dial(testContext *testing.T, server *httptest.Server, documentID documents.DocumentID, token string) *websocket.Conn {
	testContext.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?document_id=" + documentID.String()
	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer " + token}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		testContext.Fatalf("dial: %v", err)
	}
	testContext.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandlerRejectsNonMember(testContext *testing.T) {
	server, documentID, _ := mustTestServer(testContext)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?document_id=" + documentID.String()
	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer stranger"}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		testContext.Fatal("expected dial to fail for a non-member")
	}
	if resp == nil || resp.StatusCode != 403 {
		testContext.Fatalf("expected 403, got %#v", resp)
	}
}

func TestHandlerAcceptsValidShareToken(testContext *testing.T) {
	server, documentID, docService := mustTestServer(testContext)
	ownerID, err := documents.NewUserID("owner-1")
	if err != nil {
		testContext.Fatalf("user id: %v", err)
	}
	token, err := docService.RotateShareLink(context.Background(), ownerID, documentID, documents.ShareModeView)
	if err != nil {
		testContext.Fatalf("rotate share link: %v", err)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?document_id=" + documentID.String() + "&share_token=" + token
	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer stranger"}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		testContext.Fatalf("expected dial to succeed for a valid share token, got %v", err)
	}
	testContext.Cleanup(func() { _ = conn.Close() })

	var msg outboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		testContext.Fatalf("read init: %v", err)
	}
	if msg.Type != hub.MessageInit {
		testContext.Fatalf("expected init frame, got %q", msg.Type)
	}
}

func TestHandlerRejectsInvalidShareToken(testContext *testing.T) {
	server, documentID, _ := mustTestServer(testContext)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?document_id=" + documentID.String() + "&share_token=not-a-real-token"
	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer stranger"}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		testContext.Fatal("expected dial to fail for an invalid share token")
	}
	if resp == nil || resp.StatusCode != 403 {
		testContext.Fatalf("expected 403, got %#v", resp)
	}
}

func TestHandlerJoinSendsInitFrame(testContext *testing.T) {
	server, documentID, _ := mustTestServer(testContext)
	conn := dial(testContext, server, documentID, "owner-1")

	var msg outboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		testContext.Fatalf("read init: %v", err)
	}
	if msg.Type != hub.MessageInit {
		testContext.Fatalf("expected init frame, got %q", msg.Type)
	}
}

func TestHandlerRelaysUpdateBetweenPeers(testContext *testing.T) {
	server, documentID, _ := mustTestServer(testContext)

	first := dial(testContext, server, documentID, "owner-1")
	drainInitFrames(testContext, first)

	second := dial(testContext, server, documentID, "owner-1")
	drainInitFrames(testContext, second)

	if err := first.WriteJSON(inboundMessage{Type: ActionUpdate, UpdateB64: "aGVsbG8="}); err != nil {
		testContext.Fatalf("write update: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = second.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		var msg outboundMessage
		if err := second.ReadJSON(&msg); err != nil {
			continue
		}
		if msg.Type == hub.MessageUpdate && msg.UpdateB64 == "aGVsbG8=" {
			return
		}
	}
	testContext.Fatal("update was never relayed to the other peer")
}

func drainInitFrames(testContext *testing.T, conn *websocket.Conn) {
	testContext.Helper()
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var msg outboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			testContext.Fatalf("drain init frame %d: %v", i, err)
		}
	}
}
