// Package gateway implements the Realtime Gateway component: the
// bidirectional websocket transport that carries the Hub's join,
// update, presence, and execute-result protocol to and from connected
// clients.
package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/auth"
	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/hub"
	"github.com/lattice-editor/server/internal/users"
	"go.uber.org/zap"
)

// Config describes the dependencies the gateway needs to authenticate
// a connection, authorize it against a document, and hand it to the
// right Hub.
type Config struct {
	Registry       *hub.Registry
	Documents      *documents.Service
	Users          *users.Service
	Verifier       auth.Verifier
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to websockets and joins each
// connection to the Hub for the document named in the request.
type Handler struct {
	registry  *hub.Registry
	documents *documents.Service
	users     *users.Service
	verifier  auth.Verifier
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler constructs a Handler from validated dependencies.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &Handler{
		registry:  cfg.Registry,
		documents: cfg.Documents,
		users:     cfg.Users,
		verifier:  cfg.Verifier,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// ServeHTTP authenticates the caller, authorizes them against the
// requested document, performs the Join protocol, and then hands the
// upgraded connection to its read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.verifier.Verify(ctx, bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.users.Upsert(claims)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	documentID, err := documents.NewDocumentID(r.URL.Query().Get("document_id"))
	if err != nil {
		http.Error(w, "document_id is required", http.StatusBadRequest)
		return
	}

	role, err := h.documents.RoleOf(ctx, userID, documentID)
	if err != nil {
		http.Error(w, "failed to resolve role", http.StatusInternalServerError)
		return
	}
	if role == documents.RoleNone {
		if shareToken := r.URL.Query().Get("share_token"); shareToken != "" {
			role, err = h.documents.ResolveShareLink(ctx, documentID, shareToken)
			if err != nil {
				http.Error(w, "failed to resolve share link", http.StatusInternalServerError)
				return
			}
		}
	}
	if role == documents.RoleNone {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	documentState, err := h.documents.GetState(ctx, documentID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperror.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, "document not found", status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	peer := hub.NewPeer(uuid.NewString(), userID.String(), displayName(claims), role)
	hubForDocument := h.registry.Get(documentID)

	initPayload, err := hubForDocument.Join(ctx, documentState, peer)
	if err != nil {
		_ = ws.WriteJSON(outboundMessage{Type: hub.MessageError, DocumentID: documentID.String(), Reason: err.Error()})
		_ = ws.Close()
		return
	}

	_ = ws.WriteJSON(outboundMessage{
		Type:       hub.MessageInit,
		DocumentID: documentID.String(),
		Seq:        initPayload.SnapshotSeq,
		UpdateB64:  initPayload.SnapshotB64,
		Peers:      initPayload.ExistingPeers,
	})
	for _, entry := range initPayload.Entries {
		_ = ws.WriteJSON(outboundMessage{Type: hub.MessageUpdate, DocumentID: documentID.String(), Seq: entry.Seq, UpdateB64: entry.UpdateB64})
	}
	_ = ws.WriteJSON(outboundMessage{Type: hub.MessageActivePeers, DocumentID: documentID.String(), Peers: initPayload.ExistingPeers})

	hubForDocument.Broadcast(hub.OutboundMessage{
		Type:       hub.MessagePeerJoined,
		DocumentID: documentID.String(),
		PeerID:     peer.ID,
		PeerName:   peer.Name,
	})

	conn := &connection{ws: ws, h: hubForDocument, peer: peer, documentID: documentID, logger: h.logger}
	conn.run()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func displayName(claims auth.Claims) string {
	if claims.Name != "" {
		return claims.Name
	}
	return claims.Email
}
