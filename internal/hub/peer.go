package hub

import "github.com/lattice-editor/server/internal/documents"

// PeerState is the per-peer state machine named in §4.6/§5:
// connecting → authorized → joined → (editing|idle)* → disconnected.
type PeerState string

const (
	PeerConnecting   PeerState = "connecting"
	PeerAuthorized   PeerState = "authorized"
	PeerJoined       PeerState = "joined"
	PeerEditing      PeerState = "editing"
	PeerIdle         PeerState = "idle"
	PeerDisconnected PeerState = "disconnected"
)

// OutboundMessage is a message the Hub wants delivered to one peer
// through the Realtime Gateway. The gateway owns actual transport; the
// Hub only ever writes into a peer's Outbox.
type OutboundMessage struct {
	Type       string
	DocumentID string
	Seq        int64
	UpdateB64  string
	PresenceB64 string
	PeerID     string
	PeerName   string
	Peers      []string
	Reason     string
}

const (
	MessageInit           = "init"
	MessageUpdate         = "update"
	MessagePresence       = "presence"
	MessagePresenceRequest = "presence-request"
	MessagePeerJoined     = "peer-joined"
	MessagePeerLeft       = "peer-left"
	MessageActivePeers    = "active-peers"
	MessageExecuteResult  = "execute-result"
	MessageError          = "error"
)

// outboxBuffer bounds how many undelivered messages a peer may
// accumulate before the Hub drops the newest rather than block the
// serialized per-document critical section on a slow consumer.
const outboxBuffer = 64

// Peer is a single connected peer's view inside a Hub.
type Peer struct {
	ID       string
	UserID   string
	Name     string
	Role     documents.Role
	State    PeerState
	Presence []byte
	Outbox   chan OutboundMessage
}

// NewPeer constructs a peer in the connecting state with a buffered
// outbox so the Hub's broadcast loop never blocks on one slow reader.
func NewPeer(id, userID, name string, role documents.Role) *Peer {
	return &Peer{
		ID:     id,
		UserID: userID,
		Name:   name,
		Role:   role,
		State:  PeerConnecting,
		Outbox: make(chan OutboundMessage, outboxBuffer),
	}
}

// deliver enqueues a message without blocking; if the peer's outbox is
// full the message is dropped and false is returned; the Hub's callers
// ignore the result, so a drop is not logged — dropping is preferable to
// stalling every other peer's broadcast.
func (p *Peer) deliver(message OutboundMessage) bool {
	select {
	case p.Outbox <- message:
		return true
	default:
		return false
	}
}
