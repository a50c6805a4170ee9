// Package hub implements the per-document in-memory coordinator: the
// heart of the realtime collaboration system. Each Hub owns exclusive,
// serialized access to one document's cached CRDT state, connected
// peers, and snapshot-trigger bookkeeping. Connections never hold a
// reference into a Hub's internals — they address it only by document
// id through the Registry, and every Hub operation that mutates shared
// state takes the Hub's own mutex, so load, append+broadcast, and
// snapshot_mark for a single document can never interleave.
package hub

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/snapshotstore"
	"github.com/lattice-editor/server/internal/updatelog"
	"go.uber.org/zap"
)

// SnapshotPolicy configures when an edit should trigger an asynchronous
// snapshot upload.
type SnapshotPolicy struct {
	EveryNUpdates int
	EveryInterval time.Duration
	Prune         bool
	RetainCount   int
}

// Config describes the dependencies a Hub needs; one Config is shared
// across all Hubs in a Registry.
type Config struct {
	UpdateLog *updatelog.Service
	Snapshots snapshotstore.Store
	Policy    SnapshotPolicy
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Hub coordinates one document's realtime state.
type Hub struct {
	documentID documents.DocumentID
	updateLog  *updatelog.Service
	snapshots  snapshotstore.Store
	policy     SnapshotPolicy
	clock      func() time.Time
	logger     *zap.Logger

	mu              sync.Mutex
	loaded          bool
	loadErr         error
	state           State
	highestApplied  int64
	lastSnapshotSeq int64
	lastSnapshotAt  time.Time
	pendingUpdates  int
	peers           map[string]*Peer
}

// newHub constructs an unloaded Hub for a document. Load happens lazily
// on first access, inside the same mutex that serializes every other
// Hub operation, which is what gives "concurrent joins trigger exactly
// one load" for free: whoever acquires the mutex first performs the
// load while everyone else blocks on the lock, not on a separate
// single-flight primitive.
func newHub(documentID documents.DocumentID, cfg Config) *Hub {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		documentID: documentID,
		updateLog:  cfg.UpdateLog,
		snapshots:  cfg.Snapshots,
		policy:     cfg.Policy,
		clock:      clock,
		logger:     logger,
		peers:      make(map[string]*Peer),
	}
}

// DocumentID returns the document this Hub coordinates.
func (h *Hub) DocumentID() documents.DocumentID { return h.documentID }

// ensureLoaded runs the Load protocol (§4.6) exactly once per Hub
// lifetime, unless loading previously failed, in which case the next
// caller retries.
func (h *Hub) ensureLoaded(ctx context.Context, documentState documents.DocumentState) error {
	if h.loaded {
		return nil
	}

	h.state = NewState()
	h.highestApplied = 0

	if documentState.LatestSnapshotKey != "" {
		snapshotBytes, err := h.snapshots.Get(ctx, documentState.LatestSnapshotKey)
		switch {
		case err == nil:
			if applyErr := h.state.Apply(snapshotBytes); applyErr != nil {
				h.logger.Warn("failed to apply snapshot to cache", zap.Error(applyErr), zap.String("document_id", h.documentID.String()))
			}
			h.highestApplied = documentState.LatestSnapshotSeq
			h.lastSnapshotSeq = documentState.LatestSnapshotSeq
		default:
			if !errors.Is(err, snapshotstore.ErrNotFound) {
				h.logger.Warn("failed to fetch snapshot, falling back to full replay", zap.Error(err), zap.String("document_id", h.documentID.String()))
			}
			entries, tailErr := h.updateLog.Tail(ctx, h.documentID, 0)
			if tailErr != nil {
				return apperror.Transient("failed to replay update log")
			}
			if hasGapBeforeSnapshot(entries, documentState.LatestSnapshotSeq) {
				return apperror.InconsistentState("snapshot unreadable and log pruned before its sequence")
			}
		}
	}

	entries, err := h.updateLog.Tail(ctx, h.documentID, h.highestApplied)
	if err != nil {
		return apperror.Transient("failed to replay update log")
	}
	for _, entry := range entries {
		raw, decodeErr := base64.StdEncoding.DecodeString(entry.UpdateB64)
		if decodeErr != nil {
			h.logger.Warn("skipping malformed update log entry", zap.String("document_id", h.documentID.String()), zap.Int64("seq", entry.Seq))
			continue
		}
		if applyErr := h.state.Apply(raw); applyErr != nil {
			h.logger.Warn("failed to apply update log entry to cache", zap.Error(applyErr), zap.String("document_id", h.documentID.String()), zap.Int64("seq", entry.Seq))
		}
		h.highestApplied = entry.Seq
	}

	h.loaded = true
	return nil
}

// hasGapBeforeSnapshot reports whether the tail, read from sequence 0,
// is missing entries that a snapshot at snapshotSeq implies should
// exist — i.e. pruning already happened and the snapshot itself is
// unreadable, the InconsistentState case from §4.6 step 5.
func hasGapBeforeSnapshot(entries []updatelog.Entry, snapshotSeq int64) bool {
	if snapshotSeq == 0 {
		return false
	}
	if len(entries) == 0 {
		return true
	}
	return entries[0].Seq > 1
}

// Join runs the Init protocol: ensures the Hub is loaded, registers the
// peer, and returns the payload the gateway should send as `init`, plus
// the set of already-connected peers that should be asked to republish
// presence.
type InitPayload struct {
	SnapshotB64   string
	SnapshotSeq   int64
	Entries       []updatelog.Entry
	ExistingPeers []string
}

func (h *Hub) Join(ctx context.Context, documentState documents.DocumentState, peer *Peer) (InitPayload, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureLoaded(ctx, documentState); err != nil {
		return InitPayload{}, err
	}

	entries, err := h.updateLog.Tail(ctx, h.documentID, h.lastSnapshotSeq)
	if err != nil {
		return InitPayload{}, apperror.Transient("failed to load update tail for joining peer")
	}

	payload := InitPayload{SnapshotSeq: h.lastSnapshotSeq, Entries: entries}
	if h.lastSnapshotSeq > 0 {
		payload.SnapshotB64 = base64.StdEncoding.EncodeToString(h.state.Encode())
	}

	for existingID := range h.peers {
		payload.ExistingPeers = append(payload.ExistingPeers, existingID)
	}

	peer.State = PeerJoined
	h.peers[peer.ID] = peer

	for existingID, existing := range h.peers {
		if existingID == peer.ID {
			continue
		}
		existing.deliver(OutboundMessage{Type: MessagePresenceRequest, DocumentID: h.documentID.String()})
	}

	return payload, nil
}

// Leave removes a peer from the Hub and notifies the remaining peers.
// It never blocks on durable state: disconnect is correctness-neutral.
func (h *Hub) Leave(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peer, ok := h.peers[peerID]
	if !ok {
		return
	}
	peer.State = PeerDisconnected
	delete(h.peers, peerID)

	for _, other := range h.peers {
		other.deliver(OutboundMessage{Type: MessagePeerLeft, DocumentID: h.documentID.String(), PeerID: peerID})
	}
}

// PeerCount reports the number of connected peers, used by the Registry
// for idle eviction.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Edit runs the Edit protocol: authorizes, appends durably, applies to
// cache best-effort, broadcasts, and triggers a snapshot if policy
// fires. snapshotFn is invoked outside the Hub's lock once the decision
// to snapshot has been made, because encoding and uploading large state
// must never hold up the next edit.
func (h *Hub) Edit(ctx context.Context, peer *Peer, updateB64 string, snapshotFn func()) (int64, error) {
	if !peer.Role.CanEdit() {
		return 0, apperror.Forbidden("peer role does not permit edits")
	}

	h.mu.Lock()
	seq, shouldSnapshot, err := h.applyEditLocked(ctx, peer, updateB64)
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if shouldSnapshot && snapshotFn != nil {
		go snapshotFn()
	}
	return seq, nil
}

func (h *Hub) applyEditLocked(ctx context.Context, peer *Peer, updateB64 string) (int64, bool, error) {
	seq, err := h.updateLog.Append(ctx, h.documentID, peer.UserID, updateB64)
	if err != nil {
		return 0, false, err
	}

	if raw, decodeErr := base64.StdEncoding.DecodeString(updateB64); decodeErr == nil {
		if applyErr := h.state.Apply(raw); applyErr != nil {
			h.logger.Warn("failed to apply edit to cache", zap.Error(applyErr), zap.String("document_id", h.documentID.String()))
		}
	}
	h.highestApplied = seq
	h.pendingUpdates++

	for id, other := range h.peers {
		if id == peer.ID {
			continue
		}
		other.deliver(OutboundMessage{Type: MessageUpdate, DocumentID: h.documentID.String(), Seq: seq, UpdateB64: updateB64})
	}

	shouldSnapshot := false
	if h.policy.EveryNUpdates > 0 && h.pendingUpdates >= h.policy.EveryNUpdates {
		shouldSnapshot = true
	}
	if h.policy.EveryInterval > 0 && h.clock().Sub(h.lastSnapshotAt) >= h.policy.EveryInterval && h.pendingUpdates > 0 {
		shouldSnapshot = true
	}
	return seq, shouldSnapshot, nil
}

// TakeSnapshot encodes the cached state, uploads it, advances the
// snapshot pointer, and resets the pending-updates counter. Failures
// are logged and leave counters unchanged so the next trigger retries.
func (h *Hub) TakeSnapshot(ctx context.Context) {
	h.mu.Lock()
	seq := h.highestApplied
	encoded := h.state.Encode()
	h.mu.Unlock()

	if seq == 0 {
		return
	}

	key, err := h.snapshots.Put(ctx, h.documentID.String(), seq, encoded)
	if err != nil {
		h.logger.Warn("snapshot upload failed, will retry on next trigger", zap.Error(err), zap.String("document_id", h.documentID.String()))
		return
	}

	h.mu.Lock()
	if err := h.updateLog.SnapshotMark(ctx, h.documentID, seq, key, h.policy.Prune); err != nil {
		h.mu.Unlock()
		h.logger.Warn("snapshot_mark failed, will retry on next trigger", zap.Error(err), zap.String("document_id", h.documentID.String()))
		return
	}
	h.lastSnapshotSeq = seq
	h.lastSnapshotAt = h.clock()
	h.pendingUpdates = 0
	h.mu.Unlock()

	if h.policy.RetainCount > 0 {
		if err := h.snapshots.Prune(ctx, h.documentID.String(), h.policy.RetainCount); err != nil {
			h.logger.Warn("snapshot retention prune failed", zap.Error(err), zap.String("document_id", h.documentID.String()))
		}
	}
}

// Presence relays an opaque presence blob to every other connected
// peer. The Hub never persists presence and never inspects its
// contents — the payload's schema belongs entirely to the client's
// CRDT awareness layer.
func (h *Hub) Presence(peer *Peer, presenceB64 string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peer.Presence = []byte(presenceB64)
	for id, other := range h.peers {
		if id == peer.ID {
			continue
		}
		other.deliver(OutboundMessage{Type: MessagePresence, DocumentID: h.documentID.String(), PeerID: peer.ID, PresenceB64: presenceB64})
	}
}

// ActivePeerIDs returns the currently connected peer ids.
func (h *Hub) ActivePeerIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast delivers an arbitrary message (e.g. an execution result) to
// every connected peer, used by the Execution Queue once a job
// targeting this document completes.
func (h *Hub) Broadcast(message OutboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, peer := range h.peers {
		peer.deliver(message)
	}
}
