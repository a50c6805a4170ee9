package hub

import (
	"sync"
	"time"

	"github.com/lattice-editor/server/internal/documents"
	"go.uber.org/zap"
)

// Registry is the process-global Hub lookup table. It is guarded by a
// short-lived lock during lookup/insert only — once a Hub reference is
// obtained, the Registry is never touched again for that operation, so
// the locking discipline per-document > per-connection > global
// registry never requires holding a per-document lock while waiting on
// the registry.
type Registry struct {
	cfg Config

	mu   sync.Mutex
	hubs map[string]*Hub

	idleWindow time.Duration
	clock      func() time.Time
	lastActive map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry constructs a Registry and starts its idle-eviction sweep.
func NewRegistry(cfg Config, idleWindow time.Duration) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Registry{
		cfg:        cfg,
		hubs:       make(map[string]*Hub),
		idleWindow: idleWindow,
		clock:      clock,
		lastActive: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
	if idleWindow > 0 {
		go r.evictLoop()
	}
	return r
}

// Get returns the Hub for a document, creating it (unloaded) if absent.
func (r *Registry) Get(documentID documents.DocumentID) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := documentID.String()
	h, ok := r.hubs[key]
	if !ok {
		h = newHub(documentID, r.cfg)
		r.hubs[key] = h
	}
	r.lastActive[key] = r.clock()
	return h
}

// Stop halts the idle-eviction sweep. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// evictLoop periodically removes Hubs with an empty peer set that have
// been idle for at least idleWindow. Eviction is correctness-neutral:
// state is fully reconstructable from Update Log and Snapshot Store on
// the next Get.
func (r *Registry) evictLoop() {
	ticker := time.NewTicker(r.idleWindow)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, h := range r.hubs {
		if h.PeerCount() > 0 {
			r.lastActive[key] = now
			continue
		}
		if now.Sub(r.lastActive[key]) >= r.idleWindow {
			delete(r.hubs, key)
			delete(r.lastActive, key)
			r.cfg.Logger.Debug("evicted idle hub", zap.String("document_id", key))
		}
	}
}
