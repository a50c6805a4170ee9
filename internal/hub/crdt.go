package hub

import "bytes"

// State is the cached representation of a document's CRDT value. The
// server treats CRDT updates as opaque, commutative, idempotent blobs —
// actual conflict resolution is the responsibility of the client-side
// CRDT library, never reimplemented here. State exists only so the Hub
// can serve a joining peer its accumulated bytes without a full log
// replay on every join; correctness never depends on what Apply does
// internally, only on the Update Log being the durable source of truth.
type State interface {
	Apply(update []byte) error
	Encode() []byte
}

// opaqueState is the default State: it retains the ordered, concatenated
// update stream as its own encoding. A real deployment swaps this for
// the actual CRDT engine's native document type; the Hub only requires
// the two methods above.
type opaqueState struct {
	buf bytes.Buffer
}

// NewState constructs the default cached CRDT state.
func NewState() State {
	return &opaqueState{}
}

func (s *opaqueState) Apply(update []byte) error {
	s.buf.Write(update)
	return nil
}

func (s *opaqueState) Encode() []byte {
	return append([]byte(nil), s.buf.Bytes()...)
}
