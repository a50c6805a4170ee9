// Package updatelog implements the Update Log component: an append-only,
// per-document ordered log of CRDT update blobs with an atomic monotonic
// sequence counter held in the owning Document State row.
package updatelog

// Entry is a single durable update-log row.
type Entry struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null;index:idx_updates_doc_time,priority:1"`
	Seq              int64  `gorm:"column:seq;primaryKey;not null"`
	ActorUserID      string `gorm:"column:actor_user_id;size:190"`
	UpdateB64        string `gorm:"column:update_b64;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_updates_doc_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string { return "document_updates" }
