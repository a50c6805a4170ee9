// Package documents implements the Document Store & Membership component:
// document and folder persistence, role resolution, and share-link
// issuance/resolution.
package documents

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	ErrInvalidUserID     = errors.New("documents: invalid user id")
	ErrInvalidTitle      = errors.New("documents: invalid title")
	ErrInvalidShareMode  = errors.New("documents: invalid share mode")
	ErrInvalidShareStatus = errors.New("documents: invalid share status")
	ErrInvalidRole       = errors.New("documents: invalid role")
)

// ShareStatus enumerates the publication state of a document.
type ShareStatus string

const (
	ShareStatusPrivate    ShareStatus = "private"
	ShareStatusRestricted ShareStatus = "restricted"
	ShareStatusPublicView ShareStatus = "public_view"
	ShareStatusPublicEdit ShareStatus = "public_edit"
)

// ShareMode is the role a freshly rotated share link grants.
type ShareMode string

const (
	ShareModeView ShareMode = "view"
	ShareModeEdit ShareMode = "edit"
)

// NewShareMode validates raw input and returns a ShareMode.
func NewShareMode(raw string) (ShareMode, error) {
	switch ShareMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ShareModeView:
		return ShareModeView, nil
	case ShareModeEdit:
		return ShareModeEdit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidShareMode, raw)
	}
}

func (m ShareMode) shareStatus() ShareStatus {
	if m == ShareModeEdit {
		return ShareStatusPublicEdit
	}
	return ShareStatusPublicView
}

// Role enumerates membership roles, ordered loosely by privilege.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

// CanRead reports whether the role may read document state.
func (r Role) CanRead() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// CanEdit reports whether the role may append updates.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// DocumentID is a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(raw string) (DocumentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

func (id DocumentID) String() string { return string(id) }

// UserID is a validated user identifier, mirroring the shape used across
// every component that addresses a user.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

func (id UserID) String() string { return string(id) }

// Document is the persisted document row.
type Document struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:512;not null"`
	OwnerUserID      string `gorm:"column:owner_user_id;size:190;not null;index:idx_documents_owner"`
	ShareStatus      string `gorm:"column:share_status;size:32;not null;default:'private'"`
	ShareLinkHash    string `gorm:"column:share_link_hash;size:64"`
	Archived         bool   `gorm:"column:archived;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string { return "documents" }

// Membership is the (document, user) -> role row.
type Membership struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null;index:idx_members_user,priority:2"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_members_user,priority:1"`
	Role             string `gorm:"column:role;size:16;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string { return "document_members" }

// DocumentState is the per-document control record mutated by the Update
// Log and Snapshot Store under transactional guards.
type DocumentState struct {
	DocumentID        string `gorm:"column:document_id;primaryKey;size:190;not null"`
	LatestSnapshotSeq int64  `gorm:"column:latest_snapshot_seq;not null;default:0"`
	LatestSnapshotKey string `gorm:"column:latest_snapshot_key"`
	LatestUpdateSeq   int64  `gorm:"column:latest_update_seq;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentState) TableName() string { return "document_state" }

// Folder is a flat, non-nested organizational grouping of documents.
type Folder struct {
	FolderID         string `gorm:"column:folder_id;primaryKey;size:190;not null"`
	OwnerUserID      string `gorm:"column:owner_user_id;size:190;not null;index:idx_folders_owner"`
	Name             string `gorm:"column:name;size:256;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string { return "folders" }

// DocumentFolder is the (document, folder) membership join row.
type DocumentFolder struct {
	DocumentID string `gorm:"column:document_id;primaryKey;size:190;not null"`
	FolderID   string `gorm:"column:folder_id;primaryKey;size:190;not null;index:idx_doc_folders_folder"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentFolder) TableName() string { return "document_folders" }
