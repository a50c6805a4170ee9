package documents

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/idgen"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// shareTokenBytes is sized so the resulting base64 token carries at least
// 144 bits of entropy, per spec §4.3.
const shareTokenBytes = 18

var errMissingDatabase = errors.New("documents: database handle is required")

// ServiceConfig describes the dependencies required to construct a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider idgen.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements the Document Store & Membership component.
type Service struct {
	db         *gorm.DB
	idProvider idgen.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs a Service from validated dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = idgen.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, idProvider: idProvider, clock: clock, logger: logger}, nil
}

// DocumentSummary is the list_for projection: enough to render a document
// list without loading membership or state separately.
type DocumentSummary struct {
	Document Document
	Role     Role
}

// ListFor returns the documents the user owns or is a member of, excluding
// archived documents, newest-first.
func (s *Service) ListFor(ctx context.Context, userID UserID) ([]DocumentSummary, error) {
	var memberships []Membership
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Find(&memberships).Error; err != nil {
		return nil, apperror.Transient("failed to list memberships")
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	roleByDocument := make(map[string]Role, len(memberships))
	documentIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		roleByDocument[m.DocumentID] = Role(m.Role)
		documentIDs = append(documentIDs, m.DocumentID)
	}

	var rows []Document
	if err := s.db.WithContext(ctx).
		Where("document_id IN ? AND archived = ?", documentIDs, false).
		Order("updated_at_s DESC").
		Find(&rows).Error; err != nil {
		return nil, apperror.Transient("failed to list documents")
	}

	summaries := make([]DocumentSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, DocumentSummary{Document: row, Role: roleByDocument[row.DocumentID]})
	}
	return summaries, nil
}

// Create atomically creates a document, its document-state row, and the
// owner's membership row. It takes no initial content: Create only
// establishes the document shell the Update Log writes into, and any
// initial content is appended as sequence 1 by the caller in a separate
// Update Log call, outside this transaction.
func (s *Service) Create(ctx context.Context, owner UserID, title string) (Document, error) {
	if title == "" {
		return Document{}, apperror.ValidationFailed("title", "title is required")
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, apperror.Internal("failed to generate document id")
	}

	now := s.clock().UTC().Unix()
	document := Document{
		DocumentID:       documentID,
		Title:            title,
		OwnerUserID:      owner.String(),
		ShareStatus:      string(ShareStatusPrivate),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			return err
		}
		state := DocumentState{DocumentID: documentID}
		if err := tx.Create(&state).Error; err != nil {
			return err
		}
		membership := Membership{
			DocumentID:       documentID,
			UserID:           owner.String(),
			Role:             string(RoleOwner),
			CreatedAtSeconds: now,
		}
		return tx.Create(&membership).Error
	})
	if txErr != nil {
		s.logger.Error("failed to create document", zap.Error(txErr), zap.String("owner_user_id", owner.String()))
		return Document{}, apperror.Internal("failed to create document")
	}

	return document, nil
}

// RoleOf returns the caller's role for the document, or RoleNone.
func (s *Service) RoleOf(ctx context.Context, userID UserID, documentID DocumentID) (Role, error) {
	var membership Membership
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID.String(), userID.String()).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, apperror.Transient("failed to resolve role")
	}
	return Role(membership.Role), nil
}

// GetState loads a document's control record, used by the Hub's Load
// protocol to learn the latest snapshot pointer before replaying.
func (s *Service) GetState(ctx context.Context, documentID DocumentID) (DocumentState, error) {
	var state DocumentState
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID.String()).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentState{}, apperror.NotFound("document", documentID.String())
	}
	if err != nil {
		return DocumentState{}, apperror.Transient("failed to load document state")
	}
	return state, nil
}

// RotateShareLink generates a fresh high-entropy token, stores only its
// hash plus the corresponding share status, and returns the token exactly
// once. Any previously active token stops authorizing access immediately
// because it is overwritten in the same row, not appended alongside it.
func (s *Service) RotateShareLink(ctx context.Context, owner UserID, documentID DocumentID, mode ShareMode) (string, error) {
	tokenBytes := make([]byte, shareTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", apperror.Internal("failed to generate share token")
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)
	hash := hashShareToken(token)

	now := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Document{}).
		Where("document_id = ? AND owner_user_id = ?", documentID.String(), owner.String()).
		Updates(map[string]interface{}{
			"share_link_hash": hash,
			"share_status":    string(mode.shareStatus()),
			"updated_at_s":    now,
		})
	if result.Error != nil {
		return "", apperror.Transient("failed to rotate share link")
	}
	if result.RowsAffected == 0 {
		return "", apperror.Forbidden("only the owner may rotate the share link")
	}

	return token, nil
}

// ResolveShareLink compares the presented token's hash against the stored
// hash in constant time and returns the role the active share status
// grants, or RoleNone if the token does not match.
func (s *Service) ResolveShareLink(ctx context.Context, documentID DocumentID, presentedToken string) (Role, error) {
	if presentedToken == "" {
		return RoleNone, nil
	}

	var document Document
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID.String()).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, apperror.Transient("failed to resolve share link")
	}
	if document.ShareLinkHash == "" {
		return RoleNone, nil
	}

	presentedHash := hashShareToken(presentedToken)
	if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(document.ShareLinkHash)) != 1 {
		return RoleNone, nil
	}

	switch ShareStatus(document.ShareStatus) {
	case ShareStatusPublicEdit:
		return RoleEditor, nil
	case ShareStatusPublicView, ShareStatusRestricted:
		return RoleViewer, nil
	default:
		return RoleNone, nil
	}
}

func hashShareToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
