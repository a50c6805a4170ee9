package documents

import (
	"context"

	"github.com/lattice-editor/server/internal/apperror"
	"gorm.io/gorm"
)

// ListFolders returns the caller's folders.
func (s *Service) ListFolders(ctx context.Context, owner UserID) ([]Folder, error) {
	var folders []Folder
	if err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", owner.String()).
		Order("created_at_s DESC").
		Find(&folders).Error; err != nil {
		return nil, apperror.Transient("failed to list folders")
	}
	return folders, nil
}

// CreateFolder creates a new, flat (non-nested) folder for the owner.
func (s *Service) CreateFolder(ctx context.Context, owner UserID, name string) (Folder, error) {
	if name == "" {
		return Folder{}, apperror.ValidationFailed("name", "name is required")
	}

	folderID, err := s.idProvider.NewID()
	if err != nil {
		return Folder{}, apperror.Internal("failed to generate folder id")
	}

	folder := Folder{
		FolderID:         folderID,
		OwnerUserID:      owner.String(),
		Name:             name,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&folder).Error; err != nil {
		return Folder{}, apperror.Internal("failed to create folder")
	}
	return folder, nil
}

// AssignDocumentToFolder links a document to a folder the caller owns.
func (s *Service) AssignDocumentToFolder(ctx context.Context, owner UserID, documentID DocumentID, folderID string) error {
	var folder Folder
	err := s.db.WithContext(ctx).
		Where("folder_id = ? AND owner_user_id = ?", folderID, owner.String()).
		Take(&folder).Error
	if err == gorm.ErrRecordNotFound {
		return apperror.NotFound("folder", folderID)
	}
	if err != nil {
		return apperror.Transient("failed to load folder")
	}

	link := DocumentFolder{DocumentID: documentID.String(), FolderID: folderID}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return apperror.Internal("failed to assign document to folder")
	}
	return nil
}
