package documents

import (
	"context"
	"errors"
	"testing"

	"github.com/lattice-editor/server/internal/apperror"
)

func TestCreateAndListFolders(testContext *testing.T) {
	service := mustService(testContext)
	owner, err := NewUserID("user-1")
	if err != nil {
		testContext.Fatalf("new user id: %v", err)
	}

	if _, err := service.CreateFolder(context.Background(), owner, "Algorithms"); err != nil {
		testContext.Fatalf("create folder: %v", err)
	}

	folders, err := service.ListFolders(context.Background(), owner)
	if err != nil {
		testContext.Fatalf("list folders: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "Algorithms" {
		testContext.Fatalf("expected one folder named Algorithms, got %+v", folders)
	}
}

func TestCreateFolderRejectsEmptyName(testContext *testing.T) {
	service := mustService(testContext)
	owner, err := NewUserID("user-1")
	if err != nil {
		testContext.Fatalf("new user id: %v", err)
	}

	if _, err := service.CreateFolder(context.Background(), owner, ""); !errors.Is(err, apperror.ErrValidation) {
		testContext.Fatalf("expected a validation error, got %v", err)
	}
}

func TestAssignDocumentToFolder(testContext *testing.T) {
	service := mustService(testContext)
	owner, err := NewUserID("user-1")
	if err != nil {
		testContext.Fatalf("new user id: %v", err)
	}

	document, err := service.Create(context.Background(), owner, "My Doc")
	if err != nil {
		testContext.Fatalf("create document: %v", err)
	}
	folder, err := service.CreateFolder(context.Background(), owner, "Algorithms")
	if err != nil {
		testContext.Fatalf("create folder: %v", err)
	}

	documentID, err := NewDocumentID(document.DocumentID)
	if err != nil {
		testContext.Fatalf("new document id: %v", err)
	}
	if err := service.AssignDocumentToFolder(context.Background(), owner, documentID, folder.FolderID); err != nil {
		testContext.Fatalf("assign document to folder: %v", err)
	}
}

func TestAssignDocumentToFolderRejectsForeignFolder(testContext *testing.T) {
	service := mustService(testContext)
	owner, err := NewUserID("user-1")
	if err != nil {
		testContext.Fatalf("new user id: %v", err)
	}
	document, err := service.Create(context.Background(), owner, "My Doc")
	if err != nil {
		testContext.Fatalf("create document: %v", err)
	}
	documentID, err := NewDocumentID(document.DocumentID)
	if err != nil {
		testContext.Fatalf("new document id: %v", err)
	}

	if err := service.AssignDocumentToFolder(context.Background(), owner, documentID, "does-not-exist"); !errors.Is(err, apperror.ErrNotFound) {
		testContext.Fatalf("expected a not-found error, got %v", err)
	}
}
