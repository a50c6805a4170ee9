package documents

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustService(testContext *testing.T) *Service {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := database.AutoMigrate(&Document{}, &Membership{}, &DocumentState{}, &Folder{}, &DocumentFolder{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: database, Clock: time.Now})
	if err != nil {
		testContext.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestCreateEstablishesOwnerMembershipAndState(testContext *testing.T) {
	service := mustService(testContext)
	owner, err := NewUserID("user-1")
	if err != nil {
		testContext.Fatalf("invalid user id: %v", err)
	}

	document, err := service.Create(context.Background(), owner, "My Document")
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	role, err := service.RoleOf(context.Background(), owner, DocumentID(document.DocumentID))
	if err != nil {
		testContext.Fatalf("role_of failed: %v", err)
	}
	if role != RoleOwner {
		testContext.Fatalf("expected owner role, got %q", role)
	}

	state, err := service.GetState(context.Background(), DocumentID(document.DocumentID))
	if err != nil {
		testContext.Fatalf("get_state failed: %v", err)
	}
	if state.LatestUpdateSeq != 0 {
		testContext.Fatalf("expected fresh document state, got seq %d", state.LatestUpdateSeq)
	}
}

func TestRoleOfReturnsNoneForStranger(testContext *testing.T) {
	service := mustService(testContext)
	owner, _ := NewUserID("user-owner")
	stranger, _ := NewUserID("user-stranger")

	document, err := service.Create(context.Background(), owner, "Doc")
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	role, err := service.RoleOf(context.Background(), stranger, DocumentID(document.DocumentID))
	if err != nil {
		testContext.Fatalf("role_of failed: %v", err)
	}
	if role != RoleNone {
		testContext.Fatalf("expected none role for stranger, got %q", role)
	}
}

func TestShareLinkRotationInvalidatesPreviousToken(testContext *testing.T) {
	service := mustService(testContext)
	owner, _ := NewUserID("user-owner")

	document, err := service.Create(context.Background(), owner, "Doc")
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}
	documentID := DocumentID(document.DocumentID)

	firstToken, err := service.RotateShareLink(context.Background(), owner, documentID, ShareModeView)
	if err != nil {
		testContext.Fatalf("first rotation failed: %v", err)
	}
	secondToken, err := service.RotateShareLink(context.Background(), owner, documentID, ShareModeEdit)
	if err != nil {
		testContext.Fatalf("second rotation failed: %v", err)
	}

	roleFromFirst, err := service.ResolveShareLink(context.Background(), documentID, firstToken)
	if err != nil {
		testContext.Fatalf("resolve failed: %v", err)
	}
	if roleFromFirst != RoleNone {
		testContext.Fatalf("expected first token to be invalidated, got role %q", roleFromFirst)
	}

	roleFromSecond, err := service.ResolveShareLink(context.Background(), documentID, secondToken)
	if err != nil {
		testContext.Fatalf("resolve failed: %v", err)
	}
	if roleFromSecond != RoleEditor {
		testContext.Fatalf("expected editor role from current token, got %q", roleFromSecond)
	}
}

func TestRotateShareLinkRejectsNonOwner(testContext *testing.T) {
	service := mustService(testContext)
	owner, _ := NewUserID("user-owner")
	intruder, _ := NewUserID("user-intruder")

	document, err := service.Create(context.Background(), owner, "Doc")
	if err != nil {
		testContext.Fatalf("create failed: %v", err)
	}

	_, err = service.RotateShareLink(context.Background(), intruder, DocumentID(document.DocumentID), ShareModeView)
	if err == nil {
		testContext.Fatalf("expected rotation by non-owner to fail")
	}
}
