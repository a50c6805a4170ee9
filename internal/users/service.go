package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-editor/server/internal/auth"
	"github.com/lattice-editor/server/internal/documents"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable subject.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves externally verified claims to this server's internal
// user id, upserting a cached profile on every successful verification.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Upsert resolves the internal user id for the subject in claims,
// creating an identity record on first sight and refreshing cached
// profile fields (email, display name, avatar) on every call.
func (s *Service) Upsert(claims auth.Claims) (documents.UserID, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	if cached, ok := s.cache.Load(subject); ok {
		if userID, ok := cached.(documents.UserID); ok {
			s.touch(subject, claims)
			return userID, nil
		}
	}

	var identity Identity
	err := s.db.Where("subject = ?", subject).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			AvatarURL:   normalize(claims.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		s.applyProfileUpdates(subject, identity, claims)
	}

	userID, err := documents.NewUserID(identity.UserID)
	if err != nil {
		return "", err
	}
	s.cache.Store(subject, userID)
	return userID, nil
}

func (s *Service) touch(subject string, claims auth.Claims) {
	s.applyProfileUpdates(subject, Identity{}, claims)
}

func (s *Service) applyProfileUpdates(subject string, current Identity, claims auth.Claims) {
	updates := map[string]interface{}{}
	if email := normalize(claims.Email); email != "" && email != current.Email {
		updates["user_email"] = email
	}
	if display := normalize(claims.Name); display != "" && display != current.DisplayName {
		updates["user_display_name"] = display
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != current.AvatarURL {
		updates["user_avatar_url"] = avatar
	}
	updates["last_seen_at"] = s.now()
	_ = s.db.Model(&Identity{}).Where("subject = ?", subject).Updates(updates).Error
}

// Get returns the stored identity for the given internal user id, or
// ErrInvalidIdentity when none exists.
func (s *Service) Get(userID documents.UserID) (Identity, error) {
	var identity Identity
	err := s.db.Where("user_id = ?", userID.String()).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrInvalidIdentity
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}
