package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/magidekt/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable username.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records users seen through session tokens and answers ownership lookups.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	known sync.Map
}

// NewService constructs the user service.
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

// Ensure creates the user named by the claims on first sight and refreshes its profile afterwards.
func (s *Service) Ensure(ctx context.Context, claims auth.SessionClaims) (User, error) {
	username := normalize(claims.Username)
	if username == "" {
		return User{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{
			Username:    username,
			DisplayName: normalize(claims.DisplayName),
			Email:       normalize(claims.Email),
			IsAdmin:     claims.IsAdmin,
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return User{}, err
		}
	case err != nil:
		return User{}, err
	default:
		updates := map[string]interface{}{
			"last_seen_at": s.now().UTC(),
		}
		if display := normalize(claims.DisplayName); display != "" && display != user.DisplayName {
			updates["display_name"] = display
			user.DisplayName = display
		}
		if email := normalize(claims.Email); email != "" && email != user.Email {
			updates["email"] = email
			user.Email = email
		}
		if claims.IsAdmin != user.IsAdmin {
			updates["is_admin"] = claims.IsAdmin
			user.IsAdmin = claims.IsAdmin
		}
		if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Updates(updates).Error; err != nil {
			return User{}, err
		}
	}

	s.known.Store(username, struct{}{})
	return user, nil
}

// Exists reports whether a user with the given username has been recorded.
// Positive answers are cached; users are never deleted.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	username = normalize(username)
	if username == "" {
		return false, nil
	}
	if _, ok := s.known.Load(username); ok {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	s.known.Store(username, struct{}{})
	return true, nil
}
