// Package auth implements the demo dashboard login.
//
// The credential pair is fixed and the marker lives in a key-value store the
// caller provides. This is not a security boundary.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// UserKey is the storage key holding the logged-in user.
const UserKey = "finsentinal_user"

// RoleAdmin grants access to the results dashboard.
const RoleAdmin = "admin"

const (
	demoUsername = "admin"
	demoPassword = "password123"
)

// ErrInvalidCredentials is returned by Login for any other username/password pair.
var ErrInvalidCredentials = errors.New("invalid username or password")

// User is the stored login marker.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Session reads and writes the login marker in one storage scope.
type Session struct {
	store domain.KeyValueStore
	ttl   time.Duration
}

// NewSession binds a session to store. The marker expires after ttl;
// zero defers to the store's default.
func NewSession(store domain.KeyValueStore, ttl time.Duration) *Session {
	return &Session{store: store, ttl: ttl}
}

// Login stores the admin marker when the credentials match.
// Nothing is written on failure.
func (s *Session) Login(ctx context.Context, username, password string) (*User, error) {
	if username != demoUsername || password != demoPassword {
		return nil, ErrInvalidCredentials
	}

	user := &User{Username: username, Role: RoleAdmin}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.store.Set(ctx, UserKey, data, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return user, nil
}

// Logout removes the marker.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Current returns the logged-in user, or nil when nobody is logged in.
// A corrupt marker reads as logged out.
func (s *Session) Current(ctx context.Context) (*User, error) {
	data, err := s.store.Get(ctx, UserKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, nil
	}
	return &user, nil
}

// IsAdmin reports whether the current user carries the admin role.
func (s *Session) IsAdmin(ctx context.Context) bool {
	user, err := s.Current(ctx)
	return err == nil && user != nil && user.Role == RoleAdmin
}
