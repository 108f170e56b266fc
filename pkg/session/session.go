// Package session persists the authenticated identity of the storefront client.
//
// A Session is all-or-nothing: the bearer token, the user ID and the username
// are saved and cleared together, and Load never returns a partial session.
// Storage failures are logged and never surface to callers; an unreadable
// store simply behaves as logged out.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/storage"
)

// Fixed storage keys.
const (
	KeyToken    = "jwtToken"
	KeyUserID   = "userId"
	KeyUsername = "username"
)

var keys = []string{KeyToken, KeyUserID, KeyUsername}

// Session is the authenticated identity held by the client.
type Session struct {
	Token    string `json:"-"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Valid reports whether all three fields are present.
func (s Session) Valid() bool {
	return s.Token != "" && s.UserID != "" && s.Username != ""
}

// ExpiresAt decodes the exp claim of the token without verifying the
// signature. ok is false when the token is not a JWT or carries no exp.
func (s Session) ExpiresAt() (expiry time.Time, ok bool) {
	if s.Token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the token's exp claim is at or before now.
// Tokens without a readable exp never expire locally; the server decides.
func (s Session) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && !now.Before(exp)
}

// Store owns the persisted session.
type Store struct {
	storage storage.Storage
	logger  logger.Logger
}

// NewStore creates a session store on top of a storage backend.
func NewStore(s storage.Storage, log logger.Logger) *Store {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Store{
		storage: s,
		logger:  log.WithField("component", "session"),
	}
}

// Save persists token, userID and username in a single write. Saving an
// incomplete identity clears the store instead.
func (s *Store) Save(ctx context.Context, token, userID, username string) {
	sess := Session{Token: token, UserID: userID, Username: username}
	if !sess.Valid() {
		s.logger.Warn("Refusing to persist incomplete session", "user_id", userID)
		s.Clear(ctx)
		return
	}

	err := s.storage.SetMany(ctx, map[string]string{
		KeyToken:    token,
		KeyUserID:   userID,
		KeyUsername: username,
	})
	if err != nil {
		s.logger.Warn("Failed to persist session", "error", err)
		s.Clear(ctx)
		return
	}
	s.logger.Debug("Session saved", "user_id", userID)
}

// Load returns the persisted session or an empty one.
func (s *Store) Load(ctx context.Context) Session {
	var sess Session
	fields := []*string{&sess.Token, &sess.UserID, &sess.Username}
	missing := 0

	for i, key := range keys {
		v, err := s.storage.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("Failed to read session", "key", key, "error", err)
				return Session{}
			}
			missing++
			continue
		}
		*fields[i] = v
	}

	if missing == len(keys) {
		return Session{}
	}
	if !sess.Valid() {
		s.logger.Warn("Discarding partial session", "missing_keys", missing)
		s.Clear(ctx)
		return Session{}
	}
	return sess
}

// Clear removes all three keys. Safe to call repeatedly.
func (s *Store) Clear(ctx context.Context) {
	if err := s.storage.Delete(ctx, keys...); err != nil {
		s.logger.Warn("Failed to clear session", "error", err)
		return
	}
	s.logger.Debug("Session cleared")
}
