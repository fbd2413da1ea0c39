package store

import (
	"context"
	"sync"
	"time"

	"github.com/soteria-auth/soteria/core"
)

// MemoryStore is an in-memory implementation of the user, credential and
// consumed-token store interfaces. Suitable for tests and single-instance
// deployments.
type MemoryStore struct {
	users          map[string]core.User
	usersByName    map[string]string
	credentials    map[string]core.Credential
	consumedTokens map[string]time.Time
	mu             sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]core.User),
		usersByName:    make(map[string]string),
		credentials:    make(map[string]core.Credential),
		consumedTokens: make(map[string]time.Time),
	}
}

// PutUser seeds or replaces a user record.
func (s *MemoryStore) PutUser(user core.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
	s.usersByName[user.Username] = user.ID
}

// GetUser returns a user record by primary key.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return user, nil
}

// GetUserByUsername returns a user record by username.
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return s.users[id], nil
}

// SetTOTPSecret writes the user's 2FA-secret field.
func (s *MemoryStore) SetTOTPSecret(ctx context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return core.ErrNotFound
	}
	user.TOTPSecret = secret
	s.users[id] = user
	return nil
}

// CreateCredential stores a new passkey credential record.
func (s *MemoryStore) CreateCredential(ctx context.Context, cred core.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[cred.ID] = cred
	return nil
}

// GetCredential returns a credential record by id.
func (s *MemoryStore) GetCredential(ctx context.Context, id string) (core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[id]
	if !ok {
		return core.Credential{}, core.ErrNotFound
	}
	return cred, nil
}

// ListCredentials returns all credentials owned by a user.
func (s *MemoryStore) ListCredentials(ctx context.Context, userID string) ([]core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []core.Credential
	for _, cred := range s.credentials {
		if cred.UserID == userID {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// UpdateCredentialMeta replaces a credential's meta blob.
func (s *MemoryStore) UpdateCredentialMeta(ctx context.Context, id string, meta core.CredentialMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok {
		return core.ErrNotFound
	}
	cred.Meta = meta
	s.credentials[id] = cred
	return nil
}

// DeleteCredential removes a credential record.
func (s *MemoryStore) DeleteCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.credentials, id)
	return nil
}

// ConsumeToken marks a token JTI as used for the remainder of its lifetime.
// The check and the write happen under one lock so concurrent duplicate
// submissions cannot both succeed.
func (s *MemoryStore) ConsumeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiryTime := time.Now().Add(ttl)
	if stored, exists := s.consumedTokens[tokenID]; exists && time.Now().Before(stored) {
		return core.ErrTokenConsumed
	}
	s.consumedTokens[tokenID] = expiryTime

	// Start a cleanup goroutine
	go func() {
		time.Sleep(ttl)

		s.mu.Lock()
		defer s.mu.Unlock()

		// Only delete if the expiry time hasn't changed
		if storedExpiry, exists := s.consumedTokens[tokenID]; exists && !storedExpiry.After(expiryTime) {
			delete(s.consumedTokens, tokenID)
		}
	}()

	return nil
}

// IsTokenConsumed checks if a token JTI has already been used.
func (s *MemoryStore) IsTokenConsumed(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.consumedTokens[tokenID]
	if !exists {
		return false, nil
	}

	// Check if the consumption record has expired
	if time.Now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}
