package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soteria-auth/soteria/core"
)

// RedisStore is a Redis implementation of the user, credential and
// consumed-token store interfaces. Records are JSON blobs; the store
// guarantees per-key atomicity only.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "soteria:",
	}
}

func (s *RedisStore) userKey(id string) string       { return s.prefix + "user:" + id }
func (s *RedisStore) usernameKey(name string) string { return s.prefix + "username:" + name }
func (s *RedisStore) credKey(id string) string       { return s.prefix + "cred:" + id }
func (s *RedisStore) credSetKey(userID string) string {
	return s.prefix + "creds:" + userID
}
func (s *RedisStore) consumedKey(tokenID string) string {
	return s.prefix + "consumed:" + tokenID
}

// PutUser seeds or replaces a user record.
func (s *RedisStore) PutUser(ctx context.Context, user core.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Set(ctx, s.userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	if err := s.client.Set(ctx, s.usernameKey(user.Username), user.ID, 0).Err(); err != nil {
		return fmt.Errorf("failed to index user by username: %w", err)
	}

	return nil
}

// GetUser returns a user record by primary key.
func (s *RedisStore) GetUser(ctx context.Context, id string) (core.User, error) {
	data, err := s.client.Get(ctx, s.userKey(id)).Bytes()
	if err == redis.Nil {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	var user core.User
	if err := json.Unmarshal(data, &user); err != nil {
		return core.User{}, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return user, nil
}

// GetUserByUsername returns a user record by username.
func (s *RedisStore) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	id, err := s.client.Get(ctx, s.usernameKey(username)).Result()
	if err == redis.Nil {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("failed to resolve username: %w", err)
	}

	return s.GetUser(ctx, id)
}

// SetTOTPSecret writes the user's 2FA-secret field.
func (s *RedisStore) SetTOTPSecret(ctx context.Context, id, secret string) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	user.TOTPSecret = secret

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Set(ctx, s.userKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

// CreateCredential stores a new passkey credential record.
func (s *RedisStore) CreateCredential(ctx context.Context, cred core.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if err := s.client.Set(ctx, s.credKey(cred.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := s.client.SAdd(ctx, s.credSetKey(cred.UserID), cred.ID).Err(); err != nil {
		return fmt.Errorf("failed to index credential: %w", err)
	}

	return nil
}

// GetCredential returns a credential record by id.
func (s *RedisStore) GetCredential(ctx context.Context, id string) (core.Credential, error) {
	data, err := s.client.Get(ctx, s.credKey(id)).Bytes()
	if err == redis.Nil {
		return core.Credential{}, core.ErrNotFound
	}
	if err != nil {
		return core.Credential{}, fmt.Errorf("failed to get credential: %w", err)
	}

	var cred core.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return core.Credential{}, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return cred, nil
}

// ListCredentials returns all credentials owned by a user.
func (s *RedisStore) ListCredentials(ctx context.Context, userID string) ([]core.Credential, error) {
	ids, err := s.client.SMembers(ctx, s.credSetKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	var creds []core.Credential
	for _, id := range ids {
		cred, err := s.GetCredential(ctx, id)
		if err == core.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	return creds, nil
}

// UpdateCredentialMeta replaces a credential's meta blob.
func (s *RedisStore) UpdateCredentialMeta(ctx context.Context, id string, meta core.CredentialMeta) error {
	cred, err := s.GetCredential(ctx, id)
	if err != nil {
		return err
	}

	cred.Meta = meta

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if err := s.client.Set(ctx, s.credKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	return nil
}

// DeleteCredential removes a credential record.
func (s *RedisStore) DeleteCredential(ctx context.Context, id string) error {
	cred, err := s.GetCredential(ctx, id)
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.credKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if err := s.client.SRem(ctx, s.credSetKey(cred.UserID), id).Err(); err != nil {
		return fmt.Errorf("failed to unindex credential: %w", err)
	}

	return nil
}

// ConsumeToken marks a token JTI as used. SETNX makes the check-and-set
// atomic across instances.
func (s *RedisStore) ConsumeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.consumedKey(tokenID), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	if !ok {
		return core.ErrTokenConsumed
	}

	return nil
}

// IsTokenConsumed checks if a token JTI has already been used.
func (s *RedisStore) IsTokenConsumed(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, s.consumedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token consumption: %w", err)
	}

	return val > 0, nil
}
