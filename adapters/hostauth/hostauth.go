package hostauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/ports"
)

// SessionCookieName carries the host's full session token.
const SessionCookieName = "soteria_session"

const sessionAudience = "session"

// PasswordAuth is a reference primary authenticator backed by the user store
// and a bcrypt hash table. Hosts embedding the engine replace it with their
// own ports.PrimaryAuth.
type PasswordAuth struct {
	users  ports.UserStore
	hashes map[string]string // username -> bcrypt hash
}

// NewPasswordAuth creates a password authenticator over seeded hashes.
func NewPasswordAuth(users ports.UserStore, hashes map[string]string) *PasswordAuth {
	if hashes == nil {
		hashes = make(map[string]string)
	}
	return &PasswordAuth{users: users, hashes: hashes}
}

// SetPassword stores a bcrypt hash for a username.
func (a *PasswordAuth) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	a.hashes[username] = string(hash)
	return nil
}

// Authenticate validates a username and password pair.
func (a *PasswordAuth) Authenticate(ctx context.Context, username, password string) (core.User, error) {
	hash, ok := a.hashes[username]
	if ok {
		// Burn the comparison even for unknown users below, so timing does
		// not reveal which usernames exist.
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return core.User{}, core.ErrNotFound
		}
		return a.users.GetUserByUsername(ctx, username)
	}

	_ = bcrypt.CompareHashAndPassword(
		[]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B4iYv6rGJpaXx1rzN1vS9hQe1lJm"),
		[]byte(password),
	)
	return core.User{}, core.ErrNotFound
}

// CookieSessions is a reference ports.Sessions backed by a signed cookie.
type CookieSessions struct {
	users   ports.UserStore
	signKey *ecdsa.PrivateKey
	secure  bool
}

// NewCookieSessions creates a session manager signing with the given key.
func NewCookieSessions(users ports.UserStore, signKey *ecdsa.PrivateKey, secure bool) *CookieSessions {
	return &CookieSessions{users: users, signKey: signKey, secure: secure}
}

// Establish issues the full session cookie for a confirmed user.
func (s *CookieSessions) Establish(w http.ResponseWriter, user core.User, rememberDays int) error {
	if rememberDays <= 0 {
		rememberDays = 1
	}
	lifetime := time.Duration(rememberDays) * 24 * time.Hour

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.signKey)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		MaxAge:   int(lifetime.Seconds()),
		Path:     "/",
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// CurrentUser resolves the session cookie to a user record.
func (s *CookieSessions) CurrentUser(r *http.Request) (core.User, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return core.User{}, core.ErrNotFound
	}

	claims := jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return &s.signKey.PublicKey, nil
	}, jwt.WithAudience(sessionAudience))
	if err != nil {
		return core.User{}, core.ErrNotFound
	}

	return s.users.GetUser(r.Context(), claims.Subject)
}
