// Package auth defines the Authenticator capability consumed by every
// session and implemented by interchangeable backends: a local embedded
// store and a client for the remote credential service.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknown covers backend failures (storage, hashing, transport).
	// The detailed cause is logged server-side and never reaches the wire.
	ErrUnknown = errors.New("an unexpected error occurred, please contact your server administrator")

	// ErrInvalidCredentials is returned for both an unknown username and a
	// wrong password. The two cases are logged separately but deliberately
	// indistinguishable to the caller so usernames cannot be enumerated.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrTokenExpired is returned for tokens that are expired or unknown.
	ErrTokenExpired = errors.New("token is expired or unknown")

	// ErrUsernameTaken is returned when registering an already-used username.
	ErrUsernameTaken = errors.New("a user with that username already exists")

	// ErrUserNotFound is returned by GetUser for an unknown user id.
	ErrUserNotFound = errors.New("no user with that id")
)

// Grant is the result of a successful login or registration.
type Grant struct {
	UserID uint64
	Token  string
}

// Authenticator is the credential-management capability shared by all
// sessions. Implementations own no session state and must be safe for
// concurrent use; every method may block on hashing or storage I/O.
type Authenticator interface {
	// Login verifies a username/password pair and issues an access token.
	Login(ctx context.Context, username, password string) (*Grant, error)

	// LoginToken resumes authentication from a previously issued token.
	LoginToken(ctx context.Context, token string) (*Grant, error)

	// Register creates a new account and issues its first access token.
	Register(ctx context.Context, username, password string) (*Grant, error)

	// GetUser returns the username associated with a user id.
	GetUser(ctx context.Context, userID uint64) (string, error)
}

// NewUserID generates a fresh unpredictable user id. The high bit is
// cleared because database/sql rejects uint64 parameters that do not fit
// in a signed 64-bit column.
func NewUserID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("error generating user id: %w", err)
	}
	id := binary.BigEndian.Uint64(b[:]) & math.MaxInt64
	if id == 0 {
		id = 1
	}
	return id, nil
}

// NewToken generates a fresh unpredictable access token.
func NewToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("error generating token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
