// Copyright 2024 The mqttkit-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth provides username/password authentication for connecting
// clients, with configurable password hashing (plain, SHA256, bcrypt).
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashAlgorithm selects the password hashing algorithm.
type HashAlgorithm string

const (
	// HashPlain stores passwords as plain text (not recommended).
	HashPlain HashAlgorithm = "plain"
	// HashSHA256 stores SHA256 digests.
	HashSHA256 HashAlgorithm = "sha256"
	// HashBcrypt stores bcrypt hashes (recommended).
	HashBcrypt HashAlgorithm = "bcrypt"
)

var (
	// ErrBadCredentials is returned when the username is unknown or the
	// password does not match.
	ErrBadCredentials = errors.New("bad username or password")
	// ErrUserDisabled is returned when the user exists but is disabled.
	ErrUserDisabled = errors.New("user disabled")
)

// Authenticator verifies client credentials during the handshake. A nil
// error means the credentials were accepted.
type Authenticator interface {
	Authenticate(username, password string) error
}

// user is a stored credential entry. Passwords are hashed at insert time.
type user struct {
	passwordHash string
	algorithm    HashAlgorithm
	enabled      bool
}

// MemoryAuthenticator is an in-memory Authenticator safe for concurrent use.
type MemoryAuthenticator struct {
	users map[string]*user
	mu    sync.RWMutex
}

// NewMemoryAuthenticator creates an empty MemoryAuthenticator.
func NewMemoryAuthenticator() *MemoryAuthenticator {
	return &MemoryAuthenticator{
		users: make(map[string]*user),
	}
}

// AddUser stores a user with the given password, hashed with algorithm.
// Adding an existing username replaces its credentials.
func (m *MemoryAuthenticator) AddUser(username, password string, algorithm HashAlgorithm) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	hash, err := hashPassword(password, algorithm)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = &user{
		passwordHash: hash,
		algorithm:    algorithm,
		enabled:      true,
	}
	return nil
}

// SetUserEnabled marks a user enabled or disabled.
func (m *MemoryAuthenticator) SetUserEnabled(username string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return fmt.Errorf("user %s not found", username)
	}
	u.enabled = enabled
	return nil
}

// RemoveUser deletes a user. Removing an absent user is not an error.
func (m *MemoryAuthenticator) RemoveUser(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
}

// Authenticate verifies the given credentials against the stored users.
func (m *MemoryAuthenticator) Authenticate(username, password string) error {
	m.mu.RLock()
	u, ok := m.users[username]
	m.mu.RUnlock()

	if !ok {
		return ErrBadCredentials
	}
	if !u.enabled {
		return ErrUserDisabled
	}
	if !verifyPassword(password, u.passwordHash, u.algorithm) {
		return ErrBadCredentials
	}
	return nil
}

// hashPassword creates a hash of the password using the given algorithm.
func hashPassword(password string, algorithm HashAlgorithm) (string, error) {
	switch algorithm {
	case HashPlain:
		return password, nil
	case HashSHA256:
		hasher := sha256.New()
		hasher.Write([]byte(password))
		return fmt.Sprintf("%x", hasher.Sum(nil)), nil
	case HashBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// verifyPassword verifies a password against a stored hash.
func verifyPassword(password, hash string, algorithm HashAlgorithm) bool {
	switch algorithm {
	case HashPlain:
		return password == hash
	case HashSHA256:
		expected, err := hashPassword(password, HashSHA256)
		if err != nil {
			return false
		}
		return expected == hash
	case HashBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	default:
		return false
	}
}
