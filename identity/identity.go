// Package identity stores registered (username, password-digest) identities
// for the lifetime of the process and resolves authorization attempts
// against them. Identities are independent of any live connection.
package identity

import (
	"crypto/subtle"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

// DigestSize is the size in bytes of a password digest.
const DigestSize = 32

// Digest is the opaque, deterministic password digest stored per identity.
type Digest [DigestSize]byte

// Hash computes the digest of data. It is deterministic and
// collision-resistant; the rest of the system treats it as opaque.
//
// Parameters:
//   - data: The bytes to digest (e.g. a password)
//
// Returns:
//   - The digest
func Hash(data []byte) Digest {
	return blake3.Sum256(data)
}

// Identity is a registered user: a unique username and its password digest.
// Identities are created on first successful Register and never removed.
type Identity struct {
	Username       string
	PasswordDigest Digest
}

// Store is the durable-for-process-lifetime set of registered identities.
// A single reader/writer lock protects all operations: Register takes the
// write lock, Authorize and Find take the read lock. Insertion is the only
// mutation; identities are never updated or deleted.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*Identity
}

// NewStore returns an empty identity store.
//
// Returns:
//   - A Store ready for concurrent use
func NewStore() *Store {
	return &Store{identities: make(map[string]*Identity)}
}

// Register inserts a new identity if the username is not already present.
// Callers must treat a duplicate-register as "fall through to Authorize": a
// taken username is never overwritten, whatever digest is supplied.
//
// Parameters:
//   - username: The unique identity name
//   - digest: The password digest to store
//
// Returns:
//   - The stored Identity and true on success, nil and false if the
//     username is already registered
func (s *Store) Register(username string, digest Digest) (*Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[username]; exists {
		return nil, false
	}

	id := &Identity{Username: username, PasswordDigest: digest}
	s.identities[username] = id
	return id, true
}

// Authorize looks up an identity by username and checks the supplied digest
// against the stored one. An unknown user and a wrong digest are
// indistinguishable to the caller, which avoids username enumeration.
//
// Parameters:
//   - username: The identity name to authenticate as
//   - digest: The password digest to verify
//
// Returns:
//   - The Identity if the username exists and the digest matches, nil
//     otherwise
func (s *Store) Authorize(username string, digest Digest) *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.identities[username]
	if !exists {
		return nil
	}
	if subtle.ConstantTimeCompare(id.PasswordDigest[:], digest[:]) != 1 {
		return nil
	}

	return id
}

// Find looks up an identity by username without checking credentials.
//
// Parameters:
//   - username: The identity name to look up
//
// Returns:
//   - The Identity, or nil if the username is not registered
func (s *Store) Find(username string) *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identities[username]
}

// Len returns the number of registered identities.
//
// Returns:
//   - The identity count
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

// Usernames returns all registered usernames in sorted order. Used by the
// admin diagnostics dump.
//
// Returns:
//   - A sorted slice of usernames
func (s *Store) Usernames() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.identities))
	for name := range s.identities {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}
