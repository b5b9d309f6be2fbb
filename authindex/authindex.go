// Package authindex maps each live connection to its authentication state
// (unauthenticated, or authenticated as a specific identity) and each
// identity to its set of live connections. Access is read-heavy: status
// checks and recipient lookups far outnumber authentication changes.
package authindex

import (
	"sync"

	"github.com/cyberinferno/chat-server/identity"
	"github.com/cyberinferno/chat-server/safeset"
	"github.com/cyberinferno/chat-server/session"
)

// AuthStatus is the authentication state of one live session.
type AuthStatus int

const (
	// Unauthenticated means the session is live but has not completed
	// Register or Authorize.
	Unauthenticated AuthStatus = iota
	// Authenticated means the session is associated with an identity.
	Authenticated
	// Invalid means the session is not present in the index at all. It is a
	// precondition failure for callers, not an application-level status.
	Invalid
)

// String returns a human-readable name for the auth status.
func (s AuthStatus) String() string {
	switch s {
	case Unauthenticated:
		return "Unauthenticated"
	case Authenticated:
		return "Authenticated"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// entry is the per-session record in the primary index. The session itself
// is not stored; the key is its remote address and the secondary index holds
// the session handles.
type entry struct {
	status   AuthStatus
	identity *identity.Identity
}

// Index tracks the authentication state of live sessions. The primary map is
// keyed by session key (the remote address, safe because entries are removed
// before an address can be reused); the secondary map groups sessions by
// identity so "all live sessions for user U" resolves in one lookup.
//
// Each map has its own RWMutex; reads take shared locks, mutations exclusive
// ones. When both are needed they are always acquired primary-then-secondary
// to avoid deadlock.
type Index struct {
	identities *identity.Store

	primaryMu sync.RWMutex
	primary   map[string]*entry

	secondaryMu sync.RWMutex
	secondary   map[*identity.Identity]*safeset.SafeSet[*session.Session]
}

// New returns an empty index resolving usernames through the given identity
// store.
//
// Parameters:
//   - identities: The store used by SessionsFor to resolve username to
//     identity
//
// Returns:
//   - An Index ready for concurrent use
func New(identities *identity.Store) *Index {
	return &Index{
		identities: identities,
		primary:    make(map[string]*entry),
		secondary:  make(map[*identity.Identity]*safeset.SafeSet[*session.Session]),
	}
}

// AddSession inserts the session's entry in Unauthenticated state. At most
// one entry exists per live session; adding a session twice overwrites the
// old entry in place.
//
// Parameters:
//   - sess: The newly accepted session
func (x *Index) AddSession(sess *session.Session) {
	x.primaryMu.Lock()
	defer x.primaryMu.Unlock()
	x.primary[sess.RemoteAddr()] = &entry{status: Unauthenticated}
}

// RemoveSession erases the session's entry, purging it from the
// identity-grouped secondary index if it was authenticated. Safe to call for
// a session that was never added.
//
// Parameters:
//   - sess: The disconnected session
func (x *Index) RemoveSession(sess *session.Session) {
	x.primaryMu.Lock()
	defer x.primaryMu.Unlock()

	e, exists := x.primary[sess.RemoteAddr()]
	if !exists {
		return
	}
	delete(x.primary, sess.RemoteAddr())

	if e.status == Authenticated && e.identity != nil {
		x.removeFromSecondary(e.identity, sess)
	}
}

// MarkAuthenticated associates the session with an identity, updating the
// secondary index atomically with respect to readers: no observer can see a
// session grouped under two identities, or under none, mid-update.
// Re-authenticating as a different identity moves the session.
//
// Parameters:
//   - sess: The authenticating session
//   - id: The identity to associate
//
// Returns:
//   - true on success, false if the session is not present in the index
func (x *Index) MarkAuthenticated(sess *session.Session, id *identity.Identity) bool {
	x.primaryMu.Lock()
	defer x.primaryMu.Unlock()

	e, exists := x.primary[sess.RemoteAddr()]
	if !exists {
		return false
	}

	x.secondaryMu.Lock()
	defer x.secondaryMu.Unlock()

	if e.status == Authenticated && e.identity != nil && e.identity != id {
		x.removeFromSecondaryLocked(e.identity, sess)
	}

	set, ok := x.secondary[id]
	if !ok {
		set = safeset.NewSafeSet[*session.Session]()
		x.secondary[id] = set
	}
	set.Add(sess)

	e.status = Authenticated
	e.identity = id
	return true
}

// Logout clears the session's identity and reverts it to Unauthenticated.
//
// Parameters:
//   - sess: The session logging out
//
// Returns:
//   - true on success, false if the session is absent or not currently
//     authenticated
func (x *Index) Logout(sess *session.Session) bool {
	x.primaryMu.Lock()
	defer x.primaryMu.Unlock()

	e, exists := x.primary[sess.RemoteAddr()]
	if !exists || e.status != Authenticated {
		return false
	}

	if e.identity != nil {
		x.removeFromSecondary(e.identity, sess)
	}

	e.status = Unauthenticated
	e.identity = nil
	return true
}

// StatusOf returns the session's authentication status. Invalid means the
// session is not present in the index.
//
// Parameters:
//   - sess: The session to look up
//
// Returns:
//   - Unauthenticated, Authenticated, or Invalid
func (x *Index) StatusOf(sess *session.Session) AuthStatus {
	x.primaryMu.RLock()
	defer x.primaryMu.RUnlock()

	e, exists := x.primary[sess.RemoteAddr()]
	if !exists {
		return Invalid
	}
	return e.status
}

// UsernameOf returns the username the session is authenticated as.
//
// Parameters:
//   - sess: The session to look up
//
// Returns:
//   - The username and true, or "" and false if the session is absent or
//     unauthenticated
func (x *Index) UsernameOf(sess *session.Session) (string, bool) {
	x.primaryMu.RLock()
	defer x.primaryMu.RUnlock()

	e, exists := x.primary[sess.RemoteAddr()]
	if !exists || e.status != Authenticated || e.identity == nil {
		return "", false
	}
	return e.identity.Username, true
}

// SessionsFor resolves a username to all of its live sessions. A user logged
// in from multiple connections gets every relayed message on each of them.
//
// Parameters:
//   - username: The recipient identity name
//
// Returns:
//   - Zero or more live sessions; empty if the username is unknown or has
//     no live sessions
func (x *Index) SessionsFor(username string) []*session.Session {
	id := x.identities.Find(username)
	if id == nil {
		return nil
	}

	x.secondaryMu.RLock()
	set, ok := x.secondary[id]
	x.secondaryMu.RUnlock()
	if !ok {
		return nil
	}

	return set.Values()
}

// Len returns the number of live entries in the index.
//
// Returns:
//   - The entry count
func (x *Index) Len() int {
	x.primaryMu.RLock()
	defer x.primaryMu.RUnlock()
	return len(x.primary)
}

// Snapshot returns a diagnostic view of the index: session key to
// "username" for authenticated entries and "" for unauthenticated ones.
//
// Returns:
//   - A map from session key to authenticated username (or "")
func (x *Index) Snapshot() map[string]string {
	x.primaryMu.RLock()
	defer x.primaryMu.RUnlock()

	out := make(map[string]string, len(x.primary))
	for key, e := range x.primary {
		if e.status == Authenticated && e.identity != nil {
			out[key] = e.identity.Username
		} else {
			out[key] = ""
		}
	}
	return out
}

// removeFromSecondary removes sess from id's group, taking the secondary
// lock. Caller holds the primary lock.
func (x *Index) removeFromSecondary(id *identity.Identity, sess *session.Session) {
	x.secondaryMu.Lock()
	defer x.secondaryMu.Unlock()
	x.removeFromSecondaryLocked(id, sess)
}

// removeFromSecondaryLocked removes sess from id's group, dropping the group
// when it becomes empty. Caller holds both locks.
func (x *Index) removeFromSecondaryLocked(id *identity.Identity, sess *session.Session) {
	set, ok := x.secondary[id]
	if !ok {
		return
	}
	set.Remove(sess)
	if set.Size() == 0 {
		delete(x.secondary, id)
	}
}
