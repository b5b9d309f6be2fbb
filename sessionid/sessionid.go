// Package sessionid allocates session identifiers. IDs are never reused
// within a server's lifetime under realistic connection counts, and zero is
// never issued, so callers can treat a zero ID as "no session".
package sessionid

import "sync/atomic"

// Allocator hands out uint32 session IDs. It is safe for concurrent use; the
// accept loop and tests may allocate from multiple goroutines.
type Allocator struct {
	last atomic.Uint32
}

// NewAllocator creates an Allocator whose first Next call returns 1.
//
// Returns:
//   - A new Allocator
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns the next session ID. The zero ID is reserved and skipped, also
// after the counter wraps around.
//
// Returns:
//   - A non-zero uint32 session ID
func (a *Allocator) Next() uint32 {
	for {
		id := a.last.Add(1)
		if id != 0 {
			return id
		}
	}
}
