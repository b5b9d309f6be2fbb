// Package persist records finished authenticated sessions: who was
// connected, from where, and for how long. The server calls it
// fire-and-forget from a pool task on disconnect; recorder failures are
// logged by the caller, never propagated to the session path.
package persist

import (
	"context"
	"time"
)

// Record is one finished authenticated session.
type Record struct {
	Username       string        `json:"username"`
	RemoteAddr     string        `json:"remote_addr"`
	ConnectedAt    time.Time     `json:"connected_at"`
	DisconnectedAt time.Time     `json:"disconnected_at"`
	Duration       time.Duration `json:"duration"`
}

// Recorder is the connection-log sink consumed by the server core.
type Recorder interface {
	// Record persists one finished session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - rec: The finished session record
	//
	// Returns:
	//   - An error if persisting failed; callers log and move on
	Record(ctx context.Context, rec Record) error

	// Recent returns up to n of the user's most recent records, newest
	// first. Used by admin diagnostics.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - username: The identity whose history to fetch
	//   - n: Maximum number of records to return
	//
	// Returns:
	//   - The records, newest first
	//   - An error if the fetch failed
	Recent(ctx context.Context, username string, n int) ([]Record, error)

	// Close releases resources held by the recorder. Safe to call multiple
	// times.
	//
	// Returns:
	//   - An error if closing failed
	Close() error
}
