package persist

import (
	"context"
	"sync"
)

// defaultPerUserCap bounds how many records are retained per username by the
// in-memory recorder.
const defaultPerUserCap = 100

// MemoryRecorder is an in-process Recorder that keeps the most recent
// records per username. It is the default sink when no Redis address is
// configured, and is also what tests use.
type MemoryRecorder struct {
	mu      sync.RWMutex
	byUser  map[string][]Record
	perUser int
}

// NewMemoryRecorder creates an in-memory recorder retaining up to perUser
// records per username.
//
// Parameters:
//   - perUser: Retention cap per username; values < 1 fall back to 100
//
// Returns:
//   - A MemoryRecorder ready for concurrent use
func NewMemoryRecorder(perUser int) *MemoryRecorder {
	if perUser < 1 {
		perUser = defaultPerUserCap
	}

	return &MemoryRecorder{
		byUser:  make(map[string][]Record),
		perUser: perUser,
	}
}

// Record implements Recorder. The newest record is kept at the front.
func (m *MemoryRecorder) Record(ctx context.Context, rec Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := append([]Record{rec}, m.byUser[rec.Username]...)
	if len(records) > m.perUser {
		records = records[:m.perUser]
	}
	m.byUser[rec.Username] = records
	return nil
}

// Recent implements Recorder.
func (m *MemoryRecorder) Recent(ctx context.Context, username string, n int) ([]Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return clamp(m.byUser[username], n), nil
}

// Close implements Recorder. It is a no-op for the in-memory recorder.
func (m *MemoryRecorder) Close() error {
	return nil
}
