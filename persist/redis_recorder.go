package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// defaultRecentTTL is how long a Recent result is served from the local
// cache before Redis is consulted again.
const defaultRecentTTL = 5 * time.Second

// RedisRecorder is a Redis-backed Recorder. Each record is JSON-encoded and
// pushed onto a per-username list, trimmed to a retention cap. The Recent
// read path goes through a short-lived in-process cache with singleflight so
// a burst of diagnostic reads for the same user costs one Redis round trip.
type RedisRecorder struct {
	client  *redis.Client
	perUser int64
	prefix  string

	recent *cache.Cache
	group  singleflight.Group
}

// NewRedisRecorder creates a Redis-backed recorder.
//
// Parameters:
//   - client: The Redis client; the recorder takes ownership and closes it
//     in Close
//   - perUser: Retention cap per username; values < 1 fall back to 100
//
// Returns:
//   - A RedisRecorder ready for concurrent use
func NewRedisRecorder(client *redis.Client, perUser int) *RedisRecorder {
	if perUser < 1 {
		perUser = defaultPerUserCap
	}

	return &RedisRecorder{
		client:  client,
		perUser: int64(perUser),
		prefix:  "chat:sessions",
		recent:  cache.New(defaultRecentTTL, time.Minute),
	}
}

// Record implements Recorder. The record is pushed to the front of the
// username's list and the list is trimmed to the retention cap. The local
// Recent cache entry for that user is invalidated.
func (r *RedisRecorder) Record(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	key := r.userKey(rec.Username)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.perUser-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}

	r.recent.Delete(key)
	return nil
}

// Recent implements Recorder. Results are cached in-process for a few
// seconds; concurrent cache misses for the same user are collapsed into one
// Redis fetch.
func (r *RedisRecorder) Recent(ctx context.Context, username string, n int) ([]Record, error) {
	key := r.userKey(username)

	if cached, found := r.recent.Get(key); found {
		return clamp(cached.([]Record), n), nil
	}

	val, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Double-check after acquiring the singleflight slot; another
		// goroutine may have populated the cache already.
		if cached, found := r.recent.Get(key); found {
			return cached.([]Record), nil
		}

		raw, err := r.client.LRange(ctx, key, 0, r.perUser-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch session records: %w", err)
		}

		records := make([]Record, 0, len(raw))
		for _, item := range raw {
			var rec Record
			if err := json.Unmarshal([]byte(item), &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
			}
			records = append(records, rec)
		}

		r.recent.Set(key, records, defaultRecentTTL)
		return records, nil
	})
	if err != nil {
		return nil, err
	}

	return clamp(val.([]Record), n), nil
}

// Close implements Recorder and closes the underlying Redis client.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

// userKey builds the Redis list key for one username.
func (r *RedisRecorder) userKey(username string) string {
	return fmt.Sprintf("%s:%s", r.prefix, username)
}

// clamp returns at most n records from the front of records, copied.
func clamp(records []Record, n int) []Record {
	if n < 0 {
		n = 0
	}
	if n > len(records) {
		n = len(records)
	}
	out := make([]Record, n)
	copy(out, records[:n])
	return out
}
