package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t, Hash([]byte("secret")), Hash([]byte("secret")))
	})

	t.Run("differs per input", func(t *testing.T) {
		assert.NotEqual(t, Hash([]byte("secret")), Hash([]byte("Secret")))
	})

	t.Run("empty input hashes too", func(t *testing.T) {
		assert.NotEqual(t, Digest{}, Hash(nil))
	})
}

func TestStore_Register(t *testing.T) {
	t.Run("inserts a new identity", func(t *testing.T) {
		store := NewStore()
		id, created := store.Register("alice", Hash([]byte("pw")))

		require.True(t, created)
		require.NotNil(t, id)
		assert.Equal(t, "alice", id.Username)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("does not overwrite an existing identity", func(t *testing.T) {
		store := NewStore()
		first, created := store.Register("alice", Hash([]byte("pw")))
		require.True(t, created)

		second, created := store.Register("alice", Hash([]byte("other")))
		assert.False(t, created)
		assert.Same(t, first, second)
		assert.Equal(t, Hash([]byte("pw")), second.PasswordDigest)
	})

	t.Run("usernames are case sensitive", func(t *testing.T) {
		store := NewStore()
		_, created := store.Register("alice", Hash([]byte("pw")))
		require.True(t, created)

		_, created = store.Register("Alice", Hash([]byte("pw")))
		assert.True(t, created)
		assert.Equal(t, 2, store.Len())
	})
}

func TestStore_Authorize(t *testing.T) {
	store := NewStore()
	registered, _ := store.Register("alice", Hash([]byte("pw")))

	t.Run("matching credentials yield the identity", func(t *testing.T) {
		id := store.Authorize("alice", Hash([]byte("pw")))
		assert.Same(t, registered, id)
	})

	t.Run("wrong password yields nil", func(t *testing.T) {
		assert.Nil(t, store.Authorize("alice", Hash([]byte("nope"))))
	})

	t.Run("unknown username yields nil", func(t *testing.T) {
		assert.Nil(t, store.Authorize("bob", Hash([]byte("pw"))))
	})
}

func TestStore_Find(t *testing.T) {
	store := NewStore()
	registered, _ := store.Register("alice", Hash([]byte("pw")))

	assert.Same(t, registered, store.Find("alice"))
	assert.Nil(t, store.Find("bob"))
}

func TestStore_Usernames(t *testing.T) {
	store := NewStore()
	store.Register("carol", Hash([]byte("pw")))
	store.Register("alice", Hash([]byte("pw")))
	store.Register("bob", Hash([]byte("pw")))

	assert.Equal(t, []string{"alice", "bob", "carol"}, store.Usernames())
}

func TestStore_ConcurrentRegister(t *testing.T) {
	store := NewStore()
	digest := Hash([]byte("pw"))

	var wg sync.WaitGroup
	results := make([]*Identity, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _ := store.Register("alice", digest)
			results[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
	for _, id := range results {
		assert.Same(t, results[0], id)
	}
}
