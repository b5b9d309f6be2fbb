package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("applies defaults for bad values", func(t *testing.T) {
		l := New(0, 0)
		assert.Equal(t, DefaultLimit, l.limit)
		assert.Equal(t, DefaultWindow, l.window)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		l := New(3, 10*time.Second)
		assert.Equal(t, 3, l.limit)
		assert.Equal(t, 10*time.Second, l.window)
	})
}

func TestLimiter_Allow(t *testing.T) {
	t.Run("unknown sources are allowed", func(t *testing.T) {
		l := New(2, time.Minute)
		assert.True(t, l.Allow("10.0.0.1:5000"))
	})

	t.Run("refuses once the limit is reached", func(t *testing.T) {
		l := New(2, time.Minute)
		l.Fail("10.0.0.1:5000")
		assert.True(t, l.Allow("10.0.0.1:5000"))
		l.Fail("10.0.0.1:5000")
		assert.False(t, l.Allow("10.0.0.1:5000"))
	})

	t.Run("sources are counted independently of the port", func(t *testing.T) {
		l := New(2, time.Minute)
		l.Fail("10.0.0.1:5000")
		l.Fail("10.0.0.1:6000")
		assert.False(t, l.Allow("10.0.0.1:7000"))
		assert.True(t, l.Allow("10.0.0.2:5000"))
	})

	t.Run("the window expires", func(t *testing.T) {
		l := New(1, 20*time.Millisecond)
		l.Fail("10.0.0.1:5000")
		assert.False(t, l.Allow("10.0.0.1:5000"))

		time.Sleep(50 * time.Millisecond)
		assert.True(t, l.Allow("10.0.0.1:5000"))
	})
}

func TestLimiter_Reset(t *testing.T) {
	l := New(1, time.Minute)
	l.Fail("10.0.0.1:5000")
	assert.False(t, l.Allow("10.0.0.1:5000"))

	l.Reset("10.0.0.1:5000")
	assert.True(t, l.Allow("10.0.0.1:5000"))
}

func TestSourceKey(t *testing.T) {
	assert.Equal(t, "10.0.0.1", sourceKey("10.0.0.1:5000"))
	assert.Equal(t, "::1", sourceKey("[::1]:5000"))
	assert.Equal(t, "not-an-addr", sourceKey("not-an-addr"))
}
