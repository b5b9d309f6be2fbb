package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	t.Run("all collectors are registered", func(t *testing.T) {
		m.OpenSessions.Inc()
		m.AcceptedConnections.Inc()
		m.FramesDispatched.Inc()
		m.AuthFailures.Inc()
		m.MessagesRelayed.Inc()
		m.MessagesDropped.Inc()

		families, err := reg.Gather()
		require.NoError(t, err)
		assert.Len(t, families, 6)
	})

	t.Run("the session gauge moves both ways", func(t *testing.T) {
		m.OpenSessions.Inc()
		m.OpenSessions.Dec()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenSessions))
	})

	t.Run("counters accumulate", func(t *testing.T) {
		m.MessagesRelayed.Inc()
		assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesRelayed))
	})
}
