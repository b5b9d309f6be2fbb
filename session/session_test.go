package session

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection. The server end is
// what a Session would own; the client end plays the peer.
func tcpPair(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}

	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return server, client
}

// writeFrame writes a length-prefixed frame to the peer end.
func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()

	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

// receiveEventually polls Receive until it yields a frame or the deadline
// passes, mirroring how the poll loop revisits a session.
func receiveEventually(t *testing.T, s *Session) []byte {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if payload := s.Receive(); payload != nil {
			return payload
		}
		if s.Status() == Disconnected {
			return nil
		}
		time.Sleep(time.Millisecond)
	}

	t.Fatal("no frame received before deadline")
	return nil
}

func TestNew(t *testing.T) {
	server, _ := tcpPair(t)
	s := New(1, server, Options{})

	assert.Equal(t, uint32(1), s.ID())
	assert.Equal(t, Connected, s.Status())
	assert.NotEmpty(t, s.RemoteAddr())
	assert.False(t, s.FirstConnectedAt().IsZero())
	assert.True(t, s.LastDisconnectedAt().IsZero())
}

func TestSession_Send(t *testing.T) {
	t.Run("prepends the payload length", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		payload := []byte("hello")
		require.True(t, s.Send(payload))

		header := make([]byte, 4)
		_, err := io.ReadFull(client, header)
		require.NoError(t, err)
		assert.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(header))

		got := make([]byte, len(payload))
		_, err = io.ReadFull(client, got)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("concurrent senders never interleave frames", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		const senders = 4
		const framesPerSender = 25
		payload := bytes.Repeat([]byte("x"), 2048)

		var wg sync.WaitGroup
		for range senders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range framesPerSender {
					assert.True(t, s.Send(payload))
				}
			}()
		}

		for i := 0; i < senders*framesPerSender; i++ {
			header := make([]byte, 4)
			_, err := io.ReadFull(client, header)
			require.NoError(t, err)
			require.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(header))

			got := make([]byte, len(payload))
			_, err = io.ReadFull(client, got)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		}
		wg.Wait()
	})

	t.Run("fails once disconnected", func(t *testing.T) {
		server, _ := tcpPair(t)
		s := New(1, server, Options{})
		s.Disconnect()

		assert.False(t, s.Send([]byte("late")))
	})
}

func TestSession_Receive(t *testing.T) {
	t.Run("returns a complete frame", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		writeFrame(t, client, []byte("ping"))

		got := receiveEventually(t, s)
		assert.Equal(t, []byte("ping"), got)
		assert.Equal(t, Connected, s.Status())
	})

	t.Run("frames round-trip byte for byte", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		payload := make([]byte, 4096)
		for i := range payload {
			payload[i] = byte(i)
		}
		writeFrame(t, client, payload)

		got := receiveEventually(t, s)
		assert.Equal(t, payload, got)
	})

	t.Run("no data is not an error", func(t *testing.T) {
		server, _ := tcpPair(t)
		s := New(1, server, Options{})

		assert.Nil(t, s.Receive())
		assert.Equal(t, Connected, s.Status())
	})

	t.Run("zero length prefix is a heartbeat", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		_, err := client.Write([]byte{0, 0, 0, 0})
		require.NoError(t, err)

		// Give the bytes time to arrive, then poll a few times.
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			assert.Nil(t, s.Receive())
			if s.Status() == Disconnected {
				break
			}
			time.Sleep(time.Millisecond)
		}
		assert.Equal(t, Connected, s.Status())
	})

	t.Run("orderly close disconnects the session", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		require.NoError(t, client.Close())

		deadline := time.Now().Add(2 * time.Second)
		for s.Status() == Connected && time.Now().Before(deadline) {
			s.Receive()
			time.Sleep(time.Millisecond)
		}
		assert.Equal(t, Disconnected, s.Status())
	})

	t.Run("oversized length prefix disconnects the session", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{MaxPayload: 1024})

		header := make([]byte, 4)
		binary.LittleEndian.PutUint32(header, 4096)
		_, err := client.Write(header)
		require.NoError(t, err)

		deadline := time.Now().Add(2 * time.Second)
		for s.Status() == Connected && time.Now().Before(deadline) {
			assert.Nil(t, s.Receive())
			time.Sleep(time.Millisecond)
		}
		assert.Equal(t, Disconnected, s.Status())
	})

	t.Run("split prefix is accumulated across polls", func(t *testing.T) {
		server, client := tcpPair(t)
		s := New(1, server, Options{})

		frame := make([]byte, 4+3)
		binary.LittleEndian.PutUint32(frame, 3)
		copy(frame[4:], "abc")

		// Deliver the frame in two chunks with a pause between them.
		_, err := client.Write(frame[:2])
		require.NoError(t, err)
		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = client.Write(frame[2:])
		}()

		got := receiveEventually(t, s)
		assert.Equal(t, []byte("abc"), got)
	})
}

func TestSession_Disconnect(t *testing.T) {
	t.Run("records the disconnect time", func(t *testing.T) {
		server, _ := tcpPair(t)
		s := New(1, server, Options{})

		status := s.Disconnect()
		assert.Equal(t, Disconnected, status)
		assert.False(t, s.LastDisconnectedAt().IsZero())
	})

	t.Run("is idempotent", func(t *testing.T) {
		server, _ := tcpPair(t)
		s := New(1, server, Options{})

		first := s.Disconnect()
		stamp := s.LastDisconnectedAt()
		second := s.Disconnect()

		assert.Equal(t, first, second)
		assert.Equal(t, stamp, s.LastDisconnectedAt())
	})
}

func TestSession_DispatchFlag(t *testing.T) {
	server, _ := tcpPair(t)
	s := New(1, server, Options{})

	assert.False(t, s.Dispatching())
	assert.True(t, s.BeginDispatch())
	assert.True(t, s.Dispatching())
	assert.False(t, s.BeginDispatch())
	s.EndDispatch()
	assert.False(t, s.Dispatching())
	assert.True(t, s.BeginDispatch())
}

func TestDefaultKeepAliveConfig(t *testing.T) {
	cfg := DefaultKeepAliveConfig()
	assert.Equal(t, 120*time.Second, cfg.Idle)
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Equal(t, 5, cfg.Count)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Disconnected", Disconnected.String())
}
