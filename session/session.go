// Package session owns one accepted TCP connection and implements the
// length-prefixed frame protocol over it: non-blocking detection of the next
// frame's length prefix, blocking reads of announced payloads, and framed
// sends. A session's status is monotonic: once Disconnected it never goes
// back to Connected.
package session

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyberinferno/chat-server/logger"
	"github.com/cyberinferno/chat-server/protocol"
)

// Status is the connection state of a session.
type Status int32

const (
	// Connected means the session owns a live socket.
	Connected Status = iota
	// Disconnected means the socket has been shut down and closed. Terminal.
	Disconnected
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// KeepAliveConfig holds the TCP keep-alive policy applied to every accepted
// socket.
type KeepAliveConfig struct {
	// Idle is how long the connection must be idle before probes start.
	Idle time.Duration
	// Interval is the time between individual keep-alive probes.
	Interval time.Duration
	// Count is the number of unanswered probes before the connection is
	// considered dead.
	Count int
}

// DefaultKeepAliveConfig returns the default keep-alive policy: 120s idle,
// 3s probe interval, 5 probes.
//
// Returns:
//   - The default KeepAliveConfig
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		Idle:     120 * time.Second,
		Interval: 3 * time.Second,
		Count:    5,
	}
}

// Apply enables keep-alive with this policy on a TCP connection.
//
// Parameters:
//   - conn: The accepted TCP connection
//
// Returns:
//   - An error if the socket options could not be set
func (k KeepAliveConfig) Apply(conn *net.TCPConn) error {
	return conn.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     k.Idle,
		Interval: k.Interval,
		Count:    k.Count,
	})
}

// Options configures per-session limits and timeouts.
type Options struct {
	// MaxPayload is the largest accepted frame payload; a length prefix above
	// it is treated as a corrupt stream and forces a disconnect. Zero means
	// protocol.MaxPayloadLength.
	MaxPayload uint32
	// ReadTimeout bounds the blocking payload read once a length prefix has
	// been seen. Zero means no deadline.
	ReadTimeout time.Duration
	// WriteTimeout bounds each framed write. Zero means no deadline.
	WriteTimeout time.Duration
	// Logger receives unexpected transport errors. Nil means no logging.
	Logger logger.Logger
}

// Session is the live, stateful representation of one accepted TCP
// connection. Exactly one Session owns a given socket.
//
// Send and the frame-reading methods are not internally serialized against
// each other; callers that need a read-dispatch-reply sequence to be atomic
// with respect to relayed sends must hold Access across it. The poll loop is
// the only caller of PollFrame, and at most one handling task per session is
// in flight at a time, so frame reads never race each other.
type Session struct {
	// Access serializes a session's own read-dispatch-reply sequence. It is
	// held by callers, not by Session methods: the dispatching task holds it
	// from payload read to reply. Writes do not need it; Send serializes
	// itself, so no caller ever has to take another session's mutex.
	Access sync.Mutex

	// writeMu makes each Send frame-atomic against concurrent senders (the
	// session's own replies and relays from other sessions' handling tasks).
	writeMu sync.Mutex

	id         uint32
	conn       net.Conn
	remoteAddr string
	opts       Options

	status           atomic.Int32
	dispatching      atomic.Bool
	firstConnectedAt time.Time

	timeMu             sync.Mutex
	lastDisconnectedAt time.Time

	// Length-prefix accumulation state; touched only from the poll loop.
	lenBuf      [protocol.LengthPrefixSize]byte
	lenRead     int
	pendingLen  uint32
	havePending bool
}

// New wraps an accepted connection in a Session.
//
// Parameters:
//   - id: The registry-assigned session identifier
//   - conn: The accepted connection; the session takes exclusive ownership
//   - opts: Limits, timeouts, and logger; zero values get defaults
//
// Returns:
//   - A Session in Connected state with its connect timestamp recorded
func New(id uint32, conn net.Conn, opts Options) *Session {
	if opts.MaxPayload == 0 || opts.MaxPayload > protocol.MaxPayloadLength {
		opts.MaxPayload = protocol.MaxPayloadLength
	}

	return &Session{
		id:               id,
		conn:             conn,
		remoteAddr:       conn.RemoteAddr().String(),
		opts:             opts,
		firstConnectedAt: time.Now(),
	}
}

// ID returns the registry-assigned session identifier.
//
// Returns:
//   - The session ID (uint32)
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer's "ip:port" address. It is immutable after
// accept and serves as the session's external identity key.
//
// Returns:
//   - The remote address string
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Status returns the session's current connection status.
//
// Returns:
//   - Connected or Disconnected
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// FirstConnectedAt returns the time the session was created.
//
// Returns:
//   - The accept timestamp
func (s *Session) FirstConnectedAt() time.Time {
	return s.firstConnectedAt
}

// LastDisconnectedAt returns the time the session transitioned to
// Disconnected, or the zero time if it is still connected.
//
// Returns:
//   - The disconnect timestamp, or time.Time{} while connected
func (s *Session) LastDisconnectedAt() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.lastDisconnectedAt
}

// Send prepends a 4-byte little-endian length header (the byte length of
// data, not including the header itself) and writes both in one logical
// operation. Send is safe for concurrent use; frames from concurrent senders
// never interleave on the wire.
//
// Parameters:
//   - data: The frame payload; not modified
//
// Returns:
//   - true if the full framed length was written, false if the session is
//     not Connected or the write did not accept all bytes
func (s *Session) Send(data []byte) bool {
	if s.Status() != Connected {
		return false
	}

	frame := make([]byte, protocol.LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[protocol.LengthPrefixSize:], data)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.opts.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			return false
		}
	}

	n, err := s.conn.Write(frame)
	if err != nil || n != len(frame) {
		return false
	}

	return true
}

// PollFrame performs a non-blocking read of the 4-byte length prefix of the
// next frame. It never blocks the caller: when no data is available it
// returns false immediately. A partially read prefix is retained and
// completed on a later call.
//
// Transport handling:
//   - 0 bytes on an orderly close: the session transitions to Disconnected
//   - would-block: no data yet, not an error
//   - reset/timeout/broken-pipe: the session transitions to Disconnected
//   - any other read error: Disconnected, and the error is logged
//   - a zero length prefix is a heartbeat and is ignored
//   - a length prefix above MaxPayload is a corrupt stream: Disconnected
//
// Returns:
//   - true if a complete non-empty frame is announced and ready to be read
//     with ReadFrame, false otherwise
func (s *Session) PollFrame() bool {
	if s.havePending {
		return true
	}
	if s.Status() != Connected {
		return false
	}

	// Immediate deadline makes the read non-blocking: it returns whatever is
	// buffered, or a timeout.
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		s.Disconnect()
		return false
	}

	n, err := s.conn.Read(s.lenBuf[s.lenRead:])
	s.lenRead += n

	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		switch {
		case errors.Is(err, io.EOF):
			// Orderly close by the peer.
			s.Disconnect()
		case errors.Is(err, net.ErrClosed):
			s.Disconnect()
		case isTransientTransportError(err):
			s.Disconnect()
		default:
			if s.opts.Logger != nil {
				s.opts.Logger.Error("unexpected receive error",
					logger.Field{Key: "session", Value: s.remoteAddr},
					logger.Field{Key: "error", Value: err})
			}
			s.Disconnect()
		}
		return false
	}

	if s.lenRead < protocol.LengthPrefixSize {
		return false
	}

	length := binary.LittleEndian.Uint32(s.lenBuf[:])
	s.lenRead = 0

	if length == 0 {
		// Heartbeat, nothing to read.
		return false
	}
	if length > s.opts.MaxPayload {
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("oversized frame length, treating stream as corrupt",
				logger.Field{Key: "session", Value: s.remoteAddr},
				logger.Field{Key: "length", Value: length})
		}
		s.Disconnect()
		return false
	}

	s.pendingLen = length
	s.havePending = true
	return true
}

// ReadFrame performs the blocking read of the payload announced by the last
// successful PollFrame. A short or failed read is a fatal receive error and
// disconnects the session.
//
// Returns:
//   - Exactly the announced number of payload bytes, or nil if no frame is
//     pending or the read failed
func (s *Session) ReadFrame() []byte {
	if !s.havePending {
		return nil
	}
	s.havePending = false

	deadline := time.Time{}
	if s.opts.ReadTimeout > 0 {
		deadline = time.Now().Add(s.opts.ReadTimeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		s.Disconnect()
		return nil
	}

	payload := make([]byte, s.pendingLen)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		if s.opts.Logger != nil && !isTransientTransportError(err) && !errors.Is(err, io.EOF) &&
			!errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, net.ErrClosed) {
			s.opts.Logger.Error("payload read failed",
				logger.Field{Key: "session", Value: s.remoteAddr},
				logger.Field{Key: "error", Value: err})
		}
		s.Disconnect()
		return nil
	}

	return payload
}

// Receive reads one complete frame if available: the non-blocking length
// prefix peek followed by the blocking payload read. It returns nil when no
// complete length prefix is available yet, on a heartbeat, or on any receive
// error (which disconnects the session per PollFrame's rules).
//
// Returns:
//   - One complete frame payload, or nil
func (s *Session) Receive() []byte {
	if !s.PollFrame() {
		return nil
	}

	return s.ReadFrame()
}

// Disconnect shuts down both read/write halves of the socket, closes the
// handle, and records the disconnect timestamp. Idempotent: a second call is
// a no-op and never double-closes the handle.
//
// Returns:
//   - The session's (now terminal) status, always Disconnected
func (s *Session) Disconnect() Status {
	if !s.status.CompareAndSwap(int32(Connected), int32(Disconnected)) {
		return Disconnected
	}

	s.timeMu.Lock()
	s.lastDisconnectedAt = time.Now()
	s.timeMu.Unlock()

	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	if hc, ok := s.conn.(halfCloser); ok {
		_ = hc.CloseRead()
		_ = hc.CloseWrite()
	}
	_ = s.conn.Close()

	return Disconnected
}

// BeginDispatch marks the session as having a handling task in flight. The
// poll loop uses it to guarantee at most one handling task per session at a
// time, so frame reads never interleave.
//
// Returns:
//   - true if the caller won the flag, false if a task is already in flight
func (s *Session) BeginDispatch() bool {
	return s.dispatching.CompareAndSwap(false, true)
}

// EndDispatch clears the in-flight handling flag set by BeginDispatch.
func (s *Session) EndDispatch() {
	s.dispatching.Store(false)
}

// Dispatching reports whether a handling task for this session is in flight.
//
// Returns:
//   - true if a handling task has not yet called EndDispatch
func (s *Session) Dispatching() bool {
	return s.dispatching.Load()
}

// isTransientTransportError reports whether err belongs to the
// reset/timeout/broken-pipe family that quietly disconnects a session.
func isTransientTransportError(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED)
}
