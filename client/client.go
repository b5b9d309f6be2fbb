// Package client provides an event-driven TCP chat client speaking the
// server's length-prefixed binary protocol. Requests are correlated to
// responses by sequence number, so multiple requests can be in flight;
// server-initiated IncomingMessage frames are delivered to a registered
// handler. The package is the programmatic client library; it contains no
// CLI or REPL.
package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/chat-server/protocol"
)

// State represents the client's connection state.
type State int

const (
	Disconnected State = iota // Not connected
	Connecting                // Connection attempt in progress
	Connected                 // Successfully connected
	Closed                    // Client has been closed and must not be reused
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IncomingMessageHandler is called for each relayed message the server
// pushes to this client. Handlers are invoked from the read goroutine;
// implementations must not block for long.
type IncomingMessageHandler func(sender, message string)

// StateHandler is called when the connection state changes.
type StateHandler func(state State, err error)

// ErrorHandler is called when a read or write error occurs.
type ErrorHandler func(err error)

// Config holds configuration for the chat client.
type Config struct {
	// Address is the server "host:port" to connect to.
	Address string
	// ConnectionTimeout is the max duration for establishing a connection.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration for a single framed write; 0 means
	// no timeout.
	WriteTimeout time.Duration
	// ResponseTimeout is how long request methods wait for the correlated
	// response before giving up.
	ResponseTimeout time.Duration
}

// DefaultConfig returns a Config with defaults for the given address:
// 10s connection timeout, 10s write timeout, 5s response timeout.
//
// Parameters:
//   - address: The server "host:port"
//
// Returns:
//   - A Config ready for NewClient
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ResponseTimeout:   5 * time.Second,
	}
}

// Client is a chat client. Register handlers, call Connect, then use the
// typed request methods. It is safe for concurrent use.
type Client struct {
	config Config

	mu     sync.RWMutex
	conn   net.Conn
	state  State
	closed bool

	onIncoming IncomingMessageHandler
	onState    StateHandler
	onError    ErrorHandler

	seq     atomic.Uint32
	pending sync.Map // uint16 -> chan protocol.ResponseCode

	wg sync.WaitGroup
}

// NewClient creates a chat client with the given config. The client starts
// in Disconnected state; call Connect to establish a connection.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client; call Close when done to release resources
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		state:  Disconnected,
	}
}

// OnIncomingMessage registers the handler for relayed messages. Repeated
// calls replace the previous handler; pass nil to clear it.
//
// Parameters:
//   - handler: Function called with (sender, message) for each relay
func (c *Client) OnIncomingMessage(handler IncomingMessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIncoming = handler
}

// OnStateChange registers the handler for connection state changes.
// Repeated calls replace the previous handler; pass nil to clear it.
//
// Parameters:
//   - handler: Function called on each state change
func (c *Client) OnStateChange(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnError registers the handler for read and write errors. Repeated calls
// replace the previous handler; pass nil to clear it.
//
// Parameters:
//   - handler: Function called when an error occurs
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect establishes a TCP connection to the configured address and starts
// the read loop.
//
// Returns:
//   - nil on success; an error if the client is closed, already connected,
//     or the dial fails
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()
	c.emitState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Close shuts down the client, closes the connection, and stops the read
// loop. Idempotent.
//
// Returns:
//   - nil
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = Closed
	c.mu.Unlock()

	c.wg.Wait()
	c.emitState(Closed, nil)

	return nil
}

// GetState returns the current connection state.
//
// Returns:
//   - The current State
func (c *Client) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Register asks the server to create an identity and authenticate this
// connection as it. Note the server-side behavior for an already-taken
// username: the request is treated as an Authorize against the existing
// identity, so the result is AuthenticationFail unless the password happens
// to match.
//
// Parameters:
//   - username: The identity name to register
//   - password: The password
//
// Returns:
//   - The server's response code (AuthenticationOk or AuthenticationFail)
//   - An error if the request could not be sent or timed out
func (c *Client) Register(username, password string) (protocol.ResponseCode, error) {
	seq := c.nextSeq()
	return c.roundTrip(seq, protocol.EncodeRegister(seq, username, password))
}

// Authorize authenticates this connection against an existing identity.
//
// Parameters:
//   - username: The identity name
//   - password: The password
//
// Returns:
//   - The server's response code (AuthenticationOk or AuthenticationFail)
//   - An error if the request could not be sent or timed out
func (c *Client) Authorize(username, password string) (protocol.ResponseCode, error) {
	seq := c.nextSeq()
	return c.roundTrip(seq, protocol.EncodeAuthorize(seq, username, password))
}

// SendTo asks the server to relay a message to every live session of the
// recipient identity.
//
// Parameters:
//   - recipient: The recipient identity name
//   - message: The message body
//
// Returns:
//   - The server's response code (SendingOk, SendingFail, or AccessDenied)
//   - An error if the request could not be sent or timed out
func (c *Client) SendTo(recipient, message string) (protocol.ResponseCode, error) {
	seq := c.nextSeq()
	return c.roundTrip(seq, protocol.EncodeSendTo(seq, recipient, message))
}

// roundTrip registers a response slot for seq, sends the framed payload, and
// waits for the correlated response.
func (c *Client) roundTrip(seq uint16, payload []byte) (protocol.ResponseCode, error) {
	ch := make(chan protocol.ResponseCode, 1)
	c.pending.Store(seq, ch)
	defer c.pending.Delete(seq)

	if err := c.send(payload); err != nil {
		return 0, err
	}

	select {
	case code := <-ch:
		return code, nil
	case <-time.After(c.config.ResponseTimeout):
		return 0, fmt.Errorf("timed out waiting for response to sequence %d", seq)
	}
}

// send frames and writes one payload.
func (c *Client) send(payload []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	frame := make([]byte, protocol.LengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[protocol.LengthPrefixSize:], payload)

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
		defer func() {
			_ = conn.SetWriteDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	if _, err := conn.Write(frame); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// nextSeq returns the next request sequence number, skipping the reserved
// IncomingSequence value.
func (c *Client) nextSeq() uint16 {
	for {
		seq := uint16(c.seq.Add(1))
		if seq != protocol.IncomingSequence {
			return seq
		}
	}
}

// readLoop reads length-prefixed frames and routes them: IncomingMessage
// frames go to the incoming handler, everything else is matched to a
// pending request by sequence number.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	var lenBuf [protocol.LengthPrefixSize]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			c.readFailed(err)
			return
		}

		length := binary.LittleEndian.Uint32(lenBuf[:])
		if length == 0 {
			continue
		}
		if length > protocol.MaxPayloadLength {
			c.readFailed(fmt.Errorf("oversized frame length %d", length))
			return
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			c.readFailed(err)
			return
		}

		resp, err := protocol.DecodeResponse(payload)
		if err != nil {
			c.emitError(err)
			continue
		}

		if resp.Code == protocol.IncomingMessage {
			c.mu.RLock()
			handler := c.onIncoming
			c.mu.RUnlock()
			if handler != nil {
				handler(resp.Sender, resp.Message)
			}
			continue
		}

		if ch, ok := c.pending.Load(resp.Seq); ok {
			select {
			case ch.(chan protocol.ResponseCode) <- resp.Code:
			default:
			}
		}
	}
}

// readFailed reports a read loop failure and moves to Disconnected unless
// the client is being closed.
func (c *Client) readFailed(err error) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.state = Disconnected
	}
	c.mu.Unlock()

	if !closed {
		c.emitError(err)
		c.emitState(Disconnected, err)
	}
}

// setState updates the state and notifies the state handler.
func (c *Client) setState(state State, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.emitState(state, err)
}

func (c *Client) emitState(state State, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()
	if handler != nil {
		handler(state, err)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}
