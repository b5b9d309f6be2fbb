// Package protocol defines the binary wire protocol spoken between the chat
// server and its clients. Every frame on the wire is a 4-byte little-endian
// length prefix followed by a payload; the payload starts with a 2-byte
// client-chosen sequence number and a 1-byte message type, followed by
// type-specific fields. Strings are encoded as an 8-byte length followed by
// the raw bytes, with no terminator and no encoding assumptions.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType identifies a client-to-server request inside a frame payload.
type MessageType uint8

const (
	// MessageRegister requests creation of a new identity {username, password}.
	MessageRegister MessageType = 0x00
	// MessageAuthorize requests authentication against an existing identity.
	MessageAuthorize MessageType = 0x01
	// MessageSendTo requests relay of a message to all live sessions of a
	// named recipient identity.
	MessageSendTo MessageType = 0x02
)

// ResponseCode identifies a server-to-client reply inside a frame payload.
type ResponseCode uint8

const (
	AuthenticationOk   ResponseCode = 0x00
	AuthenticationFail ResponseCode = 0x01
	// IncomingMessage carries a relayed message {sender, message}; it is
	// server-initiated and always uses IncomingSequence.
	IncomingMessage ResponseCode = 0x02
	SendingOk       ResponseCode = 0x03
	SendingFail     ResponseCode = 0x04
	AccessDenied    ResponseCode = 0xFF
)

// IncomingSequence is the reserved sequence number used for server-initiated
// IncomingMessage frames, which do not correspond to any client request.
const IncomingSequence uint16 = 0xFFFF

// LengthPrefixSize is the size in bytes of the frame length prefix.
const LengthPrefixSize = 4

// MaxPayloadLength is the hard ceiling on a frame payload length. A length
// prefix above this value is treated as a corrupt stream. It is well below
// the signed 32-bit positive range required by the protocol.
const MaxPayloadLength uint32 = 16 * 1024 * 1024

// ErrMalformedFrame is returned when a frame payload is truncated or its
// fields cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnknownMessageType is returned when a frame carries a message type the
// server does not understand.
var ErrUnknownMessageType = errors.New("unknown message type")

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case MessageRegister:
		return "Register"
	case MessageAuthorize:
		return "Authorize"
	case MessageSendTo:
		return "SendTo"
	default:
		return fmt.Sprintf("MessageType(0x%02x)", uint8(t))
	}
}

// String returns a human-readable name for the response code.
func (c ResponseCode) String() string {
	switch c {
	case AuthenticationOk:
		return "AuthenticationOk"
	case AuthenticationFail:
		return "AuthenticationFail"
	case IncomingMessage:
		return "IncomingMessage"
	case SendingOk:
		return "SendingOk"
	case SendingFail:
		return "SendingFail"
	case AccessDenied:
		return "AccessDenied"
	default:
		return fmt.Sprintf("ResponseCode(0x%02x)", uint8(c))
	}
}

// RegisterRequest is a decoded Register frame payload.
type RegisterRequest struct {
	Seq      uint16
	Username string
	Password string
}

// AuthorizeRequest is a decoded Authorize frame payload.
type AuthorizeRequest struct {
	Seq      uint16
	Username string
	Password string
}

// SendToRequest is a decoded SendTo frame payload.
type SendToRequest struct {
	Seq       uint16
	Recipient string
	Message   string
}

// Response is a decoded server-to-client frame payload. Sender and Message
// are populated only when Code is IncomingMessage.
type Response struct {
	Seq     uint16
	Code    ResponseCode
	Sender  string
	Message string
}

// DecodeRequest decodes a client-to-server frame payload into one of
// RegisterRequest, AuthorizeRequest, or SendToRequest.
//
// Parameters:
//   - payload: The frame payload, without the 4-byte length prefix
//
// Returns:
//   - The decoded request as one of the typed request structs
//   - ErrMalformedFrame if the payload is truncated, ErrUnknownMessageType if
//     the message type byte is not recognized
func DecodeRequest(payload []byte) (any, error) {
	r := payloadReader{buf: payload}
	seq := r.uint16()
	msgType := MessageType(r.uint8())
	if r.err != nil {
		return nil, r.err
	}

	switch msgType {
	case MessageRegister:
		req := RegisterRequest{Seq: seq, Username: r.string(), Password: r.string()}
		if r.err != nil {
			return nil, r.err
		}
		return req, nil
	case MessageAuthorize:
		req := AuthorizeRequest{Seq: seq, Username: r.string(), Password: r.string()}
		if r.err != nil {
			return nil, r.err
		}
		return req, nil
	case MessageSendTo:
		req := SendToRequest{Seq: seq, Recipient: r.string(), Message: r.string()}
		if r.err != nil {
			return nil, r.err
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, uint8(msgType))
	}
}

// DecodeResponse decodes a server-to-client frame payload.
//
// Parameters:
//   - payload: The frame payload, without the 4-byte length prefix
//
// Returns:
//   - The decoded Response
//   - ErrMalformedFrame if the payload is truncated
func DecodeResponse(payload []byte) (Response, error) {
	r := payloadReader{buf: payload}
	resp := Response{
		Seq:  r.uint16(),
		Code: ResponseCode(r.uint8()),
	}
	if resp.Code == IncomingMessage {
		resp.Sender = r.string()
		resp.Message = r.string()
	}
	if r.err != nil {
		return Response{}, r.err
	}

	return resp, nil
}

// EncodeRegister builds a Register frame payload.
//
// Parameters:
//   - seq: The client-chosen sequence number, echoed back in the reply
//   - username: The identity name to register
//   - password: The plaintext password; hashing happens server-side
//
// Returns:
//   - The frame payload, ready to be framed with a length prefix
func EncodeRegister(seq uint16, username, password string) []byte {
	w := newPayloadWriter(seq, MessageRegister)
	w.string(username)
	w.string(password)
	return w.bytes()
}

// EncodeAuthorize builds an Authorize frame payload.
//
// Parameters:
//   - seq: The client-chosen sequence number, echoed back in the reply
//   - username: The identity name to authenticate as
//   - password: The plaintext password
//
// Returns:
//   - The frame payload, ready to be framed with a length prefix
func EncodeAuthorize(seq uint16, username, password string) []byte {
	w := newPayloadWriter(seq, MessageAuthorize)
	w.string(username)
	w.string(password)
	return w.bytes()
}

// EncodeSendTo builds a SendTo frame payload.
//
// Parameters:
//   - seq: The client-chosen sequence number, echoed back in the reply
//   - recipient: The identity name to deliver the message to
//   - message: The message body
//
// Returns:
//   - The frame payload, ready to be framed with a length prefix
func EncodeSendTo(seq uint16, recipient, message string) []byte {
	w := newPayloadWriter(seq, MessageSendTo)
	w.string(recipient)
	w.string(message)
	return w.bytes()
}

// EncodeResponse builds a plain response frame payload (no message body).
//
// Parameters:
//   - seq: The sequence number of the request this responds to
//   - code: The response code
//
// Returns:
//   - The frame payload, ready to be framed with a length prefix
func EncodeResponse(seq uint16, code ResponseCode) []byte {
	buf := make([]byte, 3)
	binary.LittleEndian.PutUint16(buf, seq)
	buf[2] = uint8(code)
	return buf
}

// EncodeIncomingMessage builds an IncomingMessage frame payload carrying a
// relayed message. The sequence number is always IncomingSequence since the
// frame is server-initiated.
//
// Parameters:
//   - sender: The identity name of the originating session
//   - message: The message body
//
// Returns:
//   - The frame payload, ready to be framed with a length prefix
func EncodeIncomingMessage(sender, message string) []byte {
	buf := make([]byte, 3, 3+16+len(sender)+len(message))
	binary.LittleEndian.PutUint16(buf, IncomingSequence)
	buf[2] = uint8(IncomingMessage)
	w := payloadWriter{buf: buf}
	w.string(sender)
	w.string(message)
	return w.bytes()
}

// payloadWriter appends protocol fields to a growing byte slice.
type payloadWriter struct {
	buf []byte
}

func newPayloadWriter(seq uint16, msgType MessageType) *payloadWriter {
	buf := make([]byte, 3, 64)
	binary.LittleEndian.PutUint16(buf, seq)
	buf[2] = uint8(msgType)
	return &payloadWriter{buf: buf}
}

func (w *payloadWriter) string(s string) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *payloadWriter) bytes() []byte {
	return w.buf
}

// payloadReader consumes protocol fields from a byte slice, latching the
// first decode error so callers can check once at the end.
type payloadReader struct {
	buf []byte
	off int
	err error
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) uint8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 1 {
		r.err = fmt.Errorf("%w: truncated byte field", ErrMalformedFrame)
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *payloadReader) uint16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 2 {
		r.err = fmt.Errorf("%w: truncated uint16 field", ErrMalformedFrame)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *payloadReader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 8 {
		r.err = fmt.Errorf("%w: truncated uint64 field", ErrMalformedFrame)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *payloadReader) string() string {
	length := r.uint64()
	if r.err != nil {
		return ""
	}
	if length > uint64(r.remaining()) {
		r.err = fmt.Errorf("%w: string length %d exceeds remaining %d", ErrMalformedFrame, length, r.remaining())
		return ""
	}
	v := string(r.buf[r.off : r.off+int(length)])
	r.off += int(length)
	return v
}
