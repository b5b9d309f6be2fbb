package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest_Register(t *testing.T) {
	t.Run("round-trips an encoded register request", func(t *testing.T) {
		payload := EncodeRegister(7, "alice", "pw")
		req, err := DecodeRequest(payload)
		require.NoError(t, err)

		reg, ok := req.(RegisterRequest)
		require.True(t, ok)
		assert.Equal(t, uint16(7), reg.Seq)
		assert.Equal(t, "alice", reg.Username)
		assert.Equal(t, "pw", reg.Password)
	})

	t.Run("preserves empty fields", func(t *testing.T) {
		payload := EncodeRegister(0, "", "")
		req, err := DecodeRequest(payload)
		require.NoError(t, err)

		reg, ok := req.(RegisterRequest)
		require.True(t, ok)
		assert.Empty(t, reg.Username)
		assert.Empty(t, reg.Password)
	})

	t.Run("preserves arbitrary bytes in fields", func(t *testing.T) {
		payload := EncodeRegister(1, "\x00\xffuser", "p\x00w")
		req, err := DecodeRequest(payload)
		require.NoError(t, err)

		reg, ok := req.(RegisterRequest)
		require.True(t, ok)
		assert.Equal(t, "\x00\xffuser", reg.Username)
		assert.Equal(t, "p\x00w", reg.Password)
	})
}

func TestDecodeRequest_Authorize(t *testing.T) {
	payload := EncodeAuthorize(42, "bob", "secret")
	req, err := DecodeRequest(payload)
	require.NoError(t, err)

	auth, ok := req.(AuthorizeRequest)
	require.True(t, ok)
	assert.Equal(t, uint16(42), auth.Seq)
	assert.Equal(t, "bob", auth.Username)
	assert.Equal(t, "secret", auth.Password)
}

func TestDecodeRequest_SendTo(t *testing.T) {
	payload := EncodeSendTo(9, "alice", "hello there")
	req, err := DecodeRequest(payload)
	require.NoError(t, err)

	sendTo, ok := req.(SendToRequest)
	require.True(t, ok)
	assert.Equal(t, uint16(9), sendTo.Seq)
	assert.Equal(t, "alice", sendTo.Recipient)
	assert.Equal(t, "hello there", sendTo.Message)
}

func TestDecodeRequest_Errors(t *testing.T) {
	t.Run("empty payload is malformed", func(t *testing.T) {
		_, err := DecodeRequest(nil)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("truncated header is malformed", func(t *testing.T) {
		_, err := DecodeRequest([]byte{0x01})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("unknown message type is rejected", func(t *testing.T) {
		_, err := DecodeRequest([]byte{0x01, 0x00, 0x7F})
		assert.ErrorIs(t, err, ErrUnknownMessageType)
	})

	t.Run("string length past end of payload is malformed", func(t *testing.T) {
		payload := EncodeRegister(1, "alice", "pw")
		_, err := DecodeRequest(payload[:len(payload)-1])
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("huge string length does not allocate", func(t *testing.T) {
		// Header plus a string length field claiming ~2^63 bytes.
		payload := []byte{0x01, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
		_, err := DecodeRequest(payload)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestEncodeResponse(t *testing.T) {
	t.Run("echoes the sequence and code", func(t *testing.T) {
		payload := EncodeResponse(513, SendingOk)
		resp, err := DecodeResponse(payload)
		require.NoError(t, err)
		assert.Equal(t, uint16(513), resp.Seq)
		assert.Equal(t, SendingOk, resp.Code)
		assert.Empty(t, resp.Sender)
		assert.Empty(t, resp.Message)
	})

	t.Run("all plain response codes round-trip", func(t *testing.T) {
		for _, code := range []ResponseCode{
			AuthenticationOk, AuthenticationFail, SendingOk, SendingFail, AccessDenied,
		} {
			resp, err := DecodeResponse(EncodeResponse(3, code))
			require.NoError(t, err)
			assert.Equal(t, code, resp.Code)
		}
	})
}

func TestEncodeIncomingMessage(t *testing.T) {
	t.Run("uses the sentinel sequence", func(t *testing.T) {
		payload := EncodeIncomingMessage("bob", "hi")
		resp, err := DecodeResponse(payload)
		require.NoError(t, err)
		assert.Equal(t, IncomingSequence, resp.Seq)
		assert.Equal(t, IncomingMessage, resp.Code)
		assert.Equal(t, "bob", resp.Sender)
		assert.Equal(t, "hi", resp.Message)
	})

	t.Run("truncated message body is malformed", func(t *testing.T) {
		payload := EncodeIncomingMessage("bob", "hi")
		_, err := DecodeResponse(payload[:len(payload)-1])
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "Register", MessageRegister.String())
	assert.Equal(t, "Authorize", MessageAuthorize.String())
	assert.Equal(t, "SendTo", MessageSendTo.String())
	assert.Equal(t, "MessageType(0x09)", MessageType(9).String())
}

func TestResponseCodeString(t *testing.T) {
	assert.Equal(t, "AuthenticationOk", AuthenticationOk.String())
	assert.Equal(t, "AccessDenied", AccessDenied.String())
	assert.Equal(t, "ResponseCode(0x10)", ResponseCode(0x10).String())
}
