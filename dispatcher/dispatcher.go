// Package dispatcher decodes received frames into typed requests, drives the
// identity store and the auth index, and encodes the typed responses back to
// the originating session. Every reply echoes the request's sequence number
// so clients can correlate asynchronous responses.
package dispatcher

import (
	"errors"

	"github.com/cyberinferno/chat-server/authindex"
	"github.com/cyberinferno/chat-server/identity"
	"github.com/cyberinferno/chat-server/logger"
	"github.com/cyberinferno/chat-server/metrics"
	"github.com/cyberinferno/chat-server/protocol"
	"github.com/cyberinferno/chat-server/session"
	"github.com/cyberinferno/chat-server/throttle"
)

// Dispatcher routes decoded frames to the Register / Authorize / SendTo
// handlers. It holds no per-session state of its own; all of it lives in the
// identity store and the auth index, so one Dispatcher serves every session.
type Dispatcher struct {
	Logger     logger.Logger
	Identities *identity.Store
	Index      *authindex.Index
	Throttle   *throttle.Limiter
	Metrics    *metrics.Metrics
}

// Dispatch decodes one frame payload and executes the request it carries.
// The caller (the handling task) holds the session's Access mutex for the
// full read-dispatch-reply sequence, which gives per-session ordering.
//
// A malformed frame or unknown message type discards the frame and keeps the
// session connected; only transport-level corruption (handled in the session
// layer) forces a disconnect.
//
// Parameters:
//   - payload: One complete frame payload, without the length prefix
//   - sess: The originating session; replies are sent to it
func (d *Dispatcher) Dispatch(payload []byte, sess *session.Session) {
	if d.Metrics != nil {
		d.Metrics.FramesDispatched.Inc()
	}

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			d.Logger.Warn("discarding frame with unknown message type",
				logger.Field{Key: "session", Value: sess.RemoteAddr()},
				logger.Field{Key: "error", Value: err})
		} else {
			d.Logger.Warn("discarding malformed frame",
				logger.Field{Key: "session", Value: sess.RemoteAddr()},
				logger.Field{Key: "error", Value: err})
		}
		return
	}

	switch r := req.(type) {
	case protocol.RegisterRequest:
		d.handleRegister(r, sess)
	case protocol.AuthorizeRequest:
		d.handleAuthorize(r, sess)
	case protocol.SendToRequest:
		d.handleSendTo(r, sess)
	}
}

// handleRegister creates a new identity and authenticates the session as it.
// Registering a username that is already known falls through to Authorize:
// the caller is authenticated if and only if the supplied password matches
// the existing identity. This mirrors long-standing client-visible behavior
// and is deliberately not "fixed" here.
func (d *Dispatcher) handleRegister(req protocol.RegisterRequest, sess *session.Session) {
	if d.Identities.Find(req.Username) != nil {
		d.handleAuthorize(protocol.AuthorizeRequest(req), sess)
		return
	}

	digest := identity.Hash([]byte(req.Password))
	id, ok := d.Identities.Register(req.Username, digest)
	if !ok {
		// Lost a race with a concurrent Register for the same name; same
		// fallthrough as the known-username path.
		d.handleAuthorize(protocol.AuthorizeRequest(req), sess)
		return
	}

	d.Index.MarkAuthenticated(sess, id)
	d.Logger.Info("identity registered",
		logger.Field{Key: "username", Value: req.Username},
		logger.Field{Key: "session", Value: sess.RemoteAddr()})
	d.reply(sess, req.Seq, protocol.AuthenticationOk)
}

// handleAuthorize authenticates the session against an existing identity.
// Unknown user and wrong password are indistinguishable in the reply. A
// source that keeps failing is throttled and refused without touching the
// store.
func (d *Dispatcher) handleAuthorize(req protocol.AuthorizeRequest, sess *session.Session) {
	if d.Throttle != nil && !d.Throttle.Allow(sess.RemoteAddr()) {
		d.Logger.Warn("authentication attempt throttled",
			logger.Field{Key: "session", Value: sess.RemoteAddr()})
		d.authFail(sess, req.Seq)
		return
	}

	digest := identity.Hash([]byte(req.Password))
	id := d.Identities.Authorize(req.Username, digest)
	if id == nil {
		if d.Throttle != nil {
			d.Throttle.Fail(sess.RemoteAddr())
		}
		d.authFail(sess, req.Seq)
		return
	}

	if d.Throttle != nil {
		d.Throttle.Reset(sess.RemoteAddr())
	}
	d.Index.MarkAuthenticated(sess, id)
	d.Logger.Info("session authenticated",
		logger.Field{Key: "username", Value: req.Username},
		logger.Field{Key: "session", Value: sess.RemoteAddr()})
	d.reply(sess, req.Seq, protocol.AuthenticationOk)
}

// handleSendTo relays a message to every live session of the recipient
// identity. The sender must be authenticated; an unknown or offline
// recipient yields SendingFail to the sender only, and the recipient is
// never told about the failed attempt.
func (d *Dispatcher) handleSendTo(req protocol.SendToRequest, sess *session.Session) {
	if d.Index.StatusOf(sess) != authindex.Authenticated {
		d.reply(sess, req.Seq, protocol.AccessDenied)
		return
	}

	sender, ok := d.Index.UsernameOf(sess)
	if !ok {
		d.reply(sess, req.Seq, protocol.AccessDenied)
		return
	}

	recipients := d.Index.SessionsFor(req.Recipient)
	if len(recipients) == 0 {
		if d.Metrics != nil {
			d.Metrics.MessagesDropped.Inc()
		}
		d.reply(sess, req.Seq, protocol.SendingFail)
		return
	}

	// Send serializes writes per session, so relaying never takes another
	// session's Access mutex; two sessions relaying at each other cannot
	// block on each other's handling tasks.
	frame := protocol.EncodeIncomingMessage(sender, req.Message)
	for _, recipient := range recipients {
		recipient.Send(frame)
		if d.Metrics != nil {
			d.Metrics.MessagesRelayed.Inc()
		}
	}

	d.reply(sess, req.Seq, protocol.SendingOk)
}

// authFail sends AuthenticationFail and bumps the failure counter.
func (d *Dispatcher) authFail(sess *session.Session, seq uint16) {
	if d.Metrics != nil {
		d.Metrics.AuthFailures.Inc()
	}
	d.reply(sess, seq, protocol.AuthenticationFail)
}

// reply sends a plain response frame echoing the request sequence.
func (d *Dispatcher) reply(sess *session.Session, seq uint16, code protocol.ResponseCode) {
	if !sess.Send(protocol.EncodeResponse(seq, code)) {
		d.Logger.Debug("reply not delivered",
			logger.Field{Key: "session", Value: sess.RemoteAddr()},
			logger.Field{Key: "code", Value: code.String()})
	}
}
