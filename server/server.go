// Package server runs the chat server: it owns the listening socket and the
// set of live sessions, and drives both the accept loop and the poll loop as
// self-resubmitting jobs on the shared task pool. No dedicated goroutines
// exist outside the pool; recurring work re-enqueues itself while the server
// is running.
package server

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/chat-server/authindex"
	"github.com/cyberinferno/chat-server/dispatcher"
	"github.com/cyberinferno/chat-server/identity"
	"github.com/cyberinferno/chat-server/logger"
	"github.com/cyberinferno/chat-server/metrics"
	"github.com/cyberinferno/chat-server/persist"
	"github.com/cyberinferno/chat-server/safemap"
	"github.com/cyberinferno/chat-server/session"
	"github.com/cyberinferno/chat-server/sessionid"
	"github.com/cyberinferno/chat-server/taskpool"
)

// acceptPollInterval is the deadline used for each non-blocking accept
// attempt; on timeout the accept job simply resubmits itself.
const acceptPollInterval = 50 * time.Millisecond

// pollIdleDelay is the pause between poll loop passes when the previous pass
// found nothing to do, keeping an idle server off the CPU.
const pollIdleDelay = 2 * time.Millisecond

// ConnectionHandler is an injected lifecycle callback. It runs inside a pool
// task, not inline with the accept or poll loop, so it does not have to be
// fast.
type ConnectionHandler func(sess *session.Session)

// Config holds the server's listening and session settings.
type Config struct {
	// Addr is the "host:port" to listen on.
	Addr string
	// KeepAlive is the TCP keep-alive policy for accepted sockets.
	KeepAlive session.KeepAliveConfig
	// MaxPayload caps accepted frame payload lengths; zero uses the
	// protocol default.
	MaxPayload uint32
	// ReadTimeout bounds the blocking payload read of one frame, so a peer
	// that never completes a promised payload stalls only its own handling
	// task, and only for this long. Zero means no deadline.
	ReadTimeout time.Duration
	// WriteTimeout bounds each framed write. Zero means no deadline.
	WriteTimeout time.Duration
}

// Server accepts connections, registers sessions, polls them for complete
// frames, and hands frames to the dispatcher on pool tasks. Sessions are
// stored under generated uint32 IDs rather than list positions, so a task
// holding an ID can never dereference an entry another task has erased.
type Server struct {
	Logger     logger.Logger
	Pool       *taskpool.Pool
	Identities *identity.Store
	Index      *authindex.Index
	Dispatcher *dispatcher.Dispatcher
	Recorder   persist.Recorder
	Metrics    *metrics.Metrics

	// OnConnect and OnDisconnect are invoked once per session lifecycle
	// event, from a pool task. Either may be nil.
	OnConnect    ConnectionHandler
	OnDisconnect ConnectionHandler

	config   Config
	sessions *safemap.SafeMap[uint32, *session.Session]
	ids      *sessionid.Allocator
	listener *net.TCPListener
	running  atomic.Bool
}

// New wires a Server from its collaborators. The pool must already be
// running; Start enqueues the loops onto it.
//
// Parameters:
//   - cfg: Listening and session settings
//   - pool: The task pool that runs the accept loop, the poll loop, and all
//     handling tasks
//   - identities: The identity store shared with the dispatcher
//   - index: The auth index shared with the dispatcher
//   - disp: The protocol dispatcher
//   - recorder: The connection-log sink; may be nil to disable persistence
//   - m: Prometheus collectors; may be nil
//   - log: Structured logger
//
// Returns:
//   - A Server ready for Start
func New(
	cfg Config,
	pool *taskpool.Pool,
	identities *identity.Store,
	index *authindex.Index,
	disp *dispatcher.Dispatcher,
	recorder persist.Recorder,
	m *metrics.Metrics,
	log logger.Logger,
) *Server {
	return &Server{
		Logger:     log,
		Pool:       pool,
		Identities: identities,
		Index:      index,
		Dispatcher: disp,
		Recorder:   recorder,
		Metrics:    m,
		config:     cfg,
		sessions:   safemap.NewSafeMap[uint32, *session.Session](),
		ids:        sessionid.NewAllocator(),
	}
}

// Start binds the listening socket and enqueues the accept and poll loops.
// It is safe to call only when the server is not already running.
//
// Returns:
//   - An error if the server is already running or listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	addr, err := net.ResolveTCPAddr("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.config.Addr, err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.Logger.Info("server started",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "pool_size", Value: s.Pool.Size()})

	s.Pool.Submit(s.acceptLoop)
	s.Pool.Submit(s.pollLoop)

	return nil
}

// Addr returns the listener's bound address, useful when listening on an
// ephemeral port.
//
// Returns:
//   - The bound address string, or "" if the server never started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Running reports whether the server is accepting and polling.
//
// Returns:
//   - true between Start and Stop
func (s *Server) Running() bool {
	return s.running.Load()
}

// SessionCount returns the number of live sessions.
//
// Returns:
//   - The live session count
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// Stop shuts the server down: no new accept/poll jobs are submitted, the
// listening socket is closed, every session is force-disconnected and
// cleaned up, and the pool is reset (queued-but-not-started jobs are
// drained; in-flight jobs finish). The pool is left running so Start can be
// called again.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	// Disconnect first so handling tasks blocked in a payload read error out
	// instead of stalling the pool reset.
	s.sessions.Range(func(id uint32, sess *session.Session) bool {
		sess.Disconnect()
		return true
	})

	s.Pool.Reset()

	s.sessions.Range(func(id uint32, sess *session.Session) bool {
		if _, ok := s.sessions.LoadAndDelete(id); ok {
			s.cleanupSession(sess)
		}
		return true
	})

	s.Logger.Info("server stopped")
}

// DisconnectAll force-disconnects every live session without stopping the
// server; the poll loop observes the disconnects and runs the normal
// cleanup. Used by the admin `exit` command before Stop.
func (s *Server) DisconnectAll() {
	s.sessions.Range(func(id uint32, sess *session.Session) bool {
		sess.Disconnect()
		return true
	})
}

// Diagnostics renders a human-readable dump of registered identities and
// live sessions for the admin `print` command.
//
// Returns:
//   - A multi-line diagnostic string
func (s *Server) Diagnostics() string {
	var b strings.Builder

	usernames := s.Identities.Usernames()
	fmt.Fprintf(&b, "identities (%d):\n", len(usernames))
	for _, name := range usernames {
		fmt.Fprintf(&b, "  %s\n", name)
	}

	snapshot := s.Index.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintf(&b, "sessions (%d):\n", len(keys))
	for _, key := range keys {
		username := snapshot[key]
		if username == "" {
			username = "<unauthenticated>"
		}
		fmt.Fprintf(&b, "  %s -> %s\n", key, username)
	}

	return b.String()
}

// acceptLoop performs one non-blocking accept attempt, then resubmits itself
// while the server is running. This is how the "accept thread" exists
// without a dedicated goroutine outside the pool.
func (s *Server) acceptLoop() {
	if !s.running.Load() {
		return
	}

	_ = s.listener.SetDeadline(time.Now().Add(acceptPollInterval))
	conn, err := s.listener.AcceptTCP()
	if err != nil {
		if !s.running.Load() {
			return
		}
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			s.Logger.Error("accept error", logger.Field{Key: "error", Value: err})
		}
		s.resubmitAccept()
		return
	}

	if err := s.config.KeepAlive.Apply(conn); err != nil {
		s.Logger.Warn("failed to enable keep-alive, dropping connection",
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
			logger.Field{Key: "error", Value: err})
		_ = conn.Close()
		s.resubmitAccept()
		return
	}

	id := s.ids.Next()
	sess := session.New(id, conn, session.Options{
		MaxPayload:   s.config.MaxPayload,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		Logger:       s.Logger,
	})

	s.Index.AddSession(sess)
	s.sessions.Store(id, sess)

	if s.Metrics != nil {
		s.Metrics.AcceptedConnections.Inc()
		s.Metrics.OpenSessions.Inc()
	}
	s.Logger.Info("session connected",
		logger.Field{Key: "id", Value: id},
		logger.Field{Key: "remote", Value: sess.RemoteAddr()})

	if handler := s.OnConnect; handler != nil {
		s.Pool.Submit(func() { handler(sess) })
	}

	s.resubmitAccept()
}

// resubmitAccept re-enqueues the accept loop if the server is still running.
func (s *Server) resubmitAccept() {
	if s.running.Load() {
		s.Pool.Submit(s.acceptLoop)
	}
}

// pollLoop scans every live session once: sessions with a complete length
// prefix get a handling task, sessions observed Disconnected get a cleanup
// task. The scan never blocks on a slow peer (the length read is
// non-blocking; the payload read happens inside the handling task) and the
// session map is never locked across a task's execution. The loop then
// resubmits itself.
func (s *Server) pollLoop() {
	if !s.running.Load() {
		return
	}

	busy := false
	s.sessions.Range(func(id uint32, sess *session.Session) bool {
		if sess.Dispatching() {
			// A handling task for this session is in flight; it owns the
			// socket reads until it finishes.
			return true
		}

		if sess.PollFrame() {
			if sess.BeginDispatch() {
				busy = true
				s.Pool.Submit(func() { s.handleFrame(sess) })
			}
			return true
		}

		if sess.Status() == session.Disconnected {
			// The registry removal happens inside the task, not here: if the
			// queued task is discarded by a pool reset during Stop, the
			// session is still in the map and Stop's final sweep cleans it
			// up instead. BeginDispatch claims the session so only one
			// cleanup task is ever queued.
			if sess.BeginDispatch() {
				busy = true
				s.Pool.Submit(func() {
					if _, ok := s.sessions.LoadAndDelete(id); ok {
						s.cleanupSession(sess)
					}
				})
			}
		}

		return true
	})

	if !s.running.Load() {
		return
	}
	if !busy {
		time.Sleep(pollIdleDelay)
	}
	s.Pool.Submit(s.pollLoop)
}

// handleFrame is the per-message task: the blocking payload read, then the
// dispatch under the session's access mutex so one request's
// read-dispatch-reply sequence completes before the next begins.
func (s *Server) handleFrame(sess *session.Session) {
	defer sess.EndDispatch()

	payload := sess.ReadFrame()
	if payload == nil {
		return
	}

	sess.Access.Lock()
	defer sess.Access.Unlock()
	s.Dispatcher.Dispatch(payload, sess)
}

// cleanupSession runs exactly once per session, after it has been removed
// from the session map: it purges the auth index entry, invokes the
// disconnect callback, and persists the connection record for authenticated
// sessions. Recorder failures are logged, never propagated.
func (s *Server) cleanupSession(sess *session.Session) {
	// Settle any in-flight handling task before tearing down.
	sess.Access.Lock()
	username, wasAuthenticated := s.Index.UsernameOf(sess)
	s.Index.RemoveSession(sess)
	sess.Access.Unlock()

	if s.Metrics != nil {
		s.Metrics.OpenSessions.Dec()
	}
	s.Logger.Info("session disconnected",
		logger.Field{Key: "id", Value: sess.ID()},
		logger.Field{Key: "remote", Value: sess.RemoteAddr()},
		logger.Field{Key: "username", Value: username})

	if handler := s.OnDisconnect; handler != nil {
		handler(sess)
	}

	if wasAuthenticated && s.Recorder != nil {
		rec := persist.Record{
			Username:       username,
			RemoteAddr:     sess.RemoteAddr(),
			ConnectedAt:    sess.FirstConnectedAt(),
			DisconnectedAt: sess.LastDisconnectedAt(),
			Duration:       sess.LastDisconnectedAt().Sub(sess.FirstConnectedAt()),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Recorder.Record(ctx, rec); err != nil {
			s.Logger.Error("failed to persist session record",
				logger.Field{Key: "username", Value: username},
				logger.Field{Key: "error", Value: err})
		}
	}
}
