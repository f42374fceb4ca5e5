package ws

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"basinflow.ai/internal/protocol"
	"basinflow.ai/internal/session"
	"basinflow.ai/internal/sim/tuning"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	inboxSize  = 16
)

type Config struct {
	Tuning   tuning.Tuning
	Recorder session.Recorder
	Counters *session.Counters
	Logger   *zap.Logger
}

// Server upgrades HTTP requests to WebSocket sessions, one simulation per connection.
type Server struct {
	tune     tuning.Tuning
	rec      session.Recorder
	counters *session.Counters
	log      *zap.Logger

	upgrader websocket.Upgrader

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session.Session
	total    atomic.Int64
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Counters == nil {
		cfg.Counters = &session.Counters{}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		tune:     cfg.Tuning,
		rec:      cfg.Recorder,
		counters: cfg.Counters,
		log:      cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		baseCtx:  ctx,
		stop:     stop,
		sessions: map[string]*session.Session{},
	}
}

func (s *Server) Counters() *session.Counters { return s.counters }

func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Total() int64 { return s.total.Load() }

// Sessions returns the status of every open session, oldest first.
func (s *Server) Sessions() []session.Status {
	s.mu.Lock()
	out := make([]session.Status, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Status())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Shutdown ends every session and waits for their goroutines.
func (s *Server) Shutdown() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.baseCtx.Err() != nil {
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		s.wg.Add(1)
		defer s.wg.Done()
		defer conn.Close()

		s.serve(conn, r.RemoteAddr)
	}
}

func (s *Server) serve(conn *websocket.Conn, remote string) {
	id := uuid.NewString()
	log := s.log.With(zap.String("session", id), zap.String("remote", remote))

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	out := make(chan []byte, s.tune.OutboxSize)
	mux := session.NewMux(s.tune.TickInterval(), inboxSize)
	defer mux.Close()

	sess := session.New(mux, mux, chanOutbox(out), session.Options{
		ID:           id,
		RemoteAddr:   remote,
		Runner:       s.tune.RunnerConfig(),
		JournalTicks: s.tune.JournalTicks,
		Recorder:     s.rec,
		Counters:     s.counters,
		Logger:       s.log,
	})
	s.register(sess)
	defer s.unregister(id)
	log.Info("session opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, out)
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop(ctx, conn, mux, log)
	}()

	err := sess.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("session closed")
	default:
		log.Error("session failed", zap.Error(err))
	}

	cancel()
	<-writerDone
	_ = conn.WriteControl(websocket.CloseMessage, closeMessage(err), time.Now().Add(time.Second))
	_ = conn.Close()
	<-readerDone
}

func closeMessage(err error) []byte {
	if err == nil || errors.Is(err, context.Canceled) {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	return websocket.FormatCloseMessage(websocket.CloseInternalServerErr, protocol.ErrInternal)
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			// Flush what the session already queued, e.g. the terminal progress.
			for {
				select {
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				default:
					return
				}
			}
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, mux *session.Mux, log *zap.Logger) {
	defer mux.CloseInbox()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		cmd, err := protocol.Decode(msg)
		if err != nil {
			log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		if cmd.Kind == protocol.KindUnknown {
			continue
		}
		if err := mux.Push(ctx, cmd); err != nil {
			return
		}
	}
}

func (s *Server) register(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	s.total.Add(1)
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

type chanOutbox chan []byte

func (o chanOutbox) Send(ctx context.Context, b []byte) error {
	select {
	case o <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
