package relay

import (
	"context"
	"fmt"
	"sync"

	"blind_relay/internal/model"
	"blind_relay/internal/protocol/frame"
	"blind_relay/internal/utils/log"

	"go.uber.org/zap"
)

type State int

const (
	StateConnected State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Mode int

const (
	ModeNone Mode = iota
	// ModeDirect binds to an identity and routes by recipient.
	ModeDirect
	// ModeRoom binds to a room id and broadcasts to the other members.
	ModeRoom
)

// Session is the per-connection state machine:
// Connected -> Bound -> Closed, or Connected -> Closed.
// A bound session never rebinds.
type Session struct {
	hub  *Hub
	conn Conn

	mu    sync.Mutex
	state State
	mode  Mode
	bound string // identity or room id
	key   string // presence key
}

func (s *Session) Handle() Handle {
	return s.conn.Handle()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Binding returns the mode and the identity or room id the session is bound to.
func (s *Session) Binding() (Mode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.bound
}

// HandleRaw decodes one inbound frame and processes it. Unparseable frames are
// dropped silently. The only error returned is a storage failure, after which
// the caller must close the connection.
func (s *Session) HandleRaw(ctx context.Context, data []byte) error {
	in, err := frame.Decode(data)
	if err != nil {
		framesDropped.Inc()
		log.Debug("dropping unparseable frame", zap.String("conn", string(s.Handle())), zap.Error(err))
		return nil
	}
	return s.HandleFrame(ctx, in)
}

func (s *Session) HandleFrame(ctx context.Context, in frame.Inbound) error {
	switch f := in.(type) {
	case frame.Auth:
		framesReceived.WithLabelValues(string(frame.TypeAuth)).Inc()
		s.auth(f)
	case frame.Join:
		framesReceived.WithLabelValues(string(frame.TypeJoin)).Inc()
		s.join(f)
	case frame.Send:
		framesReceived.WithLabelValues(string(f.Kind)).Inc()
		return s.send(ctx, f)
	case frame.Unknown:
		framesReceived.WithLabelValues("unknown").Inc()
		s.reply(frame.Error(fmt.Errorf("%w: %q", model.ErrUnknownType, f.Type)))
	}
	return nil
}

func (s *Session) auth(f frame.Auth) {
	if err := model.ValidateDisplayName(f.Identity); err != nil {
		s.reply(frame.Error(err))
		return
	}
	if s.hub.verifier != nil {
		if err := s.hub.verifier.VerifyIdentity(f.Identity, f.Token); err != nil {
			log.Info("auth rejected", zap.String("conn", string(s.Handle())), zap.String("identity", f.Identity), zap.Error(err))
			s.reply(frame.Error(model.ErrUnauthorized))
			return
		}
	}
	if err := s.bind(ModeDirect, f.Identity, identityKey(f.Identity)); err != nil {
		s.reply(frame.Error(err))
		return
	}

	log.Info("connection bound", zap.String("conn", string(s.Handle())), zap.String("identity", f.Identity))
	s.reply(frame.AuthOK(f.Identity))
}

func (s *Session) join(f frame.Join) {
	if err := model.ValidateRoomID(f.RoomID); err != nil {
		s.reply(frame.Error(err))
		return
	}
	if err := s.bind(ModeRoom, f.RoomID, roomKey(f.RoomID)); err != nil {
		s.reply(frame.Error(err))
		return
	}

	// room ids are hashes of a shared secret; keep them out of the logs
	log.Info("connection joined room", zap.String("conn", string(s.Handle())))
	s.reply(frame.Welcome("joined encrypted room"))
}

func (s *Session) bind(mode Mode, bound, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateBound:
		return model.ErrAlreadyBound
	case StateClosed:
		return fmt.Errorf("%w: connection closed", model.ErrInvalidInput)
	}

	s.hub.presence.Join(key, s.Handle())
	s.state, s.mode, s.bound, s.key = StateBound, mode, bound, key
	return nil
}

func (s *Session) send(ctx context.Context, f frame.Send) error {
	s.mu.Lock()
	state, mode, bound := s.state, s.mode, s.bound
	s.mu.Unlock()

	if state != StateBound {
		s.reply(frame.Error(model.ErrUnbound))
		return nil
	}
	// admit runs before payload checks so a flood of malformed frames is
	// throttled like any other
	if !s.hub.limiter.Admit(string(s.Handle())) {
		rateLimited.Inc()
		log.Warn("rate limit exceeded", zap.String("conn", string(s.Handle())))
		s.reply(frame.Error(model.ErrRateLimited))
		return nil
	}
	if err := frame.ValidatePayload(f.IV, f.Ciphertext); err != nil {
		s.reply(frame.Error(err))
		return nil
	}

	var err error
	switch mode {
	case ModeDirect:
		if verr := model.ValidateDisplayName(f.To); verr != nil {
			s.reply(frame.Error(fmt.Errorf("%w: recipient: %v", model.ErrInvalidInput, verr)))
			return nil
		}
		_, _, err = s.hub.SendDirect(ctx, bound, f.To, f.IV, f.Ciphertext)
	case ModeRoom:
		_, _, err = s.hub.Broadcast(ctx, bound, s.Handle(), f.IV, f.Ciphertext)
	}
	if err != nil {
		s.reply(frame.Error(model.ErrStorage))
		return err
	}
	return nil
}

// Close tears down presence and rate state. It is safe to call more than
// once and from any state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasBound, key := s.state == StateBound, s.key
	s.state = StateClosed
	s.mu.Unlock()

	if wasBound {
		s.hub.presence.Leave(key, s.Handle())
	}
	s.hub.limiter.Forget(string(s.Handle()))
	s.hub.conns.Delete(s.Handle())
	activeConnections.Dec()

	log.Debug("connection closed", zap.String("conn", string(s.Handle())), zap.Bool("bound", wasBound))
}

func (s *Session) reply(out frame.Outbound) {
	if !s.conn.Send(out) {
		log.Debug("reply dropped, connection not writable", zap.String("conn", string(s.Handle())))
	}
}
