// Package relay routes opaque ciphertext between live connections. A Hub owns
// the shared presence and rate state; each connection drives its own Session.
package relay

import (
	"context"
	"sync"

	"blind_relay/internal/model"
	"blind_relay/internal/protocol/frame"
	"blind_relay/internal/repository/conversation"
	"blind_relay/internal/service/presence"
	"blind_relay/internal/service/ratelimit"
	"blind_relay/internal/utils/log"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handle = presence.Handle

type (
	// Conn is the writable side of one live transport session.
	Conn interface {
		Handle() Handle
		// Send queues out without blocking and reports false when the
		// connection is closed or cannot take more frames right now.
		Send(out frame.Outbound) bool
	}

	// IdentityVerifier decides whether a connection may bind to identity.
	IdentityVerifier interface {
		VerifyIdentity(identity, token string) error
	}

	Delivery struct {
		Handle    Handle
		Delivered bool
	}

	Hub struct {
		presence *presence.Registry
		limiter  *ratelimit.Limiter
		store    conversation.Store
		clock    clock.Clock
		verifier IdentityVerifier

		conns sync.Map // Handle -> Conn
	}

	Option func(*Hub)
)

func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithVerifier makes auth frames require a credential accepted by v.
func WithVerifier(v IdentityVerifier) Option {
	return func(h *Hub) { h.verifier = v }
}

func NewHub(registry *presence.Registry, limiter *ratelimit.Limiter, store conversation.Store, opts ...Option) *Hub {
	h := &Hub{
		presence: registry,
		limiter:  limiter,
		store:    store,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open starts a session for a freshly accepted connection.
func (h *Hub) Open(conn Conn) *Session {
	h.conns.Store(conn.Handle(), conn)
	activeConnections.Inc()
	return &Session{hub: h, conn: conn, state: StateConnected}
}

// NewHandle returns a fresh connection handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// SendDirect persists a direct message and forwards it to every live
// connection of the recipient. A storage failure means nothing was forwarded.
func (h *Hub) SendDirect(ctx context.Context, from, to, iv, ciphertext string) (model.Envelope, []Delivery, error) {
	env := h.newEnvelope(from, to, iv, ciphertext)
	if err := h.append(ctx, model.DirectKey(from, to), env); err != nil {
		return env, nil, err
	}
	return env, h.fanOut(identityKey(to), "", frame.Envelope(frame.TypeDM, env)), nil
}

// Broadcast persists a room message and forwards it to every other member.
func (h *Hub) Broadcast(ctx context.Context, roomID string, sender Handle, iv, ciphertext string) (model.Envelope, []Delivery, error) {
	env := h.newEnvelope(roomID, roomID, iv, ciphertext)
	if err := h.append(ctx, model.RoomKey(roomID), env); err != nil {
		return env, nil, err
	}
	return env, h.fanOut(roomKey(roomID), sender, frame.Envelope(frame.TypeMessage, env)), nil
}

// Online reports whether identity has at least one bound connection.
func (h *Hub) Online(identity string) bool {
	return len(h.presence.Resolve(identityKey(identity))) > 0
}

func (h *Hub) newEnvelope(from, to, iv, ciphertext string) model.Envelope {
	return model.Envelope{
		ID:         uuid.NewString(),
		From:       from,
		To:         to,
		IV:         iv,
		Ciphertext: ciphertext,
		Timestamp:  h.clock.Now().UTC(),
	}
}

func (h *Hub) append(ctx context.Context, key model.ConversationKey, env model.Envelope) error {
	if err := h.store.Append(ctx, key, env); err != nil {
		storageFailures.Inc()
		log.Error("append envelope failed",
			zap.String("conversation", key.String()),
			zap.String("envelope", env.ID),
			zap.Error(err))
		return err
	}
	return nil
}

// fanOut offers out to a snapshot of key's members, skipping exclude. One
// target refusing the frame never affects the others.
func (h *Hub) fanOut(key string, exclude Handle, out frame.Outbound) []Delivery {
	handles := h.presence.Resolve(key)
	res := make([]Delivery, 0, len(handles))
	for _, handle := range handles {
		if handle == exclude {
			continue
		}

		delivered := false
		if c, ok := h.conns.Load(handle); ok {
			delivered = c.(Conn).Send(out)
		}
		if delivered {
			deliveries.WithLabelValues("delivered").Inc()
		} else {
			deliveries.WithLabelValues("skipped").Inc()
			log.Debug("target not writable, skipped", zap.String("conn", string(handle)))
		}
		res = append(res, Delivery{Handle: handle, Delivered: delivered})
	}
	return res
}

func identityKey(identity string) string {
	return "id:" + model.NormalizeName(identity)
}

func roomKey(roomID string) string {
	return "room:" + roomID
}
