package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"blind_relay/internal/model"
	"blind_relay/internal/protocol/frame"
	"blind_relay/internal/repository/conversation"
	"blind_relay/internal/repository/conversation/mocks"
	"blind_relay/internal/service/presence"
	"blind_relay/internal/service/ratelimit"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeConn struct {
	handle Handle

	mu       sync.Mutex
	frames   []frame.Outbound
	writable bool
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{handle: Handle(name), writable: true}
}

func (c *fakeConn) Handle() Handle { return c.handle }

func (c *fakeConn) Send(out frame.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.writable {
		return false
	}
	c.frames = append(c.frames, out)
	return true
}

func (c *fakeConn) setWritable(w bool) {
	c.mu.Lock()
	c.writable = w
	c.mu.Unlock()
}

// take returns and clears the frames received so far.
func (c *fakeConn) take() []frame.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

type fixture struct {
	hub   *Hub
	store conversation.Store
	clock *clock.Mock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1700000000000))
	store := conversation.NewBadgerStore(db)
	limiter := ratelimit.NewLimiter(ratelimit.Policy{Window: 5 * time.Second, MaxPerWindow: 20}, clk)
	opts = append([]Option{WithClock(clk)}, opts...)

	return &fixture{
		hub:   NewHub(presence.NewRegistry(), limiter, store, opts...),
		store: store,
		clock: clk,
	}
}

func (f *fixture) open(t *testing.T, name string) (*Session, *fakeConn) {
	t.Helper()
	c := newFakeConn(name)
	return f.hub.Open(c), c
}

func raw(format string, args ...any) []byte {
	return []byte(fmt.Sprintf(format, args...))
}

func mustHandle(t *testing.T, s *Session, data []byte) {
	t.Helper()
	require.NoError(t, s.HandleRaw(context.Background(), data))
}

func TestSession_DirectMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, aliceConn := f.open(t, "c-alice")
	bob, bobConn := f.open(t, "c-bob")

	mustHandle(t, alice, raw(`{"type":"auth","identity":"@alice"}`))
	mustHandle(t, bob, raw(`{"type":"auth","identity":"@bob"}`))
	req.Equal([]frame.Outbound{frame.AuthOK("@alice")}, aliceConn.take())
	req.Equal(frame.TypeAuthOK, bobConn.take()[0].Type)
	req.Equal(StateBound, alice.State())

	mustHandle(t, alice, raw(`{"type":"dm","to":"@bob","iv":"AA==","ciphertext":"BB=="}`))

	got := bobConn.take()
	req.Len(got, 1)
	req.Equal(frame.TypeDM, got[0].Type)
	req.Equal("@alice", got[0].From)
	req.Equal("AA==", got[0].IV)
	req.Equal("BB==", got[0].Ciphertext)
	req.Empty(aliceConn.take())

	history, err := f.store.ReadAll(context.Background(), model.DirectKey("@bob", "@alice"))
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(got[0].ID, history[0].ID)
	req.Equal("@alice", history[0].From)
	req.Equal("@bob", history[0].To)
	req.Equal("BB==", history[0].Ciphertext)
	req.True(history[0].Timestamp.Equal(f.clock.Now()))
}

func TestSession_DirectMessageToOfflineRecipientIsPersisted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, _ := f.open(t, "c-alice")
	mustHandle(t, alice, raw(`{"type":"auth","identity":"@alice"}`))

	_, deliveries, err := f.hub.SendDirect(context.Background(), "@alice", "@bob", "AA==", "BB==")
	req.NoError(err)
	req.Empty(deliveries)

	history, err := f.store.ReadAll(context.Background(), model.DirectKey("@alice", "@bob"))
	req.NoError(err)
	req.Len(history, 1)
}

func TestSession_MultiDeviceFanOut(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, _ := f.open(t, "c-alice")
	phone, phoneConn := f.open(t, "c-bob-phone")
	laptop, laptopConn := f.open(t, "c-bob-laptop")
	mustHandle(t, alice, raw(`{"type":"auth","identity":"@alice"}`))
	mustHandle(t, phone, raw(`{"type":"auth","identity":"@bob"}`))
	mustHandle(t, laptop, raw(`{"type":"auth","identity":"@Bob"}`))
	phoneConn.take()
	laptopConn.take()

	laptopConn.setWritable(false)
	_, deliveries, err := f.hub.SendDirect(context.Background(), "@alice", "@BOB", "AA==", "BB==")
	req.NoError(err)
	req.ElementsMatch([]Delivery{
		{Handle: "c-bob-phone", Delivered: true},
		{Handle: "c-bob-laptop", Delivered: false},
	}, deliveries)
	req.Len(phoneConn.take(), 1)
	req.Empty(laptopConn.take())
}

func TestSession_RoomBroadcastExcludesSender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	var sessions []*Session
	var conns []*fakeConn
	for i := 0; i < 3; i++ {
		s, c := f.open(t, fmt.Sprintf("c%d", i))
		mustHandle(t, s, raw(`{"type":"join","roomId":"r1"}`))
		req.Equal([]frame.Outbound{frame.Welcome("joined encrypted room")}, c.take())
		sessions = append(sessions, s)
		conns = append(conns, c)
	}
	outsider, outsiderConn := f.open(t, "c-outsider")
	mustHandle(t, outsider, raw(`{"type":"join","roomId":"r2"}`))
	outsiderConn.take()

	mustHandle(t, sessions[0], raw(`{"type":"message","iv":"AA==","ciphertext":"BB=="}`))

	req.Empty(conns[0].take())
	for _, c := range conns[1:] {
		got := c.take()
		req.Len(got, 1)
		req.Equal(frame.TypeMessage, got[0].Type)
		req.Equal("BB==", got[0].Ciphertext)
	}
	req.Empty(outsiderConn.take())

	history, err := f.store.ReadAll(context.Background(), model.RoomKey("r1"))
	req.NoError(err)
	req.Len(history, 1)
}

func TestSession_DisconnectCleansUp(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	bob, bobConn := f.open(t, "c-bob")
	mustHandle(t, bob, raw(`{"type":"auth","identity":"@bob"}`))
	mustHandle(t, bob, raw(`{"type":"dm","to":"@alice","iv":"AA==","ciphertext":"BB=="}`))
	req.True(f.hub.Online("@bob"))
	req.Equal(1, f.hub.limiter.Tracked())

	bob.Close()
	bob.Close()
	req.Equal(StateClosed, bob.State())
	req.False(f.hub.Online("@bob"))
	req.Equal(0, f.hub.presence.Keys())
	req.Equal(0, f.hub.limiter.Tracked())
	bobConn.take()

	_, deliveries, err := f.hub.SendDirect(context.Background(), "@alice", "@bob", "AA==", "CC==")
	req.NoError(err)
	req.Empty(deliveries)
	req.Empty(bobConn.take())

	history, err := f.store.ReadAll(context.Background(), model.DirectKey("@alice", "@bob"))
	req.NoError(err)
	req.Len(history, 2)
}

func TestSession_CloseBeforeBind(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t, "c1")
	s.Close()
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 0, f.hub.presence.Keys())
}

func TestSession_UnboundSend(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	s, c := f.open(t, "c1")
	mustHandle(t, s, raw(`{"type":"dm","to":"@bob","iv":"AA==","ciphertext":"BB=="}`))

	req.Equal([]frame.Outbound{frame.Error(model.ErrUnbound)}, c.take())
	req.Equal(StateConnected, s.State())
}

func TestSession_MalformedBindStaysConnected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s, c := f.open(t, "c1")

	for _, data := range []string{
		`{"type":"auth"}`,
		`{"type":"auth","identity":"alice"}`,
		`{"type":"join"}`,
		`{"type":"join","roomId":"bad room"}`,
	} {
		mustHandle(t, s, []byte(data))
		got := c.take()
		req.Len(got, 1, data)
		req.Equal(frame.TypeError, got[0].Type, data)
		req.Equal(StateConnected, s.State(), data)
	}
	req.Equal(0, f.hub.presence.Keys())
}

func TestSession_NoRebind(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s, c := f.open(t, "c1")

	mustHandle(t, s, raw(`{"type":"auth","identity":"@alice"}`))
	c.take()
	mustHandle(t, s, raw(`{"type":"join","roomId":"r1"}`))
	mustHandle(t, s, raw(`{"type":"auth","identity":"@mallory"}`))

	req.Equal([]frame.Outbound{frame.Error(model.ErrAlreadyBound), frame.Error(model.ErrAlreadyBound)}, c.take())
	mode, bound := s.Binding()
	req.Equal(ModeDirect, mode)
	req.Equal("@alice", bound)
	req.False(f.hub.Online("@mallory"))
}

func TestSession_UnknownTypeAndNoise(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s, c := f.open(t, "c1")

	mustHandle(t, s, raw(`{"type":"typing"}`))
	got := c.take()
	req.Len(got, 1)
	req.Equal(frame.TypeError, got[0].Type)
	req.Contains(got[0].Message, model.ErrUnknownType.Error())

	mustHandle(t, s, raw(`this is not json`))
	req.Empty(c.take())
	req.Equal(StateConnected, s.State())
}

func TestSession_InvalidPayload(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s, c := f.open(t, "c1")
	mustHandle(t, s, raw(`{"type":"auth","identity":"@alice"}`))
	c.take()

	mustHandle(t, s, raw(`{"type":"dm","to":"@bob","iv":"AA=="}`))
	mustHandle(t, s, raw(`{"type":"dm","to":"bob","iv":"AA==","ciphertext":"BB=="}`))
	got := c.take()
	req.Len(got, 2)
	req.Equal(frame.TypeError, got[0].Type)
	req.Equal(frame.TypeError, got[1].Type)

	history, err := f.store.ReadAll(context.Background(), model.DirectKey("@alice", "@bob"))
	req.NoError(err)
	req.Empty(history)
}

func TestSession_RateLimited(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, aliceConn := f.open(t, "c-alice")
	bob, bobConn := f.open(t, "c-bob")
	mustHandle(t, alice, raw(`{"type":"auth","identity":"@alice"}`))
	mustHandle(t, bob, raw(`{"type":"auth","identity":"@bob"}`))
	aliceConn.take()
	bobConn.take()

	msg := raw(`{"type":"dm","to":"@bob","iv":"AA==","ciphertext":"BB=="}`)
	for i := 0; i < 20; i++ {
		mustHandle(t, alice, msg)
	}
	req.Empty(aliceConn.take())
	req.Len(bobConn.take(), 20)

	mustHandle(t, alice, msg)
	req.Equal([]frame.Outbound{frame.Error(model.ErrRateLimited)}, aliceConn.take())
	req.Empty(bobConn.take())
	req.Equal(StateBound, alice.State())

	history, err := f.store.ReadAll(context.Background(), model.DirectKey("@alice", "@bob"))
	req.NoError(err)
	req.Len(history, 20)

	f.clock.Add(5*time.Second + time.Millisecond)
	mustHandle(t, alice, msg)
	req.Empty(aliceConn.take())
	req.Len(bobConn.take(), 1)
}

func TestSession_MalformedPayloadsAreThrottled(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, aliceConn := f.open(t, "c-alice")
	mustHandle(t, alice, raw(`{"type":"auth","identity":"@alice"}`))
	aliceConn.take()

	for i := 0; i < 20; i++ {
		mustHandle(t, alice, raw(`{"type":"dm","to":"@bob","iv":"!!","ciphertext":"BB=="}`))
	}
	rejected := aliceConn.take()
	req.Len(rejected, 20)
	for _, out := range rejected {
		req.Equal(frame.TypeError, out.Type)
		req.NotEqual(model.ErrRateLimited.Error(), out.Message)
	}

	mustHandle(t, alice, raw(`{"type":"dm","to":"@bob","iv":"AA==","ciphertext":"BB=="}`))
	req.Equal([]frame.Outbound{frame.Error(model.ErrRateLimited)}, aliceConn.take())
	req.Equal(StateBound, alice.State())
}

type verifierFunc func(identity, token string) error

func (f verifierFunc) VerifyIdentity(identity, token string) error { return f(identity, token) }

func TestSession_VerifierGuardsAuth(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, WithVerifier(verifierFunc(func(identity, token string) error {
		if token != "good" {
			return model.ErrUnauthorized
		}
		return nil
	})))
	s, c := f.open(t, "c1")

	mustHandle(t, s, raw(`{"type":"auth","identity":"@alice","token":"bad"}`))
	req.Equal([]frame.Outbound{frame.Error(model.ErrUnauthorized)}, c.take())
	req.Equal(StateConnected, s.State())

	mustHandle(t, s, raw(`{"type":"auth","identity":"@alice","token":"good"}`))
	req.Equal([]frame.Outbound{frame.AuthOK("@alice")}, c.take())
}

func TestSession_StorageFailureIsFatal(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	limiter := ratelimit.NewLimiter(ratelimit.Policy{Window: time.Second, MaxPerWindow: 5}, clock.NewMock())
	hub := NewHub(presence.NewRegistry(), limiter, store)

	store.EXPECT().
		Append(gomock.Any(), model.DirectKey("@alice", "@bob"), gomock.Any()).
		Return(fmt.Errorf("%w: disk full", model.ErrStorage)).
		Times(1)

	alice := hub.Open(newFakeConn("c-alice"))
	bobConn := newFakeConn("c-bob")
	bob := hub.Open(bobConn)
	mustHandle(t, alice, raw(`{"type":"auth","identity":"@alice"}`))
	mustHandle(t, bob, raw(`{"type":"auth","identity":"@bob"}`))
	bobConn.take()

	err := alice.HandleRaw(context.Background(), raw(`{"type":"dm","to":"@bob","iv":"AA==","ciphertext":"BB=="}`))
	req.Error(err)
	req.True(errors.Is(err, model.ErrStorage))
	req.Empty(bobConn.take(), "nothing is forwarded when the append fails")
}

func TestHub_ConcurrentSessions(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	receiver, receiverConn := f.open(t, "c-recv")
	mustHandle(t, receiver, raw(`{"type":"auth","identity":"@sink"}`))
	receiverConn.take()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := f.hub.Open(newFakeConn(fmt.Sprintf("c-%d", i)))
			defer s.Close()
			_ = s.HandleRaw(context.Background(), raw(`{"type":"auth","identity":"@user%d"}`, i))
			for j := 0; j < 5; j++ {
				_ = s.HandleRaw(context.Background(), raw(`{"type":"dm","to":"@sink","iv":"AA==","ciphertext":"BB=="}`))
			}
		}(i)
	}
	wg.Wait()

	req.Len(receiverConn.take(), 50)
	req.Equal(1, f.hub.presence.Keys())
}
