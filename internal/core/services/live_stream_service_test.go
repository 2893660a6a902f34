package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/services"
	"reelcast/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Participant{UserID: "u-alice", UserName: "Alice"}
	bob   = domain.Participant{UserID: "u-bob", UserName: "Bob"}
)

type fixture struct {
	svc       *services.LiveStreamService
	transport *testutil.MockTransport
	factory   *testutil.MockFactory
	local     *testutil.MockLocalStream
}

func newFixture(t *testing.T, mutate ...func(*services.LiveStreamConfig)) *fixture {
	t.Helper()

	cfg := services.DefaultLiveStreamConfig()
	cfg.NegotiationTimeout = 0
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		transport: testutil.NewMockTransport(),
		factory:   &testutil.MockFactory{},
		local:     testutil.NewMockLocalStream(),
	}
	f.svc = services.NewLiveStreamService(f.transport, f.factory, cfg, nil)
	t.Cleanup(f.svc.Cleanup)
	return f
}

func (f *fixture) broadcast(t *testing.T, streamID domain.StreamID) {
	t.Helper()
	require.NoError(t, f.svc.SetLocalStream(f.local))
	_, err := f.svc.StartBroadcast(context.Background(), streamID, alice)
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, streamID domain.StreamID) {
	t.Helper()
	require.NoError(t, f.svc.JoinStream(context.Background(), streamID, bob))
}

func (f *fixture) handle(t *testing.T, msg domain.Message) domain.Outcome {
	t.Helper()
	outcome, err := f.svc.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	return outcome
}

func TestStartBroadcast_SendsStartStream(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.SetLocalStream(f.local))

	id, err := f.svc.StartBroadcast(context.Background(), "s1", alice)
	require.NoError(t, err)

	assert.Equal(t, domain.StreamID("s1"), id)
	assert.Equal(t, domain.RoleBroadcaster, f.svc.Role())
	assert.Equal(t, []domain.Message{
		domain.StartStream{StreamID: "s1", UserID: "u-alice", UserName: "Alice"},
	}, f.transport.Messages())
	assert.Equal(t, 1, f.transport.Subscribers())
}

func TestStartBroadcast_GeneratesStreamID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.SetLocalStream(f.local))

	id, err := f.svc.StartBroadcast(context.Background(), "", alice)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, f.svc.StreamID())
}

func TestStartBroadcast_Preconditions(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartBroadcast(context.Background(), "s1", alice)
	assert.ErrorIs(t, err, domain.ErrNoLocalStream)
	assert.Equal(t, domain.RoleNone, f.svc.Role())

	f.broadcast(t, "s1")
	_, err = f.svc.StartBroadcast(context.Background(), "s2", alice)
	assert.ErrorIs(t, err, domain.ErrRoleConflict)

	err = f.svc.JoinStream(context.Background(), "s2", alice)
	assert.ErrorIs(t, err, domain.ErrRoleConflict)
}

func TestStartBroadcast_SendFailureResetsRole(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.SetLocalStream(f.local))
	f.transport.SetSendErr(domain.ErrNotConnected)

	_, err := f.svc.StartBroadcast(context.Background(), "s1", alice)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, domain.RoleNone, f.svc.Role())
	assert.Equal(t, domain.StreamID(""), f.svc.StreamID())
	assert.Equal(t, 0, f.transport.Subscribers())
	assert.Equal(t, 0, f.local.Stops(), "local stream survives a failed start")
}

func TestSetLocalStream_RejectedWhileBroadcasting(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")

	replacement := testutil.NewMockLocalStream()
	assert.ErrorIs(t, f.svc.SetLocalStream(replacement), domain.ErrRoleConflict)

	f.svc.Cleanup()
	assert.Equal(t, 1, f.local.Stops(), "the stream in use is stopped by cleanup")
	assert.Equal(t, 0, replacement.Stops(), "a rejected stream stays with the caller")
}

func TestSetLocalStream_StopsReplacedStream(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.SetLocalStream(f.local))

	replacement := testutil.NewMockLocalStream()
	require.NoError(t, f.svc.SetLocalStream(replacement))
	assert.Equal(t, 1, f.local.Stops())

	require.NoError(t, f.svc.SetLocalStream(replacement))
	assert.Equal(t, 0, replacement.Stops())
}

func TestJoinStream_RequiresStreamID(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.JoinStream(context.Background(), "", bob), domain.ErrInvalidStreamID)
}

func TestCleanup_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})
	f.handle(t, domain.ViewerJoined{ViewerID: "v2"})

	f.svc.Cleanup()
	f.svc.Cleanup()

	assert.Equal(t, 0, f.svc.SessionCount())
	assert.Equal(t, domain.RoleNone, f.svc.Role())
	assert.Equal(t, domain.StreamID(""), f.svc.StreamID())
	assert.Equal(t, 1, f.local.Stops())
	assert.Equal(t, 1, f.factory.PC(0).Closed())
	assert.Equal(t, 1, f.factory.PC(1).Closed())
	assert.Equal(t, 0, f.transport.Subscribers())
}

func TestCleanup_WithoutAnySetup(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() {
		f.svc.Cleanup()
		f.svc.Cleanup()
	})
	assert.Empty(t, f.transport.Messages())
}

func TestEndStream_Broadcaster(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})

	require.NoError(t, f.svc.EndStream(context.Background()))

	assert.Equal(t, []domain.Message{domain.EndStream{StreamID: "s1"}}, f.transport.SentOf(domain.KindEndStream))
	assert.Equal(t, 0, f.svc.SessionCount())
	assert.Equal(t, domain.RoleNone, f.svc.Role())
}

func TestEndStream_ViewerIsNoop(t *testing.T) {
	f := newFixture(t)
	f.join(t, "s1")
	sent := len(f.transport.Messages())

	require.NoError(t, f.svc.EndStream(context.Background()))
	assert.Len(t, f.transport.Messages(), sent)
	assert.Equal(t, domain.RoleViewer, f.svc.Role())
}

func TestEndStream_NoActiveStreamIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.EndStream(context.Background()))
	assert.Empty(t, f.transport.Messages())
}

func TestEndStream_SendFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})
	f.transport.SetSendErr(errors.New("socket closed"))

	err := f.svc.EndStream(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, f.svc.SessionCount())
	assert.Equal(t, domain.RoleNone, f.svc.Role())
}

func TestDisconnect_CleansUpAndClosesTransport(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})

	require.NoError(t, f.svc.Disconnect())
	assert.Equal(t, 0, f.svc.SessionCount())
	assert.Equal(t, 1, f.transport.Disconnects)
	assert.False(t, f.svc.Status().Connected)
}

func TestSendMessage_RequiresActiveStream(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoActiveStream, outcome)

	outcome, err = f.svc.SendLike(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoActiveStream, outcome)
	assert.Empty(t, f.transport.Messages())
}

func TestSendMessage_PassesThrough(t *testing.T) {
	f := newFixture(t)
	f.join(t, "s1")

	outcome, err := f.svc.SendMessage(context.Background(), "looks tasty")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, outcome)

	outcome, err = f.svc.SendLike(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, outcome)

	assert.Equal(t, []domain.Message{
		domain.StreamMessage{StreamID: "s1", Message: "looks tasty", UserID: "u-bob", UserName: "Bob"},
	}, f.transport.SentOf(domain.KindStreamMessage))
	assert.Equal(t, []domain.Message{
		domain.StreamLike{StreamID: "s1", UserID: "u-bob"},
	}, f.transport.SentOf(domain.KindStreamLike))
}

func TestSendMessage_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *services.LiveStreamConfig) {
		c.ChatRate = 0.001
		c.ChatBurst = 2
	})
	f.join(t, "s1")

	var outcomes []domain.Outcome
	for i := 0; i < 3; i++ {
		outcome, err := f.svc.SendMessage(context.Background(), "spam")
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}

	assert.Equal(t, []domain.Outcome{domain.OutcomeOK, domain.OutcomeOK, domain.OutcomeRateLimited}, outcomes)
	assert.Len(t, f.transport.SentOf(domain.KindStreamMessage), 2)
}

func TestSendMessage_UnlimitedWhenRateIsZero(t *testing.T) {
	f := newFixture(t, func(c *services.LiveStreamConfig) {
		c.ChatRate = 0
		c.ChatBurst = 0
	})
	f.join(t, "s1")

	for i := 0; i < 50; i++ {
		outcome, err := f.svc.SendLike(context.Background())
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeOK, outcome)
	}
}

func TestInboundChat_DeliveredToCallbacks(t *testing.T) {
	f := newFixture(t)

	var (
		messages []domain.StreamMessage
		likes    []domain.StreamLike
	)
	f.svc.SetCallbacks(services.Callbacks{
		OnStreamMessage: func(m domain.StreamMessage) { messages = append(messages, m) },
		OnStreamLike:    func(l domain.StreamLike) { likes = append(likes, l) },
	})

	assert.Equal(t, domain.OutcomeNoActiveStream, f.handle(t, domain.StreamMessage{StreamID: "s1", Message: "early"}))

	f.join(t, "s1")
	f.transport.Deliver(domain.StreamMessage{StreamID: "s1", Message: "hi", UserID: "u-alice"})
	f.transport.Deliver(domain.StreamLike{StreamID: "s1", UserID: "u-alice"})

	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Message)
	require.Len(t, likes, 1)
	assert.Equal(t, domain.UserID("u-alice"), likes[0].UserID)
}

func TestHandleMessage_OutboundKindsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")

	assert.Equal(t, domain.OutcomeIgnored, f.handle(t, domain.StartStream{StreamID: "s9"}))
	assert.Equal(t, domain.OutcomeIgnored, f.handle(t, domain.EndStream{StreamID: "s1"}))
	assert.Equal(t, domain.RoleBroadcaster, f.svc.Role())
}

func TestNegotiationTimeout_ClosesStalledSession(t *testing.T) {
	f := newFixture(t, func(c *services.LiveStreamConfig) {
		c.NegotiationTimeout = 20 * time.Millisecond
	})
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})
	require.Equal(t, 1, f.svc.SessionCount())

	assert.Eventually(t, func() bool { return f.svc.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.factory.PC(0).Closed())

	// a late answer finds nothing to apply
	outcome := f.handle(t, domain.Answer{Answer: answerSDP(), Viewer: "v1"})
	assert.Equal(t, domain.OutcomeSessionNotFound, outcome)
}

func TestNegotiationTimeout_SparesConnectedSession(t *testing.T) {
	f := newFixture(t, func(c *services.LiveStreamConfig) {
		c.NegotiationTimeout = 30 * time.Millisecond
	})
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})
	f.handle(t, domain.Answer{Answer: answerSDP(), Viewer: "v1"})

	time.Sleep(80 * time.Millisecond)
	state, ok := f.svc.SessionState("v1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionConnected, state)
}

func TestStatus_ListsSessionsSorted(t *testing.T) {
	f := newFixture(t)
	f.broadcast(t, "s1")
	f.handle(t, domain.ViewerJoined{ViewerID: "v2"})
	f.handle(t, domain.ViewerJoined{ViewerID: "v1"})
	f.handle(t, domain.Answer{Answer: answerSDP(), Viewer: "v1"})

	status := f.svc.Status()
	assert.Equal(t, domain.RoleBroadcaster, status.Role)
	assert.Equal(t, domain.StreamID("s1"), status.StreamID)
	assert.True(t, status.Connected)
	require.Len(t, status.Sessions, 2)
	assert.Equal(t, domain.SessionID("v1"), status.Sessions[0].RemoteID)
	assert.Equal(t, "connected", status.Sessions[0].StateName)
	assert.Equal(t, domain.SessionID("v2"), status.Sessions[1].RemoteID)
	assert.Equal(t, "awaiting-answer", status.Sessions[1].StateName)
}
