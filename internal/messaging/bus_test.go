package messaging

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/internal/session"
	"github.com/dyluth/agora/internal/testutil"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

type fixture struct {
	env      *testutil.Env
	sessions *session.Manager
	bus      *Bus
	session  string
}

func setup(t *testing.T) *fixture {
	env := testutil.NewEnv(t)
	sessions := session.New(env.Store, env.Bus, env.Logger, session.WithClock(env.Clock.Now))
	bus := New(env.Store, sessions, env.Bus, env.Logger, WithClock(env.Clock.Now))

	id, err := sessions.CreateSession(env.Ctx, session.CreateRequest{
		Name:         "design-review",
		Participants: []string{"agentA", "agentB", "agentC"},
		Topic:        "API design",
	})
	require.NoError(t, err)
	env.Events.Reset()

	return &fixture{env: env, sessions: sessions, bus: bus, session: id}
}

func TestSendMessage(t *testing.T) {
	f := setup(t)

	id, err := f.bus.SendMessage(f.env.Ctx, SendRequest{
		SessionID: f.session,
		FromAgent: "agentA",
		ToAgent:   "agentB",
		Content:   "Can you review the schema?",
	})
	require.NoError(t, err)
	assert.Len(t, id, 26)

	history, err := f.bus.GetMessageHistory(f.env.Ctx, f.session, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	msg := history[0]
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, coord.MessageUpdate, msg.MessageType)
	assert.Equal(t, "agentB", msg.ToAgent)
	assert.True(t, testutil.Epoch.Equal(msg.Timestamp))

	tagged, err := f.env.Store.Search(f.env.Ctx, records.Query{Tags: []string{"from:agentA", "to:agentB"}})
	require.NoError(t, err)
	assert.Len(t, tagged, 1)

	sent := f.env.Events.Named(events.MessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, f.session, sent[0].SessionID)
	assert.Equal(t, id, sent[0].Data["messageId"])
}

func TestSendMessage_Rejections(t *testing.T) {
	f := setup(t)
	_, err := f.sessions.CreateSession(f.env.Ctx, session.CreateRequest{Name: "other", Participants: []string{"z"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SendRequest
		kind error
	}{
		{"empty content", SendRequest{SessionID: f.session, FromAgent: "agentA"}, fault.ErrInvalidArgument},
		{"empty sender", SendRequest{SessionID: f.session, Content: "x"}, fault.ErrInvalidArgument},
		{"bad type", SendRequest{SessionID: f.session, FromAgent: "agentA", Content: "x", MessageType: "rant"}, fault.ErrInvalidArgument},
		{"unknown session", SendRequest{SessionID: "ghost", FromAgent: "agentA", Content: "x"}, fault.ErrNotFound},
		{"sender not a participant", SendRequest{SessionID: f.session, FromAgent: "z", Content: "x"}, fault.ErrUnauthorized},
		{"recipient not a participant", SendRequest{SessionID: f.session, FromAgent: "agentA", ToAgent: "z", Content: "x"}, fault.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bus.SendMessage(f.env.Ctx, tt.req)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
	assert.Empty(t, f.env.Events.Named(events.MessageSent))

	t.Run("concluded session", func(t *testing.T) {
		_, err := f.sessions.ConcludeSession(f.env.Ctx, f.session)
		require.NoError(t, err)
		_, err = f.bus.SendMessage(f.env.Ctx, SendRequest{SessionID: f.session, FromAgent: "agentA", Content: "late"})
		assert.True(t, errors.Is(err, fault.ErrUnauthorized))
	})
}

func TestBroadcastMessage(t *testing.T) {
	f := setup(t)

	id, err := f.bus.BroadcastMessage(f.env.Ctx, SendRequest{
		SessionID:   f.session,
		FromAgent:   "agentA",
		ToAgent:     "agentB",
		Content:     "Decision: version in the path",
		MessageType: coord.MessageDecision,
	})
	require.NoError(t, err)

	broadcasts, err := f.env.Store.Search(f.env.Ctx, records.Query{Tags: []string{"to:all"}})
	require.NoError(t, err)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, id, broadcasts[0].ID)

	history, err := f.bus.GetMessageHistory(f.env.Ctx, f.session, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsBroadcast())
	assert.Equal(t, coord.MessageDecision, history[0].MessageType)
}

func TestGetMessageHistory_OrderingAndLimit(t *testing.T) {
	f := setup(t)

	var sent []string
	for i := 0; i < 5; i++ {
		id, err := f.bus.SendMessage(f.env.Ctx, SendRequest{SessionID: f.session, FromAgent: "agentA", Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
		sent = append(sent, id)
		if i%2 == 1 {
			f.env.Clock.Advance(time.Second)
		}
	}

	all, err := f.bus.GetMessageHistory(f.env.Ctx, f.session, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, sent[i], m.ID)
		assert.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
	}

	recent, err := f.bus.GetMessageHistory(f.env.Ctx, f.session, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg 3", recent[0].Content)
	assert.Equal(t, "msg 4", recent[1].Content)

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.bus.GetMessageHistory(f.env.Ctx, "ghost", 10)
		assert.True(t, errors.Is(err, fault.ErrNotFound))
	})

	t.Run("empty session", func(t *testing.T) {
		other, err := f.sessions.CreateSession(f.env.Ctx, session.CreateRequest{Name: "quiet", Participants: []string{"a"}})
		require.NoError(t, err)
		history, err := f.bus.GetMessageHistory(f.env.Ctx, other, 10)
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})
}

func TestSortMessages_TieBreaksByID(t *testing.T) {
	ts := testutil.Epoch
	msgs := []coord.Message{
		{ID: "c", Timestamp: ts},
		{ID: "a", Timestamp: ts.Add(time.Second)},
		{ID: "b", Timestamp: ts},
	}
	SortMessages(msgs)
	assert.Equal(t, []string{"b", "c", "a"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestRouteWithPriority(t *testing.T) {
	f := setup(t)
	id, err := f.bus.SendMessage(f.env.Ctx, SendRequest{SessionID: f.session, FromAgent: "agentA", Content: "prod is down"})
	require.NoError(t, err)
	history, err := f.bus.GetMessageHistory(f.env.Ctx, f.session, 0)
	require.NoError(t, err)
	msg := history[0]

	t.Run("critical raises an alert", func(t *testing.T) {
		f.env.Events.Reset()
		require.NoError(t, f.bus.RouteWithPriority(f.env.Ctx, msg, coord.MessagePriority{Level: coord.PriorityCritical}))
		assert.Equal(t, []string{events.PriorityMessageRouted, events.UrgentMessageAlert}, f.env.Events.Names())
	})

	t.Run("low only routes", func(t *testing.T) {
		f.env.Events.Reset()
		require.NoError(t, f.bus.RouteWithPriority(f.env.Ctx, msg, coord.MessagePriority{Level: coord.PriorityLow}))
		assert.Equal(t, []string{events.PriorityMessageRouted}, f.env.Events.Names())
	})

	t.Run("history is unchanged", func(t *testing.T) {
		after, err := f.bus.GetMessageHistory(f.env.Ctx, f.session, 0)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, id, after[0].ID)

		routings, err := f.env.Store.Search(f.env.Ctx, records.Query{Kind: records.KindRouting, Labels: map[string]string{"message_id": id}})
		require.NoError(t, err)
		assert.Len(t, routings, 2)
	})

	t.Run("invalid level", func(t *testing.T) {
		err := f.bus.RouteWithPriority(f.env.Ctx, msg, coord.MessagePriority{Level: "asap"})
		assert.True(t, errors.Is(err, fault.ErrInvalidArgument))
	})

	t.Run("message without id", func(t *testing.T) {
		err := f.bus.RouteWithPriority(f.env.Ctx, coord.Message{SessionID: f.session}, coord.MessagePriority{Level: coord.PriorityHigh})
		assert.True(t, errors.Is(err, fault.ErrInvalidArgument))
	})

	t.Run("alert carries the stored message", func(t *testing.T) {
		f.env.Events.Reset()
		forged := coord.Message{ID: id, SessionID: f.session, FromAgent: "mallory", Content: "forged"}
		require.NoError(t, f.bus.RouteWithPriority(f.env.Ctx, forged, coord.MessagePriority{Level: coord.PriorityUrgent}))

		alerts := f.env.Events.Named(events.UrgentMessageAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, "agentA", alerts[0].Data["fromAgent"])
		assert.Equal(t, "prod is down", alerts[0].Data["content"])
	})

	other, err := f.sessions.CreateSession(f.env.Ctx, session.CreateRequest{Name: "other", Participants: []string{"agentA"}})
	require.NoError(t, err)

	unknown := []struct {
		name string
		ref  coord.Message
	}{
		{"never sent", coord.Message{ID: "never-sent", SessionID: f.session, FromAgent: "mallory", Content: "forged"}},
		{"sent in another session", coord.Message{ID: id, SessionID: other}},
		{"id of a non-message record", coord.Message{ID: f.session, SessionID: f.session}},
	}
	for _, tt := range unknown {
		t.Run(tt.name, func(t *testing.T) {
			f.env.Events.Reset()
			err := f.bus.RouteWithPriority(f.env.Ctx, tt.ref, coord.MessagePriority{Level: coord.PriorityCritical})
			assert.True(t, errors.Is(err, fault.ErrNotFound), "got %v", err)
			assert.Empty(t, f.env.Events.All())

			routings, err := f.env.Store.Search(f.env.Ctx, records.Query{Kind: records.KindRouting,
				Labels: map[string]string{"message_id": tt.ref.ID, "session_id": tt.ref.SessionID}})
			require.NoError(t, err)
			assert.Empty(t, routings)
		})
	}
}

func TestRealTimeMode(t *testing.T) {
	f := setup(t)

	enabled, err := f.bus.RealTimeEnabled(f.env.Ctx, f.session)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, f.bus.EnableRealTimeMode(f.env.Ctx, f.session))
	require.NoError(t, f.bus.EnableRealTimeMode(f.env.Ctx, f.session))

	enabled, err = f.bus.RealTimeEnabled(f.env.Ctx, f.session)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Len(t, f.env.Events.Named(events.RealtimeModeEnabled), 2)

	markers, err := f.env.Store.Search(f.env.Ctx, records.Query{Kind: records.KindMarker})
	require.NoError(t, err)
	assert.Len(t, markers, 1)

	err = f.bus.EnableRealTimeMode(f.env.Ctx, "ghost")
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}
