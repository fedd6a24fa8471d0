package coherence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/internal/messaging"
	sessionpkg "github.com/dyluth/agora/internal/session"
	"github.com/dyluth/agora/internal/testutil"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
)

type harness struct {
	env      *testutil.Env
	sessions *sessionpkg.Manager
	messages *messaging.Bus
	monitor  *Monitor
}

func newHarness(t *testing.T) *harness {
	env := testutil.NewEnv(t)
	sessions := sessionpkg.New(env.Store, env.Bus, env.Logger, sessionpkg.WithClock(env.Clock.Now))
	messages := messaging.New(env.Store, sessions, env.Bus, env.Logger, messaging.WithClock(env.Clock.Now))
	monitor := NewMonitor(env.Store, sessions, messages, env.Bus, env.Logger, WithClock(env.Clock.Now))
	return &harness{env: env, sessions: sessions, messages: messages, monitor: monitor}
}

func (h *harness) send(t *testing.T, sessionID, from, content string) {
	t.Helper()
	_, err := h.messages.SendMessage(h.env.Ctx, messaging.SendRequest{SessionID: sessionID, FromAgent: from, Content: content})
	require.NoError(t, err)
}

func TestMaintainCoherence_DesignReview(t *testing.T) {
	h := newHarness(t)
	sid, err := h.sessions.CreateSession(h.env.Ctx, sessionpkg.CreateRequest{
		Name:         "design-review",
		Participants: []string{"agentA", "agentB"},
		Mode:         coord.ModeCollaborative,
		Topic:        "API design",
	})
	require.NoError(t, err)
	h.send(t, sid, "agentA", "I think we should version the API in the path so clients can pin a release")
	h.send(t, sid, "agentB", "Agreed, because clients cannot always set custom headers when calling our API")
	h.env.Events.Reset()

	got, err := h.monitor.MaintainCoherence(h.env.Ctx, sid)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, got.DiscussionQuality, 0.6)
	assert.False(t, got.HasIssue(coord.IssueLowQuality))
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, []string{events.CoherenceMonitored}, h.env.Events.Names())

	persisted, err := h.monitor.History(h.env.Ctx, sid, 0)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, got.CoherenceScore, persisted[0].CoherenceScore)
	assert.Equal(t, got.ParticipationBalance, persisted[0].ParticipationBalance)
}

func TestMaintainCoherence_Degraded(t *testing.T) {
	h := newHarness(t)
	sid, err := h.sessions.CreateSession(h.env.Ctx, sessionpkg.CreateRequest{
		Name:         "migration",
		Participants: []string{"a", "b"},
		Topic:        "database migration",
	})
	require.NoError(t, err)
	h.send(t, sid, "a", "has anyone seen the football scores?")
	h.send(t, sid, "b", "no, too busy with lunch")
	h.env.Events.Reset()

	got, err := h.monitor.MaintainCoherence(h.env.Ctx, sid)
	require.NoError(t, err)

	assert.Equal(t, 0.0, got.CoherenceScore)
	assert.Equal(t, []string{events.CoherenceMonitored, events.CoherenceDegraded}, h.env.Events.Names())
	degraded := h.env.Events.Named(events.CoherenceDegraded)[0]
	assert.Equal(t, sid, degraded.SessionID)
}

func TestMaintainCoherence_EmptySession(t *testing.T) {
	h := newHarness(t)
	sid, err := h.sessions.CreateSession(h.env.Ctx, sessionpkg.CreateRequest{Name: "quiet", Participants: []string{"a"}, Topic: "x"})
	require.NoError(t, err)

	got, err := h.monitor.MaintainCoherence(h.env.Ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.CoherenceScore)
	assert.Equal(t, []string{RecommendNotStarted}, got.Recommendations)
	assert.Empty(t, h.env.Events.Named(events.CoherenceDegraded))
}

func TestMaintainCoherence_UnknownSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.monitor.MaintainCoherence(h.env.Ctx, "ghost")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = h.monitor.MaintainCoherence(h.env.Ctx, "")
	assert.ErrorIs(t, err, fault.ErrInvalidArgument)
}
