package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/events"
	"github.com/dyluth/agora/internal/testutil"
	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
	"github.com/dyluth/agora/pkg/records"
)

func setupManager(t *testing.T) (*Manager, *testutil.Env) {
	env := testutil.NewEnv(t)
	return New(env.Store, env.Bus, env.Logger, WithClock(env.Clock.Now)), env
}

func TestCreateSession(t *testing.T) {
	t.Run("defaults and dedupes participants", func(t *testing.T) {
		mgr, env := setupManager(t)

		id, err := mgr.CreateSession(env.Ctx, CreateRequest{
			Name:         "API design",
			Participants: []string{"a", "b", "a", "c", "b"},
			Topic:        "REST versioning",
		})
		require.NoError(t, err)

		s, err := mgr.GetSessionInfo(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID)
		assert.Equal(t, []string{"a", "b", "c"}, s.Participants)
		assert.Equal(t, coord.ModeCollaborative, s.Mode)
		assert.Equal(t, coord.SessionActive, s.Status)
		assert.Equal(t, int64(1), s.Version)
		assert.Empty(t, s.Messages)
		assert.NotNil(t, s.Messages)
		assert.Nil(t, s.Enhanced)

		assert.Equal(t, []string{events.SessionCreated}, env.Events.Names())
		assert.Equal(t, id, env.Events.All()[0].SessionID)
	})

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty name", CreateRequest{Participants: []string{"a"}}},
		{"no participants", CreateRequest{Name: "x"}},
		{"blank participants", CreateRequest{Name: "x", Participants: []string{"", " "}}},
		{"bad mode", CreateRequest{Name: "x", Participants: []string{"a"}, Mode: "anarchic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, env := setupManager(t)
			_, err := mgr.CreateSession(env.Ctx, tt.req)
			assert.True(t, errors.Is(err, fault.ErrInvalidArgument), "got %v", err)
			assert.Empty(t, env.Events.All())
		})
	}
}

func TestCreateEnhancedSession(t *testing.T) {
	t.Run("defaults threshold and forces discussion on", func(t *testing.T) {
		mgr, env := setupManager(t)

		id, err := mgr.CreateEnhancedSession(env.Ctx,
			CreateRequest{Name: "Pricing review", Participants: []string{"cfo", "pm"}, Mode: coord.ModeHierarchical},
			coord.EnhancedSettings{DiscussionType: "strategic", BusinessContext: map[string]string{"quarter": "Q3"}},
		)
		require.NoError(t, err)

		s, err := mgr.GetSessionInfo(env.Ctx, id)
		require.NoError(t, err)
		require.NotNil(t, s.Enhanced)
		assert.True(t, s.DiscussionEnabled)
		assert.Equal(t, 0.66, s.Enhanced.ConsensusThreshold)
		assert.Equal(t, "strategic", s.Enhanced.DiscussionType)
		assert.Equal(t, "Q3", s.Enhanced.BusinessContext["quarter"])

		assert.Equal(t, []string{events.BusinessSessionCreated}, env.Events.Names())
	})

	t.Run("configured default threshold", func(t *testing.T) {
		env := testutil.NewEnv(t)
		mgr := New(env.Store, env.Bus, env.Logger, WithDefaultConsensusThreshold(0.8))
		id, err := mgr.CreateEnhancedSession(env.Ctx, CreateRequest{Name: "x", Participants: []string{"a"}}, coord.EnhancedSettings{})
		require.NoError(t, err)
		s, err := mgr.GetSessionInfo(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0.8, s.Enhanced.ConsensusThreshold)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		mgr, env := setupManager(t)
		_, err := mgr.CreateEnhancedSession(env.Ctx,
			CreateRequest{Name: "x", Participants: []string{"a"}},
			coord.EnhancedSettings{ConsensusThreshold: 1.2},
		)
		assert.True(t, errors.Is(err, fault.ErrInvalidArgument))
	})
}

func TestGetSessionInfo(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		mgr, env := setupManager(t)
		s, err := mgr.GetSessionInfo(env.Ctx, "nope")
		assert.Nil(t, s)
		assert.True(t, errors.Is(err, fault.ErrNotFound))

		var fe *fault.Error
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, "nope", fe.SessionID)
	})

	t.Run("duplicate records return the first", func(t *testing.T) {
		mgr, env := setupManager(t)
		id, err := mgr.CreateSession(env.Ctx, CreateRequest{Name: "original", Participants: []string{"a"}})
		require.NoError(t, err)

		// A stray record sharing the session_id label, created later.
		dup := &coord.Session{ID: "stray", Name: "duplicate", Participants: []string{"z"},
			Mode: coord.ModeCollaborative, Status: coord.SessionActive}
		rec, err := records.NewRecord(records.KindSession, "stray", "duplicate", dup)
		require.NoError(t, err)
		rec.Labels["session_id"] = id
		rec.CreatedAtMs = testutil.Epoch.Add(time.Hour).UnixMilli()
		_, err = env.Store.Add(env.Ctx, rec)
		require.NoError(t, err)

		s, err := mgr.GetSessionInfo(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "original", s.Name)
	})

	t.Run("without a primary record the earliest duplicate wins", func(t *testing.T) {
		mgr, env := setupManager(t)
		strays := []struct {
			id     string
			name   string
			offset time.Duration
		}{
			{"stray-a", "third", 2 * time.Minute},
			{"stray-b", "first", 0},
			{"stray-c", "second", time.Minute},
		}
		for _, st := range strays {
			stray := &coord.Session{ID: st.id, Name: st.name, Participants: []string{"a"},
				Mode: coord.ModeCollaborative, Status: coord.SessionActive}
			rec, err := records.NewRecord(records.KindSession, st.id, st.name, stray)
			require.NoError(t, err)
			rec.Labels["session_id"] = "legacy"
			rec.CreatedAtMs = testutil.Epoch.Add(st.offset).UnixMilli()
			_, err = env.Store.Add(env.Ctx, rec)
			require.NoError(t, err)
		}

		s, err := mgr.GetSessionInfo(env.Ctx, "legacy")
		require.NoError(t, err)
		assert.Equal(t, "first", s.Name)
	})

	t.Run("lookup cost does not grow with session traffic", func(t *testing.T) {
		mgr, env := setupManager(t)
		id, err := mgr.CreateSession(env.Ctx, CreateRequest{Name: "busy", Participants: []string{"a"}})
		require.NoError(t, err)

		for i := 0; i < 300; i++ {
			msg := coord.Message{ID: fmt.Sprintf("m%03d", i), SessionID: id, FromAgent: "a",
				Content: "hello", MessageType: coord.MessageUpdate, Timestamp: testutil.Epoch}
			rec, err := records.NewRecord(records.KindMessage, msg.ID, msg.Content, msg)
			require.NoError(t, err)
			rec.Labels["session_id"] = id
			_, err = env.Store.Add(env.Ctx, rec)
			require.NoError(t, err)
		}

		before := env.Redis.CommandCount()
		s, err := mgr.GetSessionInfo(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "busy", s.Name)
		assert.LessOrEqual(t, env.Redis.CommandCount()-before, 3)
	})

	t.Run("an id held by another kind is not a session", func(t *testing.T) {
		mgr, env := setupManager(t)
		rec, err := records.NewRecord(records.KindMarker, "realtime:x", "", map[string]string{"sessionId": "x", "marker": "realtime"})
		require.NoError(t, err)
		_, err = env.Store.Add(env.Ctx, rec)
		require.NoError(t, err)

		_, err = mgr.GetSessionInfo(env.Ctx, "realtime:x")
		assert.True(t, errors.Is(err, fault.ErrNotFound))
	})
}

func TestJoinAndLeave(t *testing.T) {
	mgr, env := setupManager(t)
	id, err := mgr.CreateSession(env.Ctx, CreateRequest{Name: "s", Participants: []string{"a", "b"}})
	require.NoError(t, err)
	env.Events.Reset()

	joined, err := mgr.JoinSession(env.Ctx, id, "c")
	require.NoError(t, err)
	assert.True(t, joined)

	again, err := mgr.JoinSession(env.Ctx, id, "c")
	require.NoError(t, err)
	assert.True(t, again, "joining twice is a successful no-op")

	s, err := mgr.GetSessionInfo(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, s.Participants)
	assert.Equal(t, int64(2), s.Version)

	left, err := mgr.LeaveSession(env.Ctx, id, "a")
	require.NoError(t, err)
	assert.True(t, left)

	left, err = mgr.LeaveSession(env.Ctx, id, "a")
	require.NoError(t, err)
	assert.False(t, left)

	s, err = mgr.GetSessionInfo(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, s.Participants)
	assert.Equal(t, int64(3), s.Version)

	assert.Equal(t, []string{events.AgentJoinedSession, events.AgentLeftSession}, env.Events.Names())

	t.Run("last participant may leave", func(t *testing.T) {
		_, err := mgr.LeaveSession(env.Ctx, id, "b")
		require.NoError(t, err)
		left, err := mgr.LeaveSession(env.Ctx, id, "c")
		require.NoError(t, err)
		assert.True(t, left)

		s, err := mgr.GetSessionInfo(env.Ctx, id)
		require.NoError(t, err)
		assert.Empty(t, s.Participants)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := mgr.JoinSession(env.Ctx, "ghost", "a")
		assert.True(t, errors.Is(err, fault.ErrNotFound))
		_, err = mgr.LeaveSession(env.Ctx, "ghost", "a")
		assert.True(t, errors.Is(err, fault.ErrNotFound))
	})

	t.Run("missing arguments", func(t *testing.T) {
		_, err := mgr.JoinSession(env.Ctx, id, "")
		assert.True(t, errors.Is(err, fault.ErrInvalidArgument))
	})
}

func TestConcurrentJoinsAllLand(t *testing.T) {
	mgr, env := setupManager(t)
	id, err := mgr.CreateSession(env.Ctx, CreateRequest{Name: "busy", Participants: []string{"host"}})
	require.NoError(t, err)

	const joiners = 4
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.JoinSession(env.Ctx, id, fmt.Sprintf("agent-%d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	s, err := mgr.GetSessionInfo(env.Ctx, id)
	require.NoError(t, err)
	assert.Len(t, s.Participants, joiners+1)
	assert.Equal(t, int64(joiners+1), s.Version)
	assert.Len(t, env.Events.Named(events.AgentJoinedSession), joiners)
}

func TestConcludeSession(t *testing.T) {
	mgr, env := setupManager(t)
	id, err := mgr.CreateSession(env.Ctx, CreateRequest{Name: "s", Participants: []string{"a"}})
	require.NoError(t, err)

	done, err := mgr.ConcludeSession(env.Ctx, id)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = mgr.ConcludeSession(env.Ctx, id)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, env.Events.Named(events.SessionConcluded), 1)

	_, err = mgr.JoinSession(env.Ctx, id, "b")
	assert.True(t, errors.Is(err, fault.ErrUnauthorized))
	_, err = mgr.LeaveSession(env.Ctx, id, "a")
	assert.True(t, errors.Is(err, fault.ErrUnauthorized))
}

func TestListSessions(t *testing.T) {
	mgr, env := setupManager(t)
	var created []string
	for _, name := range []string{"first", "second", "third"} {
		id, err := mgr.CreateSession(env.Ctx, CreateRequest{Name: name, Participants: []string{"a"}})
		require.NoError(t, err)
		created = append(created, id)
		env.Clock.Advance(time.Second)
	}
	_, err := mgr.ConcludeSession(env.Ctx, created[1])
	require.NoError(t, err)

	all, err := mgr.ListSessions(env.Ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{all[0].Name, all[1].Name, all[2].Name})

	active, err := mgr.ListSessions(env.Ctx, coord.SessionActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	concluded, err := mgr.ListSessions(env.Ctx, coord.SessionConcluded)
	require.NoError(t, err)
	require.Len(t, concluded, 1)
	assert.Equal(t, created[1], concluded[0].ID)

	_, err = mgr.ListSessions(env.Ctx, "paused")
	assert.True(t, errors.Is(err, fault.ErrInvalidArgument))
}
