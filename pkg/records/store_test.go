package records

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/pkg/fault"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "agora.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// forEachStore runs fn against every adapter so both honour the same contract.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("redis", func(t *testing.T) {
		client, _ := setupTestClient(t)
		fn(t, client)
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupSQLiteStore(t))
	})
}

func markerRecord(t *testing.T, id, content string, createdAtMs int64) *Record {
	t.Helper()
	rec, err := NewRecord(KindMarker, id, content, map[string]string{"sessionId": "s1", "marker": "realtime"})
	require.NoError(t, err)
	rec.CreatedAtMs = createdAtMs
	return rec
}

func TestStore_AddAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		rec := markerRecord(t, "", "Real-time mode", 0)
		rec.Labels["session_id"] = "s1"
		rec.Tags = []string{"marker:realtime"}

		id, err := store.Add(ctx, rec)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, int64(1), rec.Version)
		assert.NotZero(t, rec.CreatedAtMs)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, KindMarker, got.Kind)
		assert.Equal(t, "Real-time mode", got.Content)
		assert.JSONEq(t, string(rec.Payload), string(got.Payload))
		assert.Equal(t, map[string]string{"session_id": "s1"}, got.Labels)
		assert.Equal(t, []string{"marker:realtime"}, got.Tags)
		assert.Equal(t, rec.CreatedAtMs, got.CreatedAtMs)
		assert.Equal(t, int64(1), got.Version)
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Get(context.Background(), "does-not-exist")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.True(t, errors.Is(err, fault.ErrNotFound))
	})
}

func TestStore_AddRejectsInvalidPayload(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		rec, err := NewRecord(KindMarker, "m1", "", map[string]string{"sessionId": "s1"})
		require.NoError(t, err)

		_, err = store.Add(context.Background(), rec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fault.ErrInvalidArgument))

		_, err = store.Get(context.Background(), "m1")
		assert.True(t, IsNotFound(err))
	})
}

func TestStore_AddOverwriteReindexes(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		rec := markerRecord(t, "m1", "first", 1000)
		rec.Tags = []string{"old"}
		rec.Labels["status"] = "online"
		_, err := store.Add(ctx, rec)
		require.NoError(t, err)

		rec2 := markerRecord(t, "m1", "second", 1000)
		rec2.Tags = []string{"new"}
		rec2.Labels["status"] = "busy"
		_, err = store.Add(ctx, rec2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec2.Version)

		stale, err := store.Search(ctx, Query{Tags: []string{"old"}})
		require.NoError(t, err)
		assert.Empty(t, stale)

		stale, err = store.Search(ctx, Query{Labels: map[string]string{"status": "online"}})
		require.NoError(t, err)
		assert.Empty(t, stale)

		fresh, err := store.Search(ctx, Query{Tags: []string{"new"}, Labels: map[string]string{"status": "busy"}})
		require.NoError(t, err)
		require.Len(t, fresh, 1)
		assert.Equal(t, "second", fresh[0].Content)
	})
}

func TestStore_AddRejectsKindChange(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, err := store.Add(ctx, markerRecord(t, "shared", "first", 1000))
		require.NoError(t, err)

		agent, err := NewRecord(KindAgent, "shared", "intruder", map[string]any{
			"id": "shared", "name": "intruder", "capabilities": []string{}, "status": "online",
		})
		require.NoError(t, err)
		_, err = store.Add(ctx, agent)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fault.ErrInvalidArgument), "got %v", err)

		got, err := store.Get(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, KindMarker, got.Kind)
		assert.Equal(t, "first", got.Content)
		assert.Equal(t, int64(1), got.Version)

		agents, err := store.Search(ctx, Query{Kind: KindAgent})
		require.NoError(t, err)
		assert.Empty(t, agents)
	})
}

func TestStore_ConcurrentAddsGetDistinctVersions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		const writers = 8

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			versions []int64
		)
		recs := make([]*Record, writers)
		for i := range recs {
			recs[i] = markerRecord(t, "m1", "x", 1000)
			recs[i].Labels["writer"] = string(rune('a' + i))
		}
		for _, rec := range recs {
			wg.Add(1)
			go func(rec *Record) {
				defer wg.Done()
				if _, err := store.Add(ctx, rec); err != nil {
					assert.True(t, errors.Is(err, fault.ErrConflict), "got %v", err)
					return
				}
				mu.Lock()
				versions = append(versions, rec.Version)
				mu.Unlock()
			}(rec)
		}
		wg.Wait()

		require.NotEmpty(t, versions)
		seen := map[int64]bool{}
		for _, v := range versions {
			assert.False(t, seen[v], "version %d assigned twice", v)
			seen[v] = true
		}

		got, err := store.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, int64(len(versions)), got.Version)

		indexed := 0
		for i := 0; i < writers; i++ {
			recs, err := store.Search(ctx, Query{Labels: map[string]string{"writer": string(rune('a' + i))}})
			require.NoError(t, err)
			indexed += len(recs)
		}
		assert.Equal(t, 1, indexed, "only the last writer's labels stay indexed")
	})
}

func TestStore_Search(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		seed := []struct {
			id      string
			content string
			at      int64
			tags    []string
			session string
		}{
			{"c", "Version the API in the PATH", 3000, []string{"from:a", "to:all"}, "s1"},
			{"a", "headers are awkward", 1000, []string{"from:b", "to:a"}, "s1"},
			{"b", "path versioning wins", 2000, []string{"from:a", "to:b"}, "s1"},
			{"d", "other session", 1500, []string{"from:a", "to:all"}, "s2"},
			{"e", "same millisecond as b", 2000, []string{"from:c", "to:all"}, "s1"},
		}
		for _, s := range seed {
			rec := markerRecord(t, s.id, s.content, s.at)
			rec.Tags = s.tags
			rec.Labels["session_id"] = s.session
			_, err := store.Add(ctx, rec)
			require.NoError(t, err)
		}

		ids := func(recs []*Record) []string {
			out := make([]string, len(recs))
			for i, r := range recs {
				out[i] = r.ID
			}
			return out
		}

		t.Run("label filter orders by creation then id", func(t *testing.T) {
			got, err := store.Search(ctx, Query{Labels: map[string]string{"session_id": "s1"}})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "e", "c"}, ids(got))
		})

		t.Run("tags are ANDed", func(t *testing.T) {
			got, err := store.Search(ctx, Query{Tags: []string{"from:a", "to:all"}})
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "c"}, ids(got))
		})

		t.Run("kind only", func(t *testing.T) {
			got, err := store.Search(ctx, Query{Kind: KindMarker})
			require.NoError(t, err)
			assert.Len(t, got, 5)

			got, err = store.Search(ctx, Query{Kind: KindAgent})
			require.NoError(t, err)
			assert.Empty(t, got)
		})

		t.Run("text is case-insensitive substring", func(t *testing.T) {
			got, err := store.Search(ctx, Query{Text: "path"})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, ids(got))
		})

		t.Run("limit keeps the most recent matches in order", func(t *testing.T) {
			got, err := store.Search(ctx, Query{Labels: map[string]string{"session_id": "s1"}, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"e", "c"}, ids(got))
		})

		t.Run("unconstrained query returns everything", func(t *testing.T) {
			got, err := store.Search(ctx, Query{})
			require.NoError(t, err)
			assert.Len(t, got, 5)
		})

		t.Run("no match is empty not nil", func(t *testing.T) {
			got, err := store.Search(ctx, Query{Tags: []string{"nope"}})
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	})
}

func TestStore_Replace(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		rec := markerRecord(t, "m1", "v1", 1234)
		rec.Tags = []string{"participant:a"}
		_, err := store.Add(ctx, rec)
		require.NoError(t, err)

		t.Run("succeeds at expected version and keeps creation time", func(t *testing.T) {
			next := markerRecord(t, "m1", "v2", 9999)
			next.Tags = []string{"participant:a", "participant:b"}
			require.NoError(t, store.Replace(ctx, next, 1))
			assert.Equal(t, int64(2), next.Version)

			got, err := store.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, "v2", got.Content)
			assert.Equal(t, int64(1234), got.CreatedAtMs)
			assert.Equal(t, int64(2), got.Version)

			found, err := store.Search(ctx, Query{Tags: []string{"participant:b"}})
			require.NoError(t, err)
			assert.Len(t, found, 1)
		})

		t.Run("stale version conflicts", func(t *testing.T) {
			stale := markerRecord(t, "m1", "stale", 0)
			err := store.Replace(ctx, stale, 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault.ErrConflict))

			got, err := store.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, "v2", got.Content)
		})

		t.Run("missing record", func(t *testing.T) {
			err := store.Replace(ctx, markerRecord(t, "ghost", "", 0), 1)
			assert.True(t, IsNotFound(err))
		})
	})
}

func TestStore_ConcurrentReplaceHasOneWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, err := store.Add(ctx, markerRecord(t, "m1", "base", 1000))
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Replace(ctx, markerRecord(t, "m1", "next", 0), 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, fault.ErrConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)
	})
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-instance", client.InstanceName())
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestClient_UnreachableIsRetryable(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.Close()

	_, err := client.Get(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrRetryable))
	assert.False(t, IsNotFound(err))
}

func TestClient_IndexKeys(t *testing.T) {
	client, mr := setupTestClient(t)
	rec := markerRecord(t, "m1", "x", 42)
	rec.Tags = []string{"from:a"}
	rec.Labels["session_id"] = "s1"
	_, err := client.Add(context.Background(), rec)
	require.NoError(t, err)

	assert.True(t, mr.Exists("agora:test-instance:record:m1"))
	members, err := mr.SMembers("agora:test-instance:tag:from:a")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
	members, err = mr.SMembers("agora:test-instance:label:session_id:s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
	score, err := mr.ZScore("agora:test-instance:kind:marker", "m1")
	require.NoError(t, err)
	assert.Equal(t, float64(42), score)
	members, err = mr.SMembers("agora:test-instance:kind-members:marker")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
}

func TestClient_LabelSearchSkipsOtherKinds(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	session := markerRecord(t, "s1-marker", "x", 1)
	session.Labels["session_id"] = "s1"
	_, err := client.Add(ctx, session)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		rec, err := NewRecord(KindRouting, "", "", map[string]any{
			"messageId": "m", "sessionId": "s1", "priority": map[string]string{"level": "low"},
		})
		require.NoError(t, err)
		rec.Labels["session_id"] = "s1"
		_, err = client.Add(ctx, rec)
		require.NoError(t, err)
	}

	before := mr.CommandCount()
	recs, err := client.Search(ctx, Query{Kind: KindMarker, Labels: map[string]string{"session_id": "s1"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s1-marker", recs[0].ID)
	assert.LessOrEqual(t, mr.CommandCount()-before, 3)
}
