package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

func record(clock clockwork.Clock, id string) Record {
	now := clock.Now()
	return Record{
		ID:        id,
		Pose:      cluster.Identity(),
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultExpiration),
	}
}

// TestMemoryStore covers the basic Put/Get/Delete/List cycle.
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)

	_, err := store.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrAnchorNotFound)

	require.NoError(t, store.Put(ctx, record(clock, "A1")))
	require.NoError(t, store.Put(ctx, record(clock, "A2")))

	rec, err := store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", rec.ID)
	assert.Equal(t, cluster.Identity(), rec.Pose)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"A1", "A2"}, ids)

	require.NoError(t, store.Delete(ctx, "A1"))
	require.NoError(t, store.Delete(ctx, "A1"), "delete is idempotent")
	_, err = store.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrAnchorNotFound)
	assert.Equal(t, StoreStats{Anchors: 1}, store.Stats())
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store := NewMemoryStore(nil)
	assert.Error(t, store.Put(context.Background(), Record{}))
}

func TestMemoryStoreExpiration(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	require.NoError(t, store.Put(ctx, record(clock, "A1")))

	clock.Advance(DefaultExpiration - time.Minute)
	_, err := store.Get(ctx, "A1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = store.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrAnchorNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, StoreStats{Expired: 1}, store.Stats())
}

func TestMemoryStorePurge(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	require.NoError(t, store.Put(ctx, record(clock, "old")))
	clock.Advance(time.Hour)
	require.NoError(t, store.Put(ctx, record(clock, "new")))

	assert.Zero(t, store.Purge())
	clock.Advance(DefaultExpiration - time.Minute)
	assert.Equal(t, 1, store.Purge())
	assert.Equal(t, StoreStats{Anchors: 1}, store.Stats())
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	store := NewMemoryStore(clock)
	require.NoError(t, store.Put(ctx, record(clock, "A1")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Sweep(ctx, time.Hour, zaptest.NewLogger(t))
	}()
	clock.BlockUntil(1)
	clock.Advance(DefaultExpiration)

	assert.Eventually(t, func() bool {
		return store.Stats() == StoreStats{}
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Record{}.Expired(now), "zero expiry never expires")
	assert.True(t, Record{ExpiresAt: now}.Expired(now))
	assert.False(t, Record{ExpiresAt: now.Add(time.Second)}.Expired(now))
}

func newAnchorService(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(nil)
	mux := http.NewServeMux()
	NewHandler(store, zaptest.NewLogger(t)).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

// TestRemoteStore runs RemoteStore against the anchor service handler.
func TestRemoteStore(t *testing.T) {
	ctx := context.Background()
	srv, backing := newAnchorService(t)
	store := NewRemoteStore(srv.URL + "/")
	clock := clockwork.NewRealClock()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAnchorNotFound)

	rec := record(clock, "A1")
	rec.Pose.Position = cluster.Vec3{X: 1.5}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, rec.Pose, got.Pose)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, 1, backing.Stats().Anchors)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, ids)

	require.NoError(t, store.Delete(ctx, "A1"))
	require.NoError(t, store.Delete(ctx, "A1"))
	_, err = store.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrAnchorNotFound)
}

func TestHandlerErrors(t *testing.T) {
	srv, _ := newAnchorService(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing id", http.MethodGet, "/anchors/", "", http.StatusBadRequest},
		{"bad json", http.MethodPut, "/anchors/A1", "{", http.StatusBadRequest},
		{"id mismatch", http.MethodPut, "/anchors/A1", `{"id":"B2"}`, http.StatusBadRequest},
		{"bad method", http.MethodPost, "/anchors/A1", "", http.StatusMethodNotAllowed},
		{"bad list method", http.MethodDelete, "/anchors", "", http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/anchors/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, stringsReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
