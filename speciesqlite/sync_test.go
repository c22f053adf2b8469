package speciesqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZB1234D/Species-Database-App-123/internal/config"
	"github.com/ZB1234D/Species-Database-App-123/internal/server"
	"github.com/ZB1234D/Species-Database-App-123/speciesync"
	"github.com/ZB1234D/Species-Database-App-123/speciesync/memstore"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newBackend(t *testing.T) *server.TestServer {
	t.Helper()
	cfg := config.Default()
	cfg.Store = "memory"
	cfg.JWTSecret = "test"
	cfg.ChangeThreshold = 3
	ts, err := server.NewTestServer(&server.ServerConfig{Config: cfg, Logger: quietLogger, Store: memstore.New(nil)})
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func newReplica(t *testing.T, baseURL string) *Client {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := NewClient(db, baseURL, nil, &Config{
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
		BackoffMin:     time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		Logger:         quietLogger,
	})
	require.NoError(t, err)
	return c
}

func pair(name string) speciesync.SpeciesPair {
	en := speciesync.SpeciesFields{ScientificName: name, CommonName: "common " + name, LeafType: "simple", FruitType: "berry"}
	tet := speciesync.SpeciesFields{ScientificName: name, CommonName: "naran " + name, LeafType: "simples", FruitType: "fuan"}
	return speciesync.SpeciesPair{EN: en, TET: tet}
}

func createSpecies(t *testing.T, ts *server.TestServer, name string) int64 {
	t.Helper()
	res, err := ts.SyncService.CreateSpecies(context.Background(), pair(name))
	require.NoError(t, err)
	return res.SpeciesID
}

func TestSync_FirstRunFetchesBundle(t *testing.T) {
	ts := newBackend(t)
	ctx := context.Background()
	id := createSpecies(t, ts, "Ficus benjamina")
	_, err := ts.SyncService.RegisterMedia(ctx, speciesync.MediaInput{
		SpeciesName: "Ficus benjamina", MediaType: "image", DownloadLink: "https://cdn/ficus.jpg",
	})
	require.NoError(t, err)

	c := newReplica(t, ts.URL())
	res, err := c.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SyncBundle, res.Type)
	assert.Equal(t, "no_local_data", res.Reason)
	assert.Equal(t, int64(2), res.Version)
	assert.Equal(t, 1, res.SpeciesEN)
	assert.Equal(t, 1, res.Media)

	tet, err := c.Species(ctx, speciesync.LangTetum, id)
	require.NoError(t, err)
	assert.Equal(t, "naran Ficus benjamina", tet.CommonName)

	media, err := c.MediaForSpecies(ctx, id)
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, "https://cdn/ficus.jpg", media[0].StreamingLink)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", st.Status)
	assert.Equal(t, int64(2), st.Version)
	assert.NotNil(t, st.LastSync)

	res, err = c.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SyncNone, res.Type)
	assert.Equal(t, "up_to_date", res.Reason)
}

func TestSync_IncrementalAppliesUpsertsAndTombstones(t *testing.T) {
	ts := newBackend(t)
	ctx := context.Background()
	keep := createSpecies(t, ts, "Tectona grandis")
	gone := createSpecies(t, ts, "Santalum album")

	c := newReplica(t, ts.URL())
	_, err := c.Sync(ctx, false)
	require.NoError(t, err)

	updated := pair("Tectona grandis")
	updated.EN.Habitat = "lowland forest"
	_, err = ts.SyncService.UpdateSpecies(ctx, keep, updated)
	require.NoError(t, err)
	_, err = ts.SyncService.DeleteSpecies(ctx, gone)
	require.NoError(t, err)

	res, err := c.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SyncIncremental, res.Type)
	assert.Equal(t, int64(2), res.PreviousVersion)
	assert.Equal(t, int64(4), res.Version)
	assert.Equal(t, 1, res.Deleted)

	en, err := c.Species(ctx, speciesync.LangEnglish, keep)
	require.NoError(t, err)
	assert.Equal(t, "lowland forest", en.Habitat)

	_, err = c.Species(ctx, speciesync.LangTetum, gone)
	var nf *speciesync.NotFoundError
	require.ErrorAs(t, err, &nf)

	n, err := c.SpeciesCount(ctx, speciesync.LangEnglish)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSync_TooManyChangesFallsBackToBundle(t *testing.T) {
	ts := newBackend(t)
	ctx := context.Background()
	createSpecies(t, ts, "Species 0")

	c := newReplica(t, ts.URL())
	_, err := c.Sync(ctx, false)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		createSpecies(t, ts, fmt.Sprintf("Species %d", i))
	}

	res, err := c.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SyncBundle, res.Type)
	assert.Equal(t, speciesync.ReasonThreshold, res.Reason)

	all, err := c.ListSpecies(ctx, speciesync.LangEnglish)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSync_ForceBundle(t *testing.T) {
	ts := newBackend(t)
	createSpecies(t, ts, "Ficus")
	c := newReplica(t, ts.URL())

	_, err := c.Sync(context.Background(), false)
	require.NoError(t, err)
	res, err := c.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, SyncBundle, res.Type)
	assert.Equal(t, "forced", res.Reason)
}

func TestSync_FailureKeepsPreviousData(t *testing.T) {
	ts := newBackend(t)
	ctx := context.Background()
	createSpecies(t, ts, "Ficus")

	var broken atomic.Bool
	var calls atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if broken.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		ts.Handler.ServeHTTP(w, r)
	}))
	defer proxy.Close()

	c := newReplica(t, proxy.URL)
	_, err := c.Sync(ctx, false)
	require.NoError(t, err)

	createSpecies(t, ts, "Tectona")
	broken.Store(true)
	calls.Store(0)

	_, err = c.Sync(ctx, false)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "5xx responses are retried up to MaxRetries")

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "error", st.Status)
	assert.Contains(t, st.Error, "502")
	assert.Equal(t, int64(1), st.Version)

	n, err := c.SpeciesCount(ctx, speciesync.LangEnglish)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	broken.Store(false)
	res, err := c.Sync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, SyncIncremental, res.Type)
	assert.Equal(t, int64(2), res.Version)
}

func TestSync_AuthFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newReplica(t, srv.URL)
	_, err := c.Sync(context.Background(), false)
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSync_SingleFlight(t *testing.T) {
	ts := newBackend(t)
	c := newReplica(t, ts.URL())

	c.syncing.Store(true)
	_, err := c.Sync(context.Background(), false)
	require.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, c.InProgress())
}
