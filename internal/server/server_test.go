package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZB1234D/Species-Database-App-123/internal/config"
	"github.com/ZB1234D/Species-Database-App-123/speciesync"
	"github.com/ZB1234D/Species-Database-App-123/speciesync/memstore"
)

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text string) (string, error) {
	return strings.ToUpper(text), nil
}

func newMemoryServer(t *testing.T) *TestServer {
	t.Helper()
	cfg := config.Default()
	cfg.Store = "memory"
	cfg.JWTSecret = "test-secret"
	cfg.BootstrapAdmin = "admin:admin-pass"
	cfg.ChangeThreshold = 3

	ts, err := NewTestServer(&ServerConfig{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
		Store:      memstore.New(nil),
		Translator: upperTranslator{},
	})
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func login(t *testing.T, ts *TestServer) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL()+"/api/auth/login", "", speciesync.LoginRequest{Name: "admin", Password: "admin-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var lr speciesync.LoginResponse
	require.NoError(t, json.Unmarshal(body, &lr))
	require.NotEmpty(t, lr.Token)
	require.Equal(t, speciesync.RoleAdmin, lr.User.Role)
	return lr.Token
}

func speciesBody(name string) map[string]string {
	return map[string]string{
		"scientific_name":       name,
		"common_name":           "common " + name,
		"leaf_type":             "simple",
		"fruit_type":            "berry",
		"scientific_name_tetum": name,
		"common_name_tetum":     "naran " + name,
		"leaf_type_tetum":       "simples",
		"fruit_type_tetum":      "fuan",
	}
}

func TestServer_HealthAndRequestID(t *testing.T) {
	ts := newMemoryServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL()+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL()+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Request-ID"))
}

func TestServer_MutationsRequireAdmin(t *testing.T) {
	ts := newMemoryServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL()+"/upload", "", speciesBody("Ficus"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))

	admin := login(t, ts)
	resp, body = doJSON(t, http.MethodPost, ts.URL()+"/api/users", admin, map[string]any{
		"name": "viewer", "role": "viewer", "password": "viewer-pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodPost, ts.URL()+"/api/auth/login", "", speciesync.LoginRequest{Name: "viewer", Password: "viewer-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lr speciesync.LoginResponse
	require.NoError(t, json.Unmarshal(body, &lr))

	resp, _ = doJSON(t, http.MethodPost, ts.URL()+"/upload", lr.Token, speciesBody("Ficus"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL()+"/api/auth/login", "", speciesync.LoginRequest{Name: "viewer", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SyncFlow(t *testing.T) {
	ts := newMemoryServer(t)
	admin := login(t, ts)

	// bootstrap user creation advances the version without touching the dataset
	resp, body := doJSON(t, http.MethodGet, ts.URL()+"/api/species/changes?since_version=0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ch speciesync.ChangesResponse
	require.NoError(t, json.Unmarshal(body, &ch))
	assert.True(t, ch.UpToDate)
	base := ch.LatestVersion

	resp, body = doJSON(t, http.MethodPost, ts.URL()+"/upload", admin, speciesBody("Ficus benjamina"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, ts.URL()+"/api/species/changes?since_version="+itoa(base), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ch = speciesync.ChangesResponse{}
	require.NoError(t, json.Unmarshal(body, &ch))
	assert.False(t, ch.UpToDate)
	assert.False(t, ch.ForceBundle)
	require.NotNil(t, ch.RowCount)
	assert.Equal(t, 1, *ch.RowCount)

	resp, body = doJSON(t, http.MethodGet, ts.URL()+"/api/species/incremental?since_version="+itoa(base), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inc speciesync.IncrementalResponse
	require.NoError(t, json.Unmarshal(body, &inc))
	require.Len(t, inc.SpeciesEN, 1)
	require.Len(t, inc.SpeciesTET, 1)
	assert.Equal(t, "naran Ficus benjamina", inc.SpeciesTET[0].CommonName)
	assert.Equal(t, ch.LatestVersion, inc.LatestVersion)

	resp, body = doJSON(t, http.MethodGet, ts.URL()+"/api/bundle", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bundle speciesync.BundleResponse
	require.NoError(t, json.Unmarshal(body, &bundle))
	assert.Len(t, bundle.SpeciesEN, 1)
	assert.Equal(t, ch.LatestVersion, bundle.Version)

	resp, _ = doJSON(t, http.MethodGet, ts.URL()+"/api/species/changes", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_MediaErrors(t *testing.T) {
	ts := newMemoryServer(t)
	admin := login(t, ts)

	resp, body := doJSON(t, http.MethodPost, ts.URL()+"/upload-media", admin, map[string]string{
		"species_name": "Nowhere plant", "download_link": "https://x/1.jpg", "media_type": "image",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	var er speciesync.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, "species", er.Entity)

	resp, body = doJSON(t, http.MethodPost, ts.URL()+"/upload", admin, speciesBody("Tectona grandis"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	media := map[string]string{"species_name": "tectona grandis", "download_link": "https://x/teak.jpg", "media_type": "image"}
	resp, body = doJSON(t, http.MethodPost, ts.URL()+"/upload-media", admin, media)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodPost, ts.URL()+"/upload-media", admin, media)
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
	er = speciesync.ErrorResponse{}
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, speciesync.CodeAlreadyRegistered, er.Error)
}

func TestServer_UploadSheetForcesBundle(t *testing.T) {
	ts := newMemoryServer(t)
	admin := login(t, ts)

	_, body := doJSON(t, http.MethodGet, ts.URL()+"/api/species/changes?since_version=0", "", nil)
	var before speciesync.ChangesResponse
	require.NoError(t, json.Unmarshal(body, &before))

	csv := "Scientific Name,Common Name,Etymology,Habitat,Identification Character,Leaf Type,Fruit Type,Phenology,Seed Germination,Pest\n" +
		"Ficus,Fig,,,,Simple,Fig,,,\n" +
		"Tectona,Teak,,,,Simple,Drupe,,,\n"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "species.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(csv))
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, ts.URL()+"/upload-species", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var up speciesync.UploadSpeciesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, 2, up.RowsInserted)

	en, err := ts.Store.ListSpecies(context.Background(), speciesync.LangTetum)
	require.NoError(t, err)
	require.Len(t, en, 2)
	assert.Equal(t, "Ficus", en[0].ScientificName)
	assert.Equal(t, "FIG", en[0].CommonName)

	_, body = doJSON(t, http.MethodGet, ts.URL()+"/api/species/changes?since_version="+itoa(before.LatestVersion), "", nil)
	var after speciesync.ChangesResponse
	require.NoError(t, json.Unmarshal(body, &after))
	assert.True(t, after.ForceBundle)
	assert.Equal(t, speciesync.ReasonBulkInsert, after.Reason)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	ts := newMemoryServer(t)
	_, _ = doJSON(t, http.MethodGet, ts.URL()+"/api/species/changes?since_version=0", "", nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL()+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "speciesync_sync_decisions_total")
	assert.Contains(t, string(body), "speciesync_stage_duration_seconds")
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		RequestIDMiddleware, LoggingMiddleware(logger), RecoveryMiddleware(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
