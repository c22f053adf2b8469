package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBackend struct {
	mu      sync.Mutex
	replies []func(string) (string, error)
	calls   []time.Time
}

func (b *scriptedBackend) Translate(ctx context.Context, text string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, time.Now())
	if len(b.replies) == 0 {
		return "tet:" + text, nil
	}
	next := b.replies[0]
	b.replies = b.replies[1:]
	return next(text)
}

func echo(s string) (string, error) { return s, nil }
func fail(string) (string, error) { return "", errors.New("boom") }
func fixed(out string) func(string) (string, error) {
	return func(string) (string, error) { return out, nil }
}

func noPace() PolicyConfig { return PolicyConfig{Pace: -1, Timeout: time.Second} }

func TestPolicy_BlankInputSkipsBackend(t *testing.T) {
	b := &scriptedBackend{}
	p := NewPolicy(b, noPace(), nil)

	out, err := p.Translate(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, b.calls)
}

func TestPolicy_RetriesOnceOnError(t *testing.T) {
	b := &scriptedBackend{replies: []func(string) (string, error){fail, fixed("ai-oan")}}
	p := NewPolicy(b, noPace(), nil)

	out, err := p.Translate(context.Background(), "tree")
	require.NoError(t, err)
	assert.Equal(t, "ai-oan", out)
	assert.Len(t, b.calls, 2)
}

func TestPolicy_RetriesWhenOutputEqualsInput(t *testing.T) {
	b := &scriptedBackend{replies: []func(string) (string, error){echo, fixed("tahan")}}
	p := NewPolicy(b, noPace(), nil)

	out, err := p.Translate(context.Background(), "Leaf")
	require.NoError(t, err)
	assert.Equal(t, "tahan", out)
	assert.Len(t, b.calls, 2)
}

func TestPolicy_SecondFailureYieldsEmpty(t *testing.T) {
	b := &scriptedBackend{replies: []func(string) (string, error){fail, fail}}
	p := NewPolicy(b, noPace(), nil)

	out, err := p.Translate(context.Background(), "fruit")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Len(t, b.calls, 2)
}

func TestPolicy_UnchangedRetryIsKept(t *testing.T) {
	b := &scriptedBackend{replies: []func(string) (string, error){echo, echo}}
	p := NewPolicy(b, noPace(), nil)

	out, err := p.Translate(context.Background(), "Ficus")
	require.NoError(t, err)
	assert.Equal(t, "Ficus", out)
}

func TestPolicy_CancelledContext(t *testing.T) {
	b := &scriptedBackend{replies: []func(string) (string, error){fail, fail}}
	p := NewPolicy(b, noPace(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Translate(ctx, "seed")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_PacesSequentialCalls(t *testing.T) {
	b := &scriptedBackend{}
	p := NewPolicy(b, PolicyConfig{Pace: 40 * time.Millisecond}, nil)

	for _, s := range []string{"a", "b", "c"} {
		_, err := p.Translate(context.Background(), s)
		require.NoError(t, err)
	}
	require.Len(t, b.calls, 3)
	for i := 1; i < len(b.calls); i++ {
		assert.GreaterOrEqual(t, b.calls[i].Sub(b.calls[i-1]), 35*time.Millisecond)
	}
}

func TestHTTPClient_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/translate", r.URL.Path)

		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en", req.Source)
		assert.Equal(t, "tet", req.Target)
		assert.Equal(t, "secret", req.APIKey)

		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: strings.ToUpper(req.Q)})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret")
	out, err := c.Translate(context.Background(), "habitat")
	require.NoError(t, err)
	assert.Equal(t, "HABITAT", out)
}

func TestHTTPClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "").Translate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
