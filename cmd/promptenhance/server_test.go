package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriskillpack/promptenhance"
	"github.com/chriskillpack/promptenhance/internal/config"
)

// fakeOllama answers /api/generate with a fixed addition, failing prompts that
// mention "broken".
func fakeOllama(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var generates atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{"models": []map[string]any{{"name": "openhermes:latest"}}})
		case "/api/generate":
			generates.Add(1)
			var req struct {
				Prompt string `json:"prompt"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if strings.Contains(req.Prompt, "broken") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"response": "Enhanced prompt: under a violet sky"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &generates
}

type testServer struct {
	*Server
	http  *httptest.Server
	store *config.Store
}

func newTestServer(t *testing.T, endpoint string) *testServer {
	t.Helper()
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	fileCfg, err := store.Load()
	require.NoError(t, err)
	fileCfg.Ollama.Endpoint = endpoint
	fileCfg.Ollama.MaxRetries = 1
	require.NoError(t, store.Save(fileCfg))

	history, err := promptenhance.NewHistory(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	newPool := func(cfg config.Config) (*promptenhance.Pool, error) {
		return promptenhance.NewPoolFromConfig(promptenhance.InitOptions{Config: cfg})
	}
	srv, err := NewServer(fileCfg, store, history, nil, newPool, "")
	require.NoError(t, err)

	ts := httptest.NewServer(srv.router)
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return &testServer{Server: srv, http: ts, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServerEnhance(t *testing.T) {
	backend, _ := fakeOllama(t)
	ts := newTestServer(t, backend.URL)

	resp, out := ts.do(t, http.MethodPost, "/api/enhance", map[string]any{"prompt": "a lighthouse"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a lighthouse, under a violet sky", out["enhanced"])
	assert.NotEmpty(t, out["request_id"])

	n, err := ts.history.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServerEnhanceFailureReportsKind(t *testing.T) {
	backend, _ := fakeOllama(t)
	ts := newTestServer(t, backend.URL)

	resp, out := ts.do(t, http.MethodPost, "/api/enhance", map[string]any{"prompt": "a broken clock"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "status", out["kind"])

	resp, out = ts.do(t, http.MethodPost, "/api/enhance", map[string]any{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "prompt is required", out["error"])
}

func TestServerBatch(t *testing.T) {
	backend, generates := fakeOllama(t)
	ts := newTestServer(t, backend.URL)

	for _, concurrent := range []bool{false, true} {
		generates.Store(0)
		resp, out := ts.do(t, http.MethodPost, "/api/enhance/batch", map[string]any{
			"prompts":    []string{"a fox", "a broken vase", "a kite"},
			"concurrent": concurrent,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{
			"a fox, under a violet sky",
			"a broken vase",
			"a kite, under a violet sky",
		}, out["results"], "concurrent=%v", concurrent)
		assert.EqualValues(t, 3, generates.Load())
	}

	resp, out := ts.do(t, http.MethodPost, "/api/enhance/batch", map[string]any{"prompts": []string{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, out["results"])
}

func TestServerHealth(t *testing.T) {
	backend, _ := fakeOllama(t)
	ts := newTestServer(t, backend.URL)

	resp, out := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
	assert.EqualValues(t, 3, out["pool_size"])

	backend.Close()
	resp, out = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unreachable", out["status"])
}

func TestServerPatchConfig(t *testing.T) {
	backend, _ := fakeOllama(t)
	ts := newTestServer(t, backend.URL)

	resp, out := ts.do(t, http.MethodPatch, "/api/config", map[string]any{
		"ollama":      map[string]any{"model": "llava"},
		"performance": map[string]any{"pool_size": 2},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ollama := out["ollama"].(map[string]any)
	assert.Equal(t, "llava", ollama["model"])
	assert.EqualValues(t, 30, ollama["timeout"], "untouched keys keep their values")

	_, out = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.EqualValues(t, 2, out["pool_size"])

	saved, err := config.NewStore(ts.store.Path()).Load()
	require.NoError(t, err)
	assert.Equal(t, "llava", saved.Ollama.Model)
	assert.Equal(t, 2, saved.Performance.PoolSize)

	resp, out = ts.do(t, http.MethodPatch, "/api/config", map[string]any{
		"ollama": map[string]any{"timeout": 0},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ollama.timeout", out["field"])

	_, out = ts.do(t, http.MethodGet, "/api/config", nil)
	assert.Equal(t, "llava", out["ollama"].(map[string]any)["model"], "rejected update leaves config unchanged")
}

func patchConfig(url string, body map[string]any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPatch, url+"/api/config", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func TestServerConcurrentPatchesKeepEveryField(t *testing.T) {
	backend, _ := fakeOllama(t)
	ts := newTestServer(t, backend.URL)

	patches := []map[string]any{
		{"ollama": map[string]any{"model": "llava"}},
		{"prompt": map[string]any{"max_tokens": 200}},
		{"ui": map[string]any{"show_preview": true}},
		{"logging": map[string]any{"level": "DEBUG"}},
		{"performance": map[string]any{"pool_size": 2}},
	}
	var wg sync.WaitGroup
	statuses := make([]int, len(patches))
	errs := make([]error, len(patches))
	for i, p := range patches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i], errs[i] = patchConfig(ts.http.URL, p)
		}()
	}
	wg.Wait()
	for i := range patches {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}

	saved, err := config.NewStore(ts.store.Path()).Load()
	require.NoError(t, err)
	assert.Equal(t, "llava", saved.Ollama.Model)
	assert.Equal(t, 200, saved.Prompt.MaxTokens)
	assert.True(t, saved.UI.ShowPreview)
	assert.Equal(t, "DEBUG", saved.Logging.Level)
	assert.Equal(t, 2, saved.Performance.PoolSize)

	_, out := ts.do(t, http.MethodGet, "/api/config", nil)
	assert.Equal(t, "llava", out["ollama"].(map[string]any)["model"])
	assert.EqualValues(t, 200, out["prompt"].(map[string]any)["max_tokens"])
}

func TestServerPatchDoesNotWaitForInflightRequests(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Prompt, "slow") {
			close(started)
			<-unblock
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "Enhanced prompt: under a violet sky"})
	}))
	defer backend.Close()
	ts := newTestServer(t, backend.URL)

	slow := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.http.URL+"/api/enhance", "application/json", strings.NewReader(`{"prompt":"a slow snail"}`))
		if err != nil {
			slow <- 0
			return
		}
		resp.Body.Close()
		slow <- resp.StatusCode
	}()
	<-started

	patched := make(chan int, 1)
	go func() {
		status, _ := patchConfig(ts.http.URL, map[string]any{"ollama": map[string]any{"model": "llava"}})
		patched <- status
	}()
	select {
	case status := <-patched:
		assert.Equal(t, http.StatusOK, status)
	case <-time.After(5 * time.Second):
		close(unblock)
		t.Fatal("config update blocked behind an in-flight request")
	}

	resp, out := ts.do(t, http.MethodPost, "/api/enhance", map[string]any{"prompt": "a fast hare"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a fast hare, under a violet sky", out["enhanced"])

	close(unblock)
	assert.Equal(t, http.StatusOK, <-slow, "the replaced pool serves its last request")
}
