// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nerconll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestNode(t *testing.T, names ...string) (*Node, *ExtractorRegistry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry, err := NewExtractorRegistry(RegistryConfig{ModelsDir: writeModels(t, names...)}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	cache := NewExtractionCache(time.Minute, logger)
	t.Cleanup(cache.Close)

	queue := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 2}, logger)
	return NewNode(logger, registry, cache, queue), registry
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Extract(t *testing.T) {
	node, registry := newTestNode(t, "conll")
	h := node.Handler()

	rec := do(t, h, http.MethodPost, "/api/extract",
		`{"model":"conll","texts":["Peter Blackburn met NATO .","nothing here",""]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp ExtractResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conll", resp.Model)
	require.Len(t, resp.Detections, 3)
	assert.Equal(t, []Detection{
		{Begin: 0, Length: 15, Label: 0, Tag: "PERSON", Text: "Peter Blackburn"},
		{Begin: 20, Length: 4, Label: 2, Tag: "ORGANIZATION", Text: "NATO"},
	}, resp.Detections[0])
	assert.Empty(t, resp.Detections[1])
	assert.Empty(t, resp.Detections[2])
	assert.True(t, registry.IsLoaded("conll"))

	// served from the cache the second time
	rec = do(t, h, http.MethodPost, "/api/extract",
		`{"model":"conll","texts":["Peter Blackburn met NATO .","nothing here",""]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, node.cache.Stats().Hits)
}

func TestAPI_ExtractErrors(t *testing.T) {
	node, _ := newTestNode(t, "conll")
	h := node.Handler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"model":`, http.StatusBadRequest},
		{"no model", `{"texts":["a"]}`, http.StatusBadRequest},
		{"no texts", `{"model":"conll"}`, http.StatusBadRequest},
		{"unknown model", `{"model":"nope","texts":["a"]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/extract", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodGet, "/api/extract", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_ExtractNoModels(t *testing.T) {
	node, _ := newTestNode(t)
	rec := do(t, node.Handler(), http.MethodPost, "/api/extract", `{"model":"conll","texts":["a"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_ExtractQueueFull(t *testing.T) {
	node, _ := newTestNode(t, "conll")
	node.requestQueue = NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1, MaxQueueSize: 1}, zaptest.NewLogger(t))

	release, err := node.requestQueue.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	// occupy the single queue slot
	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if r, err := node.requestQueue.Acquire(ctx); err == nil {
			r()
		}
	}()
	require.Eventually(t, func() bool { return node.requestQueue.Stats().CurrentQueued == 1 }, time.Second, 5*time.Millisecond)

	rec := do(t, node.Handler(), http.MethodPost, "/api/extract", `{"model":"conll","texts":["a"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	release()
	<-waiting
}

func TestAPI_Models(t *testing.T) {
	node, registry := newTestNode(t, "b", "a")
	_, err := registry.Get("b")
	require.NoError(t, err)

	rec := do(t, node.Handler(), http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModelsResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"a", "b"}, resp.Models)
	assert.Equal(t, []string{"b"}, resp.Loaded)
}

func TestAPI_Version(t *testing.T) {
	node, _ := newTestNode(t)
	rec := do(t, node.Handler(), http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp VersionResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestHealthEndpoints(t *testing.T) {
	node, _ := newTestNode(t, "conll")
	h := node.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, 1, ready.Extractors)

	empty, _ := newTestNode(t)
	rec = do(t, empty.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodOptions, "/api/extract", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRunAsServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	readyC := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- RunAsServer(ctx, zaptest.NewLogger(t), Config{
			ApiUrl:    "http://127.0.0.1:0",
			ModelsDir: writeModels(t, "conll"),
			Preload:   []string{"conll"},
		}, readyC)
	}()

	select {
	case <-readyC:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not become ready")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestRunAsServer_BadConfig(t *testing.T) {
	err := RunAsServer(context.Background(), zaptest.NewLogger(t), Config{
		ApiUrl:    "http://127.0.0.1:0",
		KeepAlive: "forever",
	}, nil)
	assert.Error(t, err)
}
