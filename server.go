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

// Package nerconll serves trained named entity extractors over HTTP.
package nerconll

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// Config configures an extraction node.
type Config struct {
	ApiUrl    string `json:"api_url" yaml:"api_url" mapstructure:"api_url"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" mapstructure:"models_dir"`

	// KeepAlive is a duration string; empty or "0" keeps models loaded forever.
	KeepAlive       string   `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`
	MaxLoadedModels int      `json:"max_loaded_models" yaml:"max_loaded_models" mapstructure:"max_loaded_models"`
	PoolSize        int      `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
	Preload         []string `json:"preload" yaml:"preload" mapstructure:"preload"`

	MaxConcurrentRequests int    `json:"max_concurrent_requests" yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
	MaxQueueSize          int    `json:"max_queue_size" yaml:"max_queue_size" mapstructure:"max_queue_size"`
	RequestTimeout        string `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// CacheTTL is a duration string; "0" disables the extraction cache.
	CacheTTL string `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// Node holds the state shared by the HTTP handlers.
type Node struct {
	logger *zap.Logger

	extractors   ExtractorProvider
	cache        *ExtractionCache
	requestQueue *RequestQueue
}

// NewNode builds a node from its parts. cache and queue may be nil.
func NewNode(logger *zap.Logger, extractors ExtractorProvider, cache *ExtractionCache, queue *RequestQueue) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		logger:       logger,
		extractors:   extractors,
		cache:        cache,
		requestQueue: queue,
	}
}

// Handler returns the root handler: health probes plus the /api routes.
func (n *Node) Handler() http.Handler {
	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", n.handleHealthz)
	rootMux.HandleFunc("GET /readyz", n.handleReadyz)
	rootMux.Handle("/api/", NewAPI(n))

	return corsMiddleware(rootMux)
}

// corsMiddleware adds permissive CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return d, nil
}

// RunAsServer runs an extraction node until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to accept requests.
func RunAsServer(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) error {
	zl = zl.Named("nerconll")
	zl.Info("Starting extraction node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		return fmt.Errorf("invalid API URL %q: %w", config.ApiUrl, err)
	}
	keepAlive, err := parseDuration("keep_alive", config.KeepAlive)
	if err != nil {
		return err
	}
	requestTimeout, err := parseDuration("request_timeout", config.RequestTimeout)
	if err != nil {
		return err
	}

	registry, err := NewExtractorRegistry(RegistryConfig{
		ModelsDir:       config.ModelsDir,
		KeepAlive:       keepAlive,
		MaxLoadedModels: uint64(max(config.MaxLoadedModels, 0)),
		PoolSize:        config.PoolSize,
	}, zl.Named("registry"))
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	if err := registry.Preload(config.Preload); err != nil {
		return err
	}

	var cache *ExtractionCache
	if config.CacheTTL != "0" {
		ttl, err := parseDuration("cache_ttl", config.CacheTTL)
		if err != nil {
			return err
		}
		cache = NewExtractionCache(ttl, zl.Named("cache"))
		defer cache.Close()
	}

	queue := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		MaxQueueSize:          config.MaxQueueSize,
		RequestTimeout:        requestTimeout,
	}, zl.Named("queue"))

	node := NewNode(zl, registry, cache, queue)

	srv := &http.Server{
		Addr:              u.Host,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("API server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	if readyC != nil {
		close(readyC)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
	return nil
}
