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
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/antflydb/nerconll/lib/modelregistry"
	"github.com/antflydb/nerconll/lib/ner"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultKeepAlive matches Ollama's 5-minute default.
const DefaultKeepAlive = 5 * time.Minute

// ErrModelNotFound is returned for names that were not discovered.
var ErrModelNotFound = errors.New("extractor not found")

// ExtractorInfo describes a discovered extractor that may not be loaded yet.
type ExtractorInfo struct {
	Name     string
	Path     string
	Labels   []string
	RunID    string
	PoolSize int
}

// ExtractorProvider hands out loaded extractors by name.
type ExtractorProvider interface {
	Get(name string) (*ner.PooledNER, error)
	List() []string
	ListLoaded() []string
	Close() error
}

// ExtractorRegistry discovers extractors under modelsDir/extractors, loads
// them on first use and unloads them after the keep-alive expires or when the
// loaded model limit evicts them.
type ExtractorRegistry struct {
	modelsDir string
	logger    *zap.Logger

	discovered map[string]*ExtractorInfo
	mu         sync.RWMutex

	cache   *ttlcache.Cache[string, *ner.PooledNER]
	loading singleflight.Group

	keepAlive       time.Duration
	maxLoadedModels uint64
	poolSize        int
}

// RegistryConfig configures the extractor registry
type RegistryConfig struct {
	ModelsDir       string
	KeepAlive       time.Duration // How long to keep models loaded (0 = forever)
	MaxLoadedModels uint64        // Max models in memory (0 = unlimited)
	PoolSize        int           // Concurrent texts per model (0 = default)
}

var _ ExtractorProvider = (*ExtractorRegistry)(nil)

// NewExtractorRegistry creates a lazy-loading extractor registry.
func NewExtractorRegistry(config RegistryConfig, logger *zap.Logger) (*ExtractorRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	registry := &ExtractorRegistry{
		modelsDir:       config.ModelsDir,
		logger:          logger,
		discovered:      make(map[string]*ExtractorInfo),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
		poolSize:        poolSize,
	}

	cacheOpts := []ttlcache.Option[string, *ner.PooledNER]{
		ttlcache.WithTTL[string, *ner.PooledNER](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, *ner.PooledNER](config.MaxLoadedModels))
	}
	registry.cache = ttlcache.New(cacheOpts...)

	// Close() handles manual deletion synchronously.
	registry.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *ner.PooledNER]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}

		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		}
		logger.Info("Unloading extractor",
			zap.String("model", item.Key()),
			zap.String("reason", reasonStr))
		if err := item.Value().Close(); err != nil {
			logger.Warn("Error closing evicted extractor",
				zap.String("model", item.Key()),
				zap.Error(err))
		}
	})

	go registry.cache.Start()

	if err := registry.discoverModels(); err != nil {
		registry.cache.Stop()
		return nil, err
	}

	logger.Info("Extractor registry initialized",
		zap.Int("models_discovered", len(registry.discovered)),
		zap.Duration("keep_alive", keepAlive),
		zap.Uint64("max_loaded_models", config.MaxLoadedModels))

	return registry, nil
}

// discoverModels finds extractors in the models directory without loading them
func (r *ExtractorRegistry) discoverModels() error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured")
		return nil
	}
	if _, err := os.Stat(r.modelsDir); os.IsNotExist(err) {
		r.logger.Warn("Models directory does not exist",
			zap.String("dir", r.modelsDir))
		return nil
	}

	models, err := modelregistry.ListLocal(r.modelsDir, modelregistry.ModelTypeExtractor)
	if err != nil {
		return fmt.Errorf("discovering extractors: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		info := &ExtractorInfo{
			Name:     m.Ref.FullName(),
			Path:     m.Path(),
			PoolSize: r.poolSize,
		}
		if m.Manifest != nil {
			info.Labels = m.Manifest.Labels
			info.RunID = m.Manifest.RunID
		}
		r.discovered[info.Name] = info
		r.logger.Info("Discovered extractor (not loaded)",
			zap.String("name", info.Name),
			zap.String("path", info.Path))
	}
	return nil
}

// Get returns an extractor by name, loading it if necessary.
func (r *ExtractorRegistry) Get(name string) (*ner.PooledNER, error) {
	if item := r.cache.Get(name); item != nil {
		return item.Value(), nil
	}

	r.mu.RLock()
	info, ok := r.discovered[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}

	// Concurrent first requests share one load.
	v, err, _ := r.loading.Do(name, func() (any, error) {
		if item := r.cache.Get(name); item != nil {
			return item.Value(), nil
		}
		return r.load(info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ner.PooledNER), nil
}

func (r *ExtractorRegistry) load(info *ExtractorInfo) (*ner.PooledNER, error) {
	r.logger.Info("Loading extractor on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path))

	start := time.Now()
	e, err := ner.LoadExtractor(info.Path)
	if err != nil {
		return nil, fmt.Errorf("loading extractor %s: %w", info.Name, err)
	}
	model, err := ner.NewPooledNER(e, ner.PooledNERConfig{
		PoolSize: info.PoolSize,
		Logger:   r.logger.Named(info.Name),
	})
	if err != nil {
		return nil, err
	}
	RecordModelLoadDuration(info.Name, time.Since(start).Seconds())

	r.mu.Lock()
	info.Labels = e.Tags()
	info.RunID = e.Meta.RunID
	r.mu.Unlock()

	r.logger.Info("Successfully loaded extractor",
		zap.String("name", info.Name),
		zap.String("run_id", e.Meta.RunID),
		zap.Strings("labels", e.Tags()),
		zap.Duration("took", time.Since(start)))

	r.cache.Set(info.Name, model, ttlcache.DefaultTTL)
	return model, nil
}

// Info returns what is known about a discovered extractor.
func (r *ExtractorRegistry) Info(name string) (ExtractorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.discovered[name]
	if !ok {
		return ExtractorInfo{}, false
	}
	return *info, true
}

// List returns all discovered extractor names, sorted.
func (r *ExtractorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ListLoaded returns the names of extractors currently in memory, sorted.
func (r *ExtractorRegistry) ListLoaded() []string {
	names := r.cache.Keys()
	slices.Sort(names)
	return names
}

// IsLoaded returns whether a model is currently loaded in memory
func (r *ExtractorRegistry) IsLoaded(name string) bool {
	return r.cache.Has(name)
}

// Preload loads the named extractors at startup to avoid first-request latency.
func (r *ExtractorRegistry) Preload(names []string) error {
	if len(names) == 0 {
		return nil
	}

	r.logger.Info("Preloading extractors", zap.Strings("models", names))

	var loaded, failed int
	for _, name := range names {
		if _, err := r.Get(name); err != nil {
			r.logger.Warn("Failed to preload extractor",
				zap.String("model", name),
				zap.Error(err))
			failed++
			continue
		}
		loaded++
	}

	r.logger.Info("Preloading complete",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))

	if failed > 0 && loaded == 0 {
		return fmt.Errorf("all %d extractors failed to preload", failed)
	}
	return nil
}

// Close stops the cache and unloads all models
func (r *ExtractorRegistry) Close() error {
	r.logger.Info("Closing extractor registry")

	r.cache.Stop()
	for _, key := range r.cache.Keys() {
		if item := r.cache.Get(key); item != nil {
			if err := item.Value().Close(); err != nil {
				r.logger.Warn("Error closing extractor",
					zap.String("model", key),
					zap.Error(err))
			}
		}
	}
	r.cache.DeleteAll()
	return nil
}
