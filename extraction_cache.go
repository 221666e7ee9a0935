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
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/antflydb/nerconll/lib/ner"
	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExtractionCacheTTL is the default TTL for cached extraction results
const ExtractionCacheTTL = 2 * time.Minute

// ExtractionCache memoizes extraction results per model and batch of texts.
// Concurrent identical requests share one extraction.
type ExtractionCache struct {
	cache   *ttlcache.Cache[string, [][]ner.Entity]
	sfGroup singleflight.Group
	logger  *zap.Logger
	cancel  context.CancelFunc

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// ExtractionCacheStats holds cache statistics
type ExtractionCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Items            int    `json:"items"`
}

// NewExtractionCache creates a new extraction cache. A ttl of 0 uses
// ExtractionCacheTTL.
func NewExtractionCache(ttl time.Duration, logger *zap.Logger) *ExtractionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = ExtractionCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, [][]ner.Entity](ttl),
		ttlcache.WithDisableTouchOnHit[string, [][]ner.Entity](),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	c := &ExtractionCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}
	go c.logStats(ctx)
	return c
}

// Recognize returns the entities of texts under model, running the model only
// on a cache miss.
func (c *ExtractionCache) Recognize(ctx context.Context, name string, model ner.Model, texts []string) ([][]ner.Entity, error) {
	key := cacheKey(name, texts)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit()
		c.logger.Debug("Extraction cache hit",
			zap.String("model", name),
			zap.Int("num_texts", len(texts)))
		return item.Value(), nil
	}

	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss()

		start := time.Now()
		entities, err := model.Recognize(ctx, texts)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, entities, ttlcache.DefaultTTL)

		c.logger.Debug("Extraction completed and cached",
			zap.String("model", name),
			zap.Int("num_texts", len(texts)),
			zap.Duration("duration", time.Since(start)))
		return entities, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.sfHits.Add(1)
	}
	return result.([][]ner.Entity), nil
}

// cacheKey hashes the model name and the ordered texts.
func cacheKey(name string, texts []string) string {
	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.WriteString("|")

	var n [8]byte
	for _, text := range texts {
		// length prefix keeps ["ab","c"] apart from ["a","bc"]
		binary.BigEndian.PutUint64(n[:], uint64(len(text)))
		_, _ = h.Write(n[:])
		_, _ = h.WriteString(text)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Stats returns cache statistics
func (c *ExtractionCache) Stats() ExtractionCacheStats {
	return ExtractionCacheStats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
		Items:            c.cache.Len(),
	}
}

// Close stops the cache
func (c *ExtractionCache) Close() {
	c.cancel()
	c.cache.Stop()
}

// logStats logs cache statistics periodically
func (c *ExtractionCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.Stats()
			if total := stats.Hits + stats.Misses; total > 0 {
				c.logger.Info("Extraction cache stats",
					zap.Uint64("hits", stats.Hits),
					zap.Uint64("misses", stats.Misses),
					zap.Float64("hit_rate_pct", float64(stats.Hits)/float64(total)*100),
					zap.Int("items", stats.Items))
			}
		}
	}
}
