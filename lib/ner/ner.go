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

// Package ner composes a chunker and a span classifier into a named entity
// extractor, and trains, evaluates and serializes it.
package ner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by a model after Close.
var ErrClosed = errors.New("ner model is closed")

// Entity represents a named entity extracted from text.
type Entity struct {
	// Text is the entity text (e.g., "Peter Blackburn")
	Text string `json:"text"`
	// Label is the entity type name (e.g., "PERSON")
	Label string `json:"label"`
	// LabelID is the index of Label in the model's label set
	LabelID int `json:"labelId"`
	// Start is the byte offset where the entity begins
	Start int `json:"start"`
	// End is the byte offset where the entity ends (exclusive)
	End int `json:"end"`
}

// Model defines the interface for Named Entity Recognition models.
type Model interface {
	// Recognize extracts named entities from the given texts.
	// Returns a slice of entities for each input text.
	Recognize(ctx context.Context, texts []string) ([][]Entity, error)

	// Labels returns the entity labels this model emits.
	Labels() []string

	// Close releases any resources held by the model.
	Close() error
}

// Entities converts the detections of text into entities.
func (s *DetectionSet) Entities(text string) []Entity {
	out := make([]Entity, len(s.Detections))
	for i, d := range s.Detections {
		out[i] = Entity{Text: d.Text(text), Label: d.Tag, LabelID: d.Label, Start: d.Begin, End: d.End()}
	}
	return out
}

// Ensure PooledNER implements the Model interface
var _ Model = (*PooledNER)(nil)

// PooledNERConfig holds configuration for creating a PooledNER.
type PooledNERConfig struct {
	// PoolSize determines how many texts can be processed concurrently (0 = auto-detect from CPU count)
	PoolSize int

	// Logger for logging (nil = no logging)
	Logger *zap.Logger
}

// PooledNER serves a shared Extractor to concurrent callers, bounding the
// number of texts processed at once.
type PooledNER struct {
	extractor *Extractor
	sem       *semaphore.Weighted
	logger    *zap.Logger
	poolSize  int
	closed    atomic.Bool
}

// NewPooledNER wraps e for concurrent use.
func NewPooledNER(e *Extractor, cfg PooledNERConfig) (*PooledNER, error) {
	if e == nil {
		return nil, fmt.Errorf("extractor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Auto-detect pool size from CPU count if not specified
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	logger.Info("Initializing pooled NER",
		zap.String("runID", e.Meta.RunID),
		zap.Strings("labels", e.Tags()),
		zap.Int("poolSize", poolSize))

	return &PooledNER{
		extractor: e,
		sem:       semaphore.NewWeighted(int64(poolSize)),
		logger:    logger,
		poolSize:  poolSize,
	}, nil
}

// Extractor returns the wrapped extractor.
func (p *PooledNER) Extractor() *Extractor { return p.extractor }

// Labels returns the entity labels of the wrapped extractor.
func (p *PooledNER) Labels() []string { return p.extractor.Tags() }

// Recognize extracts named entities from the given texts.
// Thread-safe: each text holds one semaphore slot while it is processed.
func (p *PooledNER) Recognize(ctx context.Context, texts []string) ([][]Entity, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]Entity, len(texts))
	for i, text := range texts {
		// Acquire semaphore slot (blocks if the pool is busy)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquiring extraction slot: %w", err)
		}
		results[i] = p.extractor.Extract(text).Entities(text)
		p.sem.Release(1)
	}

	p.logger.Debug("NER completed",
		zap.Int("num_texts", len(texts)),
		zap.Int("total_entities", countEntities(results)))

	return results, nil
}

// Close marks the model closed. Loaded weights are released with the last
// reference to the extractor.
func (p *PooledNER) Close() error {
	p.closed.Store(true)
	return nil
}

// countEntities counts the total number of entities across all texts.
func countEntities(results [][]Entity) int {
	count := 0
	for _, entities := range results {
		count += len(entities)
	}
	return count
}
