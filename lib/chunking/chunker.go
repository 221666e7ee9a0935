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

// Package chunking segments sentences into candidate entity spans with a
// linear sequence model trained as a structural SVM.
package chunking

import (
	"errors"
	"fmt"
	"math"

	"github.com/antflydb/nerconll/lib/corpus"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned when a trainer option is out of range.
var ErrInvalidConfig = errors.New("invalid chunker trainer config")

// ConfigError names the offending trainer option.
type ConfigError struct {
	Field string
	Value any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s = %v", ErrInvalidConfig, e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Chunker proposes non-overlapping spans over a sentence given its per-token
// feature vectors.
type Chunker interface {
	Segment(feats [][]float32) []corpus.Span
}

// Sample is one training sentence: the windowed feature vector of every token
// and the gold spans.
type Sample struct {
	Features [][]float32
	Spans    []corpus.Span
}

// TrainerConfig configures the segmenter trainer.
type TrainerConfig struct {
	// C is the regularization trade-off. Larger values fit the training data
	// more tightly.
	C float64

	// Epsilon is the stopping tolerance on the relative change of the
	// objective between epochs. It is also the minimum violation a cached
	// labeling needs to stand in for a call to the separation oracle.
	Epsilon float64

	// Threads is the number of workers used for the separation oracle.
	Threads int

	// CacheSize is the number of violating labelings kept per sample.
	// 0 disables the cache.
	CacheSize int

	// MaxEpochs caps the number of passes over the training data.
	MaxEpochs int

	// BatchSize is the number of samples per subgradient step.
	BatchSize int

	// Seed fixes the sample visiting order.
	Seed uint64

	// Logger for training progress (nil = no logging)
	Logger *zap.Logger
}

// DefaultTrainerConfig returns the default segmenter trainer settings.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C:         15,
		Epsilon:   0.01,
		Threads:   4,
		CacheSize: 5,
		MaxEpochs: 30,
		BatchSize: 32,
		Seed:      1,
	}
}

// Validate checks every option against its allowed range.
func (c TrainerConfig) Validate() error {
	switch {
	case !positiveFinite(c.C):
		return &ConfigError{Field: "C", Value: c.C}
	case !positiveFinite(c.Epsilon):
		return &ConfigError{Field: "eps", Value: c.Epsilon}
	case c.Threads < 1:
		return &ConfigError{Field: "threads", Value: c.Threads}
	case c.CacheSize < 0:
		return &ConfigError{Field: "cache-size", Value: c.CacheSize}
	case c.MaxEpochs < 1:
		return &ConfigError{Field: "max-epochs", Value: c.MaxEpochs}
	case c.BatchSize < 1:
		return &ConfigError{Field: "batch-size", Value: c.BatchSize}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
