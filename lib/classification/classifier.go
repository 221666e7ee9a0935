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

// Package classification provides a multiclass linear classifier over sparse
// feature vectors, trained as a Crammer-Singer SVM.
package classification

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/antflydb/nerconll/lib/evaluation"
	"github.com/antflydb/nerconll/lib/features"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned when a trainer option is out of range.
var ErrInvalidConfig = errors.New("invalid classifier trainer config")

// ErrIncompatibleState is returned when a serialized classifier is malformed.
var ErrIncompatibleState = errors.New("incompatible classifier state")

// ConfigError names the offending trainer option.
type ConfigError struct {
	Field string
	Value any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s = %v", ErrInvalidConfig, e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Sample is a labeled sparse feature vector.
type Sample struct {
	X     features.Sparse
	Label int
}

// TrainerConfig configures the classifier trainer.
type TrainerConfig struct {
	// C is the regularization trade-off.
	C float64

	// Epsilon is the stopping tolerance on the relative change of the
	// objective between epochs.
	Epsilon float64

	// Threads is the number of workers scoring samples within a batch.
	Threads int

	// MaxEpochs caps the number of passes over the training data.
	MaxEpochs int

	// BatchSize is the number of samples per subgradient step.
	BatchSize int

	// Seed fixes the sample visiting order.
	Seed uint64

	// Logger for training progress (nil = no logging)
	Logger *zap.Logger
}

// DefaultTrainerConfig returns the default classifier trainer settings.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C:         450,
		Epsilon:   0.001,
		Threads:   4,
		MaxEpochs: 30,
		BatchSize: 64,
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

// Classifier is a multiclass linear decision function. It is read-only after
// training and safe for concurrent use.
type Classifier struct {
	numClasses int
	dims       int
	w          []float64 // numClasses x dims
}

// NumClasses returns the number of classes.
func (c *Classifier) NumClasses() int { return c.numClasses }

// Dims returns the size of the feature space.
func (c *Classifier) Dims() int { return c.dims }

// Scores returns the score of every class for x. Entries of x outside the
// feature space are ignored.
func (c *Classifier) Scores(x features.Sparse) []float64 {
	out := make([]float64, c.numClasses)
	for k := range out {
		row := c.w[k*c.dims : (k+1)*c.dims]
		var sum float64
		for _, e := range x {
			if int(e.Index) < c.dims {
				sum += float64(e.Value) * row[e.Index]
			}
		}
		out[k] = sum
	}
	return out
}

// Predict returns the highest scoring class. Ties go to the lowest index.
func (c *Classifier) Predict(x features.Sparse) int {
	scores := c.Scores(x)
	best := 0
	for k := 1; k < len(scores); k++ {
		if scores[k] > scores[best] {
			best = k
		}
	}
	return best
}

// Confusion tests the classifier on samples.
func Confusion(c *Classifier, samples []Sample) *evaluation.Confusion {
	m := evaluation.NewConfusion(c.numClasses)
	for _, s := range samples {
		if s.Label < 0 || s.Label >= c.numClasses {
			continue
		}
		m.Add(s.Label, c.Predict(s.X))
	}
	return m
}

// Shuffle randomly permutes samples in place using a PRNG seeded with seed.
func Shuffle(samples []Sample, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x517cc1b727220a95))
	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
}

// State is the serializable form of a Classifier.
type State struct {
	NumClasses int       `json:"num_classes"`
	Dims       int       `json:"dims"`
	Weights    []float64 `json:"weights"`
}

// State returns a snapshot of the classifier weights.
func (c *Classifier) State() *State {
	return &State{NumClasses: c.numClasses, Dims: c.dims, Weights: c.w}
}

// FromState rebuilds a classifier, checking that the weight shape agrees.
func FromState(st *State) (*Classifier, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: missing", ErrIncompatibleState)
	}
	if st.NumClasses < 2 || st.Dims <= 0 || len(st.Weights) != st.NumClasses*st.Dims {
		return nil, fmt.Errorf("%w: %d classes x %d dims with %d weights",
			ErrIncompatibleState, st.NumClasses, st.Dims, len(st.Weights))
	}
	return &Classifier{numClasses: st.NumClasses, dims: st.Dims, w: st.Weights}, nil
}
