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

package classification

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/antflydb/nerconll/lib/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// toySamples puts class k on feature k plus a shared bias feature.
func toySamples(numClasses, perClass int) []Sample {
	var out []Sample
	for n := 0; n < perClass; n++ {
		for k := 0; k < numClasses; k++ {
			out = append(out, Sample{
				X:     features.Sparse{{Index: uint32(k), Value: 1}, {Index: uint32(numClasses), Value: 1}},
				Label: k,
			})
		}
	}
	return out
}

func TestTrainerConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultTrainerConfig().Validate())

	tests := []struct {
		name string
		mod  func(*TrainerConfig)
	}{
		{"zero C", func(c *TrainerConfig) { c.C = 0 }},
		{"infinite eps", func(c *TrainerConfig) { c.Epsilon = math.Inf(1) }},
		{"zero threads", func(c *TrainerConfig) { c.Threads = 0 }},
		{"zero batch", func(c *TrainerConfig) { c.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrainerConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestTrain_LearnsSeparableData(t *testing.T) {
	samples := toySamples(4, 10)
	Shuffle(samples, 7)

	cfg := DefaultTrainerConfig()
	cfg.BatchSize = 8
	cfg.Threads = 3
	cfg.Logger = zaptest.NewLogger(t)
	c, stats, err := Train(context.Background(), samples, 4, 5, cfg)
	require.NoError(t, err)
	assert.Greater(t, stats.Epochs, 0)
	assert.Equal(t, 4, c.NumClasses())
	assert.Equal(t, 5, c.Dims())

	for k := 0; k < 4; k++ {
		x := features.Sparse{{Index: uint32(k), Value: 1}, {Index: 4, Value: 1}}
		assert.Equal(t, k, c.Predict(x), "class %d", k)
	}

	m := Confusion(c, samples)
	acc := m.Accuracy()
	require.True(t, acc.Defined)
	assert.Equal(t, 1.0, acc.Value)
}

func TestTrain_Deterministic(t *testing.T) {
	samples := toySamples(3, 5)
	cfg := DefaultTrainerConfig()
	cfg.BatchSize = 4
	cfg.MaxEpochs = 5

	a, _, err := Train(context.Background(), samples, 3, 4, cfg)
	require.NoError(t, err)
	cfg.Threads = 1
	b, _, err := Train(context.Background(), samples, 3, 4, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.State(), b.State())
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultTrainerConfig()

	_, _, err := Train(ctx, nil, 3, 4, cfg)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, _, err = Train(ctx, toySamples(3, 1), 1, 4, cfg)
	assert.Error(t, err)

	_, _, err = Train(ctx, []Sample{{Label: 5}}, 3, 4, cfg)
	assert.Error(t, err)

	_, _, err = Train(ctx, []Sample{{X: features.Sparse{{Index: 9, Value: 1}}}}, 3, 4, cfg)
	assert.Error(t, err)
}

func TestPredict_TiesGoToLowestIndex(t *testing.T) {
	c := &Classifier{numClasses: 3, dims: 1, w: []float64{0, 1, 1}}
	assert.Equal(t, 1, c.Predict(features.Sparse{{Index: 0, Value: 1}}))
	assert.Equal(t, 0, c.Predict(nil))
	// out of range features are ignored
	assert.Equal(t, []float64{0, 0, 0}, c.Scores(features.Sparse{{Index: 3, Value: 1}}))
}

func TestShuffle_Seeded(t *testing.T) {
	a := toySamples(5, 4)
	b := toySamples(5, 4)
	Shuffle(a, 42)
	Shuffle(b, 42)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, toySamples(5, 4), a)
}

func TestState_RoundTrip(t *testing.T) {
	c := &Classifier{numClasses: 2, dims: 2, w: []float64{1, 2, 3, 4}}
	again, err := FromState(c.State())
	require.NoError(t, err)
	assert.Equal(t, c.State(), again.State())

	_, err = FromState(&State{NumClasses: 2, Dims: 2, Weights: []float64{1}})
	assert.ErrorIs(t, err, ErrIncompatibleState)
}
