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

package chunking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoSamples is returned when training is attempted on an empty set.
var ErrNoSamples = errors.New("no training samples")

// TrainStats summarizes a training run.
type TrainStats struct {
	Epochs      int
	Objective   float64
	Risk        float64
	OracleCalls int
	CacheHits   int
	Converged   bool
	Duration    time.Duration
}

// Train fits a segmenter to samples by stochastic subgradient descent on the
// structural SVM objective
//
//	λ/2‖w‖² + mean_i max_y [Δ(y, y_i) + w·φ(x_i, y) − w·φ(x_i, y_i)]
//
// with λ = 1/C and Δ the Hamming distance between state sequences. Oracle
// calls within a batch run on cfg.Threads workers; their subgradients are
// applied in sample order so a fixed Seed gives a fixed model.
func Train(ctx context.Context, samples []Sample, dims int, cfg TrainerConfig) (*Segmenter, TrainStats, error) {
	var stats TrainStats
	if err := cfg.Validate(); err != nil {
		return nil, stats, err
	}
	if len(samples) == 0 {
		return nil, stats, ErrNoSamples
	}
	if dims <= 0 {
		return nil, stats, fmt.Errorf("feature dimension must be positive, got %d", dims)
	}
	gold := make([][]int, len(samples))
	for i, s := range samples {
		for j, x := range s.Features {
			if len(x) != dims {
				return nil, stats, fmt.Errorf("sample %d token %d: got %d features, want %d", i, j, len(x), dims)
			}
		}
		for _, sp := range s.Spans {
			if !sp.Valid() || sp.End > len(s.Features) {
				return nil, stats, fmt.Errorf("sample %d: span %s out of range for %d tokens", i, sp, len(s.Features))
			}
		}
		gold[i] = spansToStates(len(s.Features), s.Spans)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	var caches []*labelCache
	if cfg.CacheSize > 0 {
		caches = make([]*labelCache, len(samples))
		for i := range caches {
			caches[i] = &labelCache{size: cfg.CacheSize}
		}
	}

	seg := newSegmenter(dims)
	lambda := 1 / cfg.C
	radius := 1 / math.Sqrt(lambda)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	logger.Info("Training segmenter",
		zap.Int("samples", len(samples)),
		zap.Int("dims", dims),
		zap.Float64("C", cfg.C),
		zap.Float64("eps", cfg.Epsilon),
		zap.Int("threads", cfg.Threads),
		zap.Int("cacheSize", cfg.CacheSize))

	step := 0
	prevObjective := math.Inf(1)
	results := make([]oracleResult, cfg.BatchSize)
	for epoch := 1; epoch <= cfg.MaxEpochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var riskSum float64
		for b := 0; b < len(order); b += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			batch := order[b:min(b+cfg.BatchSize, len(order))]

			var g errgroup.Group
			g.SetLimit(cfg.Threads)
			for k, i := range batch {
				var cache *labelCache
				if caches != nil {
					cache = caches[i]
				}
				g.Go(func() error {
					results[k] = seg.separate(samples[i].Features, gold[i], cache, cfg.Epsilon)
					return nil
				})
			}
			_ = g.Wait()

			step++
			eta := 1 / (lambda * float64(step))
			seg.scale(1 - eta*lambda)
			coef := eta / float64(len(batch))
			for k, i := range batch {
				r := results[k]
				if r.cached {
					stats.CacheHits++
				} else {
					stats.OracleCalls++
				}
				if r.violation <= 0 {
					continue
				}
				riskSum += r.violation
				seg.addFeatures(samples[i].Features, r.states, -coef)
				seg.addFeatures(samples[i].Features, gold[i], coef)
			}
			if norm := math.Sqrt(seg.squaredNorm()); norm > radius {
				seg.scale(radius / norm)
			}
		}

		risk := riskSum / float64(len(samples))
		objective := lambda/2*seg.squaredNorm() + risk
		stats.Epochs = epoch
		stats.Risk = risk
		stats.Objective = objective
		logger.Info("Segmenter epoch complete",
			zap.Int("epoch", epoch),
			zap.Float64("objective", objective),
			zap.Float64("risk", risk),
			zap.Int("oracleCalls", stats.OracleCalls),
			zap.Int("cacheHits", stats.CacheHits))

		if math.Abs(prevObjective-objective) <= cfg.Epsilon*math.Max(math.Abs(prevObjective), 1e-12) {
			stats.Converged = true
			break
		}
		prevObjective = objective
	}
	stats.Duration = time.Since(start)

	logger.Info("Segmenter training finished",
		zap.Int("epochs", stats.Epochs),
		zap.Bool("converged", stats.Converged),
		zap.Float64("objective", stats.Objective),
		zap.Duration("duration", stats.Duration))
	return seg, stats, nil
}

type oracleResult struct {
	states    []int
	violation float64
	cached    bool
}

// separate finds a labeling that violates the margin of gold by as much as
// possible. A cached labeling is used when it is violated by more than eps.
func (s *Segmenter) separate(feats [][]float32, gold []int, cache *labelCache, eps float64) oracleResult {
	if len(feats) == 0 {
		return oracleResult{}
	}
	em := s.emissions(feats)
	goldScore := s.score(em, gold)
	violation := func(y []int) float64 {
		return float64(hamming(y, gold)) + s.score(em, y) - goldScore
	}

	if cache != nil {
		var best []int
		bestV := eps
		for _, y := range cache.items {
			if v := violation(y); v > bestV {
				best, bestV = y, v
			}
		}
		if best != nil {
			return oracleResult{states: best, violation: bestV, cached: true}
		}
	}

	y := s.viterbi(em, gold)
	v := violation(y)
	if v > 0 && cache != nil {
		cache.add(y)
	}
	return oracleResult{states: y, violation: v}
}

func hamming(a, b []int) int {
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

func (s *Segmenter) addFeatures(feats [][]float32, states []int, coef float64) {
	prev := startRow
	for i, st := range states {
		w := s.emit[st*s.dims : (st+1)*s.dims]
		for j, v := range feats[i] {
			if v != 0 {
				w[j] += coef * float64(v)
			}
		}
		s.trans[prev*numStates+st] += coef
		prev = st
	}
}

func (s *Segmenter) scale(c float64) {
	for i := range s.emit {
		s.emit[i] *= c
	}
	for i := range s.trans {
		s.trans[i] *= c
	}
}

func (s *Segmenter) squaredNorm() float64 {
	var sum float64
	for _, v := range s.emit {
		sum += v * v
	}
	for _, v := range s.trans {
		sum += v * v
	}
	return sum
}

// labelCache holds the most recent violating labelings of one sample.
type labelCache struct {
	size  int
	items [][]int
}

func (c *labelCache) add(y []int) {
	for _, item := range c.items {
		if slices.Equal(item, y) {
			return
		}
	}
	c.items = append(c.items, y)
	if len(c.items) > c.size {
		c.items = c.items[1:]
	}
}
