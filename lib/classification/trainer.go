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
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/antflydb/nerconll/lib/features"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoSamples is returned when training is attempted on an empty set.
var ErrNoSamples = errors.New("no training samples")

// TrainStats summarizes a training run.
type TrainStats struct {
	Epochs    int
	Objective float64
	Risk      float64
	Converged bool
	Duration  time.Duration
}

// scaledWeights stores w = scale * v so the regularization shrink of every
// step costs O(1) instead of touching every weight.
type scaledWeights struct {
	numClasses, dims int
	v                []float64
	scale            float64
	normSq           float64 // squared norm of v
}

func (sw *scaledWeights) row(k int) []float64 {
	return sw.v[k*sw.dims : (k+1)*sw.dims]
}

func (sw *scaledWeights) score(k int, x features.Sparse) float64 {
	return sw.scale * x.Dot(sw.row(k))
}

func (sw *scaledWeights) shrink(c float64) {
	if c <= 0 {
		clear(sw.v)
		sw.scale, sw.normSq = 1, 0
		return
	}
	sw.scale *= c
	if sw.scale < 1e-9 {
		for i := range sw.v {
			sw.v[i] *= sw.scale
		}
		sw.normSq *= sw.scale * sw.scale
		sw.scale = 1
	}
}

// add adds a*x to row k of w.
func (sw *scaledWeights) add(k int, x features.Sparse, a float64) {
	row := sw.row(k)
	av := a / sw.scale
	sw.normSq += 2*av*x.Dot(row) + av*av*x.SquaredNorm()
	for _, e := range x {
		row[e.Index] += av * float64(e.Value)
	}
}

func (sw *scaledWeights) norm() float64 {
	return sw.scale * math.Sqrt(math.Max(sw.normSq, 0))
}

func (sw *scaledWeights) materialize() []float64 {
	w := make([]float64, len(sw.v))
	for i, v := range sw.v {
		w[i] = sw.scale * v
	}
	return w
}

type prediction struct {
	class     int
	violation float64
}

// Train fits a multiclass linear SVM by stochastic subgradient descent on
//
//	λ/2‖W‖² + mean_i max_k [Δ(k, y_i) + w_k·x_i − w_{y_i}·x_i]
//
// with λ = 1/C and Δ the 0/1 loss. Samples are scored on cfg.Threads workers
// and updates are applied in sample order.
func Train(ctx context.Context, samples []Sample, numClasses, dims int, cfg TrainerConfig) (*Classifier, TrainStats, error) {
	var stats TrainStats
	if err := cfg.Validate(); err != nil {
		return nil, stats, err
	}
	if len(samples) == 0 {
		return nil, stats, ErrNoSamples
	}
	if numClasses < 2 || dims <= 0 {
		return nil, stats, fmt.Errorf("need at least 2 classes and a positive dimension, got %d and %d", numClasses, dims)
	}
	for i, s := range samples {
		if s.Label < 0 || s.Label >= numClasses {
			return nil, stats, fmt.Errorf("sample %d: label %d out of range", i, s.Label)
		}
		for _, e := range s.X {
			if int(e.Index) >= dims {
				return nil, stats, fmt.Errorf("sample %d: feature index %d out of range", i, e.Index)
			}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	logger.Info("Training classifier",
		zap.Int("samples", len(samples)),
		zap.Int("classes", numClasses),
		zap.Int("dims", dims),
		zap.Float64("C", cfg.C),
		zap.Float64("eps", cfg.Epsilon),
		zap.Int("threads", cfg.Threads))

	sw := &scaledWeights{numClasses: numClasses, dims: dims, v: make([]float64, numClasses*dims), scale: 1}
	lambda := 1 / cfg.C
	radius := 1 / math.Sqrt(lambda)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	step := 0
	prevObjective := math.Inf(1)
	preds := make([]prediction, cfg.BatchSize)
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
				g.Go(func() error {
					preds[k] = sw.lossAugmented(samples[i])
					return nil
				})
			}
			_ = g.Wait()

			step++
			eta := 1 / (lambda * float64(step))
			sw.shrink(1 - eta*lambda)
			coef := eta / float64(len(batch))
			for k, i := range batch {
				p := preds[k]
				if p.violation <= 0 {
					continue
				}
				riskSum += p.violation
				sw.add(samples[i].Label, samples[i].X, coef)
				sw.add(p.class, samples[i].X, -coef)
			}
			if n := sw.norm(); n > radius {
				sw.shrink(radius / n)
			}
		}

		risk := riskSum / float64(len(samples))
		norm := sw.norm()
		objective := lambda/2*norm*norm + risk
		stats.Epochs = epoch
		stats.Risk = risk
		stats.Objective = objective
		logger.Info("Classifier epoch complete",
			zap.Int("epoch", epoch),
			zap.Float64("objective", objective),
			zap.Float64("risk", risk))

		if math.Abs(prevObjective-objective) <= cfg.Epsilon*math.Max(math.Abs(prevObjective), 1e-12) {
			stats.Converged = true
			break
		}
		prevObjective = objective
	}
	stats.Duration = time.Since(start)
	logger.Info("Classifier training finished",
		zap.Int("epochs", stats.Epochs),
		zap.Bool("converged", stats.Converged),
		zap.Float64("objective", stats.Objective),
		zap.Duration("duration", stats.Duration))

	return &Classifier{numClasses: numClasses, dims: dims, w: sw.materialize()}, stats, nil
}

// lossAugmented returns the class maximizing score plus 0/1 loss and by how
// much it violates the margin of the true class.
func (sw *scaledWeights) lossAugmented(s Sample) prediction {
	truth := sw.score(s.Label, s.X)
	best := prediction{class: s.Label}
	for k := 0; k < sw.numClasses; k++ {
		if k == s.Label {
			continue
		}
		if v := 1 + sw.score(k, s.X) - truth; v > best.violation {
			best = prediction{class: k, violation: v}
		}
	}
	return best
}
