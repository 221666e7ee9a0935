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

package ner

import (
	"context"
	"fmt"

	"github.com/antflydb/nerconll/lib/chunking"
	"github.com/antflydb/nerconll/lib/classification"
	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/evaluation"
	"github.com/antflydb/nerconll/lib/features"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChunkerReport summarizes a chunker training run.
type ChunkerReport struct {
	NumWords    int
	Dims        int
	NumFeatures int
	NumSamples  int
	Stats       chunking.TrainStats
	// Train is the score of the chunker on its own training data.
	Train evaluation.Score
}

// ClassifierReport summarizes a classifier training run.
type ClassifierReport struct {
	NumSamples int
	Dims       int
	Stats      classification.TrainStats
	// Confusion is measured on the training samples.
	Confusion *evaluation.Confusion
	Accuracy  evaluation.Ratio
}

// ChunkerSamples embeds every sentence of c. Sentences are embedded on up to
// threads workers and returned in corpus order.
func ChunkerSamples(ctx context.Context, c *corpus.Corpus, emb *features.Embedder, threads int) ([]chunking.Sample, error) {
	samples := make([]chunking.Sample, len(c.Sentences))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(threads, 1))
	for i, s := range c.Sentences {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			samples[i] = chunking.Sample{Features: emb.Embed(s.Tokens), Spans: s.Spans}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

// TrainChunker trains the segmentation stage on the gold spans of c.
func TrainChunker(ctx context.Context, c *corpus.Corpus, emb *features.Embedder, cfg chunking.TrainerConfig) (*ChunkerModel, ChunkerReport, error) {
	report := ChunkerReport{NumWords: emb.NumWords(), Dims: emb.Dims()}
	if err := cfg.Validate(); err != nil {
		return nil, report, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger.Named("chunker")

	samples, err := ChunkerSamples(ctx, c, emb, cfg.Threads)
	if err != nil {
		return nil, report, fmt.Errorf("embedding corpus: %w", err)
	}
	report.NumSamples = len(samples)
	logger.Info("Embedded training corpus",
		zap.Int("sentences", len(samples)),
		zap.Int("spans", c.NumSpans()),
		zap.Int("dictionary_size", report.NumWords),
		zap.Int("dims", report.Dims))

	seg, stats, err := chunking.Train(ctx, samples, emb.Dims(), cfg)
	if err != nil {
		return nil, report, fmt.Errorf("training chunker: %w", err)
	}
	report.Stats = stats
	report.NumFeatures = seg.NumFeatures()
	report.Train = chunking.Evaluate(seg, samples)

	meta := newMetadata()
	meta.Chunker = &TrainingParams{
		C:         cfg.C,
		Epsilon:   cfg.Epsilon,
		Threads:   cfg.Threads,
		CacheSize: cfg.CacheSize,
		MaxEpochs: cfg.MaxEpochs,
		BatchSize: cfg.BatchSize,
		Seed:      cfg.Seed,
		Epochs:    stats.Epochs,
		Samples:   len(samples),
	}
	m, err := NewChunkerModel(emb, seg, meta)
	if err != nil {
		return nil, report, err
	}
	return m, report, nil
}

// TestChunker scores m against the gold spans of c.
func TestChunker(ctx context.Context, m *ChunkerModel, c *corpus.Corpus, threads int) (evaluation.Score, error) {
	samples, err := ChunkerSamples(ctx, c, m.embedder, threads)
	if err != nil {
		return evaluation.Score{}, err
	}
	return chunking.Evaluate(m.segmenter, samples), nil
}

// BuildClassifierSamples runs the chunker over every sentence of c and turns
// the union of its spans and the gold spans into classifier samples. Spans the
// chunker proposes that are not gold are labeled with the reject label.
// Samples are grouped by sentence, in corpus order.
func BuildClassifierSamples(ctx context.Context, c *corpus.Corpus, m *ChunkerModel, labels *LabelSet, threads int) ([]classification.Sample, error) {
	perSentence := make([][]classification.Sample, len(c.Sentences))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(threads, 1))
	for i, s := range c.Sentences {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, l := range s.Labels {
				if l < 0 || l >= labels.Len() {
					return fmt.Errorf("sentence %d: label %d is outside the label set", i, l)
				}
			}
			if len(s.Tokens) == 0 {
				return nil
			}
			sent := m.embedder.Sentence(s.Tokens)
			predicted := m.segmenter.Segment(sent.Window)
			union := Reconcile(s.Spans, s.Labels, predicted, labels.NotEntity())
			out := make([]classification.Sample, len(union))
			for j, ls := range union {
				out[j] = classification.Sample{X: m.embedder.SpanFeatures(sent, ls.Span), Label: ls.Label}
			}
			perSentence[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var n int
	for _, s := range perSentence {
		n += len(s)
	}
	samples := make([]classification.Sample, 0, n)
	for _, s := range perSentence {
		samples = append(samples, s...)
	}
	return samples, nil
}

// TrainClassifier trains the span classification stage on top of a trained
// chunker and returns the composed extractor.
func TrainClassifier(ctx context.Context, c *corpus.Corpus, m *ChunkerModel, labels *LabelSet, cfg classification.TrainerConfig) (*Extractor, ClassifierReport, error) {
	var report ClassifierReport
	if err := cfg.Validate(); err != nil {
		return nil, report, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger.Named("classifier")

	samples, err := BuildClassifierSamples(ctx, c, m, labels, cfg.Threads)
	if err != nil {
		return nil, report, fmt.Errorf("building classifier samples: %w", err)
	}
	report.NumSamples = len(samples)
	report.Dims = m.embedder.SpanDims()
	logger.Info("Built classifier samples",
		zap.Int("samples", len(samples)),
		zap.Int("gold_spans", c.NumSpans()),
		zap.Int("labels", labels.Len()))

	classification.Shuffle(samples, cfg.Seed)
	clf, stats, err := classification.Train(ctx, samples, labels.Len()+1, report.Dims, cfg)
	if err != nil {
		return nil, report, fmt.Errorf("training classifier: %w", err)
	}
	report.Stats = stats
	report.Confusion = classification.Confusion(clf, samples)
	report.Accuracy = report.Confusion.Accuracy()

	meta := newMetadata()
	meta.Chunker = m.Meta.Chunker
	meta.Classifier = &TrainingParams{
		C:         cfg.C,
		Epsilon:   cfg.Epsilon,
		Threads:   cfg.Threads,
		MaxEpochs: cfg.MaxEpochs,
		BatchSize: cfg.BatchSize,
		Seed:      cfg.Seed,
		Epochs:    stats.Epochs,
		Samples:   len(samples),
	}
	e, err := NewExtractor(labels, m, clf, meta)
	if err != nil {
		return nil, report, err
	}
	return e, report, nil
}

// Evaluate runs e over every sentence of c and scores its detections against
// the gold spans. A detection is true when its predicted label equals the gold
// label of its exact span. Detections count toward their predicted label and
// gold spans toward their gold label.
func Evaluate(ctx context.Context, e *Extractor, c *corpus.Corpus, threads int) (*evaluation.Report, error) {
	n := e.labels.Len()
	perSentence := make([]*evaluation.Counts, len(c.Sentences))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(threads, 1))
	for i, s := range c.Sentences {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perSentence[i] = scoreSentence(e, s, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := evaluation.NewCounts(n)
	for _, counts := range perSentence {
		total.Merge(counts)
	}
	return total.Report(e.labels.Names()), nil
}

func scoreSentence(e *Extractor, s *corpus.Sentence, n int) *evaluation.Counts {
	counts := evaluation.NewCounts(n)
	spans, labels := e.Predict(s.Tokens)
	for j, sp := range spans {
		counts.Detect(labels[j], LabelFor(s.Spans, s.Labels, sp, e.labels.NotEntity()))
	}
	for _, l := range s.Labels {
		counts.Target(l)
	}
	return counts
}
