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
	"strings"
	"testing"

	"github.com/antflydb/nerconll/lib/chunking"
	"github.com/antflydb/nerconll/lib/classification"
	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Layout of the hand built test model: no word vectors, 4 affix buckets and
// 16 span buckets, so a token vector has 12 entries.
const (
	testTokenDims = 12
	shapeBias     = 0
	shapeInitCap  = 1
	shapeAllCaps  = 2
	shapeHyphen   = 6
)

func testEmbedder() *features.Embedder {
	return features.NewEmbedder(nil, features.Config{HashBuckets: 4, SpanBuckets: 16})
}

// testExtractor chunks runs of capitalized words. Spans whose first word is
// all caps are organizations, spans whose first word holds a hyphen are
// rejected and everything else is a person.
func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	emb := testEmbedder()
	require.Equal(t, 3*testTokenDims, emb.Dims())

	dims := emb.Dims()
	cur := testTokenDims // the current token block of a window
	emit := make([]float64, 3*dims)
	emit[0*dims+cur+shapeBias] = 1    // O
	emit[1*dims+cur+shapeInitCap] = 2 // B
	emit[2*dims+cur+shapeInitCap] = 2 // I
	trans := make([]float64, 4*3)
	trans[1*3+2] = 0.5 // B -> I
	seg, err := chunking.FromState(&chunking.State{Dims: dims, Emit: emit, Trans: trans})
	require.NoError(t, err)
	chunker, err := NewChunkerModel(emb, seg, Metadata{RunID: "chunker"})
	require.NoError(t, err)

	labels := DefaultLabelSet()
	spanDims := emb.SpanDims()
	first := testTokenDims // the first token block of span features
	w := make([]float64, (labels.Len()+1)*spanDims)
	w[0*spanDims+shapeBias] = 1                          // PERSON on the mean bias
	w[2*spanDims+first+shapeAllCaps] = 3                 // ORGANIZATION
	w[labels.NotEntity()*spanDims+first+shapeHyphen] = 5 // reject
	clf, err := classification.FromState(&classification.State{
		NumClasses: labels.Len() + 1,
		Dims:       spanDims,
		Weights:    w,
	})
	require.NoError(t, err)

	e, err := NewExtractor(labels, chunker, clf, Metadata{RunID: "extractor"})
	require.NoError(t, err)
	return e
}

func TestLabelSet(t *testing.T) {
	l := DefaultLabelSet()
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, 4, l.NotEntity())
	assert.Equal(t, "LOCATION", l.Name(1))
	assert.Equal(t, NotEntityName, l.Name(4))
	assert.Empty(t, l.Name(5))
	assert.Empty(t, l.Name(-1))

	_, err := NewLabelSet([]string{"A", "A"}, corpus.Codes{"X", "Y"})
	assert.Error(t, err)
	_, err = NewLabelSet([]string{"A"}, corpus.Codes{"X", "Y"})
	assert.Error(t, err)
	_, err = NewLabelSet([]string{NotEntityName}, corpus.Codes{"X"})
	assert.Error(t, err)
	_, err = NewLabelSet(nil, nil)
	assert.Error(t, err)
}

func TestReconcile_UnionCardinality(t *testing.T) {
	gold := []corpus.Span{{Begin: 0, End: 2}, {Begin: 3, End: 4}}
	goldLabels := []int{0, 1}
	predicted := []corpus.Span{{Begin: 5, End: 7}, {Begin: 0, End: 2}, {Begin: 3, End: 5}}

	got := Reconcile(gold, goldLabels, predicted, 4)
	// |gold| + |predicted| - |gold ∩ predicted|
	require.Len(t, got, 2+3-1)

	seen := map[corpus.Span]bool{}
	for _, ls := range got {
		assert.False(t, seen[ls.Span], "duplicate span %s", ls.Span)
		seen[ls.Span] = true
	}
	for _, sp := range append(gold, predicted...) {
		assert.True(t, seen[sp], "missing span %s", sp)
	}

	reversed := []corpus.Span{predicted[2], predicted[1], predicted[0]}
	assert.Equal(t, got, Reconcile(gold, goldLabels, reversed, 4))

	assert.Empty(t, Reconcile(nil, nil, nil, 4))
}

func TestReconcile_RejectLabel(t *testing.T) {
	gold := []corpus.Span{{Begin: 0, End: 2}, {Begin: 5, End: 6}}
	goldLabels := []int{0, 1}
	predicted := []corpus.Span{{Begin: 0, End: 2}, {Begin: 0, End: 1}, {Begin: 3, End: 4}}

	got := Reconcile(gold, goldLabels, predicted, 4)
	want := []LabeledSpan{
		{Span: corpus.Span{Begin: 0, End: 1}, Label: 4},
		{Span: corpus.Span{Begin: 0, End: 2}, Label: 0},
		{Span: corpus.Span{Begin: 3, End: 4}, Label: 4},
		{Span: corpus.Span{Begin: 5, End: 6}, Label: 1},
	}
	assert.Equal(t, want, got)
}

func TestLabelFor(t *testing.T) {
	gold := []corpus.Span{{Begin: 1, End: 3}}
	assert.Equal(t, 2, LabelFor(gold, []int{2}, corpus.Span{Begin: 1, End: 3}, 4))
	// partial overlap is not a match
	assert.Equal(t, 4, LabelFor(gold, []int{2}, corpus.Span{Begin: 1, End: 2}, 4))
	assert.Equal(t, 4, LabelFor(nil, nil, corpus.Span{Begin: 1, End: 2}, 4))
}

func TestExtractor_Predict(t *testing.T) {
	e := testExtractor(t)

	words := strings.Fields("Peter Blackburn met NATO in X-Men land .")
	spans, labels := e.Predict(words)
	assert.Equal(t, []corpus.Span{{Begin: 0, End: 2}, {Begin: 3, End: 4}}, spans)
	assert.Equal(t, []int{0, 2}, labels)

	spans, labels = e.Predict(nil)
	assert.Empty(t, spans)
	assert.Empty(t, labels)

	assert.Equal(t, DefaultNames, e.Tags())
	assert.Equal(t,
		[]string{"B-PER", "I-PER", "O", "B-ORG", "O", "O", "O", "O"},
		e.TagSentence(words))
}

func TestExtract_OffsetRemapIgnoresWhitespace(t *testing.T) {
	e := testExtractor(t)

	text := "Peter   Blackburn met NATO in X-Men land ."
	dets := e.Extract(text)
	require.Equal(t, 2, dets.Len())
	assert.Equal(t, Detection{Begin: 0, Length: len("Peter   Blackburn"), Label: 0, Tag: "PERSON"}, dets.At(0))
	assert.Equal(t, "Peter   Blackburn", dets.At(0).Text(text))
	assert.Equal(t, "NATO", dets.At(1).Text(text))
	assert.Equal(t, "ORGANIZATION", dets.At(1).Tag)

	for _, prefix := range []string{" ", "\t\n  ", "\r\n\r\n"} {
		shifted := e.Extract(prefix + text)
		require.Equal(t, dets.Len(), shifted.Len(), "prefix %q", prefix)
		for i := range dets.Detections {
			want := dets.At(i)
			want.Begin += len(prefix)
			assert.Equal(t, want, shifted.At(i), "prefix %q", prefix)
			assert.Equal(t, dets.At(i).Text(text), shifted.At(i).Text(prefix+text))
		}
	}

	assert.Zero(t, e.Extract("").Len())
	assert.Zero(t, e.Extract("   \n\t").Len())
}

func TestExtract_DetectionsSortedByBegin(t *testing.T) {
	e := testExtractor(t)

	text := "NATO said Angela Merkel met Peter Blackburn , and IBM hired Jane in London ."
	dets := e.Extract(text)
	require.Equal(t, 6, dets.Len())
	for i := 1; i < dets.Len(); i++ {
		assert.Greater(t, dets.At(i).Begin, dets.At(i-1).Begin)
		assert.LessOrEqual(t, dets.At(i-1).End(), dets.At(i).Begin)
	}
	var got []string
	for _, d := range dets.Detections {
		got = append(got, d.Text(text))
	}
	assert.Equal(t, []string{"NATO", "Angela Merkel", "Peter Blackburn", "IBM", "Jane", "London"}, got)
}

func TestEvaluate_LiteralExample(t *testing.T) {
	e := testExtractor(t)
	c := &corpus.Corpus{
		Codes: corpus.DefaultCodes,
		Sentences: []*corpus.Sentence{{
			Tokens: strings.Fields("Peter Blackburn met NATO in paris"),
			Spans:  []corpus.Span{{Begin: 0, End: 2}, {Begin: 5, End: 6}},
			Labels: []int{0, 1},
		}},
	}

	report, err := Evaluate(context.Background(), e, c, 2)
	require.NoError(t, err)

	assert.True(t, report.Total.Precision.Defined)
	assert.InDelta(t, 0.5, report.Total.Precision.Value, 1e-12)
	assert.InDelta(t, 0.5, report.Total.Recall.Value, 1e-12)
	assert.InDelta(t, 0.5, report.Total.F1.Value, 1e-12)

	require.Len(t, report.Labels, 4)
	per := report.Labels[0]
	assert.Equal(t, "PERSON", per.Label)
	assert.Equal(t, 1.0, per.Precision.Value)
	assert.Equal(t, 1.0, per.Recall.Value)

	loc := report.Labels[1]
	assert.False(t, loc.Precision.Defined)
	assert.Equal(t, 0.0, loc.Recall.Value)
	assert.False(t, loc.F1.Defined)

	org := report.Labels[2]
	assert.Equal(t, 0.0, org.Precision.Value)
	assert.False(t, org.Recall.Defined)

	misc := report.Labels[3]
	assert.False(t, misc.Precision.Defined)
	assert.False(t, misc.Recall.Defined)
}

func TestEvaluate_Canceled(t *testing.T) {
	e := testExtractor(t)
	c := &corpus.Corpus{Codes: corpus.DefaultCodes, Sentences: []*corpus.Sentence{{Tokens: []string{"a"}}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, e, c, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewExtractor_ShapeChecks(t *testing.T) {
	e := testExtractor(t)

	_, err := NewExtractor(e.labels, e.chunker, nil, Metadata{})
	assert.ErrorIs(t, err, ErrIncompatibleModel)

	small, err := NewLabelSet([]string{"PERSON"}, corpus.Codes{"PER"})
	require.NoError(t, err)
	_, err = NewExtractor(small, e.chunker, e.classifier, Metadata{})
	assert.ErrorIs(t, err, ErrIncompatibleModel)

	other := features.NewEmbedder(nil, features.Config{HashBuckets: 8, SpanBuckets: 16})
	_, err = NewChunkerModel(other, e.chunker.segmenter, Metadata{})
	assert.ErrorIs(t, err, ErrIncompatibleModel)
}

func TestPooledNER_Recognize(t *testing.T) {
	p, err := NewPooledNER(testExtractor(t), PooledNERConfig{PoolSize: 2, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	out, err := p.Recognize(context.Background(), []string{"Peter Blackburn met NATO .", "nothing here"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []Entity{
		{Text: "Peter Blackburn", Label: "PERSON", LabelID: 0, Start: 0, End: 15},
		{Text: "NATO", Label: "ORGANIZATION", LabelID: 2, Start: 20, End: 24},
	}, out[0])
	assert.Empty(t, out[1])
	assert.Equal(t, DefaultNames, p.Labels())

	require.NoError(t, p.Close())
	_, err = p.Recognize(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrClosed)
}
