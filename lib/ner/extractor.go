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
	"fmt"
	"sort"

	"github.com/antflydb/nerconll/lib/chunking"
	"github.com/antflydb/nerconll/lib/classification"
	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/features"
	"github.com/antflydb/nerconll/lib/tokenizer"
)

// ChunkerModel is a trained segmenter together with the embedder whose
// feature space it was trained in.
type ChunkerModel struct {
	Meta      Metadata
	embedder  *features.Embedder
	segmenter *chunking.Segmenter
}

// NewChunkerModel pairs an embedder with a segmenter over its feature space.
func NewChunkerModel(emb *features.Embedder, seg *chunking.Segmenter, meta Metadata) (*ChunkerModel, error) {
	if emb == nil || seg == nil {
		return nil, fmt.Errorf("%w: chunker model is incomplete", ErrIncompatibleModel)
	}
	if seg.Dims() != emb.Dims() {
		return nil, fmt.Errorf("%w: segmenter expects %d features, embedder produces %d",
			ErrIncompatibleModel, seg.Dims(), emb.Dims())
	}
	return &ChunkerModel{Meta: meta, embedder: emb, segmenter: seg}, nil
}

// Embedder returns the token embedder.
func (m *ChunkerModel) Embedder() *features.Embedder { return m.embedder }

// Segmenter returns the trained segmenter.
func (m *ChunkerModel) Segmenter() *chunking.Segmenter { return m.segmenter }

// Segment proposes entity spans over a tokenized sentence.
func (m *ChunkerModel) Segment(words []string) []corpus.Span {
	if len(words) == 0 {
		return nil
	}
	return m.segmenter.Segment(m.embedder.Embed(words))
}

// Detection is one entity found in a text. Begin and Length are byte offsets
// into the text passed to Extract.
type Detection struct {
	Begin  int    `json:"begin"`
	Length int    `json:"length"`
	Label  int    `json:"label"`
	Tag    string `json:"tag"`
}

// End returns the offset one past the last byte of the detection.
func (d Detection) End() int { return d.Begin + d.Length }

// Text returns the detected substring of text.
func (d Detection) Text(text string) string { return text[d.Begin:d.End()] }

// DetectionSet is the result of one extraction, ordered by Begin.
type DetectionSet struct {
	Detections []Detection
}

// Len returns the number of detections.
func (s *DetectionSet) Len() int { return len(s.Detections) }

// At returns detection i.
func (s *DetectionSet) At(i int) Detection { return s.Detections[i] }

// Extractor runs the full pipeline: tokenize, embed, segment and classify. It
// is read-only once built and safe for concurrent use.
type Extractor struct {
	Meta       Metadata
	labels     *LabelSet
	chunker    *ChunkerModel
	classifier *classification.Classifier
	tokenizer  tokenizer.Tokenizer
}

// NewExtractor composes a chunker with a span classifier over labels. The
// classifier must have one class per label plus the reject class, and work
// in the span feature space of the chunker's embedder.
func NewExtractor(labels *LabelSet, chunker *ChunkerModel, clf *classification.Classifier, meta Metadata) (*Extractor, error) {
	if labels == nil || chunker == nil || clf == nil {
		return nil, fmt.Errorf("%w: extractor is incomplete", ErrIncompatibleModel)
	}
	if clf.NumClasses() != labels.Len()+1 {
		return nil, fmt.Errorf("%w: classifier has %d classes for %d labels",
			ErrIncompatibleModel, clf.NumClasses(), labels.Len())
	}
	if clf.Dims() != chunker.embedder.SpanDims() {
		return nil, fmt.Errorf("%w: classifier expects %d features, embedder produces %d",
			ErrIncompatibleModel, clf.Dims(), chunker.embedder.SpanDims())
	}
	return &Extractor{
		Meta:       meta,
		labels:     labels,
		chunker:    chunker,
		classifier: clf,
		tokenizer:  tokenizer.UnigramTokenizer{},
	}, nil
}

// Labels returns the label set of the extractor.
func (e *Extractor) Labels() *LabelSet { return e.labels }

// Chunker returns the chunker stage.
func (e *Extractor) Chunker() *ChunkerModel { return e.chunker }

// Classifier returns the span classifier stage.
func (e *Extractor) Classifier() *classification.Classifier { return e.classifier }

// Tags returns the names of the labels the extractor can emit. The reject
// label is not included.
func (e *Extractor) Tags() []string { return e.labels.Names() }

// Predict finds the entities of a tokenized sentence. Spans are returned in
// chunker order with their label indexes; spans classified as the reject
// label are dropped.
func (e *Extractor) Predict(words []string) ([]corpus.Span, []int) {
	if len(words) == 0 {
		return nil, nil
	}
	emb := e.chunker.embedder
	sent := emb.Sentence(words)
	var spans []corpus.Span
	var labels []int
	for _, sp := range e.chunker.segmenter.Segment(sent.Window) {
		label := e.classifier.Predict(emb.SpanFeatures(sent, sp))
		if label == e.labels.NotEntity() {
			continue
		}
		spans = append(spans, sp)
		labels = append(labels, label)
	}
	return spans, labels
}

// Extract tokenizes text and returns its detections with byte offsets into
// text, ordered by Begin.
func (e *Extractor) Extract(text string) *DetectionSet {
	tokens := e.tokenizer.Tokenize(text)
	spans, labels := e.Predict(tokenizer.Words(tokens))

	out := &DetectionSet{Detections: make([]Detection, len(spans))}
	for i, sp := range spans {
		begin := tokens[sp.Begin].Offset
		out.Detections[i] = Detection{
			Begin:  begin,
			Length: tokens[sp.End-1].End() - begin,
			Label:  labels[i],
			Tag:    e.labels.Name(labels[i]),
		}
	}
	sort.SliceStable(out.Detections, func(i, j int) bool {
		return out.Detections[i].Begin < out.Detections[j].Begin
	})
	for i := 1; i < len(out.Detections); i++ {
		if out.Detections[i].Begin <= out.Detections[i-1].Begin {
			panic(fmt.Sprintf("ner: overlapping detections at byte %d", out.Detections[i].Begin))
		}
	}
	return out
}

// TagSentence returns a BIO tag for every word of a tokenized sentence.
func (e *Extractor) TagSentence(words []string) []string {
	spans, labels := e.Predict(words)
	return corpus.SpansToBIO(len(words), spans, labels, e.labels.Codes())
}
