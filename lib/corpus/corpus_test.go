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

package corpus

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `-DOCSTART- -X- -X- O

EU NNP B-NP B-ORG
rejects VBZ B-VP O
German JJ B-NP B-MISC
call NN I-NP O
to TO B-VP O
boycott VB I-VP O
British JJ B-NP B-MISC
lamb NN I-NP O
. . O O

Peter NNP B-NP B-PER
Blackburn NNP I-NP I-PER
`

func TestRead(t *testing.T) {
	c, err := Read(strings.NewReader(sample), nil)
	require.NoError(t, err)
	require.Len(t, c.Sentences, 2)

	s := c.Sentences[0]
	assert.Equal(t, []string{"EU", "rejects", "German", "call", "to", "boycott", "British", "lamb", "."}, s.Tokens)
	assert.Equal(t, []Span{{0, 1}, {2, 3}, {6, 7}}, s.Spans)
	assert.Equal(t, []int{2, 3, 3}, s.Labels)
	assert.Equal(t, []string{"EU", "NNP", "B-NP"}, s.Columns[0])

	s = c.Sentences[1]
	assert.Equal(t, []Span{{0, 2}}, s.Spans)
	assert.Equal(t, []int{0}, s.Labels)
	assert.Equal(t, 4, c.NumSpans())
}

func TestRead_IOB1(t *testing.T) {
	data := "Peter I-PER\nBlackburn I-PER\nand O\nJohn I-PER\nSmith I-PER\nMary B-PER\nParis I-LOC\n"
	c, err := Read(strings.NewReader(data), nil)
	require.NoError(t, err)
	require.Len(t, c.Sentences, 1)
	assert.Equal(t, []Span{{0, 2}, {3, 5}, {5, 6}, {6, 7}}, c.Sentences[0].Spans)
	assert.Equal(t, []int{0, 0, 0, 1}, c.Sentences[0].Labels)
}

func TestRead_FormatErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		line int
	}{
		{"single column", "EU B-ORG\nrejects\n", 2},
		{"ragged columns", "EU NNP B-ORG\nrejects O\n", 2},
		{"unknown label", "EU B-FOO\n", 1},
		{"unknown prefix", "EU X-ORG\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data), nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))
			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.line, fe.Line)
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.conll")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := ReadFile(path, DefaultCodes)
	require.NoError(t, err)
	assert.Len(t, c.Sentences, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.conll"), nil)
	assert.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	c, err := Read(strings.NewReader(sample), nil)
	require.NoError(t, err)

	tags := make([][]string, len(c.Sentences))
	for i, s := range c.Sentences {
		tags[i] = SpansToBIO(len(s.Tokens), s.Spans, s.Labels, c.Codes)
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, c, tags))

	again, err := Read(&buf, nil)
	require.NoError(t, err)
	require.Len(t, again.Sentences, len(c.Sentences))
	for i := range c.Sentences {
		assert.Equal(t, c.Sentences[i].Tokens, again.Sentences[i].Tokens)
		assert.Equal(t, c.Sentences[i].Spans, again.Sentences[i].Spans)
		assert.Equal(t, c.Sentences[i].Labels, again.Sentences[i].Labels)
		assert.Equal(t, c.Sentences[i].Columns, again.Sentences[i].Columns)
	}
}

func TestWrite_TagCountMismatch(t *testing.T) {
	c, err := Read(strings.NewReader(sample), nil)
	require.NoError(t, err)
	assert.Error(t, Write(&bytes.Buffer{}, c, [][]string{{"O"}}))
	assert.Error(t, Write(&bytes.Buffer{}, c, [][]string{{"O"}, {"O", "O"}}))
}

func TestSpansToBIO_RoundTrip(t *testing.T) {
	spans := []Span{{0, 2}, {3, 4}, {5, 8}}
	labels := []int{0, 2, 1}

	tags := SpansToBIO(9, spans, labels, DefaultCodes)
	assert.Equal(t, []string{"B-PER", "I-PER", "O", "B-ORG", "O", "B-LOC", "I-LOC", "I-LOC", "O"}, tags)

	gotSpans, gotLabels, err := BIOToSpans(tags, DefaultCodes)
	require.NoError(t, err)
	assert.Equal(t, spans, gotSpans)
	assert.Equal(t, labels, gotLabels)
}

// Adjacent spans of the same label are emitted as one continuous mention.
func TestSpansToBIO_AdjacentSameLabelMerges(t *testing.T) {
	tags := SpansToBIO(5, []Span{{0, 2}, {2, 4}}, []int{0, 0}, DefaultCodes)
	assert.Equal(t, []string{"B-PER", "I-PER", "I-PER", "I-PER", "O"}, tags)

	spans, labels, err := BIOToSpans(tags, DefaultCodes)
	require.NoError(t, err)
	assert.Equal(t, []Span{{0, 4}}, spans)
	assert.Equal(t, []int{0}, labels)
}

func TestSpansToBIO_AdjacentDifferentLabelsDoNotMerge(t *testing.T) {
	tags := SpansToBIO(4, []Span{{0, 2}, {2, 4}}, []int{0, 2}, DefaultCodes)
	assert.Equal(t, []string{"B-PER", "I-PER", "B-ORG", "I-ORG"}, tags)
}

// The merge only looks at the span visited immediately before.
func TestSpansToBIO_MergeFollowsVisitOrder(t *testing.T) {
	tags := SpansToBIO(6, []Span{{0, 1}, {3, 4}, {1, 3}}, []int{1, 1, 1}, DefaultCodes)
	assert.Equal(t, []string{"B-LOC", "B-LOC", "I-LOC", "B-LOC", "O", "O"}, tags)
}

func TestNormalizeCode(t *testing.T) {
	tests := map[string]string{
		"B-PER":        "PER",
		"I-LOCATION":   "LOC",
		"ORGANIZATION": "ORG",
		"misc":         "MISC",
		"O":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCode(in), in)
	}

	idx, ok := DefaultCodes.Index("PERSON")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
	_, ok = DefaultCodes.Index("FOO")
	assert.False(t, ok)
	assert.Equal(t, "", DefaultCodes.Code(7))
}
