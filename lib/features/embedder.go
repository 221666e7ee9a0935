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

// Package features turns token sequences into the numeric vectors consumed by
// the chunker and the span classifier.
package features

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultHashBuckets is the number of hashed affix buckets per token.
	DefaultHashBuckets = 256
	// DefaultSpanBuckets is the number of hashed sparse span feature buckets.
	DefaultSpanBuckets = 1 << 16

	shapeDims  = 8
	window     = 3
	spanBlocks = 5
)

// Embedder maps tokens to dense vectors made of a word vector, a small set of
// orthographic shape features and hashed affix features. It is read-only after
// construction and safe for concurrent use.
type Embedder struct {
	dict        *Dictionary
	hashBuckets int
	spanBuckets int
}

// Config configures an Embedder. Zero values use the defaults.
type Config struct {
	HashBuckets int `json:"hash_buckets"`
	SpanBuckets int `json:"span_buckets"`
}

// NewEmbedder creates an embedder over dict. A nil dict gives an embedder that
// only uses shape and affix features.
func NewEmbedder(dict *Dictionary, cfg Config) *Embedder {
	if dict == nil {
		dict, _ = NewDictionary(0, nil, nil)
	}
	if cfg.HashBuckets <= 0 {
		cfg.HashBuckets = DefaultHashBuckets
	}
	if cfg.SpanBuckets <= 0 {
		cfg.SpanBuckets = DefaultSpanBuckets
	}
	return &Embedder{dict: dict, hashBuckets: cfg.HashBuckets, spanBuckets: cfg.SpanBuckets}
}

// NumWords returns the size of the underlying dictionary.
func (e *Embedder) NumWords() int { return e.dict.Len() }

// TokenDims is the length of a single token vector.
func (e *Embedder) TokenDims() int {
	return e.dict.Dims() + shapeDims + e.hashBuckets
}

// Dims is the length of a windowed sentence feature vector.
func (e *Embedder) Dims() int { return window * e.TokenDims() }

// SpanDims is the size of the sparse span feature space.
func (e *Embedder) SpanDims() int {
	return spanBlocks*e.TokenDims() + e.spanBuckets
}

// TokenVector returns the vector of a single token with no context.
func (e *Embedder) TokenVector(word string) []float32 {
	v := make([]float32, e.TokenDims())
	d := e.dict.Dims()
	vec, known := e.dict.Lookup(word)
	if known {
		copy(v, vec)
	}

	shape := v[d : d+shapeDims]
	shape[0] = 1
	first, _ := utf8.DecodeRuneInString(word)
	if unicode.IsUpper(first) {
		shape[1] = 1
	}
	var letters, upper, digits, punct int
	for _, r := range word {
		switch {
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		case unicode.IsDigit(r):
			digits++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		}
	}
	if letters > 0 && upper == letters {
		shape[2] = 1
	}
	if digits > 0 {
		shape[3] = 1
	}
	if digits > 0 && digits == utf8.RuneCountInString(word) {
		shape[4] = 1
	}
	if punct > 0 && letters == 0 && digits == 0 {
		shape[5] = 1
	}
	if strings.ContainsAny(word, ".-") && letters > 0 {
		shape[6] = 1
	}
	if known {
		shape[7] = 1
	}

	hashed := v[d+shapeDims:]
	lower := strings.ToLower(word)
	for _, f := range affixes(lower) {
		hashed[bucket(f, e.hashBuckets)] += 0.5
	}
	return v
}

func affixes(lower string) []string {
	runes := []rune(lower)
	out := []string{"w=" + lower}
	for _, n := range []int{2, 3} {
		if len(runes) > n {
			out = append(out, "s="+string(runes[len(runes)-n:]))
			out = append(out, "p="+string(runes[:n]))
		}
	}
	return out
}

func bucket(feature string, n int) int {
	return int(xxhash.Sum64String(feature) % uint64(n))
}

// Sentence holds the per-token and windowed vectors of one sentence.
type Sentence struct {
	Words []string
	// Token holds the context free vector of each token.
	Token [][]float32
	// Window holds, for each token, the concatenation of the previous, current
	// and next token vectors. Positions outside the sentence are zero.
	Window [][]float32
}

// Sentence embeds words.
func (e *Embedder) Sentence(words []string) *Sentence {
	td := e.TokenDims()
	s := &Sentence{
		Words:  words,
		Token:  make([][]float32, len(words)),
		Window: make([][]float32, len(words)),
	}
	for i, w := range words {
		s.Token[i] = e.TokenVector(w)
	}
	for i := range words {
		v := make([]float32, window*td)
		if i > 0 {
			copy(v[:td], s.Token[i-1])
		}
		copy(v[td:2*td], s.Token[i])
		if i+1 < len(words) {
			copy(v[2*td:], s.Token[i+1])
		}
		s.Window[i] = v
	}
	return s
}

// Embed returns the windowed feature vector of every token in words.
func (e *Embedder) Embed(words []string) [][]float32 {
	return e.Sentence(words).Window
}

// SpanFeatures builds the classification vector of span sp. The dense part
// holds the mean, first and last token vectors of the span plus the token
// vectors on either side of it; the sparse part holds hashed lexical features.
func (e *Embedder) SpanFeatures(s *Sentence, sp corpus.Span) Sparse {
	td := e.TokenDims()
	dense := make([]float32, spanBlocks*td)
	mean := dense[:td]
	for i := sp.Begin; i < sp.End; i++ {
		for j, v := range s.Token[i] {
			mean[j] += v
		}
	}
	inv := 1 / float32(sp.Len())
	for j := range mean {
		mean[j] *= inv
	}
	copy(dense[td:2*td], s.Token[sp.Begin])
	copy(dense[2*td:3*td], s.Token[sp.End-1])
	if sp.Begin > 0 {
		copy(dense[3*td:4*td], s.Token[sp.Begin-1])
	}
	if sp.End < len(s.Token) {
		copy(dense[4*td:], s.Token[sp.End])
	}

	out := make(Sparse, 0, len(dense)/4+8)
	for i, v := range dense {
		if v != 0 {
			out = append(out, Entry{Index: uint32(i), Value: v})
		}
	}

	base := len(dense)
	lexical := []string{
		"bias",
		fmt.Sprintf("len=%d", min(sp.Len(), 5)),
		"shape=" + spanShape(s.Words[sp.Begin:sp.End]),
	}
	for i := sp.Begin; i < sp.End; i++ {
		lexical = append(lexical, "w="+strings.ToLower(s.Words[i]))
	}
	if sp.Begin > 0 {
		lexical = append(lexical, "prev="+strings.ToLower(s.Words[sp.Begin-1]))
	} else {
		lexical = append(lexical, "prev=<s>")
	}
	if sp.End < len(s.Words) {
		lexical = append(lexical, "next="+strings.ToLower(s.Words[sp.End]))
	} else {
		lexical = append(lexical, "next=</s>")
	}
	for _, f := range lexical {
		out = append(out, Entry{Index: uint32(base + bucket(f, e.spanBuckets)), Value: 1})
	}
	return out.Compact()
}

// spanShape summarizes the first rune of each word in a span, e.g. "XX" for
// "Peter Blackburn" and "Xd" for "Apollo 11".
func spanShape(words []string) string {
	var b strings.Builder
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		switch {
		case unicode.IsUpper(r):
			b.WriteByte('X')
		case unicode.IsDigit(r):
			b.WriteByte('d')
		case unicode.IsLetter(r):
			b.WriteByte('x')
		default:
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Entry is one non-zero coordinate of a sparse vector.
type Entry struct {
	Index uint32  `json:"i"`
	Value float32 `json:"v"`
}

// Sparse is a sparse vector with entries sorted by index.
type Sparse []Entry

// Compact sorts the entries by index and sums duplicates in place.
func (s Sparse) Compact() Sparse {
	if len(s) < 2 {
		return s
	}
	sort.Slice(s, func(i, j int) bool { return s[i].Index < s[j].Index })
	out := s[:1]
	for _, e := range s[1:] {
		last := &out[len(out)-1]
		if e.Index == last.Index {
			last.Value += e.Value
			continue
		}
		out = append(out, e)
	}
	return out
}

// Dot returns the inner product of s with the dense vector w.
func (s Sparse) Dot(w []float64) float64 {
	var sum float64
	for _, e := range s {
		sum += float64(e.Value) * w[e.Index]
	}
	return sum
}

// SquaredNorm returns the squared euclidean norm of s.
func (s Sparse) SquaredNorm() float64 {
	var sum float64
	for _, e := range s {
		sum += float64(e.Value) * float64(e.Value)
	}
	return sum
}
