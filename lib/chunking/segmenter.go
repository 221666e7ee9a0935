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
	"errors"
	"fmt"
	"math"

	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/evaluation"
)

// Token states. An inside token may only follow a begin or inside token.
const (
	stateO = iota
	stateB
	stateI
	numStates
)

// startRow is the transition row used for the first token.
const startRow = numStates

var _ Chunker = (*Segmenter)(nil)

// Segmenter is a linear chain model over {O, B, I} token states. The score of
// a labeling is the sum of per-token emission scores (a weight vector per
// state dotted with the token features) and state transition scores. It is
// read-only after training and safe for concurrent use.
type Segmenter struct {
	dims  int
	emit  []float64 // numStates x dims
	trans []float64 // (numStates+1) x numStates, the last row is the start row
}

func newSegmenter(dims int) *Segmenter {
	return &Segmenter{
		dims:  dims,
		emit:  make([]float64, numStates*dims),
		trans: make([]float64, (numStates+1)*numStates),
	}
}

// Dims returns the expected length of each token feature vector.
func (s *Segmenter) Dims() int { return s.dims }

// NumFeatures returns the number of weights in the model.
func (s *Segmenter) NumFeatures() int { return len(s.emit) + len(s.trans) }

// Segment returns the highest scoring non-overlapping spans, in order.
func (s *Segmenter) Segment(feats [][]float32) []corpus.Span {
	if len(feats) == 0 {
		return nil
	}
	return statesToSpans(s.viterbi(s.emissions(feats), nil))
}

func allowed(prev, cur int) bool {
	return cur != stateI || prev == stateB || prev == stateI
}

// emissions returns the per-token, per-state emission scores.
func (s *Segmenter) emissions(feats [][]float32) [][numStates]float64 {
	out := make([][numStates]float64, len(feats))
	for i, x := range feats {
		for st := 0; st < numStates; st++ {
			w := s.emit[st*s.dims : (st+1)*s.dims]
			var sum float64
			for j, v := range x {
				if v != 0 {
					sum += float64(v) * w[j]
				}
			}
			out[i][st] = sum
		}
	}
	return out
}

// score returns the model score of a state sequence.
func (s *Segmenter) score(em [][numStates]float64, states []int) float64 {
	var sum float64
	prev := startRow
	for i, st := range states {
		sum += em[i][st] + s.trans[prev*numStates+st]
		prev = st
	}
	return sum
}

// viterbi returns the best allowed state sequence. With gold set, every
// state that disagrees with gold earns one extra unit of score, which makes
// this the loss-augmented search used during training.
func (s *Segmenter) viterbi(em [][numStates]float64, gold []int) []int {
	n := len(em)
	if n == 0 {
		return nil
	}
	delta := make([][numStates]float64, n)
	back := make([][numStates]int, n)

	local := func(i, st int) float64 {
		v := em[i][st]
		if gold != nil && gold[i] != st {
			v++
		}
		return v
	}

	for st := 0; st < numStates; st++ {
		if st == stateI {
			delta[0][st] = math.Inf(-1)
			continue
		}
		delta[0][st] = s.trans[startRow*numStates+st] + local(0, st)
	}
	for i := 1; i < n; i++ {
		for st := 0; st < numStates; st++ {
			best, arg := math.Inf(-1), stateO
			for p := 0; p < numStates; p++ {
				if !allowed(p, st) {
					continue
				}
				v := delta[i-1][p] + s.trans[p*numStates+st]
				if v > best {
					best, arg = v, p
				}
			}
			delta[i][st] = best + local(i, st)
			back[i][st] = arg
		}
	}

	states := make([]int, n)
	best := math.Inf(-1)
	for st := 0; st < numStates; st++ {
		if delta[n-1][st] > best {
			best, states[n-1] = delta[n-1][st], st
		}
	}
	for i := n - 1; i > 0; i-- {
		states[i-1] = back[i][states[i]]
	}
	return states
}

// spansToStates encodes spans over n tokens. Overlapping spans are resolved
// in favour of the later one.
func spansToStates(n int, spans []corpus.Span) []int {
	states := make([]int, n)
	for _, sp := range spans {
		for k := sp.Begin; k < sp.End && k < n; k++ {
			if k == sp.Begin {
				states[k] = stateB
			} else {
				states[k] = stateI
			}
		}
	}
	return states
}

func statesToSpans(states []int) []corpus.Span {
	var spans []corpus.Span
	start := -1
	for i, st := range states {
		switch st {
		case stateB:
			if start >= 0 {
				spans = append(spans, corpus.Span{Begin: start, End: i})
			}
			start = i
		case stateO:
			if start >= 0 {
				spans = append(spans, corpus.Span{Begin: start, End: i})
			}
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, corpus.Span{Begin: start, End: len(states)})
	}
	return spans
}

// Evaluate scores the segmenter against gold spans. A predicted span counts
// only when it matches a gold span exactly.
func Evaluate(c Chunker, samples []Sample) evaluation.Score {
	var tp, dets, targets float64
	for _, sample := range samples {
		gold := make(map[corpus.Span]struct{}, len(sample.Spans))
		for _, sp := range sample.Spans {
			gold[sp] = struct{}{}
		}
		pred := c.Segment(sample.Features)
		for _, sp := range pred {
			if _, ok := gold[sp]; ok {
				tp++
			}
		}
		dets += float64(len(pred))
		targets += float64(len(gold))
	}
	return evaluation.NewScore(tp, dets, targets)
}

// ErrIncompatibleState is returned when a serialized segmenter is malformed.
var ErrIncompatibleState = errors.New("incompatible segmenter state")

// State is the serializable form of a Segmenter.
type State struct {
	Dims  int       `json:"dims"`
	Emit  []float64 `json:"emit"`
	Trans []float64 `json:"trans"`
}

// State returns a snapshot of the segmenter weights.
func (s *Segmenter) State() *State {
	return &State{Dims: s.dims, Emit: s.emit, Trans: s.trans}
}

// FromState rebuilds a segmenter, checking that the weight shapes agree.
func FromState(st *State) (*Segmenter, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: missing", ErrIncompatibleState)
	}
	if st.Dims <= 0 || len(st.Emit) != numStates*st.Dims || len(st.Trans) != (numStates+1)*numStates {
		return nil, fmt.Errorf("%w: dims %d with %d emission and %d transition weights",
			ErrIncompatibleState, st.Dims, len(st.Emit), len(st.Trans))
	}
	return &Segmenter{dims: st.Dims, emit: st.Emit, trans: st.Trans}, nil
}
