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
	"slices"

	"github.com/antflydb/nerconll/lib/corpus"
)

// LabeledSpan is a span and its label index.
type LabeledSpan struct {
	Span  corpus.Span
	Label int
}

// LabelFor returns the gold label of r: the label of the gold span equal to
// r, or notEntity when no gold span matches exactly.
func LabelFor(gold []corpus.Span, goldLabels []int, r corpus.Span, notEntity int) int {
	for i, g := range gold {
		if g == r {
			return goldLabels[i]
		}
	}
	return notEntity
}

// Reconcile merges the gold spans of a sentence with the spans proposed for
// it into a set, and labels each distinct span with LabelFor. Spans present
// in both inputs appear once. The result is ordered by (Begin, End) so it
// does not depend on the order of either input.
func Reconcile(gold []corpus.Span, goldLabels []int, predicted []corpus.Span, notEntity int) []LabeledSpan {
	seen := make(map[corpus.Span]struct{}, len(gold)+len(predicted))
	union := make([]corpus.Span, 0, len(gold)+len(predicted))
	for _, group := range [][]corpus.Span{gold, predicted} {
		for _, sp := range group {
			if _, ok := seen[sp]; ok {
				continue
			}
			seen[sp] = struct{}{}
			union = append(union, sp)
		}
	}
	slices.SortFunc(union, func(a, b corpus.Span) int {
		if a.Begin != b.Begin {
			return a.Begin - b.Begin
		}
		return a.End - b.End
	})

	out := make([]LabeledSpan, len(union))
	for i, sp := range union {
		out[i] = LabeledSpan{Span: sp, Label: LabelFor(gold, goldLabels, sp, notEntity)}
	}
	return out
}
