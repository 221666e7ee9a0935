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
	"slices"

	"github.com/antflydb/nerconll/lib/corpus"
)

// NotEntityName is the display name of the reject label.
const NotEntityName = "NOT_ENTITY"

// DefaultNames are the display names of the CoNLL 2003 entity types, in the
// order of corpus.DefaultCodes.
var DefaultNames = []string{"PERSON", "LOCATION", "ORGANIZATION", "MISC"}

// LabelSet is the closed set of entity types a model can emit. Label i is
// displayed as Name(i) and written to BIO tags as Code(i). The index
// NotEntity() == Len() is the reject label: a valid training target that is
// never reported as a detection.
type LabelSet struct {
	names []string
	codes corpus.Codes
}

// NewLabelSet pairs display names with their BIO codes.
func NewLabelSet(names []string, codes corpus.Codes) (*LabelSet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("label set is empty")
	}
	if len(names) != len(codes) {
		return nil, fmt.Errorf("got %d label names but %d codes", len(names), len(codes))
	}
	for i, n := range names {
		if n == "" || codes[i] == "" {
			return nil, fmt.Errorf("label %d has an empty name or code", i)
		}
		if slices.Contains(names[:i], n) || slices.Contains(codes[:i], codes[i]) {
			return nil, fmt.Errorf("label %q is duplicated", n)
		}
		if n == NotEntityName {
			return nil, fmt.Errorf("%s is reserved", NotEntityName)
		}
	}
	return &LabelSet{names: slices.Clone(names), codes: slices.Clone(codes)}, nil
}

// DefaultLabelSet returns the CoNLL 2003 label set.
func DefaultLabelSet() *LabelSet {
	return &LabelSet{names: slices.Clone(DefaultNames), codes: slices.Clone(corpus.DefaultCodes)}
}

// Len returns the number of entity types, excluding the reject label.
func (l *LabelSet) Len() int { return len(l.names) }

// NotEntity returns the index of the reject label.
func (l *LabelSet) NotEntity() int { return len(l.names) }

// Name returns the display name of label i.
func (l *LabelSet) Name(i int) string {
	switch {
	case i == l.NotEntity():
		return NotEntityName
	case i < 0 || i > l.NotEntity():
		return ""
	}
	return l.names[i]
}

// Names returns the display names of the entity types.
func (l *LabelSet) Names() []string { return slices.Clone(l.names) }

// Codes returns the BIO codes of the entity types.
func (l *LabelSet) Codes() corpus.Codes { return l.codes }
