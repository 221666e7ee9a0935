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

package features

import "fmt"

// State is the serializable snapshot of an Embedder.
type State struct {
	Dims        int         `json:"dims"`
	HashBuckets int         `json:"hash_buckets"`
	SpanBuckets int         `json:"span_buckets"`
	Words       []string    `json:"words"`
	Vectors     [][]float32 `json:"vectors"`
}

// State returns a snapshot of the embedder parameters. The returned slices
// share memory with the embedder and must not be modified.
func (e *Embedder) State() *State {
	return &State{
		Dims:        e.dict.dims,
		HashBuckets: e.hashBuckets,
		SpanBuckets: e.spanBuckets,
		Words:       e.dict.words,
		Vectors:     e.dict.vectors,
	}
}

// FromState rebuilds an embedder from a snapshot.
func FromState(s *State) (*Embedder, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: missing embedder state", ErrDictionary)
	}
	if s.HashBuckets <= 0 || s.SpanBuckets <= 0 {
		return nil, fmt.Errorf("%w: bucket counts must be positive", ErrDictionary)
	}
	dict, err := NewDictionary(s.Dims, s.Words, s.Vectors)
	if err != nil {
		return nil, err
	}
	return NewEmbedder(dict, Config{HashBuckets: s.HashBuckets, SpanBuckets: s.SpanBuckets}), nil
}
