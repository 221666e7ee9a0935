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

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DictionaryFile is the name of the word vector file inside an embeddings directory.
const DictionaryFile = "word_vectors.txt"

// ErrDictionary is returned when a word vector file cannot be parsed.
var ErrDictionary = errors.New("invalid word vector dictionary")

// Dictionary maps normalized words to dense vectors of a fixed dimension.
type Dictionary struct {
	dims    int
	words   []string
	vectors [][]float32
	index   map[string]int
}

// NewDictionary builds a dictionary from parallel word and vector slices.
// Words that normalize to the same key keep the first vector seen.
func NewDictionary(dims int, words []string, vectors [][]float32) (*Dictionary, error) {
	if dims < 0 {
		return nil, fmt.Errorf("%w: negative dimension %d", ErrDictionary, dims)
	}
	if len(words) != len(vectors) {
		return nil, fmt.Errorf("%w: %d words but %d vectors", ErrDictionary, len(words), len(vectors))
	}
	d := &Dictionary{dims: dims, index: make(map[string]int, len(words))}
	for i, w := range words {
		if len(vectors[i]) != dims {
			return nil, fmt.Errorf("%w: word %q has %d values, want %d", ErrDictionary, w, len(vectors[i]), dims)
		}
		key := NormalizeWord(w)
		if _, ok := d.index[key]; ok {
			continue
		}
		d.index[key] = len(d.words)
		d.words = append(d.words, key)
		d.vectors = append(d.vectors, vectors[i])
	}
	return d, nil
}

// LoadDictionary reads DictionaryFile from dir.
func LoadDictionary(dir string) (*Dictionary, error) {
	path := filepath.Join(dir, DictionaryFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening word vectors: %w", err)
	}
	defer func() { _ = f.Close() }()

	d, err := ReadDictionary(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return d, nil
}

// ReadDictionary parses whitespace separated "word v1 v2 ... vN" lines in the
// GloVe text format. An optional word2vec style "count dims" header line is
// skipped.
func ReadDictionary(r io.Reader) (*Dictionary, error) {
	var (
		words   []string
		vectors [][]float32
		dims    = -1
		lineNo  int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNo == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				if _, err := strconv.Atoi(fields[1]); err == nil {
					continue
				}
			}
		}
		if dims < 0 {
			dims = len(fields) - 1
		}
		if len(fields)-1 != dims {
			return nil, fmt.Errorf("%w: line %d has %d values, want %d", ErrDictionary, lineNo, len(fields)-1, dims)
		}
		vec := make([]float32, dims)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrDictionary, lineNo, err)
			}
			vec[i] = float32(v)
		}
		words = append(words, fields[0])
		vectors = append(vectors, vec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning word vectors: %w", err)
	}
	if dims < 0 {
		dims = 0
	}
	return NewDictionary(dims, words, vectors)
}

// Dims returns the vector dimension.
func (d *Dictionary) Dims() int { return d.dims }

// Len returns the number of words in the dictionary.
func (d *Dictionary) Len() int { return len(d.words) }

// Lookup returns the vector for word and whether it was found.
func (d *Dictionary) Lookup(word string) ([]float32, bool) {
	i, ok := d.index[NormalizeWord(word)]
	if !ok {
		return nil, false
	}
	return d.vectors[i], true
}

// NormalizeWord is the lookup key of a word: NFKC normalized and case folded.
func NormalizeWord(word string) string {
	// Casers carry state and cannot be shared between goroutines.
	return cases.Fold().String(norm.NFKC.String(word))
}
