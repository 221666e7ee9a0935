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

// Package corpus reads and writes CoNLL-style annotated corpora and converts
// between per-token BIO tags and labeled token spans.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrFormat is returned (wrapped in a *FormatError) when a corpus file is malformed.
var ErrFormat = errors.New("malformed conll data")

// DocStart marks a document boundary line in CoNLL 2003 files.
const DocStart = "-DOCSTART-"

// FormatError describes a malformed line in a CoNLL file.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("conll line %d: %s", e.Line, e.Msg)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// Span is a half-open token range [Begin, End).
type Span struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Valid reports whether the span is non-empty and starts at a non-negative index.
func (s Span) Valid() bool {
	return s.Begin >= 0 && s.Begin < s.End
}

// Len returns the number of tokens covered by the span.
func (s Span) Len() int { return s.End - s.Begin }

// Less orders spans by begin, then end.
func (s Span) Less(o Span) bool {
	if s.Begin != o.Begin {
		return s.Begin < o.Begin
	}
	return s.End < o.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Begin, s.End)
}

// Sentence is one annotated sentence. Spans and Labels are parallel: Labels[i]
// is the label index of Spans[i] in the corpus Codes.
type Sentence struct {
	Tokens []string
	// Columns holds the non-tag columns of every token line, including the
	// token itself, so the sentence can be written back out.
	Columns [][]string
	Spans   []Span
	Labels  []int
}

// Corpus is a parsed CoNLL file.
type Corpus struct {
	Codes     Codes
	Sentences []*Sentence
}

// NumSpans returns the total number of gold spans in the corpus.
func (c *Corpus) NumSpans() int {
	n := 0
	for _, s := range c.Sentences {
		n += len(s.Spans)
	}
	return n
}

// ReadFile parses the CoNLL file at path.
func ReadFile(path string, codes Codes) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	c, err := Read(f, codes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return c, nil
}

// Read parses CoNLL data. Each non-blank line holds whitespace separated
// columns with the token first and the BIO tag last. Blank lines end
// sentences and -DOCSTART- lines are ignored.
func Read(r io.Reader, codes Codes) (*Corpus, error) {
	if len(codes) == 0 {
		codes = DefaultCodes
	}
	c := &Corpus{Codes: codes}

	var (
		tokens  []string
		columns [][]string
		tags    []string
		width   int
		lineNo  int
	)

	flush := func() error {
		if len(tokens) == 0 {
			return nil
		}
		spans, labels, err := tagsToSpans(tags, codes)
		if err != nil {
			return &FormatError{Line: lineNo, Msg: err.Error()}
		}
		c.Sentences = append(c.Sentences, &Sentence{
			Tokens:  tokens,
			Columns: columns,
			Spans:   spans,
			Labels:  labels,
		})
		tokens, columns, tags, width = nil, nil, nil, 0
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if fields[0] == DocStart {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if len(fields) < 2 {
			return nil, &FormatError{Line: lineNo, Msg: fmt.Sprintf("expected at least 2 columns, got %d", len(fields))}
		}
		if width == 0 {
			width = len(fields)
		} else if len(fields) != width {
			return nil, &FormatError{Line: lineNo, Msg: fmt.Sprintf("expected %d columns, got %d", width, len(fields))}
		}
		tag := fields[len(fields)-1]
		if _, _, err := parseTag(tag, codes); err != nil {
			return nil, &FormatError{Line: lineNo, Msg: err.Error()}
		}
		tokens = append(tokens, fields[0])
		columns = append(columns, fields[:len(fields)-1])
		tags = append(tags, tag)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning conll data: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return c, nil
}

// Write emits the corpus in CoNLL format with the tag column replaced by
// tags[i] for sentence i. tags[i] must have one entry per token.
func Write(w io.Writer, c *Corpus, tags [][]string) error {
	if len(tags) != len(c.Sentences) {
		return fmt.Errorf("got tags for %d sentences, corpus has %d", len(tags), len(c.Sentences))
	}
	bw := bufio.NewWriter(w)
	for i, s := range c.Sentences {
		if len(tags[i]) != len(s.Tokens) {
			return fmt.Errorf("sentence %d: got %d tags for %d tokens", i, len(tags[i]), len(s.Tokens))
		}
		for j := range s.Tokens {
			cols := s.Columns[j]
			if len(cols) == 0 {
				cols = []string{s.Tokens[j]}
			}
			if _, err := bw.WriteString(strings.Join(cols, " ")); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(bw, " %s\n", tags[i][j]); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
