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
	"fmt"
	"strings"
)

// Outside is the tag for tokens not covered by any entity.
const Outside = "O"

// Codes maps label indices to the short entity codes used in BIO tags.
type Codes []string

// DefaultCodes are the CoNLL 2003 entity codes, in label index order.
var DefaultCodes = Codes{"PER", "LOC", "ORG", "MISC"}

// Code returns the code for label index i, or "" if i is out of range.
func (c Codes) Code(i int) string {
	if i < 0 || i >= len(c) {
		return ""
	}
	return c[i]
}

// Index returns the label index of code. Long forms such as PERSON or
// LOCATION resolve to their short code.
func (c Codes) Index(code string) (int, bool) {
	code = NormalizeCode(code)
	for i, v := range c {
		if v == code {
			return i, true
		}
	}
	return -1, false
}

// NormalizeCode strips any BIO prefix and maps common long forms of entity
// types to their CoNLL code.
//   - "B-PER" -> "PER"
//   - "I-LOCATION" -> "LOC"
//   - "O" -> ""
func NormalizeCode(label string) string {
	if IsOutside(label) {
		return ""
	}
	if len(label) >= 2 && label[1] == '-' {
		label = label[2:]
	}
	label = strings.ToUpper(label)
	switch label {
	case "PERSON", "PEOPLE":
		return "PER"
	case "ORGANIZATION", "ORGANISATION":
		return "ORG"
	case "LOCATION", "PLACE", "GPE":
		return "LOC"
	case "MISCELLANEOUS":
		return "MISC"
	default:
		return label
	}
}

// IsBegin checks if a tag starts an entity (B-).
func IsBegin(tag string) bool {
	return len(tag) >= 2 && tag[0] == 'B' && tag[1] == '-'
}

// IsInside checks if a tag continues an entity (I-).
func IsInside(tag string) bool {
	return len(tag) >= 2 && tag[0] == 'I' && tag[1] == '-'
}

// IsOutside checks if a tag is outside any entity.
func IsOutside(tag string) bool {
	return tag == Outside || tag == ""
}

// parseTag splits a BIO tag into its position marker and label index.
func parseTag(tag string, codes Codes) (byte, int, error) {
	switch {
	case IsOutside(tag):
		return 'O', -1, nil
	case IsBegin(tag), IsInside(tag):
		idx, ok := codes.Index(tag[2:])
		if !ok {
			return 0, -1, fmt.Errorf("unknown entity label %q", tag[2:])
		}
		return tag[0], idx, nil
	default:
		return 0, -1, fmt.Errorf("unrecognized tag %q", tag)
	}
}

// tagsToSpans reads both IOB1 and IOB2 encodings: an I- tag that does not
// continue an open chunk of the same label opens a new one.
func tagsToSpans(tags []string, codes Codes) ([]Span, []int, error) {
	var (
		spans  []Span
		labels []int
	)
	start, label := -1, -1
	closeSpan := func(end int) {
		if start >= 0 {
			spans = append(spans, Span{Begin: start, End: end})
			labels = append(labels, label)
		}
		start, label = -1, -1
	}
	for i, tag := range tags {
		pos, idx, err := parseTag(tag, codes)
		if err != nil {
			return nil, nil, err
		}
		switch pos {
		case 'O':
			closeSpan(i)
		case 'B':
			closeSpan(i)
			start, label = i, idx
		case 'I':
			if start >= 0 && label == idx {
				continue
			}
			closeSpan(i)
			start, label = i, idx
		}
	}
	closeSpan(len(tags))
	return spans, labels, nil
}

// BIOToSpans decodes a tag sequence into spans and parallel label indices.
func BIOToSpans(tags []string, codes Codes) ([]Span, []int, error) {
	spans, labels, err := tagsToSpans(tags, codes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return spans, labels, nil
}

// SpansToBIO encodes spans over a sentence of n tokens. Spans are visited in
// the given order; each span's first token is tagged B- and the rest I-.
// When a span begins exactly where the previous span ended and has the same
// label, its first token is tagged I- instead, so the two read as one
// mention. Spans with different labels never merge. Tokens outside every
// span are tagged O.
func SpansToBIO(n int, spans []Span, labels []int, codes Codes) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = Outside
	}
	for j, sp := range spans {
		code := codes.Code(labels[j])
		first := "B-"
		if j > 0 && sp.Begin == spans[j-1].End && labels[j] == labels[j-1] {
			first = "I-"
		}
		for k := sp.Begin; k < sp.End && k < n; k++ {
			if k == sp.Begin {
				tags[k] = first + code
			} else {
				tags[k] = "I-" + code
			}
		}
	}
	return tags
}
