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

package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", " \t\n ", nil},
		{"simple", "Peter Blackburn visited Paris.", []string{"Peter", "Blackburn", "visited", "Paris", "."}},
		{"numbers", "It cost 1,000.50 dollars", []string{"It", "cost", "1,000.50", "dollars"}},
		{"abbreviation", "The U.S. team", []string{"The", "U.S.", "team"}},
		{"hyphenated", "a state-of-the-art tool", []string{"a", "state-of-the-art", "tool"}},
		{"clitic", "John's car", []string{"John", "'s", "car"}},
		{"punctuation runs", "wait... what?!", []string{"wait", "...", "what", "?", "!"}},
		{"comma before word", "Paris,France", []string{"Paris", ",", "France"}},
		{"trailing single letter", "Plan B.", []string{"Plan", "B", "."}},
		{"unicode", "Zürich und São Paulo", []string{"Zürich", "und", "São", "Paulo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Words(Tokenize(tt.text))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenize_Offsets(t *testing.T) {
	text := "  Zürich,\tand  Bern"
	tokens := UnigramTokenizer{}.Tokenize(text)
	assert.Len(t, tokens, 4)
	for _, tok := range tokens {
		assert.Equal(t, tok.Text, text[tok.Offset:tok.End()])
	}
	assert.Equal(t, 2, tokens[0].Offset)
	assert.Equal(t, len("  Zürich"), tokens[1].Offset)
}
