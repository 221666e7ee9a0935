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
	"unicode"
	"unicode/utf8"
)

// Token is a word and the byte offset where it starts in the input text.
type Token struct {
	Text   string
	Offset int
}

// End returns the byte offset just past the token.
func (t Token) End() int { return t.Offset + len(t.Text) }

// Tokenizer splits raw text into word tokens.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// UnigramTokenizer splits text into whole words and punctuation.
//
// Letters and digits form words. A '.', ',' or '-' is kept inside a word when
// it sits between two alphanumerics ("3.14", "1,000", "state-of-the-art",
// "U.S"), and a period directly after a single letter segment is kept too so
// that abbreviations like "U.S." stay whole. Clitics that start with an
// apostrophe ("'s", "'ll") become their own token. Every other non-space rune
// is a token by itself, except that runs of the same punctuation rune
// ("...", "--") are grouped.
type UnigramTokenizer struct{}

var _ Tokenizer = UnigramTokenizer{}

// Tokenize returns the tokens of text in input order.
func (UnigramTokenizer) Tokenize(text string) []Token {
	return Tokenize(text)
}

// Tokenize splits text with a UnigramTokenizer.
func Tokenize(text string) []Token {
	var tokens []Token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case isWordRune(r):
			end := scanWord(text, i)
			tokens = append(tokens, Token{Text: text[i:end], Offset: i})
			i = end
		case isApostrophe(r) && i+size < len(text) && isLetterAt(text, i+size):
			end := i + size
			for end < len(text) {
				nr, ns := utf8.DecodeRuneInString(text[end:])
				if !unicode.IsLetter(nr) {
					break
				}
				end += ns
			}
			tokens = append(tokens, Token{Text: text[i:end], Offset: i})
			i = end
		default:
			end := i + size
			for end < len(text) {
				nr, ns := utf8.DecodeRuneInString(text[end:])
				if nr != r {
					break
				}
				end += ns
			}
			tokens = append(tokens, Token{Text: text[i:end], Offset: i})
			i = end
		}
	}
	return tokens
}

// Words returns the text of each token.
func Words(tokens []Token) []string {
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	return words
}

func scanWord(text string, start int) int {
	end := start
	segLen := 0
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			end += size
			segLen++
			continue
		}
		if r == '.' || r == ',' || r == '-' {
			next := end + size
			if next < len(text) {
				nr, _ := utf8.DecodeRuneInString(text[next:])
				if isWordRune(nr) && (r != ',' || unicode.IsDigit(nr)) {
					end = next
					segLen = 0
					continue
				}
			}
			if r == '.' && segLen == 1 && end > start+1 {
				prev, _ := utf8.DecodeLastRuneInString(text[:end])
				if unicode.IsLetter(prev) {
					return next
				}
			}
		}
		break
	}
	return end
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

func isLetterAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsLetter(r)
}
