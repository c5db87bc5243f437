package ner

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxWordRunes = 100

// Token is one WordPiece unit with its byte span in the source text
type Token struct {
	ID           int64
	Piece        string
	Start        int
	End          int
	Continuation bool
}

// WordPiece is a BERT-style greedy longest-match tokenizer that keeps
// byte offsets so predictions can be mapped back onto the text.
type WordPiece struct {
	vocab     map[string]int64
	unk       int64
	cls       int64
	sep       int64
	pad       int64
	lowercase bool
}

// LoadWordPiece reads a vocab.txt file, one piece per line
func LoadWordPiece(path string, lowercase bool) (*WordPiece, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer file.Close()

	var pieces []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		pieces = append(pieces, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	return NewWordPiece(pieces, lowercase)
}

// NewWordPiece builds a tokenizer from an ordered vocabulary
func NewWordPiece(pieces []string, lowercase bool) (*WordPiece, error) {
	w := &WordPiece{vocab: make(map[string]int64, len(pieces)), lowercase: lowercase}
	for i, p := range pieces {
		if _, dup := w.vocab[p]; !dup {
			w.vocab[p] = int64(i)
		}
	}

	for name, dst := range map[string]*int64{"[UNK]": &w.unk, "[CLS]": &w.cls, "[SEP]": &w.sep, "[PAD]": &w.pad} {
		id, ok := w.vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", name)
		}
		*dst = id
	}
	return w, nil
}

// Tokenize splits text into WordPiece tokens without special tokens
func (w *WordPiece) Tokenize(text string) []Token {
	var tokens []Token
	for _, word := range splitWords(text) {
		tokens = append(tokens, w.pieces(text, word[0], word[1])...)
	}
	return tokens
}

// Encode wraps a token window with [CLS] and [SEP] and returns the
// model inputs.
func (w *WordPiece) Encode(window []Token) (ids, mask, types []int64) {
	n := len(window) + 2
	ids = make([]int64, 0, n)
	ids = append(ids, w.cls)
	for _, t := range window {
		ids = append(ids, t.ID)
	}
	ids = append(ids, w.sep)

	mask = make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}
	return ids, mask, make([]int64, n)
}

// pieces runs greedy longest-match over the word text[start:end]
func (w *WordPiece) pieces(text string, start, end int) []Token {
	word := text[start:end]
	if utf8.RuneCountInString(word) > maxWordRunes {
		return []Token{{ID: w.unk, Piece: "[UNK]", Start: start, End: end}}
	}

	// byte offset of every rune boundary inside the word
	bounds := make([]int, 0, len(word)+1)
	for i := range word {
		bounds = append(bounds, i)
	}
	bounds = append(bounds, len(word))

	var out []Token
	for i := 0; i < len(bounds)-1; {
		found := false
		for j := len(bounds) - 1; j > i; j-- {
			candidate := w.normalize(word[bounds[i]:bounds[j]])
			if i > 0 {
				candidate = "##" + candidate
			}
			if id, ok := w.vocab[candidate]; ok {
				out = append(out, Token{
					ID:           id,
					Piece:        candidate,
					Start:        start + bounds[i],
					End:          start + bounds[j],
					Continuation: i > 0,
				})
				i = j
				found = true
				break
			}
		}
		if !found {
			return []Token{{ID: w.unk, Piece: "[UNK]", Start: start, End: end}}
		}
	}
	return out
}

func (w *WordPiece) normalize(s string) string {
	if w.lowercase {
		return strings.ToLower(s)
	}
	return s
}

// splitWords returns [start, end) byte spans of whitespace separated words,
// with every punctuation rune split into its own word.
func splitWords(text string) [][2]int {
	var spans [][2]int
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
			spans = append(spans, [2]int{i, i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(text)})
	}
	return spans
}
