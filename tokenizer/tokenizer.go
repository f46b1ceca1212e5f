// Package tokenizer wraps a reference byte-pair encoding so token counts and
// ids are reproducible across processes. Chunking budgets and context
// assembly both count with it.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE the store standardizes on.
const DefaultEncoding = "cl100k_base"

// Tokenizer encodes and decodes text with a fixed BPE encoding.
type Tokenizer struct {
	enc  *tiktoken.Tiktoken
	name string
}

// New returns a tokenizer for DefaultEncoding. Construction can fail when
// the encoding's vocabulary is unavailable; callers that only need rough
// counts may fall back to whitespace counting.
func New() (*Tokenizer, error) {
	return ForEncoding(DefaultEncoding)
}

// ForEncoding returns a tokenizer for a named tiktoken encoding.
func ForEncoding(name string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", name, err)
	}
	return &Tokenizer{enc: enc, name: name}, nil
}

// Name returns the encoding name.
func (t *Tokenizer) Name() string { return t.name }

// Encode returns the token ids for text. Special tokens are treated as
// plain text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode reassembles text from token ids. Decoding the output of Encode
// yields the input bytes unchanged.
func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text that fits in maxTokens.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.enc.Decode(ids[:maxTokens])
}
