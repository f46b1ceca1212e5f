// Package chunker splits text into overlapping token windows for ingestion.
// Chunking is deterministic: identical input and strategy always produce the
// identical sequence, and the streaming variant yields exactly what Chunk
// returns.
package chunker

import (
	"iter"
	"strings"
)

// Strategy controls the window size and overlap, both counted in
// whitespace-delimited tokens.
type Strategy struct {
	// TargetTokens is the window size. Zero or negative disables chunking;
	// the input comes back as a single chunk.
	TargetTokens int

	// OverlapTokens is how many tokens consecutive windows share. When it
	// reaches TargetTokens the step clamps to one token, so every window
	// still advances.
	OverlapTokens int
}

func (s Strategy) step() int {
	overlap := max(0, s.OverlapTokens)
	return max(1, s.TargetTokens-overlap)
}

// Chunk splits text into windows per the strategy. Inputs at or under the
// target come back as one chunk; a whitespace-only input comes back verbatim.
func Chunk(text string, s Strategy) []string {
	var chunks []string
	for c := range Stream(text, s) {
		chunks = append(chunks, c)
	}
	return chunks
}

// Stream yields the chunks of Chunk(text, s) one at a time without building
// the whole slice.
func Stream(text string, s Strategy) iter.Seq[string] {
	return func(yield func(string) bool) {
		if s.TargetTokens <= 0 {
			yield(text)
			return
		}
		tokens := strings.Fields(text)
		if len(tokens) == 0 {
			yield(text)
			return
		}
		if len(tokens) <= s.TargetTokens {
			yield(strings.Join(tokens, " "))
			return
		}

		step := s.step()
		for start := 0; start < len(tokens); start += step {
			end := min(len(tokens), start+s.TargetTokens)
			if !yield(strings.Join(tokens[start:end], " ")) {
				return
			}
			if end == len(tokens) {
				return
			}
		}
	}
}
