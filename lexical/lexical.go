// Package lexical provides the keyword search path over frame text.
//
// The index is a BM25 inverted index kept fully in memory and persisted as a
// section of the checkpoint snapshot. Like the frame table it is versioned:
// committed state lives in an immutable Snapshot, sessions buffer Index and
// Remove ops in a Staging, and commit produces a new Snapshot via Apply.
package lexical

import (
	"errors"
	"math"
	"sort"
	"strings"
)

// BM25 parameters, the conventional defaults.
const (
	k1 = 1.2
	b  = 0.75
)

// ErrInvalidLimit is returned by Search when k is not positive.
var ErrInvalidLimit = errors.New("lexical: limit must be positive")

// Candidate is one ranked search result.
type Candidate struct {
	FrameID uint64
	Score   float32
}

type posting struct {
	id    uint64
	count int
}

// Snapshot is an immutable committed view of the text index.
type Snapshot struct {
	inverted    map[string][]posting
	docLengths  map[uint64]int
	totalLength int64
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		inverted:   make(map[string][]posting),
		docLengths: make(map[uint64]int),
	}
}

// Len returns the number of indexed documents.
func (s *Snapshot) Len() int { return len(s.docLengths) }

// Contains reports whether id has indexed text.
func (s *Snapshot) Contains(id uint64) bool {
	_, ok := s.docLengths[id]
	return ok
}

// tokenize lowercases and splits on whitespace. Deliberately simple; frames
// that need smarter analysis should be chunked and normalized upstream.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Search scores the query against the index with BM25 and returns at most k
// candidates, best first. Ties break on ascending frame id.
func (s *Snapshot) Search(query string, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, ErrInvalidLimit
	}
	if len(s.docLengths) == 0 {
		return nil, nil
	}

	avgDL := float64(s.totalLength) / float64(len(s.docLengths))
	scores := make(map[uint64]float64)

	for _, t := range tokenize(query) {
		postings, ok := s.inverted[t]
		if !ok {
			continue
		}

		idf := s.idf(len(postings))
		for _, p := range postings {
			tf := float64(p.count)
			docLen := float64(s.docLengths[p.id])

			num := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(docLen/avgDL))
			scores[p.id] += idf * (num / denom)
		}
	}

	out := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		out = append(out, Candidate{FrameID: id, Score: float32(score)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].FrameID < out[j].FrameID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// idf computes log(1 + (N - n + 0.5) / (n + 0.5)).
func (s *Snapshot) idf(df int) float64 {
	N := float64(len(s.docLengths))
	n := float64(df)
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

// clone copies the snapshot shallowly. Posting slices are shared with the
// base; mutation helpers below always replace a term's slice rather than
// write through it.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		inverted:    make(map[string][]posting, len(s.inverted)),
		docLengths:  make(map[uint64]int, len(s.docLengths)),
		totalLength: s.totalLength,
	}
	for t, ps := range s.inverted {
		next.inverted[t] = ps
	}
	for id, l := range s.docLengths {
		next.docLengths[id] = l
	}
	return next
}

// applyIndex indexes text under id, replacing any prior text for id.
func (s *Snapshot) applyIndex(id uint64, text string) {
	if _, ok := s.docLengths[id]; ok {
		s.applyRemove(id)
	}

	tokens := tokenize(text)
	s.docLengths[id] = len(tokens)
	s.totalLength += int64(len(tokens))

	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}
	for t, count := range tf {
		ps := s.inverted[t]
		// Full slice expression so append never writes into a shared array.
		s.inverted[t] = append(ps[:len(ps):len(ps)], posting{id: id, count: count})
	}
}

// applyRemove drops id from the index. Unknown ids are a no-op.
func (s *Snapshot) applyRemove(id uint64) {
	length, ok := s.docLengths[id]
	if !ok {
		return
	}

	for t, postings := range s.inverted {
		for i, p := range postings {
			if p.id != id {
				continue
			}
			next := make([]posting, 0, len(postings)-1)
			next = append(next, postings[:i]...)
			next = append(next, postings[i+1:]...)
			if len(next) == 0 {
				delete(s.inverted, t)
			} else {
				s.inverted[t] = next
			}
			break
		}
	}

	delete(s.docLengths, id)
	s.totalLength -= int64(length)
}

// Apply replays buffered ops onto base and returns the resulting snapshot.
// The base is never mutated.
func Apply(base *Snapshot, ops []Op) *Snapshot {
	if len(ops) == 0 {
		return base
	}
	next := base.clone()
	for _, op := range ops {
		switch op.Kind {
		case OpIndex:
			next.applyIndex(op.ID, op.Text)
		case OpRemove:
			next.applyRemove(op.ID)
		}
	}
	return next
}
