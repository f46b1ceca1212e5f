// Package orchestrator glues the store, chunker, and embedding provider into
// the two high-level memory operations: Remember ingests text as indexed
// chunk frames in one atomic commit, and Recall answers a query with a
// hybrid-ranked context assembled under a token budget.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/waxlabs/waxgo"
	"github.com/waxlabs/waxgo/chunker"
	"github.com/waxlabs/waxgo/embedding"
	"github.com/waxlabs/waxgo/factstore"
	"github.com/waxlabs/waxgo/frame"
)

// TokenCounter measures and trims text for the context budget. Both
// tokenizer.Tokenizer and the whitespace fallback satisfy it.
type TokenCounter interface {
	CountTokens(text string) int
	Truncate(text string, maxTokens int) string
}

// whitespaceCounter approximates tokens by whitespace-delimited words. Used
// when no real tokenizer is configured.
type whitespaceCounter struct{}

func (whitespaceCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func (whitespaceCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}

type config struct {
	chunk            chunker.Strategy
	ingestBatchSize  int
	rrfK             int
	alpha            float32
	maxContextTokens int
	counter          TokenCounter
}

// Option configures an Orchestrator.
type Option func(*config)

// WithChunking sets the ingestion window and overlap in tokens.
func WithChunking(targetTokens, overlapTokens int) Option {
	return func(c *config) {
		c.chunk = chunker.Strategy{TargetTokens: targetTokens, OverlapTokens: overlapTokens}
	}
}

// WithIngestBatchSize caps how many chunks go to the embedder per batch
// call. Batches run concurrently.
func WithIngestBatchSize(n int) Option {
	return func(c *config) {
		c.ingestBatchSize = n
	}
}

// WithRRFK sets the reciprocal-rank-fusion constant.
func WithRRFK(k int) Option {
	return func(c *config) {
		c.rrfK = k
	}
}

// WithAlpha sets the text channel weight in [0, 1]; the vector channel gets
// the complement.
func WithAlpha(alpha float32) Option {
	return func(c *config) {
		c.alpha = alpha
	}
}

// WithContextBudget caps the total tokens Recall assembles. Zero disables
// the cap.
func WithContextBudget(maxTokens int) Option {
	return func(c *config) {
		c.maxContextTokens = maxTokens
	}
}

// WithTokenCounter replaces the whitespace fallback with a real tokenizer.
func WithTokenCounter(counter TokenCounter) Option {
	return func(c *config) {
		c.counter = counter
	}
}

// Orchestrator drives ingestion and retrieval against one store.
type Orchestrator struct {
	store    *waxgo.Store
	embedder embedding.Provider
	cfg      config
}

// New returns an orchestrator over store and embedder.
func New(store *waxgo.Store, embedder embedding.Provider, optFns ...Option) *Orchestrator {
	cfg := config{
		chunk:           chunker.Strategy{TargetTokens: 256, OverlapTokens: 32},
		ingestBatchSize: 16,
		rrfK:            60,
		alpha:           0.5,
		counter:         whitespaceCounter{},
	}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.rrfK <= 0 {
		cfg.rrfK = 60
	}
	if cfg.ingestBatchSize <= 0 {
		cfg.ingestBatchSize = 16
	}
	return &Orchestrator{store: store, embedder: embedder, cfg: cfg}
}

// Remember chunks content, embeds every chunk, and commits the chunk frames
// together with their text and vector index entries in one transaction. It
// returns the frame ids in chunk order.
func (o *Orchestrator) Remember(ctx context.Context, content string) ([]uint64, error) {
	chunks := chunker.Chunk(content, o.cfg.chunk)

	vecs := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(chunks); start += o.cfg.ingestBatchSize {
		end := min(len(chunks), start+o.cfg.ingestBatchSize)
		g.Go(func() error {
			batch, err := embedding.Batch(gctx, o.embedder, chunks[start:end])
			if err != nil {
				return fmt.Errorf("embed chunks [%d:%d]: %w", start, end, err)
			}
			copy(vecs[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sess, err := o.store.OpenSession(ctx, waxgo.ReadWriteConfig())
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	ids := make([]uint64, 0, len(chunks))
	for i, chunk := range chunks {
		id, err := sess.Put([]byte(chunk),
			frame.WithRole(frame.RoleChunk),
			frame.WithKind("memory"),
			frame.WithEmbedding(vecs[i]),
		)
		if err != nil {
			return nil, err
		}
		if err := sess.IndexText(id, chunk); err != nil {
			return nil, err
		}
		if err := sess.IndexVector(id, vecs[i]); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := sess.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Source names the retrieval channel that surfaced an item.
type Source uint8

const (
	// SourceText marks a lexical match.
	SourceText Source = iota + 1
	// SourceVector marks an embedding similarity match.
	SourceVector
)

func (s Source) String() string {
	switch s {
	case SourceText:
		return "text"
	case SourceVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Item is one ranked entry of a recalled context.
type Item struct {
	FrameID uint64
	Score   float32
	Text    string
	Tokens  int
	Sources []Source
}

// Context is the assembled answer to a Recall.
type Context struct {
	Query       string
	Items       []Item
	TotalTokens int
}

// Recall runs the query through both retrieval channels, fuses the ranked
// lists with reciprocal rank fusion, and packs the winners into a context.
// When a token budget is set, the first overflowing item is truncated to the
// remaining budget and assembly stops there.
func (o *Orchestrator) Recall(ctx context.Context, query string, topK int) (Context, error) {
	if topK <= 0 {
		return Context{}, waxgo.ErrInvalidLimit
	}

	sess, err := o.store.OpenSession(ctx, waxgo.ReadOnlyConfig())
	if err != nil {
		return Context{}, err
	}
	defer sess.Close()

	textHits, err := sess.SearchText(query, topK)
	if err != nil {
		return Context{}, err
	}
	queryVec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return Context{}, fmt.Errorf("embed query: %w", err)
	}
	vectorHits, err := sess.SearchVector(queryVec, topK)
	if err != nil {
		return Context{}, err
	}

	type aggregate struct {
		score   float32
		sources []Source
	}
	fused := make(map[uint64]*aggregate)
	channel := func(ids []uint64, weight float32, source Source) {
		base := float32(o.cfg.rrfK)
		for rank, id := range ids {
			agg := fused[id]
			if agg == nil {
				agg = &aggregate{}
				fused[id] = agg
			}
			agg.score += weight / (base + float32(rank+1))
			agg.sources = append(agg.sources, source)
		}
	}
	textIDs := make([]uint64, len(textHits))
	for i, h := range textHits {
		textIDs[i] = h.FrameID
	}
	vectorIDs := make([]uint64, len(vectorHits))
	for i, h := range vectorHits {
		vectorIDs[i] = h.FrameID
	}
	alpha := min(max(o.cfg.alpha, 0), 1)
	channel(textIDs, alpha, SourceText)
	channel(vectorIDs, 1-alpha, SourceVector)

	ranked := make([]Item, 0, len(fused))
	for id, agg := range fused {
		ranked = append(ranked, Item{FrameID: id, Score: agg.score, Sources: agg.sources})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].FrameID < ranked[j].FrameID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := Context{Query: query}
	for _, item := range ranked {
		content, err := sess.FrameContent(item.FrameID)
		if err != nil {
			return Context{}, err
		}
		text := string(content)
		tokens := o.cfg.counter.CountTokens(text)

		if o.cfg.maxContextTokens > 0 {
			remaining := o.cfg.maxContextTokens - out.TotalTokens
			if remaining <= 0 {
				break
			}
			if tokens > remaining {
				text = o.cfg.counter.Truncate(text, remaining)
				tokens = o.cfg.counter.CountTokens(text)
				if tokens == 0 {
					break
				}
			}
		}

		item.Text = text
		item.Tokens = tokens
		out.TotalTokens += tokens
		out.Items = append(out.Items, item)

		if o.cfg.maxContextTokens > 0 && out.TotalTokens >= o.cfg.maxContextTokens {
			break
		}
	}
	return out, nil
}

// RememberFact asserts a fact in its own commit and returns the fact id.
func (o *Orchestrator) RememberFact(ctx context.Context, subject factstore.EntityKey, predicate factstore.PredicateKey, object factstore.Value, valid factstore.Interval, evidence ...uint64) (uint64, error) {
	sess, err := o.store.OpenSession(ctx, waxgo.ReadWriteConfig())
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	id, err := sess.AssertFact(subject, predicate, object, valid, evidence...)
	if err != nil {
		return 0, err
	}
	if err := sess.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// ForgetFact retracts the open versions of (subject, predicate) in its own
// commit.
func (o *Orchestrator) ForgetFact(ctx context.Context, subject factstore.EntityKey, predicate factstore.PredicateKey) error {
	sess, err := o.store.OpenSession(ctx, waxgo.ReadWriteConfig())
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.RetractFact(subject, predicate); err != nil {
		return err
	}
	return sess.Commit(ctx)
}

// RecallFacts queries the fact ledger as of a system-time instant.
func (o *Orchestrator) RecallFacts(ctx context.Context, subject factstore.EntityKey, predicate factstore.PredicateKey, asOf factstore.AsOf, limit int) ([]factstore.Fact, error) {
	sess, err := o.store.OpenSession(ctx, waxgo.ReadOnlyConfig())
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.Facts(subject, predicate, asOf, limit)
}
