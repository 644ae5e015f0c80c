// Package rag provides sanitized document storage and retrieval over the
// SQLite-backed knowledge base, with an interaction memory consulted before
// any vector search.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/memory"
	"github.com/leaseflow/coreengine/coreengine/observability"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

// DefaultCollection is the knowledge base collection name.
const DefaultCollection = "rental_kb"

// FallbackGuidance is returned when vector search fails entirely.
const FallbackGuidance = "General rental application guidance not available."

// ScoredDoc is one search hit. Score is the raw L2 distance between query
// and document embeddings; lower means closer.
type ScoredDoc struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// RetrievalResult is the outcome of a memory-first retrieval.
type RetrievalResult struct {
	State         string      `json:"state"`
	Query         string      `json:"query"`
	RetrievedDocs []string    `json:"retrieved_docs"`
	TopChunks     []ScoredDoc `json:"top_chunks"`
	MemoryHit     bool        `json:"memory_hit"`
}

// ChunkStore is the persistence surface the engine needs.
type ChunkStore interface {
	InsertChunk(ctx context.Context, chunk *storage.Chunk) error
	ListChunks(ctx context.Context, collection string) ([]*storage.Chunk, error)
	CountChunks(ctx context.Context, collection string) (int, error)
}

// Memory is the interaction history surface the engine needs.
type Memory interface {
	Recall(jurisdiction string) (memory.Entry, bool)
	Remember(jurisdiction, query string, retrievedDocs []string)
	Snapshot(k int) []memory.Entry
	Persist(ctx context.Context)
}

// Engine indexes guidance documents and answers retrieval queries.
type Engine struct {
	store      ChunkStore
	memory     Memory
	embedder   Embedder
	collection string
}

// NewEngine creates a retrieval engine over store and mem.
func NewEngine(store ChunkStore, mem Memory, embedder Embedder) *Engine {
	return &Engine{
		store:      store,
		memory:     mem,
		embedder:   embedder,
		collection: DefaultCollection,
	}
}

// AddDocuments sanitizes, deduplicates, embeds, and stores documents.
// metas and ids are optional parallel slices; nil means no metadata and
// store-generated ids. A caller-supplied id upserts the existing chunk.
// Returns the number of documents stored. Storage errors propagate; callers
// must know when an index write was lost.
func (e *Engine) AddDocuments(ctx context.Context, texts []string, metas []map[string]any, ids []string) (int, error) {
	if metas != nil && len(metas) != len(texts) {
		return 0, fmt.Errorf("metadata count %d does not match document count %d", len(metas), len(texts))
	}
	if ids != nil && len(ids) != len(texts) {
		return 0, fmt.Errorf("id count %d does not match document count %d", len(ids), len(texts))
	}

	type doc struct {
		text string
		meta map[string]any
		id   string
	}
	seen := make(map[string]struct{}, len(texts))
	docs := make([]doc, 0, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		// First occurrence wins, carrying its metadata and id.
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		d := doc{text: SanitizeText(trimmed)}
		if metas != nil {
			d.meta = metas[i]
		}
		if ids != nil {
			d.id = ids[i]
		}
		docs = append(docs, d)
	}
	if len(docs) == 0 {
		log.Warn().Msg("kb_insert_skipped")
		return 0, nil
	}

	clean := make([]string, len(docs))
	for i, d := range docs {
		clean[i] = d.text
	}
	vectors, err := e.embedder.Embed(ctx, clean)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	for i, d := range docs {
		chunk := &storage.Chunk{
			ID:         d.id,
			Collection: e.collection,
			Text:       d.text,
			Metadata:   d.meta,
			Embedding:  vectors[i],
		}
		if err := e.store.InsertChunk(ctx, chunk); err != nil {
			return i, fmt.Errorf("store chunk: %w", err)
		}
	}
	log.Info().Int("count", len(docs)).Msg("kb_insert")
	return len(docs), nil
}

// Search embeds the query and returns the limit closest documents by L2
// distance. An empty query returns no results.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]ScoredDoc, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := e.store.ListChunks(ctx, e.collection)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	scored := make([]ScoredDoc, 0, len(chunks))
	for _, chunk := range chunks {
		scored = append(scored, ScoredDoc{
			Text:  chunk.Text,
			Score: l2Distance(vectors[0], chunk.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score < scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Retrieve answers a jurisdiction-scoped query. The interaction memory is
// consulted first; a hit short-circuits vector search and its documents
// score 1.0. A failing vector search degrades to the fallback guidance text.
// The interaction is always recorded to memory, hit or miss.
func (e *Engine) Retrieve(ctx context.Context, state, query string) RetrievalResult {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state == "" {
		state = "GENERAL"
	}
	if strings.TrimSpace(query) == "" {
		query = fmt.Sprintf("rental application requirements %s", state)
	}

	var docs []string
	var chunks []ScoredDoc
	memoryHit := false

	if entry, ok := e.memory.Recall(state); ok {
		memoryHit = true
		docs = entry.RetrievedDocs
		chunks = make([]ScoredDoc, 0, len(docs))
		for _, text := range docs {
			chunks = append(chunks, ScoredDoc{Text: text, Score: 1.0})
		}
		observability.RecordRetrievalQuery("memory", "hit")
		log.Info().Str("state", state).Msg("rag_memory_hit")
	} else {
		results, err := e.Search(ctx, query, 3)
		if err != nil {
			log.Error().Str("state", state).Err(err).Msg("rag_search_failed")
			docs = []string{FallbackGuidance}
			chunks = []ScoredDoc{}
			observability.RecordRetrievalQuery("vector", "error")
		} else {
			chunks = results
			docs = make([]string, 0, len(results))
			for _, r := range results {
				docs = append(docs, r.Text)
			}
			observability.RecordRetrievalQuery("vector", "success")
		}
	}

	e.memory.Remember(state, query, docs)
	// Durable after every interaction; persistence failures are logged by
	// the store and never fail retrieval.
	e.memory.Persist(ctx)

	return RetrievalResult{
		State:         state,
		Query:         query,
		RetrievedDocs: docs,
		TopChunks:     chunks,
		MemoryHit:     memoryHit,
	}
}

// MemorySnippet returns the k most recent interactions for context blocks.
func (e *Engine) MemorySnippet(k int) []memory.Entry {
	return e.memory.Snapshot(k)
}

// SeedDefaultCorpus indexes the built-in guidance corpus when the knowledge
// base is empty.
func (e *Engine) SeedDefaultCorpus(ctx context.Context) error {
	count, err := e.store.CountChunks(ctx, e.collection)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	if count > 0 {
		return nil
	}
	stored, err := e.AddDocuments(ctx, config.DefaultKnowledgeCorpus, nil, nil)
	if err != nil {
		return err
	}
	log.Info().Int("count", stored).Msg("kb_seeded")
	return nil
}
