package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder embeds texts through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder for the given model.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: openai.NewClient(apiKey), model: model}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings count mismatch: want %d, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// HashedEmbedder is the offline fallback: a deterministic bag-of-words
// embedding built from hashed tokens. It gives stable, meaningful nearest
// neighbors for keyword-overlapping texts without any external service.
type HashedEmbedder struct {
	dim int
}

// NewHashedEmbedder creates a hashed embedder with the given dimension.
func NewHashedEmbedder(dim int) *HashedEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashedEmbedder{dim: dim}
}

// Embed implements Embedder. Never fails.
func (e *HashedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[h.Sum32()%uint32(e.dim)]++
		}
		normalize(vec)
		vectors[i] = vec
	}
	return vectors, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// LazyEmbedder defers construction of the real embedder until first use, so
// process startup never blocks on model or network setup. Construction runs
// exactly once; a failed construction is sticky.
type LazyEmbedder struct {
	factory func() (Embedder, error)

	once     sync.Once
	embedder Embedder
	err      error
}

// NewLazyEmbedder wraps factory in lazy, once-only initialization.
func NewLazyEmbedder(factory func() (Embedder, error)) *LazyEmbedder {
	return &LazyEmbedder{factory: factory}
}

func (l *LazyEmbedder) init() {
	l.once.Do(func() {
		l.embedder, l.err = l.factory()
		if l.err != nil {
			log.Error().Err(l.err).Msg("embedder_init_failed")
		}
	})
}

// Embed implements Embedder.
func (l *LazyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	l.init()
	if l.err != nil {
		return nil, l.err
	}
	return l.embedder.Embed(ctx, texts)
}

// Warmup initializes the embedder and runs one small probe embedding so the
// first real query does not pay the cold-start cost.
func (l *LazyEmbedder) Warmup(ctx context.Context) error {
	l.init()
	if l.err != nil {
		return l.err
	}
	_, err := l.embedder.Embed(ctx, []string{"warmup"})
	return err
}
