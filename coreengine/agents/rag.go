package agents

import (
	"context"

	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

// RAGHandler retrieves guidance documents for the query, memory first, and
// attaches the knowledge block plus recent interaction context.
func RAGHandler(engine *rag.Engine) HandleFunc {
	return func(ctx context.Context, env *envelope.Envelope) error {
		state := typeutil.SafeStringDefault(env.Payload["state"], "")
		query := typeutil.SafeStringDefault(env.Payload["query"], "")

		result := engine.Retrieve(ctx, state, query)

		chunks := make([]map[string]any, 0, len(result.TopChunks))
		for _, c := range result.TopChunks {
			chunks = append(chunks, map[string]any{"text": c.Text, "score": c.Score})
		}

		snippet := make([]map[string]any, 0)
		for _, entry := range engine.MemorySnippet(3) {
			snippet = append(snippet, map[string]any{
				"jurisdiction":   entry.Jurisdiction,
				"query":          entry.Query,
				"retrieved_docs": entry.RetrievedDocs,
			})
		}

		env.Set("kb", map[string]any{
			"state":          result.State,
			"retrieved_docs": result.RetrievedDocs,
			"top_chunks":     chunks,
		})
		env.Set("memory_snippet", snippet)
		env.Set("context_used", map[string]any{
			"retrieved_docs": result.RetrievedDocs,
			"memory_hit":     result.MemoryHit,
		})
		return nil
	}
}
