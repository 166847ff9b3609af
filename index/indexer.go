// Package index finds previously accepted prompts that are semantically
// close to what the user is typing.
package index

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Paranoid-AF/promptbar"
)

const indexBatchSize = 32

// Indexer keeps an in-memory HNSW graph of prompt embeddings.
// A nil embedder disables it: Add and SearchRelevant become no-ops.
type Indexer struct {
	embedder *Embedder

	mu      sync.RWMutex
	graph   *hnsw.Graph[string] // keyed by prompt hash
	prompts map[string]string   // hash -> redacted prompt text
}

// NewIndexer creates an indexer backed by embedder, which may be nil.
func NewIndexer(embedder *Embedder) *Indexer {
	return &Indexer{
		embedder: embedder,
		graph:    hnsw.NewGraph[string](),
		prompts:  make(map[string]string),
	}
}

// FromConfig creates an indexer from the resolved embedding configuration.
func FromConfig(cfg *promptbar.Config) *Indexer {
	if !promptbar.EmbeddingEnabled(cfg) {
		return NewIndexer(nil)
	}
	return NewIndexer(NewEmbedder(
		promptbar.ResolveEmbeddingBaseURL(cfg),
		promptbar.ResolveEmbeddingAPIKey(cfg),
		promptbar.ResolveEmbeddingModel(cfg),
	))
}

// Enabled reports whether an embedder is configured.
func (idx *Indexer) Enabled() bool {
	return idx.embedder != nil
}

// Len returns the number of indexed prompts.
func (idx *Indexer) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.prompts)
}

// Add embeds and indexes prompts that are not indexed yet. Prompts are
// redacted before they are sent to the embedding API.
func (idx *Indexer) Add(ctx context.Context, prompts ...string) error {
	if idx.embedder == nil {
		return nil
	}

	type pending struct{ hash, text string }
	var toEmbed []pending
	seen := make(map[string]bool)

	idx.mu.RLock()
	for _, p := range prompts {
		text := RedactPrompt(strings.TrimSpace(p))
		if text == "" {
			continue
		}
		hash := hashPrompt(text)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		if _, exists := idx.graph.Lookup(hash); !exists {
			toEmbed = append(toEmbed, pending{hash, text})
		}
	}
	idx.mu.RUnlock()

	var nodes []hnsw.Node[string]
	texts := make(map[string]string, len(toEmbed))
	var firstErr error

	for i := 0; i < len(toEmbed); i += indexBatchSize {
		batch := toEmbed[i:min(i+indexBatchSize, len(toEmbed))]
		inputs := make([]string, len(batch))
		for j, b := range batch {
			inputs[j] = b.text
		}

		vectors, err := idx.embedder.EmbedBatch(ctx, inputs)
		if err != nil {
			slog.Error("batch embed error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for j, b := range batch {
			nodes = append(nodes, hnsw.MakeNode(b.hash, vectors[j]))
			texts[b.hash] = b.text
		}
	}

	if len(nodes) > 0 {
		idx.mu.Lock()
		idx.graph.Add(nodes...)
		for k, v := range texts {
			idx.prompts[k] = v
		}
		idx.mu.Unlock()
	}
	return firstErr
}

// SearchRelevant embeds the query and returns the topK most similar prompts.
func (idx *Indexer) SearchRelevant(ctx context.Context, query string, topK int) ([]string, error) {
	if idx.embedder == nil || topK <= 0 || idx.Len() == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, RedactPrompt(query))
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	neighbors := idx.graph.Search(queryVec, topK)
	prompts := make([]string, len(neighbors))
	for i, n := range neighbors {
		prompts[i] = idx.prompts[n.Key]
	}
	return prompts, nil
}

func hashPrompt(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
