package index

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
)

type cacheFile struct {
	Model   string       `json:"model"`
	Entries []cacheEntry `json:"entries"`
}

type cacheEntry struct {
	Hash      string    `json:"hash"`
	Prompt    string    `json:"prompt"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingModel returns the model name used by the embedder, or empty if disabled.
func (idx *Indexer) EmbeddingModel() string {
	if idx.embedder == nil {
		return ""
	}
	return idx.embedder.Model()
}

// SaveCache writes the current index (prompts + embeddings) to disk.
func (idx *Indexer) SaveCache(path string) error {
	idx.mu.RLock()
	entries := make([]cacheEntry, 0, len(idx.prompts))
	for hash, text := range idx.prompts {
		vec, ok := idx.graph.Lookup(hash)
		if !ok {
			continue
		}
		entries = append(entries, cacheEntry{Hash: hash, Prompt: text, Embedding: vec})
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(cacheFile{Model: idx.EmbeddingModel(), Entries: entries})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

// LoadCache loads a previously saved index from disk. A missing file or a
// cache built with a different model is skipped without error.
func (idx *Indexer) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return err
	}
	if cf.Model != idx.EmbeddingModel() {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	nodes := make([]hnsw.Node[string], 0, len(cf.Entries))
	for _, e := range cf.Entries {
		if _, exists := idx.graph.Lookup(e.Hash); exists {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(e.Hash, e.Embedding))
		idx.prompts[e.Hash] = e.Prompt
	}
	if len(nodes) > 0 {
		idx.graph.Add(nodes...)
	}
	return nil
}
