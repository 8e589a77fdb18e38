package retrieval

import (
	"context"
	"fmt"
	"strings"

	"lattice/pkg/common"
	"lattice/pkg/store"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLexicalCacheSize = 16

type lexicalDoc struct {
	Text     string `json:"text"`
	DocTitle string `json:"doc_title"`
	Heading  string `json:"heading"`
}

// LexicalIndex performs BM25-style ranking over a tenant's chunk corpus
// using an in-memory bleve index built from a graph snapshot.
type LexicalIndex struct {
	index bleve.Index
}

// NewLexicalIndex builds an in-memory index over the given chunks.
func NewLexicalIndex(chunks []common.Chunk) (*LexicalIndex, error) {
	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}

	batch := index.NewBatch()
	for _, chunk := range chunks {
		doc := lexicalDoc{
			Text:     chunk.Text,
			DocTitle: chunk.DocTitle,
			Heading:  strings.Join(chunk.HeadingPath, " > "),
		}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}

	return &LexicalIndex{index: index}, nil
}

// Search returns the top-K chunks matching the query, best first.
func (l *LexicalIndex) Search(query string, topK int) ([]Ranked, error) {
	if topK <= 0 {
		topK = 10
	}

	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(match, topK, 0, false)
	res, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}

	ranked := make([]Ranked, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ranked = append(ranked, Ranked{ID: hit.ID, Score: hit.Score})
	}
	return ranked, nil
}

// Close releases the underlying index.
func (l *LexicalIndex) Close() error {
	return l.index.Close()
}

// LexicalProvider builds and caches per-tenant lexical indexes. Cache
// entries are keyed by tenant and index version, so an index-version swap
// naturally invalidates the old snapshot's lexical index.
type LexicalProvider struct {
	reader store.GraphReader
	cache  *lru.Cache[string, *LexicalIndex]
}

// NewLexicalProvider creates a provider with an LRU of built indexes.
func NewLexicalProvider(reader store.GraphReader) (*LexicalProvider, error) {
	cache, err := lru.NewWithEvict[string, *LexicalIndex](
		defaultLexicalCacheSize,
		func(_ string, idx *LexicalIndex) {
			_ = idx.Close()
		},
	)
	if err != nil {
		return nil, err
	}
	return &LexicalProvider{reader: reader, cache: cache}, nil
}

// ForTenant returns the lexical index for a tenant's pinned index version,
// building it from the chunk corpus on first use.
func (p *LexicalProvider) ForTenant(ctx context.Context, tenantID string, indexVersion string) (*LexicalIndex, error) {
	key := tenantID + "@" + indexVersion
	if idx, ok := p.cache.Get(key); ok {
		return idx, nil
	}

	chunks, err := p.reader.ListChunks(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}

	idx, err := NewLexicalIndex(chunks)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, idx)
	return idx, nil
}
