package store

import (
	"context"
	"errors"

	"lattice/pkg/common"
)

// ErrUnavailable indicates the graph store cannot be reached. It is a hard
// failure for the request and is retryable by the caller.
var ErrUnavailable = errors.New("graph store unavailable")

// VectorIndex names a per-node-type vector index. Each index declares a
// fixed embedding dimension; queries against it must embed with a model of
// the same dimension.
type VectorIndex string

const (
	IndexSentences   VectorIndex = "sentence_embeddings"
	IndexEntities    VectorIndex = "entity_embeddings"
	IndexCommunities VectorIndex = "community_embeddings"
)

// VectorMatch is a single hit from a vector index query. Score is cosine
// similarity in [−1, 1].
type VectorMatch struct {
	ID    string
	Score float64
}

// GraphReader is the query-time contract against the graph produced by the
// indexing job. All reads are tenant-filtered; the core never mutates the
// graph during query serving.
type GraphReader interface {
	// IndexDimension reports the declared embedding dimension of a named
	// vector index for the tenant's active index version.
	IndexDimension(ctx context.Context, tenantID string, index VectorIndex) (int, error)

	// ActiveIndexVersion returns the index version identifier a single
	// query must pin to.
	ActiveIndexVersion(ctx context.Context, tenantID string) (string, error)

	// SearchVector queries the named index and returns the top-K node ids
	// by cosine similarity.
	SearchVector(ctx context.Context, tenantID string, index VectorIndex, embedding []float32, topK int) ([]VectorMatch, error)

	GetSentences(ctx context.Context, tenantID string, ids []string) ([]common.Sentence, error)
	GetChunks(ctx context.Context, tenantID string, ids []string) ([]common.Chunk, error)

	// ListChunks returns the tenant's chunk corpus for lexical indexing.
	ListChunks(ctx context.Context, tenantID string) ([]common.Chunk, error)

	// ListCommunities returns all communities of the tenant. Community
	// scoring is exhaustive and stateless per request.
	ListCommunities(ctx context.Context, tenantID string) ([]common.Community, error)

	// CommunityEntities returns the member entities of a community.
	CommunityEntities(ctx context.Context, tenantID string, communityID string) ([]common.Entity, error)

	// ListEntities returns the tenant's entities for seed matching and
	// traversal.
	ListEntities(ctx context.Context, tenantID string) ([]common.Entity, error)

	// EntityEdges returns the tenant's co-occurrence edges.
	EntityEdges(ctx context.Context, tenantID string) ([]common.EntityEdge, error)

	// EntitySentences returns sentences that mention any of the given
	// entities, used to turn traversal hits into textual evidence.
	EntitySentences(ctx context.Context, tenantID string, entityIDs []string, limit int) ([]common.Sentence, error)

	// TenantProfile returns the tenant's query profile name, or empty if
	// none is configured. Profiles may force a retrieval route.
	TenantProfile(ctx context.Context, tenantID string) (string, error)
}

// IndexAdmin is the admin-surface extension of the store: swapping the
// active index version is an atomic pointer update, never interleaved with
// in-flight queries assuming the old dimension.
type IndexAdmin interface {
	SwapActiveIndexVersion(ctx context.Context, tenantID string, version string) error
}
