package pgx

import (
	"context"
	"errors"
	"fmt"

	"lattice/pkg/common"
	"lattice/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

var indexTables = map[store.VectorIndex]struct {
	table  string
	column string
}{
	store.IndexSentences:   {table: "sentences", column: "embedding"},
	store.IndexEntities:    {table: "entities", column: "embedding"},
	store.IndexCommunities: {table: "communities", column: "summary_embedding"},
}

// IndexDimension reports the declared dimension of a named vector index for
// the tenant's active index version.
func (s *GraphDBStorage) IndexDimension(
	ctx context.Context,
	tenantID string,
	index store.VectorIndex,
) (int, error) {
	if _, ok := indexTables[index]; !ok {
		return 0, fmt.Errorf("unknown vector index %q", index)
	}

	var dim int
	err := s.conn.QueryRow(ctx, `
		SELECT d.dimension
		FROM index_dimensions d
		JOIN index_versions v ON v.version = d.version AND v.tenant_id = $1
		WHERE v.active AND d.index_name = $2
	`, tenantID, string(index)).Scan(&dim)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return 0, fmt.Errorf("no active index version declares %q for tenant %s", index, tenantID)
		}
		return 0, wrapStoreErr("index dimension", err)
	}
	return dim, nil
}

// ActiveIndexVersion returns the index version identifier queries pin to.
func (s *GraphDBStorage) ActiveIndexVersion(ctx context.Context, tenantID string) (string, error) {
	var version string
	err := s.conn.QueryRow(ctx, `
		SELECT version FROM index_versions
		WHERE tenant_id = $1 AND active
	`, tenantID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", fmt.Errorf("no active index version for tenant %s", tenantID)
		}
		return "", wrapStoreErr("active index version", err)
	}
	return version, nil
}

// SwapActiveIndexVersion atomically repoints the tenant's active index
// version. In-flight queries keep the version they pinned at start.
func (s *GraphDBStorage) SwapActiveIndexVersion(ctx context.Context, tenantID string, version string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return wrapStoreErr("swap index version", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE index_versions SET active = (version = $2)
		WHERE tenant_id = $1
	`, tenantID, version)
	if err != nil {
		return wrapStoreErr("swap index version", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no index versions recorded for tenant %s", tenantID)
	}

	var active bool
	err = tx.QueryRow(ctx, `
		SELECT active FROM index_versions
		WHERE tenant_id = $1 AND version = $2
	`, tenantID, version).Scan(&active)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return fmt.Errorf("unknown index version %q for tenant %s", version, tenantID)
		}
		return wrapStoreErr("swap index version", err)
	}

	return wrapStoreErr("swap index version", tx.Commit(ctx))
}

// SearchVector queries a named vector index and returns the top-K node ids
// by cosine similarity.
func (s *GraphDBStorage) SearchVector(
	ctx context.Context,
	tenantID string,
	index store.VectorIndex,
	embedding []float32,
	topK int,
) ([]store.VectorMatch, error) {
	target, ok := indexTables[index]
	if !ok {
		return nil, fmt.Errorf("unknown vector index %q", index)
	}
	if topK <= 0 {
		topK = 10
	}

	vec := pgvector.NewVector(embedding)
	sql := fmt.Sprintf(`
		SELECT id, 1 - (%s <=> $1) AS score
		FROM %s
		WHERE tenant_id = $2 AND %s IS NOT NULL
		ORDER BY %s <=> $1, id
		LIMIT $3
	`, target.column, target.table, target.column, target.column)

	rows, err := s.conn.Query(ctx, sql, vec, tenantID, topK)
	if err != nil {
		return nil, wrapStoreErr("vector search", err)
	}
	defer rows.Close()

	matches := make([]store.VectorMatch, 0, topK)
	for rows.Next() {
		var m store.VectorMatch
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, wrapStoreErr("vector search", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("vector search", err)
	}
	return matches, nil
}

// GetSentences returns the sentences with the given ids, tenant-filtered.
func (s *GraphDBStorage) GetSentences(ctx context.Context, tenantID string, ids []string) ([]common.Sentence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.chunk_id, s.document_id, s.text, s.ordinal, s.page, s.tenant_id
		FROM sentences s
		WHERE s.tenant_id = $1 AND s.id = ANY($2)
		ORDER BY s.id
	`, tenantID, ids)
	if err != nil {
		return nil, wrapStoreErr("get sentences", err)
	}
	defer rows.Close()

	return scanSentences(rows)
}

// GetChunks returns the chunks with the given ids, tenant-filtered.
func (s *GraphDBStorage) GetChunks(ctx context.Context, tenantID string, ids []string) ([]common.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT c.id, c.document_id, c.doc_title, c.text, c.heading_path,
		       c.token_count, c.is_summary, c.page, c.tenant_id
		FROM chunks c
		WHERE c.tenant_id = $1 AND c.id = ANY($2)
		ORDER BY c.id
	`, tenantID, ids)
	if err != nil {
		return nil, wrapStoreErr("get chunks", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// ListChunks returns the tenant's full chunk corpus for lexical indexing.
func (s *GraphDBStorage) ListChunks(ctx context.Context, tenantID string) ([]common.Chunk, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.id, c.document_id, c.doc_title, c.text, c.heading_path,
		       c.token_count, c.is_summary, c.page, c.tenant_id
		FROM chunks c
		WHERE c.tenant_id = $1
		ORDER BY c.id
	`, tenantID)
	if err != nil {
		return nil, wrapStoreErr("list chunks", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// ListCommunities returns all communities of the tenant, with summary
// embeddings, for exhaustive per-request similarity scoring.
func (s *GraphDBStorage) ListCommunities(ctx context.Context, tenantID string) ([]common.Community, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.id, c.summary, c.summary_embedding, c.rank, c.tenant_id
		FROM communities c
		WHERE c.tenant_id = $1
		ORDER BY c.id
	`, tenantID)
	if err != nil {
		return nil, wrapStoreErr("list communities", err)
	}
	defer rows.Close()

	communities := make([]common.Community, 0)
	for rows.Next() {
		var c common.Community
		var embedding pgvector.Vector
		if err := rows.Scan(&c.ID, &c.Summary, &embedding, &c.Rank, &c.TenantID); err != nil {
			return nil, wrapStoreErr("list communities", err)
		}
		c.SummaryEmbedding = embedding.Slice()
		communities = append(communities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("list communities", err)
	}
	return communities, nil
}

// CommunityEntities returns the member entities of a community.
func (s *GraphDBStorage) CommunityEntities(ctx context.Context, tenantID string, communityID string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT e.id, e.name, e.degree, e.community_id, e.tenant_id
		FROM entities e
		WHERE e.tenant_id = $1 AND e.community_id = $2
		ORDER BY e.id
	`, tenantID, communityID)
	if err != nil {
		return nil, wrapStoreErr("community entities", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListEntities returns the tenant's entities for seed matching and traversal.
func (s *GraphDBStorage) ListEntities(ctx context.Context, tenantID string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT e.id, e.name, e.degree, e.community_id, e.tenant_id
		FROM entities e
		WHERE e.tenant_id = $1
		ORDER BY e.id
	`, tenantID)
	if err != nil {
		return nil, wrapStoreErr("list entities", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// EntityEdges returns the tenant's co-occurrence edges.
func (s *GraphDBStorage) EntityEdges(ctx context.Context, tenantID string) ([]common.EntityEdge, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT e.source_id, e.target_id, e.weight
		FROM entity_edges e
		WHERE e.tenant_id = $1
		ORDER BY e.source_id, e.target_id
	`, tenantID)
	if err != nil {
		return nil, wrapStoreErr("entity edges", err)
	}
	defer rows.Close()

	edges := make([]common.EntityEdge, 0)
	for rows.Next() {
		var e common.EntityEdge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Weight); err != nil {
			return nil, wrapStoreErr("entity edges", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("entity edges", err)
	}
	return edges, nil
}

// EntitySentences returns sentences mentioning any of the given entities,
// most strongly linked first.
func (s *GraphDBStorage) EntitySentences(
	ctx context.Context,
	tenantID string,
	entityIDs []string,
	limit int,
) ([]common.Sentence, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT s.id, s.chunk_id, s.document_id, s.text, s.ordinal, s.page, s.tenant_id
		FROM sentences s
		JOIN entity_mentions m ON m.sentence_id = s.id
		WHERE s.tenant_id = $1 AND m.entity_id = ANY($2)
		ORDER BY s.id
		LIMIT $3
	`, tenantID, entityIDs, limit)
	if err != nil {
		return nil, wrapStoreErr("entity sentences", err)
	}
	defer rows.Close()

	return scanSentences(rows)
}

// TenantProfile returns the tenant's configured query profile, or empty.
func (s *GraphDBStorage) TenantProfile(ctx context.Context, tenantID string) (string, error) {
	var profile *string
	err := s.conn.QueryRow(ctx, `
		SELECT profile FROM tenants WHERE id = $1
	`, tenantID).Scan(&profile)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", nil
		}
		return "", wrapStoreErr("tenant profile", err)
	}
	if profile == nil {
		return "", nil
	}
	return *profile, nil
}

func scanSentences(rows pgxv5.Rows) ([]common.Sentence, error) {
	sentences := make([]common.Sentence, 0)
	for rows.Next() {
		var s common.Sentence
		if err := rows.Scan(&s.ID, &s.ChunkID, &s.DocumentID, &s.Text, &s.Ordinal, &s.Page, &s.TenantID); err != nil {
			return nil, wrapStoreErr("scan sentences", err)
		}
		sentences = append(sentences, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("scan sentences", err)
	}
	return sentences, nil
}

func scanChunks(rows pgxv5.Rows) ([]common.Chunk, error) {
	chunks := make([]common.Chunk, 0)
	for rows.Next() {
		var c common.Chunk
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.DocTitle, &c.Text, &c.HeadingPath,
			&c.TokenCount, &c.IsSummary, &c.Page, &c.TenantID,
		); err != nil {
			return nil, wrapStoreErr("scan chunks", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("scan chunks", err)
	}
	return chunks, nil
}

func scanEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	entities := make([]common.Entity, 0)
	for rows.Next() {
		var e common.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Degree, &e.CommunityID, &e.TenantID); err != nil {
			return nil, wrapStoreErr("scan entities", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("scan entities", err)
	}
	return entities, nil
}
