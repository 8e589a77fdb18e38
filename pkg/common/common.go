package common

// Chunk represents a contiguous, section-aware span of text within a
// document. Query serving never loads documents as rows; the document id
// and title a citation needs are denormalized onto each chunk.
type Chunk struct {
	ID          string   `json:"id"`
	DocumentID  string   `json:"document_id"`
	DocTitle    string   `json:"doc_title"`
	Text        string   `json:"text"`
	HeadingPath []string `json:"heading_path"`
	TokenCount  int      `json:"token_count"`
	IsSummary   bool     `json:"is_summary"`
	Page        int      `json:"page"`
	TenantID    string   `json:"tenant_id"`
}

// Sentence is the finest-grained text unit in the graph. Ordinal orders
// sentences within their chunk; cross-sentence relations are resolved
// through entity mentions, not stored sentence-to-sentence edges.
type Sentence struct {
	ID         string    `json:"id"`
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	Ordinal    int       `json:"ordinal"`
	Page       int       `json:"page"`
	TenantID   string    `json:"tenant_id"`
}

// Entity represents a named concept extracted from text. Each entity belongs
// to exactly one community; community assignment partitions the entity graph.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Embedding   []float32 `json:"-"`
	Degree      int       `json:"degree"`
	CommunityID string    `json:"community_id"`
	TenantID    string    `json:"tenant_id"`
}

// EntityEdge is a co-occurrence relationship between two entities. Edges are
// undirected for traversal purposes; Weight reflects co-occurrence strength.
type EntityEdge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Weight   float64 `json:"weight"`
}

// Community is a cluster of related entities produced by community
// detection. The summary embedding must share the dimension of the
// query-embedding model in use; a mismatch is a configuration error.
type Community struct {
	ID               string    `json:"id"`
	Summary          string    `json:"summary"`
	SummaryEmbedding []float32 `json:"-"`
	Rank             float64   `json:"rank"`
	TenantID         string    `json:"tenant_id"`
}

// Citation links a claim in a synthesized answer back to the chunk or
// sentence it was grounded on, with document and page provenance.
type Citation struct {
	ChunkID    string `json:"chunk_id,omitempty"`
	SentenceID string `json:"sentence_id,omitempty"`
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

// EvidenceKind distinguishes the origin of a piece of evidence.
type EvidenceKind string

const (
	EvidenceChunk    EvidenceKind = "chunk"
	EvidenceSentence EvidenceKind = "sentence"
	EvidenceClaim    EvidenceKind = "claim"
)

// Evidence is any retrieved sentence, chunk, or extracted claim used to
// ground a synthesized answer. Score carries the retrieval score of the
// stage that produced it; Hop is set by the multi-hop route.
type Evidence struct {
	ID         string       `json:"id"`
	Kind       EvidenceKind `json:"kind"`
	Text       string       `json:"text"`
	DocumentID string       `json:"document_id"`
	DocTitle   string       `json:"doc_title"`
	Page       int          `json:"page"`
	Score      float64      `json:"score"`
	Hop        int          `json:"hop,omitempty"`
	SourceID   string       `json:"source_id,omitempty"`
}

// Citation returns the citation record for a piece of evidence. Claims cite
// their source community through SourceID and carry no page provenance.
func (e Evidence) Citation() Citation {
	c := Citation{
		DocumentID: e.DocumentID,
		Page:       e.Page,
	}
	switch e.Kind {
	case EvidenceSentence:
		c.SentenceID = e.ID
	default:
		c.ChunkID = e.ID
	}
	return c
}
