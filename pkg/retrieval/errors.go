package retrieval

import "errors"

var (
	// ErrDimensionMismatch indicates the query embedding's dimension does
	// not match the target index's declared dimension. This is a
	// configuration error: it is never retried and never degraded to an
	// empty result.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrRerankUnavailable indicates the cross-encoder reranker could not
	// be reached. Callers must fail loudly; silently falling back to
	// unranked vector order previously masked a production bug and is
	// deliberately not supported.
	ErrRerankUnavailable = errors.New("reranker unavailable")

	// ErrLexicalUnavailable indicates the lexical index could not be built
	// or queried. Local Search degrades to vector-only on this error, with
	// an explicit log line.
	ErrLexicalUnavailable = errors.New("lexical index unavailable")
)
