// Package ensemble implements hybrid retrieval fusion with cross-encoder reranking.
//
// A [Coordinator] issues the same query to a lexical and a vector [Retriever],
// merges their candidates into a [DeduplicatedSet], hands the unique texts to a
// [RerankScorer], and resolves every reranked text to a stable identifier through
// an [IdentityResolver]:
//
//	┌──────────────────┐   ┌──────────────────┐
//	│ LexicalRetriever │   │ VectorRetriever  │   (concurrent)
//	└────────┬─────────┘   └────────┬─────────┘
//	         └──────────┬───────────┘
//	             Deduplicator.Merge
//	                    │
//	             RerankScorer.Score        (single source of final order)
//	                    │
//	           IdentityResolver.Lookup     (per result)
//	                    │
//	              []RankedResult
//
// # Usage
//
//	coord, err := ensemble.NewCoordinator(lexical, vector, scorer, resolver,
//	    ensemble.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	results, err := coord.Retrieve(ctx, "what did sony license in 1953", 5)
//
// # Failure Policy
//
// The coordinator never retries, times out, or suppresses a collaborator error.
// Every failure is returned as a [*StageError] naming the stage that failed.
// Retrieval, rerank and resolver failures match [ErrCollaboratorFailure]; a
// reranked text the resolver reports as [ErrNotFound] matches
// [ErrIdentityIntegrity] instead. Zero candidates is not an
// error and yields an empty, non-nil result.
//
// # Thread Safety
//
// A Coordinator holds no per-query state and is safe for concurrent use as long
// as its collaborators are.
package ensemble
