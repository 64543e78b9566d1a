// Package preflight runs the checks behind 'hybridrank doctor': the data
// directory is writable and has room, the file descriptor limit is high
// enough, the index opens with the configured embedder and the reranker
// answers its health check.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // not ready to serve
//	}
package preflight
