package errors

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// FromStageError converts an error returned by ensemble.Coordinator.Retrieve
// into an AmanError. Errors that already are AmanErrors pass through.
func FromStageError(err error) *AmanError {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}

	if errors.Is(err, ensemble.ErrEmptyQuery) {
		return New(ErrCodeQueryEmpty, "query is empty", err).
			WithSuggestion("Provide a non-blank query")
	}

	var se *ensemble.StageError
	if !errors.As(err, &se) {
		if errors.Is(err, context.DeadlineExceeded) {
			return New(ErrCodeNetworkTimeout, err.Error(), err)
		}
		return New(ErrCodeInternal, err.Error(), err)
	}

	var ae *AmanError
	switch {
	case errors.Is(err, ensemble.ErrIdentityIntegrity):
		ae = New(ErrCodeIdentityIntegrity, se.Error(), err).
			WithSuggestion("The passage registry is out of sync with the indexes; re-run 'hybridrank index'")
		ae.WithDetail("passage", truncate(se.Text, 80))
	case errors.Is(err, ErrCircuitOpen):
		ae = New(ErrCodeCircuitOpen, se.Error(), err).
			WithSuggestion("The reranker failed repeatedly; check that the rerank service is running")
	case errors.Is(err, context.DeadlineExceeded):
		ae = New(ErrCodeNetworkTimeout, se.Error(), err)
	case errors.Is(err, context.Canceled):
		ae = New(ErrCodeInternal, se.Error(), err)
	case se.Stage == ensemble.StageIdentityResolution:
		ae = New(ErrCodeRegistryFailed, se.Error(), err).
			WithSuggestion("Check that the passage registry in the data directory is readable")
	case se.Stage == ensemble.StageRerank:
		ae = New(ErrCodeRerankFailed, se.Error(), err)
	default:
		ae = New(ErrCodeSearchFailed, se.Error(), err)
	}
	return ae.WithDetail("stage", string(se.Stage))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
