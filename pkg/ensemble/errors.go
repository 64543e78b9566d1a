package ensemble

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrNilDependency is returned when a required collaborator is nil.
	ErrNilDependency = errors.New("nil dependency")

	// ErrEmptyQuery is returned when the query is empty after trimming.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNotFound is returned by an IdentityResolver for unknown text.
	ErrNotFound = errors.New("identity not found")

	// ErrCollaboratorFailure matches retrieval and rerank failures,
	// including malformed collaborator output, and resolver errors other
	// than ErrNotFound.
	ErrCollaboratorFailure = errors.New("collaborator failure")

	// ErrIdentityIntegrity matches a reranked text the resolver reports as
	// ErrNotFound.
	// The candidate set and the identity store are out of sync.
	ErrIdentityIntegrity = errors.New("identity integrity violation")

	// ErrMalformedOutput is wrapped when a collaborator returns output that
	// breaks its contract.
	ErrMalformedOutput = errors.New("malformed collaborator output")
)

// Stage names a step of the retrieval pipeline.
type Stage string

const (
	StageLexicalRetrieval   Stage = "lexical_retrieval"
	StageVectorRetrieval    Stage = "vector_retrieval"
	StageRerank             Stage = "rerank"
	StageIdentityResolution Stage = "identity_resolution"
)

// StageError reports which stage of a query failed.
type StageError struct {
	Stage Stage

	// Text is the passage being resolved for identity faults, empty otherwise.
	Text string

	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Stage == StageIdentityResolution {
		return fmt.Sprintf("%s failed for passage %q: %v", e.Stage, truncate(e.Text, 40), e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the collaborator error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the taxonomy sentinels so callers can classify without
// knowing the stage. Only a resolver miss is an integrity fault; any other
// resolver error (closed registry, cancellation) is a collaborator failure.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrIdentityIntegrity:
		return e.integrityFault()
	case ErrCollaboratorFailure:
		return !e.integrityFault()
	}
	return false
}

func (e *StageError) integrityFault() bool {
	return e.Stage == StageIdentityResolution && errors.Is(e.Err, ErrNotFound)
}

// IsStage reports whether err is a StageError for the given stage.
func IsStage(err error, stage Stage) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == stage
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
