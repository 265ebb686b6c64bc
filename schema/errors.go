package schema

import "errors"

// Error kinds shared across the retrieval and answering packages. Packages wrap
// these with their own context; callers classify with errors.Is.
var (
	// ErrConfig marks invalid configuration. Fatal at startup.
	ErrConfig = errors.New("config error")
	// ErrProvider marks a failed or malformed embedding/generation provider call.
	ErrProvider = errors.New("provider error")
	// ErrConsistency marks an embedding dimension mismatch within one corpus.
	ErrConsistency = errors.New("consistency error")
	// ErrFeatureDisabled marks a call to a search path switched off by a runtime flag.
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrRetrieval marks a query for which every retrieval path failed.
	ErrRetrieval = errors.New("retrieval error")
	// ErrNotInitialized marks use of the retrieval subsystem before it is ready.
	ErrNotInitialized = errors.New("retrieval not initialized")
)
