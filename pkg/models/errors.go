package models

import "errors"

var (
	// ErrNotFound marks an unresolvable asset, column or job id. Mid-traversal
	// it surfaces as an empty result or null branch, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed is the idempotency short-circuit for an asset whose
	// metadata record already exists. It is not a failure.
	ErrAlreadyProcessed = errors.New("asset already processed")

	// ErrUpstreamUnavailable marks an unreachable storage, graph or queue
	// backend. Retryable at the task-queue layer.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCollaboratorTimeout marks a discovery collaborator exceeding its
	// bounded wait. Terminal for that stage only.
	ErrCollaboratorTimeout = errors.New("collaborator timed out")

	// ErrMalformedInput marks an unparseable table. Aborts that asset's
	// ingest only.
	ErrMalformedInput = errors.New("malformed input")
)
