package models

import "time"

// JobStatus is the lifecycle state of one unit of work.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusStarted   JobStatus = "STARTED"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusRetrying  JobStatus = "RETRYING"
)

// Terminal reports whether the status is a settled end state. Barriers fire
// on terminal states, success or failure alike.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobKind distinguishes single units of work from composition nodes.
type JobKind string

const (
	// JobKindTask is a single unit of work executed by a worker.
	JobKindTask JobKind = "task"

	// JobKindGroup is a parallel fan-out of children with no body of its own.
	JobKindGroup JobKind = "group"

	// JobKindChord is a fan-out whose last child runs only after every other
	// child has settled.
	JobKindChord JobKind = "chord"
)

// Job is the queue backend's record of one node in a composed run. The
// backend is the source of truth; no standing in-process tree exists.
type Job struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Kind     JobKind   `json:"kind"`
	Args     []string  `json:"args"`
	Status   JobStatus `json:"status"`
	Error    string    `json:"error,omitempty"`
	ParentID string    `json:"parent_id,omitempty"`
	// Children holds ordered child job ids for group/chord nodes.
	Children  []string  `json:"children,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusTree is the reconstructed point-in-time view of one job graph. A nil
// child slot marks a branch whose backend record was evicted or never
// existed; a Ref entry marks a node already reported elsewhere in the tree.
type StatusTree struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Args     []string      `json:"args"`
	Status   JobStatus     `json:"status"`
	Ref      bool          `json:"ref,omitempty"`
	Children []*StatusTree `json:"children"`
}
