package queue

import (
	"context"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// RestoreStatusTree rebuilds the point-in-time status view of a job graph
// from backend records alone. Branches whose records are gone come back as
// nil slots; a node reachable through more than one branch is reported in
// full once and as a Ref leaf everywhere else.
func (q *Queue) RestoreStatusTree(ctx context.Context, rootID string) (*models.StatusTree, error) {
	visited := make(map[string]bool)
	return q.restore(ctx, rootID, visited)
}

func (q *Queue) restore(ctx context.Context, id string, visited map[string]bool) (*models.StatusTree, error) {
	job, err := q.backend.GetJob(ctx, id)
	if err == models.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if visited[id] {
		return &models.StatusTree{
			ID:     job.ID,
			Name:   job.Name,
			Status: job.Status,
			Ref:    true,
		}, nil
	}
	visited[id] = true

	node := &models.StatusTree{
		ID:     job.ID,
		Name:   job.Name,
		Args:   job.Args,
		Status: job.Status,
	}

	for _, childID := range job.Children {
		child, err := q.restore(ctx, childID, visited)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	if job.Kind != models.JobKindTask {
		node.Status = containerStatus(node.Children)
	}

	return node, nil
}

// containerStatus folds child states into one. Missing branches are treated
// as not settled so a partially evicted run never reads as finished. A
// container with no children at all has nothing left to wait for and reads
// as succeeded; an incremental run over an empty corpus composes exactly
// such an empty match group.
func containerStatus(children []*models.StatusTree) models.JobStatus {
	allSucceeded := true
	allTerminal := true
	anyFailed := false
	anyActive := false

	for _, child := range children {
		if child == nil {
			allSucceeded = false
			allTerminal = false
			continue
		}
		switch child.Status {
		case models.JobStatusSucceeded:
		case models.JobStatusFailed:
			allSucceeded = false
			anyFailed = true
		case models.JobStatusStarted, models.JobStatusRetrying:
			allSucceeded = false
			allTerminal = false
			anyActive = true
		default:
			allSucceeded = false
			allTerminal = false
		}
	}

	switch {
	case len(children) == 0:
		return models.JobStatusSucceeded
	case allSucceeded:
		return models.JobStatusSucceeded
	case anyFailed && allTerminal:
		return models.JobStatusFailed
	case anyActive:
		return models.JobStatusStarted
	default:
		return models.JobStatusPending
	}
}
