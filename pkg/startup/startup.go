// Package startup sequences backend dependencies at process start and
// shutdown. Dependencies declare what they depend on; Start walks the DAG
// and retries the whole sequence with fibonacci backoff.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is one startable backend (redis, graph, storage, worker, ...).
type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type status int

const (
	statusPending status = iota
	statusStarted
	statusStopped
	statusFailed
)

// Startup owns the ordered lifecycle of all registered dependencies.
type Startup struct {
	order        []string
	dependencies map[string]Dependency
	statuses     map[string]status
	logger       ectologger.Logger
	maxAttempts  int
}

func New(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]status),
		logger:       logger,
		maxAttempts:  maxAttempts,
	}
}

// Add registers a dependency. Registration order is the stop order reversed.
func (s *Startup) Add(dep Dependency) {
	if _, ok := s.dependencies[dep.GetName()]; !ok {
		s.order = append(s.order, dep.GetName())
	}
	s.dependencies[dep.GetName()] = dep
}

// Start brings every dependency up in DAG order, retrying the full sequence
// up to maxAttempts times.
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, s.dependencies[name]); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * time.Second
		s.logger.Infof("Retrying startup in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) startDependency(ctx context.Context, dep Dependency) error {
	if s.statuses[dep.GetName()] == statusStarted {
		return nil
	}

	for _, name := range dep.DependsOn() {
		upstream, ok := s.dependencies[name]
		if !ok {
			return fmt.Errorf("dependency '%s' depends on unregistered '%s'", dep.GetName(), name)
		}
		if s.statuses[name] != statusStarted {
			if err := s.startDependency(ctx, upstream); err != nil {
				return err
			}
		}
	}

	s.logger.WithField("dependency", dep.GetName()).Infof("Starting dependency '%s'", dep.GetName())
	if err := dep.Start(ctx); err != nil {
		s.statuses[dep.GetName()] = statusFailed
		return err
	}
	s.statuses[dep.GetName()] = statusStarted
	return nil
}

// Stop brings dependencies down in reverse registration order.
func (s *Startup) Stop(ctx context.Context) error {
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		if s.statuses[name] != statusStarted {
			continue
		}
		dep := s.dependencies[name]
		s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := dep.Stop(ctx); err != nil {
			s.logger.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			return err
		}
		s.statuses[name] = statusStopped
	}
	return nil
}
