// Package metanome calls the external functional-dependency discovery
// service and parses its result artifact.
package metanome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// Discoverer produces dependent/referenced column pairs for the ingested
// corpus. The discovery algorithm runs out of process.
type Discoverer interface {
	Discover(ctx context.Context) ([]models.FDCandidate, error)
}

// Config holds the discovery service configuration.
type Config struct {
	BaseURL string
	// Timeout bounds the synchronous wait for the result artifact. Exceeding
	// it is terminal for the discovery stage, not retried.
	Timeout time.Duration
}

// Client is the HTTP client for the discovery service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  ectologger.Logger
}

// NewClient creates a new discovery client.
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Discover runs dependency discovery over the ingested corpus and returns
// the found column pairs, addressed as "path/column" node ids. Same-asset
// pairs are the caller's to discard.
func (c *Client) Discover(ctx context.Context) ([]models.FDCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "metanome.Client.Discover")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/run", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, fmt.Errorf("%w: dependency discovery exceeded %s", models.ErrCollaboratorTimeout, c.http.Timeout)
		}
		return nil, fmt.Errorf("%w: dependency discovery unreachable: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: dependency discovery returned status %d", models.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var candidates []models.FDCandidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("failed to decode discovery results: %w", err)
	}

	c.logger.WithContext(ctx).Infof("Dependency discovery returned %d candidate pairs", len(candidates))
	return candidates, nil
}

// FilterCrossAsset drops candidates whose endpoints share an asset.
func FilterCrossAsset(candidates []models.FDCandidate) []models.FDCandidate {
	filtered := make([]models.FDCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.CrossAsset() {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
