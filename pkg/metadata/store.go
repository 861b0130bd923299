// Package metadata maps asset storage paths to their graph-node identifiers
// and ingestion status. A present record is the ingestion idempotency marker.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/redis"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

const assetKeyPrefix = "asset:"

// Store is the Redis-backed metadata index.
type Store struct {
	client *redis.Client
	logger ectologger.Logger
}

// NewStore creates a new metadata store.
func NewStore(client *redis.Client, logger ectologger.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Put writes the asset record. This is the commit point of an ingest: it
// must be the last step of the unit of work and must not run on partial
// failure.
func (s *Store) Put(ctx context.Context, record *models.AssetRecord) error {
	ctx, span := tracing.StartSpan(ctx, "metadata.Store.Put")
	defer span.End()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal asset record: %w", err)
	}
	if err := s.client.Set(ctx, assetKeyPrefix+record.Path, data, 0); err != nil {
		return fmt.Errorf("failed to store asset record for %s: %w", record.Path, err)
	}
	return nil
}

// Get returns the asset record for a path, or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (*models.AssetRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "metadata.Store.Get")
	defer span.End()

	raw, err := s.client.Get(ctx, assetKeyPrefix+path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset record for %s: %w", path, err)
	}
	if raw == "" {
		return nil, models.ErrNotFound
	}

	var record models.AssetRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to decode asset record for %s: %w", path, err)
	}
	return &record, nil
}

// Exists reports whether the asset has been ingested.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "metadata.Store.Exists")
	defer span.End()

	return s.client.Exists(ctx, assetKeyPrefix+path)
}

// Delete removes one asset record from the index.
func (s *Store) Delete(ctx context.Context, path string) error {
	ctx, span := tracing.StartSpan(ctx, "metadata.Store.Delete")
	defer span.End()

	if err := s.client.Del(ctx, assetKeyPrefix+path); err != nil {
		return fmt.Errorf("failed to delete asset record for %s: %w", path, err)
	}
	return nil
}

// List returns every ingested asset record.
func (s *Store) List(ctx context.Context) ([]models.AssetRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "metadata.Store.List")
	defer span.End()

	keys, err := s.client.ScanKeys(ctx, assetKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset records: %w", err)
	}

	records := make([]models.AssetRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset record %s: %w", key, err)
		}
		if raw == "" {
			continue
		}
		var record models.AssetRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Skipping undecodable asset record %s", key)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Purge removes every asset record from the index.
func (s *Store) Purge(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "metadata.Store.Purge")
	defer span.End()

	keys, err := s.client.ScanKeys(ctx, assetKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to scan asset records: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to purge asset records: %w", err)
	}
	return nil
}
