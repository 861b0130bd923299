// Package events publishes discovery lifecycle notifications. Event emission
// is best effort; a broker outage never fails the pipeline work itself.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/kafka"
)

const (
	EventAssetIngested = "asset_ingested"
	EventAssetDeleted  = "asset_deleted"
	EventRunCompleted  = "run_completed"
)

// Emitter publishes lifecycle events.
type Emitter interface {
	AssetIngested(ctx context.Context, assetPath string)
	AssetDeleted(ctx context.Context, assetPath string)
	RunCompleted(ctx context.Context, runID string)
}

// KafkaEmitter publishes events through the Kafka producer.
type KafkaEmitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewKafkaEmitter creates an emitter over the producer.
func NewKafkaEmitter(producer *kafka.Producer, logger ectologger.Logger) *KafkaEmitter {
	return &KafkaEmitter{producer: producer, logger: logger}
}

func (e *KafkaEmitter) AssetIngested(ctx context.Context, assetPath string) {
	e.publish(ctx, &kafka.DiscoveryEvent{EventType: EventAssetIngested, AssetPath: assetPath})
}

func (e *KafkaEmitter) AssetDeleted(ctx context.Context, assetPath string) {
	e.publish(ctx, &kafka.DiscoveryEvent{EventType: EventAssetDeleted, AssetPath: assetPath})
}

func (e *KafkaEmitter) RunCompleted(ctx context.Context, runID string) {
	e.publish(ctx, &kafka.DiscoveryEvent{EventType: EventRunCompleted, RunID: runID})
}

func (e *KafkaEmitter) publish(ctx context.Context, event *kafka.DiscoveryEvent) {
	if err := e.producer.Publish(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warnf("Dropped %s event", event.EventType)
	}
}

// NopEmitter discards every event. Used when no broker is configured.
type NopEmitter struct{}

func (NopEmitter) AssetIngested(context.Context, string) {}
func (NopEmitter) AssetDeleted(context.Context, string)  {}
func (NopEmitter) RunCompleted(context.Context, string)  {}
