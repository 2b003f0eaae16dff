package model

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	kafka "github.com/segmentio/kafka-go"

	"github.com/crystal-web-archiver/crystal/core/logger"
)

// EventType identifies the kind of event published to the archive event
// bus.
type EventType string

// The event types the bus publishes.
const (
	EventResourceRevisionCreated EventType = "resource_revision_created"
	EventResourceCreated         EventType = "resource_created"
	EventGroupUpdated            EventType = "group_updated"
)

// Event is the JSON payload written to the event bus topic.
type Event struct {
	Type       EventType `json:"type"`
	ResourceID int64     `json:"resource_id,omitempty"`
	RevisionID int64     `json:"revision_id,omitempty"`
	GroupID    int64     `json:"group_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventBus publishes model mutations to a Kafka topic for external
// indexers, adapting the teacher's outbox-backed kafkaWriterByTopic field in
// core/backend/backend.go into an Observer. It is entirely optional
// ambient infrastructure: a nil *EventBus, or one never registered via
// AddObserver, costs nothing.
type EventBus struct {
	NopObserver

	writer *kafka.Writer
}

// NewEventBus returns an EventBus publishing to topic on the given Kafka
// brokers. The writer batches asynchronously and is safe for concurrent use
// from the single foreground goroutine that drives model mutations.
func NewEventBus(brokers []string, topic string) *EventBus {
	return &EventBus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		},
	}
}

// Close flushes and closes the underlying Kafka writer.
func (b *EventBus) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// OnRevision publishes a ResourceRevisionCreated event for every persisted
// revision, matching spec.md's revision-creation notification point.
func (b *EventBus) OnRevision(r *ResourceRevision) {
	b.publish(Event{
		Type:       EventResourceRevisionCreated,
		ResourceID: r.ResourceID,
		RevisionID: r.ID,
		Timestamp:  r.CreatedAt,
	})
}

// OnResource publishes a ResourceCreated event when a new resource row is
// created by link discovery or an explicit root-URL add.
func (b *EventBus) OnResource(op Operation, r *Resource) {
	if op != OperationCreate {
		return
	}
	b.publish(Event{Type: EventResourceCreated, ResourceID: r.ID, URL: r.URL, Timestamp: time.Now()})
}

// OnGroup publishes a GroupUpdated event when a group is created or
// deleted. Changes to a group's download watermark are not published.
func (b *EventBus) OnGroup(op Operation, g *ResourceGroup) {
	b.publish(Event{Type: EventGroupUpdated, GroupID: g.ID, Timestamp: time.Now()})
}

func (b *EventBus) publish(evt Event) {
	if b == nil || b.writer == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Default().WithError(err).Error("eventbus: cannot marshal event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		logger.Default().WithError(err).Error("eventbus: cannot publish event")
	}
}
