package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/paddock/internal/globaltime"
)

const (
	EventDuplicateFound = "duplicate.found"
	EventStatusChanged  = "contribution.status_changed"
)

// Event is a fire-and-forget notification consumed by the real-time layer.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	DatasetID      int64          `json:"dataset_id"`
	ContributionID int64          `json:"contribution_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Sink delivers events somewhere. Implementations must not block the caller
// on delivery problems; publishing never returns an error.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// NewEvent stamps an event with an id and timestamp.
func NewEvent(eventType string, datasetID, contributionID int64, payload map[string]any) Event {
	return Event{
		EventID:        uuid.NewString(),
		Type:           eventType,
		DatasetID:      datasetID,
		ContributionID: contributionID,
		Payload:        payload,
		OccurredAt:     globaltime.UTC(),
	}
}

// LogSink writes events to the structured log. The real-time transport is a
// separate service; this sink is the default in-process consumer.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, event Event) {
	if s == nil {
		return
	}
	s.logger.Info().
		Str("event_id", event.EventID).
		Str("event_type", event.Type).
		Int64("dataset_id", event.DatasetID).
		Int64("contribution_id", event.ContributionID).
		Interface("payload", event.Payload).
		Time("occurred_at", event.OccurredAt).
		Msg("notification event")
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}
