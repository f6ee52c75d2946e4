// Package outbox delivers post-commit notifications. Events are written in the
// same transaction as the financial change they describe and handed to
// registered handlers afterwards, so a failing consumer never rolls back money.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/pg"
)

const (
	EventRevenueShareRecorded     = "revenue_share.recorded"
	EventRevenueShareReversed     = "revenue_share.reversed"
	EventTransactionDeferred      = "transaction.deferred"
	EventReconciliationFlagged    = "reconciliation.flagged"
	EventDisbursementTransitioned = "disbursement.transitioned"
)

var (
	ErrEventTypeRequired    = errors.New("outbox: event type is required")
	ErrAggregateIDRequired  = errors.New("outbox: aggregate id is required")
	ErrHandlerNotRegistered = errors.New("outbox: handler not registered")
	ErrHandlerRegistered    = errors.New("outbox: handler already registered")
	ErrEventHandlerRequired = errors.New("outbox: handler is required")
	ErrPayloadTooLarge      = errors.New("outbox: payload exceeds max size")
)

const maxPayloadBytes = 1 << 20

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Event is one stored notification.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// NewEvent builds a pending event with payload marshaled as JSON.
func NewEvent(eventType, aggregateID string, payload any, now time.Time) (Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Event{}, ErrEventTypeRequired
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, ErrAggregateIDRequired
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: failed to marshal %s payload: %w", eventType, err)
	}
	if len(raw) > maxPayloadBytes {
		return Event{}, ErrPayloadTooLarge
	}
	now = now.UTC()
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		Status:      StatusPending,
		AvailableAt: now,
		CreatedAt:   now,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("outbox: failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Enqueue writes ev through q. Call it with the transaction that makes the
// change the event describes.
func Enqueue(ctx context.Context, q pg.Querier, ev Event) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, aggregate_id, payload, status, attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6)`,
		ev.ID, ev.Type, ev.AggregateID, []byte(ev.Payload), ev.AvailableAt, ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", ev.Type, err)
	}
	return nil
}

// Publish builds and enqueues an event in one step.
func Publish(ctx context.Context, q pg.Querier, eventType, aggregateID string, payload any, now time.Time) error {
	ev, err := NewEvent(eventType, aggregateID, payload, now)
	if err != nil {
		return err
	}
	return Enqueue(ctx, q, ev)
}
