// Package events publishes per-line adjudication events to downstream
// collaborators such as payment and member-notification systems.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
)

// Type names an event topic.
type Type string

const (
	TypeLineAdjudicated Type = "line.adjudicated"
	TypeLineReversed    Type = "line.reversed"
)

// Event is emitted once a claim line reaches a terminal outcome or a
// committed line is reversed.
type Event struct {
	ID                   string           `json:"id"`
	Type                 Type             `json:"type"`
	ClaimLineID          string           `json:"claim_line_id"`
	ClaimID              string           `json:"claim_id"`
	MemberID             string           `json:"member_id,omitempty"`
	Outcome              model.Outcome    `json:"outcome,omitempty"`
	ReasonCode           model.ReasonCode `json:"reason_code,omitempty"`
	ApprovedAmount       model.Money      `json:"approved_amount"`
	MemberResponsibility model.Money      `json:"member_responsibility"`
	AccumulatorKey       string           `json:"accumulator_key,omitempty"`
	AccumulatorDelta     model.UsageDelta `json:"accumulator_delta"`
	Timestamp            time.Time        `json:"timestamp"`
}

// FromResult builds the adjudication event for a line result.
func FromResult(r model.AdjudicationResult) Event {
	return Event{
		ID:                   uuid.New().String(),
		Type:                 TypeLineAdjudicated,
		ClaimLineID:          r.ClaimLineID,
		ClaimID:              r.ClaimID,
		MemberID:             r.MemberID,
		Outcome:              r.Outcome,
		ReasonCode:           r.ReasonCode,
		ApprovedAmount:       r.ApprovedAmount,
		MemberResponsibility: r.MemberResponsibility,
		AccumulatorKey:       r.AccumulatorKey,
		AccumulatorDelta:     r.AccumulatorDelta,
		Timestamp:            r.AdjudicatedAt,
	}
}

// FromReversal builds the event for a compensating ledger entry.
func FromReversal(e accumulator.Entry) Event {
	return Event{
		ID:               uuid.New().String(),
		Type:             TypeLineReversed,
		ClaimLineID:      e.ClaimLineID,
		ClaimID:          e.ClaimID,
		MemberID:         e.Key.MemberID,
		AccumulatorKey:   e.Key.String(),
		AccumulatorDelta: e.Delta,
		Timestamp:        e.CreatedAt,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses zap.L().
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.L()
	}
	return &LogPublisher{log: log.With(zap.String("component", "events"))}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info("claim line event",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("claim_line_id", ev.ClaimLineID),
		zap.String("claim_id", ev.ClaimID),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("reason_code", string(ev.ReasonCode)),
		zap.Int64("approved_amount", int64(ev.ApprovedAmount)),
		zap.Int64("member_responsibility", int64(ev.MemberResponsibility)),
		zap.String("accumulator_key", ev.AccumulatorKey),
		zap.Time("timestamp", ev.Timestamp),
	)
	return nil
}

// Multi fans an event out to several publishers and returns the first
// error after trying them all.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
