package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reportflow/internal/types"
)

// BounceEvent normalizes provider bounce feedback into a common structure.
type BounceEvent struct {
	// DeliveryID correlates the event with the original delivery log row.
	DeliveryID string

	// Type classifies the bounce as HARD or SOFT.
	Type types.BounceType

	// Recipients lists the addresses the relay reported as undeliverable.
	Recipients []string

	// Message is the human-readable diagnostic from the provider.
	Message string

	// Timestamp is when the provider recorded the event.
	Timestamp time.Time
}

// BounceProcessor applies asynchronous bounce feedback to delivery logs.
// Bounces arrive after the send succeeded from the relay's point of view,
// so the only legal transition is SENT to BOUNCED.
type BounceProcessor struct {
	repo   LogRepository
	logger types.Logger
}

// NewBounceProcessor creates a BounceProcessor.
func NewBounceProcessor(repo LogRepository, logger types.Logger) *BounceProcessor {
	return &BounceProcessor{repo: repo, logger: logger}
}

// Process transitions the referenced delivery to BOUNCED. A hard bounce
// additionally records the undeliverable addresses in metadata so operators
// can prune them from the schedule. Events for deliveries that are not in
// SENT are logged and dropped rather than rewriting history.
func (p *BounceProcessor) Process(ctx context.Context, event BounceEvent) error {
	meta := types.DeliveryMetadata{
		BounceType:    string(event.Type),
		BounceMessage: event.Message,
	}
	if event.Type == types.BounceHard {
		meta.InvalidRecipients = event.Recipients
	}

	if err := p.repo.MarkBounced(ctx, event.DeliveryID, meta); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictState {
			p.logger.Warn("dropping bounce event for delivery not in sent state",
				"delivery_id", event.DeliveryID,
				"bounce_type", string(event.Type),
			)
			return nil
		}
		return fmt.Errorf("process bounce: %w", err)
	}

	p.logger.Info("delivery bounced",
		"delivery_id", event.DeliveryID,
		"bounce_type", string(event.Type),
		"invalid_recipients", len(meta.InvalidRecipients),
	)
	return nil
}
