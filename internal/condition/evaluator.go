// Package condition decides whether a due report should actually be sent
// this cycle, based on the schedule's distribution condition and the
// report's metric payload.
//
// Evaluation fails open: a condition that cannot be evaluated (missing
// metric, malformed descriptor) results in a send, never a silent skip.
// A report that goes out needlessly is an annoyance; a report silently
// withheld by a broken condition is a missed delivery nobody notices.
package condition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"reportflow/internal/types"
)

// Decision is the outcome of evaluating a distribution condition against
// one generated report.
type Decision struct {
	// Send reports whether the delivery should proceed.
	Send bool

	// Reason is a short human-readable explanation, persisted as the skip
	// reason when Send is false and logged when evaluation degrades.
	Reason string

	// ContentHash is the stable hash of the report data, computed for every
	// evaluation so the caller can persist it for future change detection.
	ContentHash string

	// Degraded reports that evaluation hit an error and fell open.
	Degraded bool
}

// Evaluator evaluates distribution conditions.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. A nil logger falls back to
// slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// ShouldSend evaluates cond against the generated payload. previousHash is
// the content hash persisted at the last successful send, empty when the
// schedule has never sent.
//
// A nil condition and ALWAYS both send unconditionally. Evaluation errors
// fail open: the decision is Send=true with Degraded set and the cause in
// Reason, and a warning is logged.
func (e *Evaluator) ShouldSend(ctx context.Context, cond *types.DistributionCondition, payload *types.ReportPayload, previousHash string) Decision {
	hash := ContentHash(payload)

	if cond == nil || cond.Type == types.ConditionAlways {
		return Decision{Send: true, Reason: "unconditional", ContentHash: hash}
	}

	switch cond.Type {
	case types.ConditionThreshold:
		return e.evalThreshold(ctx, cond, payload, hash)
	case types.ConditionChangeDetection:
		return e.evalChangeDetection(hash, previousHash)
	case types.ConditionException:
		return e.evalException(ctx, cond, payload, hash)
	default:
		return e.failOpen(ctx, hash, fmt.Sprintf("unknown condition type %q", cond.Type))
	}
}

func (e *Evaluator) evalThreshold(ctx context.Context, cond *types.DistributionCondition, payload *types.ReportPayload, hash string) Decision {
	value, ok := payload.Metrics[cond.Metric]
	if !ok {
		return e.failOpen(ctx, hash, fmt.Sprintf("metric %q not present in report", cond.Metric))
	}

	var crossed bool
	switch cond.Operator {
	case types.OpGreaterThan:
		crossed = value > cond.Bound
	case types.OpGreaterThanEq:
		crossed = value >= cond.Bound
	case types.OpLessThan:
		crossed = value < cond.Bound
	case types.OpLessThanEq:
		crossed = value <= cond.Bound
	case types.OpEqual:
		crossed = value == cond.Bound
	default:
		return e.failOpen(ctx, hash, fmt.Sprintf("unknown operator %q", cond.Operator))
	}

	if crossed {
		return Decision{
			Send:        true,
			Reason:      fmt.Sprintf("metric %s=%v crossed threshold %s %v", cond.Metric, value, cond.Operator, cond.Bound),
			ContentHash: hash,
		}
	}
	return Decision{
		Send:        false,
		Reason:      fmt.Sprintf("metric %s=%v within threshold %s %v", cond.Metric, value, cond.Operator, cond.Bound),
		ContentHash: hash,
	}
}

func (e *Evaluator) evalChangeDetection(hash, previousHash string) Decision {
	// A schedule that has never sent has nothing to compare against, so the
	// first report always goes out.
	if previousHash == "" || hash != previousHash {
		return Decision{Send: true, Reason: "report content changed since last send", ContentHash: hash}
	}
	return Decision{Send: false, Reason: "report content unchanged since last send", ContentHash: hash}
}

func (e *Evaluator) evalException(ctx context.Context, cond *types.DistributionCondition, payload *types.ReportPayload, hash string) Decision {
	value, ok := payload.Metrics[cond.Metric]
	if !ok {
		return e.failOpen(ctx, hash, fmt.Sprintf("metric %q not present in report", cond.Metric))
	}
	if cond.Min == nil && cond.Max == nil {
		return e.failOpen(ctx, hash, "exception condition has neither min nor max")
	}

	if cond.Min != nil && value < *cond.Min {
		return Decision{
			Send:        true,
			Reason:      fmt.Sprintf("metric %s=%v below minimum %v", cond.Metric, value, *cond.Min),
			ContentHash: hash,
		}
	}
	if cond.Max != nil && value > *cond.Max {
		return Decision{
			Send:        true,
			Reason:      fmt.Sprintf("metric %s=%v above maximum %v", cond.Metric, value, *cond.Max),
			ContentHash: hash,
		}
	}
	return Decision{
		Send:        false,
		Reason:      fmt.Sprintf("metric %s=%v within expected range", cond.Metric, value),
		ContentHash: hash,
	}
}

func (e *Evaluator) failOpen(ctx context.Context, hash, reason string) Decision {
	e.logger.WarnContext(ctx, "condition evaluation degraded, sending anyway",
		slog.String("reason", reason),
	)
	return Decision{Send: true, Reason: reason, ContentHash: hash, Degraded: true}
}

// ContentHash computes a stable SHA-256 over the report's identity and
// metric data. Metrics are serialized in sorted key order so two payloads
// with the same data always hash identically regardless of map iteration
// order. The rendered artifact bytes are excluded: generators embed
// timestamps in artifacts, which would defeat change detection.
func ContentHash(payload *types.ReportPayload) string {
	if payload == nil {
		return ""
	}

	keys := make([]string, 0, len(payload.Metrics))
	for k := range payload.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(payload.ReportID))
	h.Write([]byte{0})
	h.Write([]byte(payload.ReportType))
	h.Write([]byte{0})
	for _, k := range keys {
		v, _ := json.Marshal(payload.Metrics[k])
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(v)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
