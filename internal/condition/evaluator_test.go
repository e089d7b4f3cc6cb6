package condition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reportflow/internal/types"
)

func testPayload(metrics map[string]float64) *types.ReportPayload {
	return &types.ReportPayload{
		ReportID:    "rpt_1",
		ReportType:  "sales_summary",
		GeneratedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Metrics:     metrics,
	}
}

func f64(v float64) *float64 { return &v }

func TestShouldSend_NilConditionAlwaysSends(t *testing.T) {
	e := NewEvaluator(nil)

	d := e.ShouldSend(context.Background(), nil, testPayload(nil), "")
	assert.True(t, d.Send)
	assert.False(t, d.Degraded)
	assert.NotEmpty(t, d.ContentHash)
}

func TestShouldSend_Threshold(t *testing.T) {
	e := NewEvaluator(nil)

	tests := []struct {
		name     string
		operator types.ConditionOperator
		bound    float64
		value    float64
		send     bool
	}{
		{"gt crossed", types.OpGreaterThan, 100, 150, true},
		{"gt not crossed", types.OpGreaterThan, 100, 100, false},
		{"gte boundary", types.OpGreaterThanEq, 100, 100, true},
		{"lt crossed", types.OpLessThan, 10, 5, true},
		{"lte boundary", types.OpLessThanEq, 10, 10, true},
		{"eq match", types.OpEqual, 42, 42, true},
		{"eq mismatch", types.OpEqual, 42, 41, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := &types.DistributionCondition{
				Type:     types.ConditionThreshold,
				Metric:   "error_rate",
				Operator: tt.operator,
				Bound:    tt.bound,
			}
			d := e.ShouldSend(context.Background(), cond, testPayload(map[string]float64{"error_rate": tt.value}), "")
			assert.Equal(t, tt.send, d.Send)
			assert.False(t, d.Degraded)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestShouldSend_ThresholdMissingMetricFailsOpen(t *testing.T) {
	e := NewEvaluator(nil)

	cond := &types.DistributionCondition{
		Type:     types.ConditionThreshold,
		Metric:   "missing",
		Operator: types.OpGreaterThan,
		Bound:    1,
	}
	d := e.ShouldSend(context.Background(), cond, testPayload(map[string]float64{"other": 1}), "")
	assert.True(t, d.Send)
	assert.True(t, d.Degraded)
	assert.Contains(t, d.Reason, "missing")
}

func TestShouldSend_UnknownTypeFailsOpen(t *testing.T) {
	e := NewEvaluator(nil)

	cond := &types.DistributionCondition{Type: types.ConditionType("SOMETHING_NEW")}
	d := e.ShouldSend(context.Background(), cond, testPayload(nil), "")
	assert.True(t, d.Send)
	assert.True(t, d.Degraded)
}

func TestShouldSend_ChangeDetection(t *testing.T) {
	e := NewEvaluator(nil)
	cond := &types.DistributionCondition{Type: types.ConditionChangeDetection}
	payload := testPayload(map[string]float64{"revenue": 1000})

	// First send has no previous hash to compare against.
	first := e.ShouldSend(context.Background(), cond, payload, "")
	assert.True(t, first.Send)

	// Identical content skips.
	second := e.ShouldSend(context.Background(), cond, payload, first.ContentHash)
	assert.False(t, second.Send)

	// Changed content sends again.
	changed := testPayload(map[string]float64{"revenue": 2000})
	third := e.ShouldSend(context.Background(), cond, changed, first.ContentHash)
	assert.True(t, third.Send)
}

func TestShouldSend_Exception(t *testing.T) {
	e := NewEvaluator(nil)

	cond := &types.DistributionCondition{
		Type:   types.ConditionException,
		Metric: "latency_p99",
		Min:    f64(10),
		Max:    f64(200),
	}

	inRange := e.ShouldSend(context.Background(), cond, testPayload(map[string]float64{"latency_p99": 120}), "")
	assert.False(t, inRange.Send)

	above := e.ShouldSend(context.Background(), cond, testPayload(map[string]float64{"latency_p99": 350}), "")
	assert.True(t, above.Send)

	below := e.ShouldSend(context.Background(), cond, testPayload(map[string]float64{"latency_p99": 2}), "")
	assert.True(t, below.Send)
}

func TestShouldSend_ExceptionMaxOnly(t *testing.T) {
	e := NewEvaluator(nil)

	cond := &types.DistributionCondition{
		Type:   types.ConditionException,
		Metric: "queue_depth",
		Max:    f64(500),
	}

	d := e.ShouldSend(context.Background(), cond, testPayload(map[string]float64{"queue_depth": 100}), "")
	assert.False(t, d.Send)
}

func TestContentHash_StableAcrossMapOrder(t *testing.T) {
	a := testPayload(map[string]float64{"a": 1, "b": 2, "c": 3})
	b := testPayload(map[string]float64{"c": 3, "b": 2, "a": 1})

	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestContentHash_SensitiveToData(t *testing.T) {
	a := testPayload(map[string]float64{"a": 1})
	b := testPayload(map[string]float64{"a": 2})

	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}

func TestContentHash_IgnoresArtifactBytes(t *testing.T) {
	a := testPayload(map[string]float64{"a": 1})
	b := testPayload(map[string]float64{"a": 1})
	a.Artifact = []byte("rendered at 09:00:00")
	b.Artifact = []byte("rendered at 09:00:01")

	assert.Equal(t, ContentHash(a), ContentHash(b))
}
