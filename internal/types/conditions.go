package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DistributionCondition is the tagged variant describing whether a due
// report should actually be sent this cycle. The Type discriminator selects
// which parameter fields are meaningful:
//
//	ALWAYS           - no parameters
//	THRESHOLD        - Metric, Operator, Bound
//	CHANGE_DETECTION - no parameters (compares content hash to last send)
//	EXCEPTION        - Metric, Min, Max (send when value leaves [Min, Max])
//
// A nil *DistributionCondition on a schedule means ALWAYS.
type DistributionCondition struct {
	Type ConditionType `json:"type"`

	// THRESHOLD and EXCEPTION parameters.
	Metric string `json:"metric,omitempty"`

	// THRESHOLD parameters.
	Operator ConditionOperator `json:"operator,omitempty"`
	Bound    float64           `json:"bound,omitempty"`

	// EXCEPTION parameters.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Validate checks the condition descriptor shape at the admin boundary so
// malformed descriptors are rejected before they ever reach the dispatcher.
func (c *DistributionCondition) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Type {
	case ConditionAlways, ConditionChangeDetection:
		return nil
	case ConditionThreshold:
		if c.Metric == "" {
			return fmt.Errorf("%s: threshold condition requires a metric", ErrCodeValidationInvalidCondition)
		}
		switch c.Operator {
		case OpGreaterThan, OpGreaterThanEq, OpLessThan, OpLessThanEq, OpEqual:
			return nil
		default:
			return fmt.Errorf("%s: unknown operator %q", ErrCodeValidationInvalidCondition, c.Operator)
		}
	case ConditionException:
		if c.Metric == "" {
			return fmt.Errorf("%s: exception condition requires a metric", ErrCodeValidationInvalidCondition)
		}
		if c.Min == nil && c.Max == nil {
			return fmt.Errorf("%s: exception condition requires min or max", ErrCodeValidationInvalidCondition)
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fmt.Errorf("%s: exception min exceeds max", ErrCodeValidationInvalidCondition)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown condition type %q", ErrCodeValidationInvalidCondition, c.Type)
	}
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (c *DistributionCondition) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("distribution condition: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, c)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (c DistributionCondition) Value() (driver.Value, error) {
	return json.Marshal(c)
}
