package automation

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/hpungsan/beacon/internal/capsule"
)

// Operator is a numeric comparison operator.
type Operator string

const (
	OpLessThan    Operator = "lt"
	OpGreaterThan Operator = "gt"
	OpEqual       Operator = "eq"
)

// Condition is a decoded trigger condition. The concrete types are
// FieldChanged, FieldCompare, FieldEquals and Never.
type Condition interface {
	condition()
}

// FieldChanged matches when the update touches Field.
type FieldChanged struct {
	Field capsule.Field
}

// FieldCompare matches when the capsule's numeric Field compares true against Value.
type FieldCompare struct {
	Field    capsule.Field
	Operator Operator
	Value    float64
}

// FieldEquals matches when the capsule's Field strictly equals Value.
type FieldEquals struct {
	Field capsule.Field
	Value any
}

// Never is a condition that matched no known shape. Raw keeps the original
// object so it round-trips through storage unchanged.
type Never struct {
	Raw map[string]any
}

func (FieldChanged) condition() {}
func (FieldCompare) condition() {}
func (FieldEquals) condition()  {}
func (Never) condition()        {}

// ParseCondition decodes a stored trigger object. Shapes are tried in order:
// {fieldChanged}, {field, operator, value}, {field, value}. Anything else
// decodes to Never.
func ParseCondition(raw map[string]any) Condition {
	if fc, ok := raw["fieldChanged"].(string); ok && strings.TrimSpace(fc) != "" {
		return FieldChanged{Field: capsule.Field(strings.TrimSpace(fc))}
	}

	field, _ := raw["field"].(string)
	field = strings.TrimSpace(field)
	if field == "" {
		return Never{Raw: raw}
	}

	if op, ok := raw["operator"].(string); ok {
		n, err := toFloat(raw["value"])
		if err != nil {
			return Never{Raw: raw}
		}
		return FieldCompare{
			Field:    capsule.Field(field),
			Operator: Operator(strings.ToLower(strings.TrimSpace(op))),
			Value:    n,
		}
	}

	if v, ok := raw["value"]; ok {
		return FieldEquals{Field: capsule.Field(field), Value: v}
	}

	return Never{Raw: raw}
}

// EncodeCondition is the inverse of ParseCondition.
func EncodeCondition(c Condition) map[string]any {
	switch c := c.(type) {
	case FieldChanged:
		return map[string]any{"fieldChanged": string(c.Field)}
	case FieldCompare:
		return map[string]any{"field": string(c.Field), "operator": string(c.Operator), "value": c.Value}
	case FieldEquals:
		return map[string]any{"field": string(c.Field), "value": c.Value}
	case Never:
		if c.Raw == nil {
			return map[string]any{}
		}
		return c.Raw
	}
	return map[string]any{}
}

// Trigger presets offered when creating a hook.
const (
	PresetStatusChange  = "status_change"
	PresetEnergyLow     = "energy_low"
	PresetEnergyHigh    = "energy_high"
	PresetFocusStart    = "focus_start"
	PresetFocusEnd      = "focus_end"
	PresetPrivacyChange = "privacy_change"
)

// PresetCondition maps a preset name to its condition. Unknown names are
// treated as a field name to watch for changes.
func PresetCondition(name string) Condition {
	switch name {
	case PresetStatusChange:
		return FieldChanged{Field: capsule.FieldAvailabilityStatus}
	case PresetEnergyLow:
		return FieldCompare{Field: capsule.FieldEnergyLevel, Operator: OpLessThan, Value: 30}
	case PresetEnergyHigh:
		return FieldCompare{Field: capsule.FieldEnergyLevel, Operator: OpGreaterThan, Value: 80}
	case PresetFocusStart:
		return FieldEquals{Field: capsule.FieldFocusSessionActive, Value: true}
	case PresetFocusEnd:
		return FieldEquals{Field: capsule.FieldFocusSessionActive, Value: false}
	case PresetPrivacyChange:
		return FieldChanged{Field: capsule.FieldPrivacyScope}
	}
	return FieldChanged{Field: capsule.Field(name)}
}

// Matches reports whether cond fires for an update that applied patch and
// produced c. It has no side effects.
func Matches(cond Condition, c *capsule.Capsule, patch *capsule.Patch) bool {
	switch cond := cond.(type) {
	case FieldChanged:
		return patch.Has(cond.Field)

	case FieldCompare:
		v, ok := fieldValue(c, cond.Field)
		if !ok {
			return false
		}
		n, ok := numeric(v)
		if !ok {
			return false
		}
		switch cond.Operator {
		case OpLessThan:
			return n < cond.Value
		case OpGreaterThan:
			return n > cond.Value
		case OpEqual:
			return n == cond.Value
		}
		return false

	case FieldEquals:
		v, ok := fieldValue(c, cond.Field)
		if !ok {
			return false
		}
		return strictEqual(v, cond.Value)

	case Never:
		return false
	}
	return false
}

// fieldValue returns the capsule's value for a known field. An unset focus
// start time is present with a nil value.
func fieldValue(c *capsule.Capsule, f capsule.Field) (any, bool) {
	if c == nil || !capsule.IsField(string(f)) {
		return nil, false
	}
	v, _ := c.Get(f)
	return v, true
}

// numeric accepts Go number types only. Strings and bools never compare.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(n), true
	}
	return 0, false
}

func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := numeric(a); ok {
		bn, ok := numeric(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch v.(type) {
	case bool, nil:
		return 0, fmt.Errorf("condition value %v is not a number", v)
	}
	return cast.ToFloat64E(v)
}
