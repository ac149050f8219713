package capsule

import (
	"fmt"
	"math"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones must resolve on hosts without zoneinfo

	"github.com/spf13/cast"

	"github.com/hpungsan/beacon/internal/errors"
)

// Energy bounds.
const (
	MinEnergyLevel = 0
	MaxEnergyLevel = 100
)

// Normalize validates a patch and coerces each value to the field's plain Go
// type (string, int, bool, int64 or nil). Order is preserved. Unknown or
// immutable fields and out-of-range values are rejected with INVALID_REQUEST.
func Normalize(p *Patch) (*Patch, error) {
	if p.Len() == 0 {
		return nil, errors.NewInvalidRequest("update must contain at least one field")
	}

	out := NewPatch()
	var firstErr error
	p.Each(func(field Field, value any) {
		if firstErr != nil {
			return
		}
		v, err := NormalizeValue(field, value)
		if err != nil {
			firstErr = err
			return
		}
		out.Set(field, v)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// NormalizeValue coerces a single value for field.
func NormalizeValue(field Field, value any) (any, error) {
	switch field {
	case FieldAvailabilityStatus:
		s, err := toEnumString(value)
		if err != nil || !AvailabilityStatus(s).Valid() {
			return nil, invalidField(field, value, "one of available, focus, dnd, away")
		}
		return s, nil

	case FieldEnergyLevel:
		n, err := toWholeNumber(value)
		if err != nil || n < MinEnergyLevel || n > MaxEnergyLevel {
			return nil, invalidField(field, value, "an integer between 0 and 100")
		}
		return int(n), nil

	case FieldTimezone:
		s, ok := value.(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" {
			return nil, invalidField(field, value, "an IANA timezone name")
		}
		if _, err := time.LoadLocation(s); err != nil {
			return nil, invalidField(field, value, "an IANA timezone name")
		}
		return s, nil

	case FieldFocusSessionActive:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, invalidField(field, value, "a boolean")
		}
		return b, nil

	case FieldFocusSessionDuration:
		n, err := toWholeNumber(value)
		if err != nil || n <= 0 {
			return nil, invalidField(field, value, "a positive number of minutes")
		}
		return int(n), nil

	case FieldFocusSessionStartTime:
		if value == nil {
			return nil, nil
		}
		n, err := toWholeNumber(value)
		if err != nil || n < 0 {
			return nil, invalidField(field, value, "a Unix millisecond timestamp or null")
		}
		return n, nil

	case FieldPrivacyScope:
		s, err := toEnumString(value)
		if err != nil || !PrivacyScope(s).Valid() {
			return nil, invalidField(field, value, "one of public, team, private")
		}
		return s, nil
	}

	switch field {
	case "id", "userId", "createdAt", "updatedAt":
		return nil, errors.NewInvalidRequest(fmt.Sprintf("field %q cannot be updated", field))
	}
	return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown field %q", field))
}

func invalidField(field Field, value any, want string) error {
	e := errors.NewInvalidRequest(fmt.Sprintf("%s must be %s (got %v)", field, want, value))
	e.Details = map[string]any{"field": string(field)}
	return e
}

func toEnumString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v)), nil
	case AvailabilityStatus:
		return string(v), nil
	case PrivacyScope:
		return string(v), nil
	}
	return "", fmt.Errorf("not a string: %T", value)
}

// toWholeNumber accepts integer types, integral floats (JSON numbers) and
// numeric strings.
func toWholeNumber(value any) (int64, error) {
	switch v := value.(type) {
	case bool, nil:
		return 0, fmt.Errorf("not a number: %T", value)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("not a whole number: %v", v)
		}
	case float32:
		if float64(v) != math.Trunc(float64(v)) {
			return 0, fmt.Errorf("not a whole number: %v", v)
		}
	}
	return cast.ToInt64E(value)
}
