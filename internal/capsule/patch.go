package capsule

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Field names a patchable capsule field. The names double as the keys of
// update payloads, history entries and trigger conditions.
type Field string

const (
	FieldAvailabilityStatus    Field = "availabilityStatus"
	FieldEnergyLevel           Field = "energyLevel"
	FieldTimezone              Field = "timezone"
	FieldFocusSessionActive    Field = "focusSessionActive"
	FieldFocusSessionDuration  Field = "focusSessionDuration"
	FieldFocusSessionStartTime Field = "focusSessionStartTime"
	FieldPrivacyScope          Field = "privacyScope"
)

// Fields lists every patchable field in declaration order.
var Fields = []Field{
	FieldAvailabilityStatus,
	FieldEnergyLevel,
	FieldTimezone,
	FieldFocusSessionActive,
	FieldFocusSessionDuration,
	FieldFocusSessionStartTime,
	FieldPrivacyScope,
}

// IsField reports whether name is a patchable field.
func IsField(name string) bool {
	for _, f := range Fields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// Patch is an ordered partial update. Insertion order is significant: the
// first field is the one recorded in history.
type Patch struct {
	om *orderedmap.OrderedMap[string, any]
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{om: orderedmap.New[string, any]()}
}

// PatchOf builds a patch from alternating field/value pairs, keeping order.
func PatchOf(pairs ...any) *Patch {
	if len(pairs)%2 != 0 {
		panic("capsule.PatchOf: odd number of arguments")
	}
	p := NewPatch()
	for i := 0; i < len(pairs); i += 2 {
		switch k := pairs[i].(type) {
		case Field:
			p.Set(k, pairs[i+1])
		case string:
			p.Set(Field(k), pairs[i+1])
		default:
			panic(fmt.Sprintf("capsule.PatchOf: key %v is not a field name", pairs[i]))
		}
	}
	return p
}

func (p *Patch) ensure() {
	if p.om == nil {
		p.om = orderedmap.New[string, any]()
	}
}

// Set assigns a value, keeping the field's original position if already set.
func (p *Patch) Set(field Field, value any) *Patch {
	p.ensure()
	p.om.Set(string(field), value)
	return p
}

// Get returns the value for field.
func (p *Patch) Get(field Field) (any, bool) {
	if p == nil || p.om == nil {
		return nil, false
	}
	return p.om.Get(string(field))
}

// Has reports whether field is present.
func (p *Patch) Has(field Field) bool {
	_, ok := p.Get(field)
	return ok
}

// Len returns the number of fields.
func (p *Patch) Len() int {
	if p == nil || p.om == nil {
		return 0
	}
	return p.om.Len()
}

// First returns the first field in insertion order.
func (p *Patch) First() (Field, any, bool) {
	if p.Len() == 0 {
		return "", nil, false
	}
	pair := p.om.Oldest()
	return Field(pair.Key), pair.Value, true
}

// Fields returns the field names in insertion order.
func (p *Patch) Fields() []Field {
	out := make([]Field, 0, p.Len())
	p.Each(func(f Field, _ any) { out = append(out, f) })
	return out
}

// Each calls fn for every field in insertion order.
func (p *Patch) Each(fn func(Field, any)) {
	if p == nil || p.om == nil {
		return
	}
	for pair := p.om.Oldest(); pair != nil; pair = pair.Next() {
		fn(Field(pair.Key), pair.Value)
	}
}

// Clone returns a shallow copy with the same order.
func (p *Patch) Clone() *Patch {
	out := NewPatch()
	p.Each(func(f Field, v any) { out.Set(f, v) })
	return out
}

// Map returns the patch as a plain map (order is lost).
func (p *Patch) Map() map[string]any {
	out := make(map[string]any, p.Len())
	p.Each(func(f Field, v any) { out[string(f)] = v })
	return out
}

// MarshalJSON encodes the patch as an object in insertion order.
func (p *Patch) MarshalJSON() ([]byte, error) {
	if p == nil || p.om == nil {
		return []byte("{}"), nil
	}
	return p.om.MarshalJSON()
}

// UnmarshalJSON decodes an object, preserving document key order.
func (p *Patch) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		p.om = orderedmap.New[string, any]()
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("patch must be a JSON object")
	}
	om := orderedmap.New[string, any]()
	if err := json.Unmarshal(trimmed, om); err != nil {
		return err
	}
	p.om = om
	return nil
}
