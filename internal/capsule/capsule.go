package capsule

import "github.com/oklog/ulid/v2"

// AvailabilityStatus is the user's broadcast availability.
type AvailabilityStatus string

const (
	StatusAvailable AvailabilityStatus = "available"
	StatusFocus     AvailabilityStatus = "focus"
	StatusDND       AvailabilityStatus = "dnd"
	StatusAway      AvailabilityStatus = "away"
)

// Valid reports whether s is one of the known statuses.
func (s AvailabilityStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusFocus, StatusDND, StatusAway:
		return true
	}
	return false
}

// PrivacyScope controls who may see the capsule.
type PrivacyScope string

const (
	ScopePublic  PrivacyScope = "public"
	ScopeTeam    PrivacyScope = "team"
	ScopePrivate PrivacyScope = "private"
)

// Valid reports whether s is one of the known scopes.
func (s PrivacyScope) Valid() bool {
	switch s {
	case ScopePublic, ScopeTeam, ScopePrivate:
		return true
	}
	return false
}

// Defaults applied when a user has no capsule yet.
const (
	DefaultStatus        = StatusAvailable
	DefaultEnergyLevel   = 75
	DefaultTimezone      = "America/New_York"
	DefaultFocusDuration = 25
	DefaultPrivacyScope  = ScopePrivate
)

// Capsule is a user's current context: availability, energy, focus session and
// privacy scope. There is exactly one live capsule per user.
type Capsule struct {
	// ID is a ULID that uniquely identifies this capsule
	ID string `json:"id"`

	// UserID is the owner; immutable after creation
	UserID string `json:"userId"`

	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus"`

	// EnergyLevel is 0-100
	EnergyLevel int `json:"energyLevel"`

	// Timezone is an IANA zone name
	Timezone string `json:"timezone"`

	FocusSessionActive bool `json:"focusSessionActive"`

	// FocusSessionDuration is in minutes
	FocusSessionDuration int `json:"focusSessionDuration"`

	// FocusSessionStartTime is a Unix ms timestamp (nullable)
	FocusSessionStartTime *int64 `json:"focusSessionStartTime,omitempty"`

	PrivacyScope PrivacyScope `json:"privacyScope"`

	// CreatedAt is the Unix ms timestamp when the capsule was created
	CreatedAt int64 `json:"createdAt"`

	// UpdatedAt is the Unix ms timestamp of the last update; never decreases
	UpdatedAt int64 `json:"updatedAt"`
}

// NewDefault returns the capsule a user starts with.
func NewDefault(id, userID string, nowMillis int64) *Capsule {
	return &Capsule{
		ID:                   id,
		UserID:               userID,
		AvailabilityStatus:   DefaultStatus,
		EnergyLevel:          DefaultEnergyLevel,
		Timezone:             DefaultTimezone,
		FocusSessionActive:   false,
		FocusSessionDuration: DefaultFocusDuration,
		PrivacyScope:         DefaultPrivacyScope,
		CreatedAt:            nowMillis,
		UpdatedAt:            nowMillis,
	}
}

// Clone returns a deep copy.
func (c *Capsule) Clone() *Capsule {
	if c == nil {
		return nil
	}
	out := *c
	if c.FocusSessionStartTime != nil {
		v := *c.FocusSessionStartTime
		out.FocusSessionStartTime = &v
	}
	return &out
}

// Get returns the current value of a patchable field as a plain Go value
// (string, int, bool or int64). The second result is false when the field is
// unknown or unset (a nil focus start time).
func (c *Capsule) Get(field Field) (any, bool) {
	switch field {
	case FieldAvailabilityStatus:
		return string(c.AvailabilityStatus), true
	case FieldEnergyLevel:
		return c.EnergyLevel, true
	case FieldTimezone:
		return c.Timezone, true
	case FieldFocusSessionActive:
		return c.FocusSessionActive, true
	case FieldFocusSessionDuration:
		return c.FocusSessionDuration, true
	case FieldFocusSessionStartTime:
		if c.FocusSessionStartTime == nil {
			return nil, false
		}
		return *c.FocusSessionStartTime, true
	case FieldPrivacyScope:
		return string(c.PrivacyScope), true
	}
	return nil, false
}

// Apply returns a copy of c with every field in p set. p must have been
// produced by Normalize.
func (c *Capsule) Apply(p *Patch) *Capsule {
	out := c.Clone()
	p.Each(func(field Field, value any) {
		switch field {
		case FieldAvailabilityStatus:
			out.AvailabilityStatus = AvailabilityStatus(value.(string))
		case FieldEnergyLevel:
			out.EnergyLevel = value.(int)
		case FieldTimezone:
			out.Timezone = value.(string)
		case FieldFocusSessionActive:
			out.FocusSessionActive = value.(bool)
		case FieldFocusSessionDuration:
			out.FocusSessionDuration = value.(int)
		case FieldFocusSessionStartTime:
			if value == nil {
				out.FocusSessionStartTime = nil
			} else {
				v := value.(int64)
				out.FocusSessionStartTime = &v
			}
		case FieldPrivacyScope:
			out.PrivacyScope = PrivacyScope(value.(string))
		}
	})
	return out
}

// NewID returns a new ULID. IDs from one process sort in creation order.
func NewID() string {
	return ulid.Make().String()
}
