package automation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/beacon/internal/capsule"
)

func TestHook_JSON(t *testing.T) {
	h := Hook{
		ID:               "H1",
		UserID:           "user-1",
		Name:             "low energy",
		TriggerCondition: FieldCompare{Field: capsule.FieldEnergyLevel, Operator: OpLessThan, Value: 30},
		ActionType:       ActionNotification,
		ActionConfig:     map[string]any{"message": "Energy at {energy}"},
		IsActive:         true,
		CreatedAt:        1,
		UpdatedAt:        2,
	}

	data, err := json.Marshal(h)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"id": "H1",
		"userId": "user-1",
		"name": "low energy",
		"triggerCondition": {"field": "energyLevel", "operator": "lt", "value": 30},
		"actionType": "notification",
		"actionConfig": {"message": "Energy at {energy}"},
		"isActive": true,
		"createdAt": 1,
		"updatedAt": 2
	}`, string(data))

	var back Hook
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, h, back)
}
