package hass

import "time"

// Entity is a single entity as returned by the Home Assistant state API.
// Attributes are kept untyped since every integration shapes them
// differently; callers coerce what they need.
type Entity struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// IsOn reports whether the entity is in a state that counts as running.
func (e *Entity) IsOn() bool {
	if e == nil {
		return false
	}

	switch e.State {
	case "on", "heat", "heating":
		return true
	}

	return false
}

// StateChange is a state_changed event from the websocket API.
type StateChange struct {
	EntityID string  `json:"entity_id"`
	OldState *Entity `json:"old_state"`
	NewState *Entity `json:"new_state"`
}
