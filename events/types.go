package events

import (
	"time"
)

// EntityChangeEvent carries a Home Assistant state change from the
// websocket feed to the card manager and metrics.
type EntityChangeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entity_id"`
	OldState  string    `json:"old_state"`
	NewState  string    `json:"new_state"`
	// Bridge marks changes of a scheduler bridge sensor.
	Bridge bool `json:"bridge"`
}

// CardUpdateEvent tells SSE subscribers that a card's rendered state
// changed. The projection fields ride along so the bus can dedup
// without re-rendering.
type CardUpdateEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	CardID    string    `json:"card_id"`
	EntityID  string    `json:"entity_id"`

	On       bool      `json:"on"`
	Subtitle string    `json:"subtitle"`
	NextRun  time.Time `json:"next_run"`
	// TurnOffAt is the zero time when no turn-off is known.
	TurnOffAt time.Time `json:"turn_off_at"`
	// SlotCount covers slot cards; zero elsewhere.
	SlotCount int `json:"slot_count"`
	// Pending marks cards rendered from an optimistic overlay.
	Pending bool `json:"pending"`
}

// Equals reports whether two card updates carry the same logical
// state, ignoring timestamp and source.
func (e CardUpdateEvent) Equals(other CardUpdateEvent) bool {
	return e.CardID == other.CardID &&
		e.EntityID == other.EntityID &&
		e.On == other.On &&
		e.Subtitle == other.Subtitle &&
		e.NextRun.Equal(other.NextRun) &&
		e.TurnOffAt.Equal(other.TurnOffAt) &&
		e.SlotCount == other.SlotCount &&
		e.Pending == other.Pending
}

// MutationType names the schedule mutations cards can request.
type MutationType string

const (
	MutationAddSlot      MutationType = "add_slot"
	MutationUpdateSlot   MutationType = "update_slot"
	MutationDeleteSlot   MutationType = "delete_slot"
	MutationToggleSlot   MutationType = "toggle_slot"
	MutationToggleAll    MutationType = "toggle_all"
	MutationToggleEntity MutationType = "toggle_entity"
	MutationRunButton    MutationType = "run_button"
	MutationStopButton   MutationType = "stop_button"
)

// MutationEvent records a mutation requested through a card.
type MutationEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"`
	CardID    string       `json:"card_id"`
	EntityID  string       `json:"entity_id"`
	Type      MutationType `json:"type"`
	ItemID    string       `json:"item_id,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// ServiceCallEvent records one Home Assistant service call for
// metrics and debugging.
type ServiceCallEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Domain    string    `json:"domain"`
	Service   string    `json:"service"`
	Error     string    `json:"error,omitempty"`
}

// ReconcileEvent records the end of one optimistic-overlay
// reconciliation run.
type ReconcileEvent struct {
	Timestamp time.Time `json:"timestamp"`
	BridgeID  string    `json:"bridge_id"`
	Outcome   string    `json:"outcome"`
	Attempts  int       `json:"attempts"`
}

// ConnectionStatusEvent conveys component lifecycle information (web,
// websocket feed, etc.).
type ConnectionStatusEvent struct {
	Timestamp  time.Time        `json:"timestamp"`
	Component  string           `json:"component"`
	Status     ConnectionStatus `json:"status"`
	Error      string           `json:"error"`
	Reconnects int              `json:"reconnects"`
}

// ConnectionStatus represents lifecycle state for a component.
type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusFailed       ConnectionStatus = "failed"
)
