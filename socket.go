package homiecards

import (
	"log/slog"
	"time"

	"tailscale.com/util/eventbus"

	"github.com/homie-scheduler/homie-cards/cards"
	"github.com/homie-scheduler/homie-cards/events"
	"github.com/homie-scheduler/homie-cards/hass"
	"github.com/homie-scheduler/homie-cards/scheduler"
)

// StatePump feeds Home Assistant websocket events into the card
// manager and mirrors them onto the event bus.
type StatePump struct {
	eventBus *events.Bus
	client   *eventbus.Client
	manager  *cards.Manager
	logger   *slog.Logger
}

// NewStatePump wires the websocket feed to the card manager.
func NewStatePump(bus *events.Bus, manager *cards.Manager, logger *slog.Logger) (*StatePump, error) {
	client, err := bus.Client(events.ClientSocket)
	if err != nil {
		return nil, err
	}

	return &StatePump{
		eventBus: bus,
		client:   client,
		manager:  manager,
		logger:   logger.With("component", "statepump"),
	}, nil
}

// HandleChange processes one state_changed event.
func (p *StatePump) HandleChange(change hass.StateChange) {
	p.logger.Debug("State change received",
		"entity_id", change.EntityID,
		"old", stateOf(change.OldState),
		"new", stateOf(change.NewState),
	)

	p.manager.HandleStateChange(change)

	p.eventBus.PublishEntityChange(p.client, events.EntityChangeEvent{
		Timestamp: time.Now(),
		EntityID:  change.EntityID,
		OldState:  stateOf(change.OldState),
		NewState:  stateOf(change.NewState),
		Bridge:    isBridgeChange(change),
	})
}

// HandleConnect processes websocket connects and disconnects.
func (p *StatePump) HandleConnect(connected bool) {
	status := events.ConnectionStatusConnected
	if !connected {
		status = events.ConnectionStatusDisconnected
	}

	p.eventBus.PublishConnectionStatus(p.client, events.ConnectionStatusEvent{
		Timestamp: time.Now(),
		Component: string(events.ClientSocket),
		Status:    status,
	})

	p.manager.HandleConnectionStatus(connected)
}

func stateOf(entity *hass.Entity) string {
	if entity == nil {
		return ""
	}

	return entity.State
}

func isBridgeChange(change hass.StateChange) bool {
	entity := change.NewState
	if entity == nil {
		entity = change.OldState
	}
	if entity == nil {
		return false
	}

	return entity.Attributes["integration"] == scheduler.Integration
}
