package scheduler

import (
	"strings"

	"github.com/homie-scheduler/homie-cards/hass"
)

// isBridgeSensor reports whether an entity looks like a Homie
// Scheduler bridge sensor: a sensor carrying the integration marker
// and a config entry id.
func isBridgeSensor(entity *hass.Entity) bool {
	if !strings.HasPrefix(entity.EntityID, "sensor.") {
		return false
	}

	attrs := entity.Attributes

	return asString(attrs["integration"]) == Integration && asString(attrs["entry_id"]) != ""
}

// FindBridge locates the bridge sensor responsible for entityID. When
// no bridge lists the entity yet, the bridge sensor with the lowest
// entity id is returned so a card can still bind before its first
// slot exists, and binds to the same instance regardless of the
// order states arrive in. Returns nil when the integration is not
// present at all.
func FindBridge(states []hass.Entity, entityID string) *Snapshot {
	var fallback *Snapshot

	for i := range states {
		entity := &states[i]
		if !isBridgeSensor(entity) {
			continue
		}

		snap := ParseSnapshot(entity)
		if snap.Controls(entityID) {
			return snap
		}

		if fallback == nil || snap.EntityID < fallback.EntityID {
			fallback = snap
		}
	}

	return fallback
}

// AllBridges returns every bridge sensor that controls entityID.
// Multiple Homie Scheduler instances can manage the same entity; the
// caller merges their turn-off candidates.
func AllBridges(states []hass.Entity, entityID string) []*Snapshot {
	var bridges []*Snapshot

	for i := range states {
		entity := &states[i]
		if !isBridgeSensor(entity) {
			continue
		}

		snap := ParseSnapshot(entity)
		if snap.Controls(entityID) {
			bridges = append(bridges, snap)
		}
	}

	return bridges
}
