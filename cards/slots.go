package cards

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
	"github.com/homie-scheduler/homie-cards/scheduler"
)

// SlotView is one schedule slot as shown on a slots card.
type SlotView struct {
	ID       string
	Time     string
	Weekdays string
	// Duration is the display suffix, empty for open-ended slots.
	Duration string
	Enabled  bool
	Title    string
}

// SlotsView is the rendered projection of a slots card.
type SlotsView struct {
	Title string
	// Enabled means at least one slot for this entity is enabled;
	// the bridge's global state is not used since it covers all
	// entities.
	Enabled bool
	// NextRun is the display form of the entity's next start,
	// computed from the entity's own slots.
	NextRun string
	Slots   []SlotView
}

// VisibleSlots filters the bridge's items down to what a slots card
// shows for its entity: temporary slots (created by button runs) are
// hidden, and when a temp- prefixed twin of a real slot exists for
// the same time and weekdays, only the real one survives.
func VisibleSlots(items []scheduler.Item, entityID string) []scheduler.Item {
	byKey := map[string]scheduler.Item{}
	var order []string

	for _, item := range items {
		if item.EntityID != entityID || item.Temporary {
			continue
		}

		key := slotKey(item)

		existing, seen := byKey[key]
		if !seen {
			byKey[key] = item
			order = append(order, key)

			continue
		}

		// Prefer the real slot over its temp- twin.
		if isTempID(existing.ID) && !isTempID(item.ID) {
			byKey[key] = item
		}
	}

	out := make([]scheduler.Item, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time < out[j].Time
	})

	return out
}

func slotKey(item scheduler.Item) string {
	days, _ := json.Marshal(item.Weekdays)

	return item.Time + "|" + string(days)
}

func isTempID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}

// BuildSlots projects a slots card from the bridge snapshot.
func BuildSlots(card Card, snap *scheduler.Snapshot, entity *hass.Entity, now time.Time) SlotsView {
	view := SlotsView{
		Title: cardTitle(card, entity),
	}

	if snap == nil {
		return view
	}

	visible := VisibleSlots(snap.Items, card.Entity)

	for _, item := range visible {
		if item.Enabled {
			view.Enabled = true
		}

		view.Slots = append(view.Slots, SlotView{
			ID:       item.ID,
			Time:     item.Time,
			Weekdays: scheduler.FormatWeekdays(item.Weekdays),
			Duration: strings.TrimPrefix(scheduler.FormatDuration(item.Duration), " "),
			Enabled:  item.Enabled,
			Title:    item.Title,
		})
	}

	// The bridge's next_run covers every entity; recompute for this
	// one from its own enabled slots.
	if next, duration := scheduler.NextRunForEntity(visible, card.Entity, now); !next.IsZero() {
		view.NextRun = scheduler.FormatNextRun(next, now, duration)
	}

	return view
}
