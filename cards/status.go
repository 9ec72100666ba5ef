package cards

import (
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
	"github.com/homie-scheduler/homie-cards/scheduler"
)

// staleGrace is how long an expired turn-off time keeps the card in
// the updating state before it falls back to the manual-off message.
const staleGrace = 30 * time.Second

// StatusView is the rendered projection of a status card.
type StatusView struct {
	Title    string
	Subtitle string
	On       bool

	// NextRun and TurnOffAt are zero when unknown.
	NextRun   time.Time
	TurnOffAt time.Time

	// MaxRuntime is the display form of the entity's runtime cap.
	MaxRuntime string

	// Stale marks an expired turn-off countdown: the bridge has not
	// published the follow-up state yet and should be refreshed.
	Stale bool
}

// BuildStatus projects a status card from the bridge snapshot and the
// controlled entity's state. bridges carries every instance managing
// the entity for the multi-instance turn-off minimum.
func BuildStatus(card Card, snap *scheduler.Snapshot, bridges []*scheduler.Snapshot, entity *hass.Entity, now time.Time) StatusView {
	view := StatusView{
		Title: cardTitle(card, entity),
		On:    entity.IsOn(),
	}

	if snap != nil {
		if max, ok := snap.EntityMaxRuntime[card.Entity]; ok {
			view.MaxRuntime = scheduler.FormatMaxRuntime(max)
		}
	}

	if !view.On {
		if !scheduler.HasSchedules(snap, card.Entity) {
			view.Subtitle = "Off"

			return view
		}

		view.NextRun = scheduler.NextRunTime(snap, card.Entity, now)
		if view.NextRun.IsZero() {
			view.Subtitle = "Next run:"

			return view
		}

		if view.NextRun.Sub(now) < 24*time.Hour {
			view.Subtitle = "Next run in " + scheduler.FormatTimeUntil(view.NextRun, now)
		} else {
			view.Subtitle = "Next run: " + scheduler.FormatDateTime(view.NextRun, now)
		}

		return view
	}

	// Resolve the turn-off with a short grace so a countdown that
	// just expired renders as updating instead of jumping straight
	// to the manual-off message while the bridge catches up.
	view.TurnOffAt = scheduler.TurnOffTime(snap, bridges, entity, card.Entity, now.Add(-staleGrace))
	if view.TurnOffAt.IsZero() {
		view.Subtitle = "Runs, please switch off manually"

		return view
	}

	until := scheduler.FormatTimeUntil(view.TurnOffAt, now)
	if until == "now" {
		// The countdown hit zero before the bridge published the
		// next state.
		view.Subtitle = "Runs, updating…"
		view.Stale = true

		return view
	}

	view.Subtitle = "Runs, will be off in " + until

	return view
}

// cardTitle resolves the display title: config title, then the
// entity's friendly name, then the raw entity id.
func cardTitle(card Card, entity *hass.Entity) string {
	if card.Title != "" {
		return card.Title
	}

	if entity != nil {
		if name, ok := entity.Attributes["friendly_name"].(string); ok && name != "" {
			return name
		}
	}

	return card.Entity
}
