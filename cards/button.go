package cards

import (
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
	"github.com/homie-scheduler/homie-cards/scheduler"
)

// ButtonView is the rendered projection of a timed-run button card.
type ButtonView struct {
	Title string
	// Number and Unit form the button face, e.g. "45" and "min".
	Number string
	Unit   string

	EntityOn bool
	// Active means this card's button owns the current run.
	Active bool
	// ForeignOwner is set when another button owns the run; pressing
	// this button then stops that run before starting its own.
	ForeignOwner string

	// Remaining is the countdown while this button's run is active.
	Remaining string
	TurnOffAt time.Time

	// RunsSince describes how long the entity has been on when the
	// run was started elsewhere, e.g. "since 14:30 (12 min ago)".
	RunsSince string
}

// BuildButton projects a button card. Ownership comes from the
// bridge's active_buttons record, so every card and a restarted
// server agree on who started the run.
func BuildButton(card Card, snap *scheduler.Snapshot, entity *hass.Entity, now time.Time) ButtonView {
	number, unit := scheduler.DurationParts(card.Duration)

	view := ButtonView{
		Title:    cardTitle(card, entity),
		Number:   number,
		Unit:     unit,
		EntityOn: entity.IsOn(),
	}

	if !view.EntityOn {
		return view
	}

	runsSince := ""
	if entity != nil {
		runsSince = scheduler.FormatRunsSince(entity.LastChanged, now)
	}

	if snap == nil {
		view.RunsSince = runsSince

		return view
	}

	button, ok := snap.ActiveButtons[card.Entity]
	if !ok {
		view.RunsSince = runsSince

		return view
	}

	if button.ButtonID != card.ButtonID() {
		view.ForeignOwner = button.ButtonID
		view.RunsSince = runsSince

		return view
	}

	view.Active = true
	view.TurnOffAt = button.TimerEnd

	if button.TimerEnd.After(now) {
		view.Remaining = scheduler.FormatTimeUntil(button.TimerEnd, now)
	}

	return view
}
