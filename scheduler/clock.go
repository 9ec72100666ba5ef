package scheduler

import (
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
)

// slotTimeRE matches the "HH:MM" slot start format.
var slotTimeRE = regexp.MustCompile(`^([0-1][0-9]|2[0-3]):([0-5][0-9])$`)

// defaultSlotMinutes is assumed for slots without an explicit duration
// when computing slot windows.
const defaultSlotMinutes = 30

// ParseSlotTime parses an "HH:MM" slot start into hour and minute.
func ParseSlotTime(s string) (hour, minute int, ok bool) {
	m := slotTimeRE.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}

	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])

	return hour, minute, true
}

// NextStart returns the next time an item starts after now, looking
// ahead up to eight days (today plus a full week). Returns the zero
// time when the item never starts, has no weekdays, or has a
// malformed start time.
func NextStart(item Item, now time.Time) time.Time {
	hour, minute, ok := ParseSlotTime(item.Time)
	if !ok || len(item.Weekdays) == 0 {
		return time.Time{}
	}

	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())

		if !candidate.After(now) {
			continue
		}

		if slices.Contains(item.Weekdays, WeekdayOf(candidate)) {
			return candidate
		}
	}

	return time.Time{}
}

// NextRunForEntity computes the next start across all enabled items
// belonging to entityID and returns it with the slot's duration in
// minutes. The bridge only publishes a global next run, so per-entity
// cards recompute this locally. duration is 0 when the winning slot is
// open-ended.
func NextRunForEntity(items []Item, entityID string, now time.Time) (next time.Time, duration int) {
	for _, item := range items {
		if item.EntityID != entityID || !item.Enabled {
			continue
		}

		start := NextStart(item, now)
		if start.IsZero() {
			continue
		}

		if next.IsZero() || start.Before(next) {
			next = start
			duration = item.Duration
		}
	}

	return next, duration
}

// NextRunTime resolves the next scheduled start for entityID from the
// bridge snapshot. Per-entity next runs win over next transitions
// since a transition can be a slot end while the entity is off inside
// an active slot; the global next run is a fallback for older
// integration versions. All candidates must be in the future.
func NextRunTime(snap *Snapshot, entityID string, now time.Time) time.Time {
	if snap == nil {
		return time.Time{}
	}

	if run, ok := snap.EntityNextRuns[entityID]; ok && run.After(now) {
		return run
	}

	if transition, ok := snap.EntityNextTransitions[entityID]; ok && transition.After(now) {
		return transition
	}

	if snap.NextRun.After(now) {
		return snap.NextRun
	}

	return time.Time{}
}

// slotWindow reports whether now falls inside the item's run window
// starting on the given day, and returns the window end. Handles both
// today's start and yesterday's cross-midnight starts via dayOffset.
func slotWindow(item Item, now time.Time, dayOffset int) (time.Time, bool) {
	hour, minute, ok := ParseSlotTime(item.Time)
	if !ok || len(item.Weekdays) == 0 {
		return time.Time{}, false
	}

	duration := item.Duration
	if duration <= 0 {
		duration = defaultSlotMinutes
	}

	day := now.AddDate(0, 0, dayOffset)
	if !slices.Contains(item.Weekdays, WeekdayOf(day)) {
		return time.Time{}, false
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	end := start.Add(time.Duration(duration) * time.Minute)

	if !start.After(now) && now.Before(end) {
		return end, true
	}

	return time.Time{}, false
}

// InActiveSlot reports whether now falls inside any enabled slot for
// entityID, including slots that started yesterday and run past
// midnight.
func InActiveSlot(items []Item, entityID string, now time.Time) bool {
	return !ActiveSlotEnd(items, entityID, now).IsZero()
}

// ActiveSlotEnd returns the earliest end among currently running
// enabled slots for entityID, or the zero time when no slot is
// active.
func ActiveSlotEnd(items []Item, entityID string, now time.Time) time.Time {
	var earliest time.Time

	for _, item := range items {
		if item.EntityID != entityID || !item.Enabled {
			continue
		}

		for _, offset := range []int{0, -1} {
			end, active := slotWindow(item, now, offset)
			if active && (earliest.IsZero() || end.Before(earliest)) {
				earliest = end
			}
		}
	}

	return earliest
}

// HasSchedules reports whether the snapshot holds at least one
// enabled slot for entityID.
func HasSchedules(snap *Snapshot, entityID string) bool {
	if snap == nil {
		return false
	}

	for _, item := range snap.Items {
		if item.EntityID == entityID && item.Enabled {
			return true
		}
	}

	return false
}

// TurnOffTime resolves when entityID will be switched off. bridges
// must include every bridge instance controlling the entity; entity
// is the controlled entity's own state, used only for the max-runtime
// fallback.
//
// Priority: an active button's timer end wins outright; otherwise the
// earliest max-runtime turn-off published by any bridge instance;
// otherwise, only when no bridge published a turn-off, last_changed
// plus the per-entity runtime cap. Returns the zero time when nothing
// applies or every candidate is in the past.
func TurnOffTime(primary *Snapshot, bridges []*Snapshot, entity *hass.Entity, entityID string, now time.Time) time.Time {
	if primary == nil {
		return time.Time{}
	}

	if button, ok := primary.ActiveButtons[entityID]; ok {
		if button.TimerEnd.After(now) {
			return button.TimerEnd
		}
	}

	var earliest time.Time

	for _, bridge := range bridges {
		if t, ok := bridge.MaxRuntimeTurnOff[entityID]; ok && t.After(now) {
			if earliest.IsZero() || t.Before(earliest) {
				earliest = t
			}
		}
	}

	if !earliest.IsZero() {
		return earliest
	}

	if maxMinutes, ok := primary.EntityMaxRuntime[entityID]; ok && maxMinutes > 0 {
		if entity != nil && entity.State == "on" && !entity.LastChanged.IsZero() {
			t := entity.LastChanged.Add(time.Duration(maxMinutes) * time.Minute)
			if t.After(now) {
				return t
			}
		}
	}

	return time.Time{}
}
