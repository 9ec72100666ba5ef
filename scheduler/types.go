// Package scheduler models the state published by the Homie Scheduler
// Home Assistant integration and the calendar math the cards need on
// top of it.
package scheduler

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
)

// Integration is the integration identifier bridge sensors carry in
// their attributes.
const Integration = "homie_scheduler"

// Item is a single schedule slot as stored on the bridge sensor.
type Item struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	// Time is the start of the slot as "HH:MM".
	Time string `json:"time"`
	// Weekdays uses Monday=0 through Sunday=6.
	Weekdays []int `json:"weekdays"`
	// Duration is the slot length in minutes, 0 when open-ended.
	Duration  int    `json:"duration,omitempty"`
	Enabled   bool   `json:"enabled"`
	Temporary bool   `json:"temporary,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ActiveButton records a manual timed run started through a button
// card, as stored by the set_active_button service.
type ActiveButton struct {
	ButtonID string
	TimerEnd time.Time
	Duration int
}

// Snapshot is the parsed state of one bridge sensor. All the maps are
// keyed by controlled entity id.
type Snapshot struct {
	EntityID string
	EntryID  string
	State    string

	Items     []Item
	EntityIDs []string

	// NextRun is the integration-wide next start, kept for older
	// integration versions that do not publish per-entity times.
	NextRun time.Time

	EntityNextRuns        map[string]time.Time
	EntityNextTransitions map[string]time.Time
	ActiveButtons         map[string]ActiveButton
	MaxRuntimeTurnOff     map[string]time.Time
	// EntityMaxRuntime holds per-entity runtime caps in minutes.
	EntityMaxRuntime map[string]int
}

// ParseSnapshot converts a bridge sensor entity into a Snapshot. The
// integration's attribute types drift between versions (epoch seconds
// vs milliseconds, numbers as strings), so values are coerced and
// malformed entries are skipped rather than failing the whole snapshot.
func ParseSnapshot(entity *hass.Entity) *Snapshot {
	if entity == nil {
		return nil
	}

	attrs := entity.Attributes

	snap := &Snapshot{
		EntityID:              entity.EntityID,
		EntryID:               asString(attrs["entry_id"]),
		State:                 entity.State,
		Items:                 parseItems(attrs["items"]),
		EntityIDs:             asStringSlice(attrs["entity_ids"]),
		NextRun:               asTime(attrs["next_run"]),
		EntityNextRuns:        map[string]time.Time{},
		EntityNextTransitions: map[string]time.Time{},
		ActiveButtons:         map[string]ActiveButton{},
		MaxRuntimeTurnOff:     map[string]time.Time{},
		EntityMaxRuntime:      map[string]int{},
	}

	for entityID, raw := range asMap(attrs["entity_next_runs"]) {
		if run := asTime(asMap(raw)["next_run"]); !run.IsZero() {
			snap.EntityNextRuns[entityID] = run
		}
	}

	for entityID, raw := range asMap(attrs["entity_next_transitions"]) {
		if t := asTime(raw); !t.IsZero() {
			snap.EntityNextTransitions[entityID] = t
		}
	}

	for entityID, raw := range asMap(attrs["active_buttons"]) {
		button := asMap(raw)
		end := asTime(button["timer_end"])
		if end.IsZero() {
			continue
		}

		snap.ActiveButtons[entityID] = ActiveButton{
			ButtonID: asString(button["button_id"]),
			TimerEnd: end,
			Duration: int(asInt64(button["duration"])),
		}
	}

	for entityID, raw := range asMap(attrs["max_runtime_turn_off_times"]) {
		if t := asTime(raw); !t.IsZero() {
			snap.MaxRuntimeTurnOff[entityID] = t
		}
	}

	for entityID, raw := range asMap(attrs["entity_max_runtime"]) {
		if minutes := asInt64(raw); minutes > 0 {
			snap.EntityMaxRuntime[entityID] = int(minutes)
		}
	}

	return snap
}

// Controls reports whether this bridge instance manages entityID,
// either through its entity_ids list or through a schedule item. Items
// are checked too since entity_ids can lag behind a fresh slot.
func (s *Snapshot) Controls(entityID string) bool {
	if s == nil {
		return false
	}

	for _, id := range s.EntityIDs {
		if id == entityID {
			return true
		}
	}

	for _, item := range s.Items {
		if item.EntityID == entityID {
			return true
		}
	}

	return false
}

func parseItems(raw any) []Item {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	items := make([]Item, 0, len(list))

	for _, entry := range list {
		m := asMap(entry)
		if m == nil {
			continue
		}

		items = append(items, Item{
			ID:        asString(m["id"]),
			EntityID:  asString(m["entity_id"]),
			Time:      asString(m["time"]),
			Weekdays:  asIntSlice(m["weekdays"]),
			Duration:  int(asInt64(m["duration"])),
			Enabled:   asBool(m["enabled"]),
			Temporary: asBool(m["temporary"]),
			Title:     asString(m["title"]),
		})
	}

	return items
}

// NormalizeEpoch interprets a raw epoch value that may be expressed in
// seconds or milliseconds and returns milliseconds. Values below 1e12
// are treated as seconds.
func NormalizeEpoch(v int64) int64 {
	if v > 0 && v < 1e12 {
		return v * 1000
	}

	return v
}

// asTime coerces a timestamp attribute into a time.Time. The
// integration emits both RFC 3339 strings and numeric epochs; numbers
// are run through NormalizeEpoch. The zero time is returned when the
// value cannot be parsed.
func asTime(v any) time.Time {
	switch val := v.(type) {
	case nil:
		return time.Time{}
	case string:
		if val == "" {
			return time.Time{}
		}

		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t
		}

		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.UnixMilli(NormalizeEpoch(n))
		}

		return time.Time{}
	default:
		if n := asInt64(v); n != 0 {
			return time.UnixMilli(NormalizeEpoch(n))
		}

		return time.Time{}
	}
}

func asString(v any) string {
	s, _ := v.(string)

	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)

	return b
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	case json.Number:
		n, _ := val.Int64()

		return n
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)

		return n
	default:
		return 0
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)

	return m
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(list))

	for _, entry := range list {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func asIntSlice(v any) []int {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]int, 0, len(list))

	for _, entry := range list {
		out = append(out, int(asInt64(entry)))
	}

	return out
}
