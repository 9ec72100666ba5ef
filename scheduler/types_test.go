package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
)

func bridgeEntity(t *testing.T, raw string) *hass.Entity {
	t.Helper()

	var entity hass.Entity
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		t.Fatalf("unmarshalling fixture: %v", err)
	}

	return &entity
}

func TestParseSnapshot(t *testing.T) {
	entity := bridgeEntity(t, `{
		"entity_id": "sensor.homie_scheduler_info",
		"state": "active",
		"attributes": {
			"integration": "homie_scheduler",
			"entry_id": "entry-1",
			"entity_ids": ["switch.boiler"],
			"next_run": "2025-03-10T18:00:00Z",
			"items": [
				{"id": "slot-1", "entity_id": "switch.boiler", "time": "18:00",
				 "weekdays": [0, 1, 2], "duration": 45, "enabled": true},
				{"id": "slot-2", "entity_id": "switch.boiler", "time": "06:30",
				 "weekdays": [5, 6], "enabled": false, "temporary": true}
			],
			"entity_next_runs": {
				"switch.boiler": {"next_run": "2025-03-10T18:00:00Z"}
			},
			"active_buttons": {
				"switch.boiler": {
					"button_id": "switch.boiler_60_normal",
					"timer_end": 1741620000000,
					"duration": 60
				}
			},
			"max_runtime_turn_off_times": {"switch.boiler": 1741616400},
			"entity_max_runtime": {"switch.boiler": 120}
		}
	}`)

	snap := ParseSnapshot(entity)

	if snap.EntryID != "entry-1" {
		t.Errorf("EntryID = %q, want entry-1", snap.EntryID)
	}

	if snap.State != "active" {
		t.Errorf("State = %q, want active", snap.State)
	}

	if len(snap.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snap.Items))
	}

	first := snap.Items[0]
	if first.ID != "slot-1" || first.Time != "18:00" || first.Duration != 45 || !first.Enabled {
		t.Errorf("unexpected first item: %+v", first)
	}

	if !snap.Items[1].Temporary {
		t.Error("second item should be temporary")
	}

	wantNext := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	if !snap.EntityNextRuns["switch.boiler"].Equal(wantNext) {
		t.Errorf("entity next run = %v, want %v", snap.EntityNextRuns["switch.boiler"], wantNext)
	}

	button, ok := snap.ActiveButtons["switch.boiler"]
	if !ok {
		t.Fatal("expected active button for switch.boiler")
	}

	if button.ButtonID != "switch.boiler_60_normal" || button.Duration != 60 {
		t.Errorf("unexpected active button: %+v", button)
	}

	if !button.TimerEnd.Equal(time.UnixMilli(1741620000000)) {
		t.Errorf("timer end = %v", button.TimerEnd)
	}

	// Epoch seconds get normalized to milliseconds.
	if !snap.MaxRuntimeTurnOff["switch.boiler"].Equal(time.UnixMilli(1741616400000)) {
		t.Errorf("max runtime turn off = %v", snap.MaxRuntimeTurnOff["switch.boiler"])
	}

	if snap.EntityMaxRuntime["switch.boiler"] != 120 {
		t.Errorf("max runtime = %d, want 120", snap.EntityMaxRuntime["switch.boiler"])
	}
}

func TestParseSnapshotMalformed(t *testing.T) {
	entity := bridgeEntity(t, `{
		"entity_id": "sensor.homie_scheduler_info",
		"state": "active",
		"attributes": {
			"entry_id": "entry-1",
			"items": "not-a-list",
			"active_buttons": {
				"switch.boiler": {"button_id": "x"}
			},
			"entity_max_runtime": {"switch.boiler": "garbage"}
		}
	}`)

	snap := ParseSnapshot(entity)

	if len(snap.Items) != 0 {
		t.Errorf("expected no items, got %d", len(snap.Items))
	}

	// A button without a timer end is useless and gets dropped.
	if len(snap.ActiveButtons) != 0 {
		t.Errorf("expected no active buttons, got %v", snap.ActiveButtons)
	}

	if len(snap.EntityMaxRuntime) != 0 {
		t.Errorf("expected no max runtimes, got %v", snap.EntityMaxRuntime)
	}
}

func TestNormalizeEpoch(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"seconds", 1741616400, 1741616400000},
		{"milliseconds", 1741616400000, 1741616400000},
		{"zero", 0, 0},
		{"negative", -5, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeEpoch(tt.in); got != tt.want {
				t.Errorf("NormalizeEpoch(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAsTime(t *testing.T) {
	rfc := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339", "2025-03-10T18:00:00Z", rfc},
		{"epoch seconds number", float64(1741620000), time.UnixMilli(1741620000000)},
		{"epoch milliseconds string", "1741620000000", time.UnixMilli(1741620000000)},
		{"empty string", "", time.Time{}},
		{"nil", nil, time.Time{}},
		{"garbage", "not-a-time", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := asTime(tt.in); !got.Equal(tt.want) {
				t.Errorf("asTime(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestControls(t *testing.T) {
	snap := &Snapshot{
		EntityIDs: []string{"switch.boiler"},
		Items: []Item{
			{ID: "slot-1", EntityID: "switch.recirculation"},
		},
	}

	if !snap.Controls("switch.boiler") {
		t.Error("should control switch.boiler via entity_ids")
	}

	if !snap.Controls("switch.recirculation") {
		t.Error("should control switch.recirculation via items")
	}

	if snap.Controls("switch.other") {
		t.Error("should not control switch.other")
	}

	var nilSnap *Snapshot
	if nilSnap.Controls("switch.boiler") {
		t.Error("nil snapshot controls nothing")
	}
}
