package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestServiceCallBindsEntry(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, "entry-1", testLogger())

	if err := svc.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled() error: %v", err)
	}

	calls := api.callsFor("set_enabled")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}

	if calls[0].domain != "homie_scheduler" {
		t.Errorf("domain = %q", calls[0].domain)
	}

	if calls[0].data["entry_id"] != "entry-1" {
		t.Errorf("entry_id = %v", calls[0].data["entry_id"])
	}

	if calls[0].data["enabled"] != true {
		t.Errorf("enabled = %v", calls[0].data["enabled"])
	}
}

func TestSetActiveButton(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, "entry-1", testLogger())

	end := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

	err := svc.SetActiveButton(context.Background(), "switch.boiler", "switch.boiler_60_normal", end, 60)
	if err != nil {
		t.Fatalf("SetActiveButton() error: %v", err)
	}

	calls := api.callsFor("set_active_button")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}

	data := calls[0].data
	if data["button_id"] != "switch.boiler_60_normal" || data["duration"] != 60 {
		t.Errorf("unexpected data: %v", data)
	}

	if data["timer_end"] != end.UnixMilli() {
		t.Errorf("timer_end = %v, want %d", data["timer_end"], end.UnixMilli())
	}
}

func TestUpdateItem(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, "entry-1", testLogger())

	err := svc.UpdateItem(context.Background(), "slot-1", map[string]any{"enabled": false})
	if err != nil {
		t.Fatalf("UpdateItem() error: %v", err)
	}

	calls := api.callsFor("update_item")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}

	if calls[0].data["id"] != "slot-1" || calls[0].data["enabled"] != false {
		t.Errorf("unexpected data: %v", calls[0].data)
	}
}

func TestAddSlotEnablesInactiveScheduler(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, "entry-1", testLogger())

	start, end := SwitchServices("switch.boiler")
	req := SlotRequest{
		EntityID:     "switch.boiler",
		Time:         "18:00",
		Weekdays:     AllWeekdays(),
		ServiceStart: start,
		ServiceEnd:   end,
	}

	bridge := &Snapshot{EntityID: "sensor.bridge", State: "off"}

	if err := svc.AddSlot(context.Background(), bridge, req); err != nil {
		t.Fatalf("AddSlot() error: %v", err)
	}

	if got := api.callsFor("set_enabled"); len(got) != 1 {
		t.Errorf("expected enable call for inactive scheduler, got %d", len(got))
	}

	if got := api.callsFor("add_item"); len(got) != 1 {
		t.Errorf("expected add_item call, got %d", len(got))
	}

	// The double refresh targets the bridge sensor.
	refreshes := api.callsFor("update_entity")
	if len(refreshes) != 2 {
		t.Fatalf("expected 2 refresh calls, got %d", len(refreshes))
	}

	if refreshes[0].data["entity_id"] != "sensor.bridge" {
		t.Errorf("refresh target = %v", refreshes[0].data["entity_id"])
	}
}

func TestAddSlotSkipsEnableWhenActive(t *testing.T) {
	api := newFakeAPI()
	svc := NewService(api, "entry-1", testLogger())

	start, _ := SwitchServices("switch.boiler")
	req := SlotRequest{
		EntityID:     "switch.boiler",
		Time:         "18:00",
		Weekdays:     AllWeekdays(),
		ServiceStart: start,
	}

	bridge := &Snapshot{EntityID: "sensor.bridge", State: "active"}

	if err := svc.AddSlot(context.Background(), bridge, req); err != nil {
		t.Fatalf("AddSlot() error: %v", err)
	}

	if got := api.callsFor("set_enabled"); len(got) != 0 {
		t.Errorf("active scheduler should not be re-enabled, got %d calls", len(got))
	}
}
