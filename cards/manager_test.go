package cards

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/homie-scheduler/homie-cards/events"
	"github.com/homie-scheduler/homie-cards/hass"
)

const testBridgeID = "sensor.homie_scheduler_bridge"

type serviceCall struct {
	domain  string
	service string
	data    map[string]any
}

// fakeAPI records service calls and serves canned states.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []serviceCall
	states map[string]*hass.Entity
	// failures maps service names to the error CallService returns
	// for them.
	failures map[string]error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		states:   map[string]*hass.Entity{},
		failures: map[string]error{},
	}
}

func (f *fakeAPI) failWith(service string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[service] = err
}

func (f *fakeAPI) States(ctx context.Context) ([]hass.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []hass.Entity
	for _, e := range f.states {
		out = append(out, *e)
	}

	return out, nil
}

func (f *fakeAPI) State(ctx context.Context, entityID string) (*hass.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.states[entityID], nil
}

func (f *fakeAPI) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, serviceCall{domain, service, data})

	return f.failures[service]
}

func (f *fakeAPI) UpdateEntity(ctx context.Context, entityID string) error {
	return f.CallService(ctx, "homeassistant", "update_entity", map[string]any{"entity_id": entityID})
}

func (f *fakeAPI) callsFor(domain, service string) []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []serviceCall
	for _, call := range f.calls {
		if call.domain == domain && call.service == service {
			out = append(out, call)
		}
	}

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func bridgeAttrs(extra map[string]any) map[string]any {
	attrs := map[string]any{
		"integration": "homie_scheduler",
		"entry_id":    "entry1",
		"entity_ids":  []any{"switch.boiler"},
	}
	for k, v := range extra {
		attrs[k] = v
	}

	return attrs
}

func newTestManager(t *testing.T, cardConfigs []Card, attrs map[string]any, boilerState string) (*Manager, *fakeAPI) {
	t.Helper()

	api := newFakeAPI()
	api.states[testBridgeID] = &hass.Entity{
		EntityID:   testBridgeID,
		State:      "active",
		Attributes: bridgeAttrs(attrs),
	}
	api.states["switch.boiler"] = &hass.Entity{
		EntityID:    "switch.boiler",
		State:       boilerState,
		LastChanged: time.Now().Add(-10 * time.Minute),
	}

	bus, err := events.New(testLogger())
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	m, err := NewManager(cardConfigs, api, bus, testLogger())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(m.Close)

	if err := m.Prime(context.Background()); err != nil {
		t.Fatalf("failed to prime manager: %v", err)
	}

	return m, api
}

func TestManagerBindsBridge(t *testing.T) {
	m, _ := newTestManager(t, []Card{statusCard()}, nil, "off")

	view, ok := m.StatusView("boiler-status", time.Now())
	if !ok {
		t.Fatal("expected status view")
	}
	if view.Subtitle != "Off" {
		t.Errorf("expected subtitle %q, got %q", "Off", view.Subtitle)
	}

	m.mu.RLock()
	bridgeID := m.bridgeIDs["boiler-status"]
	m.mu.RUnlock()

	if bridgeID != testBridgeID {
		t.Errorf("expected bridge binding to %q, got %q", testBridgeID, bridgeID)
	}
}

func TestRunButtonStart(t *testing.T) {
	card := buttonCard(45)
	m, api := newTestManager(t, []Card{card}, nil, "off")

	if err := m.RunButton(context.Background(), card.ID); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	if calls := api.callsFor("switch", "turn_on"); len(calls) != 1 {
		t.Fatalf("expected one turn_on, got %d", len(calls))
	}

	calls := api.callsFor("homie_scheduler", "set_active_button")
	if len(calls) != 1 {
		t.Fatalf("expected one set_active_button, got %d", len(calls))
	}
	if got := calls[0].data["button_id"]; got != card.ButtonID() {
		t.Errorf("expected button id %q, got %v", card.ButtonID(), got)
	}
	if got := calls[0].data["entry_id"]; got != "entry1" {
		t.Errorf("expected entry id bound, got %v", got)
	}

	m.timerMu.Lock()
	_, armed := m.timers["switch.boiler"]
	m.timerMu.Unlock()

	if !armed {
		t.Error("expected a local turn-off timer")
	}
}

func TestRunButtonStopsOwnedRun(t *testing.T) {
	card := buttonCard(45)
	attrs := map[string]any{
		"active_buttons": map[string]any{
			"switch.boiler": map[string]any{
				"button_id": card.ButtonID(),
				"timer_end": time.Now().Add(30 * time.Minute).UnixMilli(),
			},
		},
	}
	m, api := newTestManager(t, []Card{card}, attrs, "on")

	if err := m.RunButton(context.Background(), card.ID); err != nil {
		t.Fatalf("failed to stop run: %v", err)
	}

	if calls := api.callsFor("switch", "turn_off"); len(calls) != 1 {
		t.Fatalf("expected one turn_off, got %d", len(calls))
	}
	if calls := api.callsFor("homie_scheduler", "clear_active_button"); len(calls) != 1 {
		t.Fatalf("expected one clear_active_button, got %d", len(calls))
	}
	if calls := api.callsFor("switch", "turn_on"); len(calls) != 0 {
		t.Errorf("unexpected turn_on calls: %d", len(calls))
	}
}

func TestRunButtonTakesOverForeignRun(t *testing.T) {
	card := buttonCard(45)
	attrs := map[string]any{
		"active_buttons": map[string]any{
			"switch.boiler": map[string]any{
				"button_id": "switch.boiler_90_normal",
				"timer_end": time.Now().Add(30 * time.Minute).UnixMilli(),
			},
		},
	}
	m, api := newTestManager(t, []Card{card}, attrs, "on")

	if err := m.RunButton(context.Background(), card.ID); err != nil {
		t.Fatalf("failed to take over run: %v", err)
	}

	// Stop the foreign run, then start our own.
	if calls := api.callsFor("switch", "turn_off"); len(calls) != 1 {
		t.Errorf("expected one turn_off, got %d", len(calls))
	}
	if calls := api.callsFor("switch", "turn_on"); len(calls) != 1 {
		t.Errorf("expected one turn_on, got %d", len(calls))
	}

	calls := api.callsFor("homie_scheduler", "set_active_button")
	if len(calls) != 1 {
		t.Fatalf("expected one set_active_button, got %d", len(calls))
	}
	if got := calls[0].data["button_id"]; got != card.ButtonID() {
		t.Errorf("expected new owner %q, got %v", card.ButtonID(), got)
	}
}

func TestToggleEntityOffClearsRun(t *testing.T) {
	status := statusCard()
	attrs := map[string]any{
		"active_buttons": map[string]any{
			"switch.boiler": map[string]any{
				"button_id": "switch.boiler_45_normal",
				"timer_end": time.Now().Add(30 * time.Minute).UnixMilli(),
			},
		},
	}
	m, api := newTestManager(t, []Card{status}, attrs, "on")

	if err := m.ToggleEntity(context.Background(), status.ID); err != nil {
		t.Fatalf("failed to toggle entity: %v", err)
	}

	if calls := api.callsFor("switch", "turn_off"); len(calls) != 1 {
		t.Errorf("expected one turn_off, got %d", len(calls))
	}
	if calls := api.callsFor("homie_scheduler", "clear_active_button"); len(calls) != 1 {
		t.Errorf("expected one clear_active_button, got %d", len(calls))
	}
}

func TestAddSlotOptimisticOverlay(t *testing.T) {
	card := slotsCard()
	m, api := newTestManager(t, []Card{card}, nil, "off")

	err := m.AddSlot(context.Background(), card.ID, "18:00", []int{0, 1, 2}, Ptr(45), "")
	if err != nil {
		t.Fatalf("failed to add slot: %v", err)
	}

	calls := api.callsFor("homie_scheduler", "add_item")
	if len(calls) != 1 {
		t.Fatalf("expected one add_item, got %d", len(calls))
	}
	if got := calls[0].data["time"]; got != "18:00" {
		t.Errorf("expected time 18:00, got %v", got)
	}

	// Bridge already active, no enable needed.
	if calls := api.callsFor("homie_scheduler", "set_enabled"); len(calls) != 0 {
		t.Errorf("unexpected set_enabled calls: %d", len(calls))
	}

	// The slot is visible immediately through the overlay.
	view, ok := m.SlotsViewFor(card.ID, time.Now())
	if !ok {
		t.Fatal("expected slots view")
	}
	if len(view.Slots) != 1 {
		t.Fatalf("expected 1 optimistic slot, got %d", len(view.Slots))
	}
	if !strings.HasPrefix(view.Slots[0].ID, "temp-") {
		t.Errorf("expected a temp slot id, got %q", view.Slots[0].ID)
	}
}

func TestBridgeDisappearanceServesLastSnapshot(t *testing.T) {
	card := slotsCard()
	m, _ := newTestManager(t, []Card{card}, map[string]any{
		"items": []any{
			map[string]any{
				"id":        "abc",
				"entity_id": "switch.boiler",
				"time":      "18:00",
				"weekdays":  []any{float64(0)},
				"enabled":   true,
			},
		},
	}, "off")

	// The bridge sensor drops out of the entity table, e.g. during a
	// config entry reload.
	m.HandleStateChange(hass.StateChange{EntityID: testBridgeID})

	view, ok := m.SlotsViewFor(card.ID, time.Now())
	if !ok {
		t.Fatal("expected slots view")
	}
	if len(view.Slots) != 1 {
		t.Fatalf("expected last known snapshot to keep serving 1 slot, got %d", len(view.Slots))
	}
	if view.Slots[0].ID != "abc" {
		t.Errorf("expected slot abc, got %q", view.Slots[0].ID)
	}
}

func TestAddSlotFailureKeepsOverlay(t *testing.T) {
	card := slotsCard()
	m, api := newTestManager(t, []Card{card}, nil, "off")
	api.failWith("add_item", errors.New("validation rejected"))

	err := m.AddSlot(context.Background(), card.ID, "14:30", []int{0, 1}, Ptr(45), "")
	if err == nil {
		t.Fatal("expected error from failed add_item")
	}

	// The optimistic slot stays visible; the reconcile poll owns the
	// overlay's fate, not the error path.
	view, ok := m.SlotsViewFor(card.ID, time.Now())
	if !ok {
		t.Fatal("expected slots view")
	}
	if len(view.Slots) != 1 {
		t.Fatalf("expected optimistic slot to survive the failure, got %d slots", len(view.Slots))
	}
	if !strings.HasPrefix(view.Slots[0].ID, "temp-") {
		t.Errorf("expected a temp slot id, got %q", view.Slots[0].ID)
	}

	if _, _, pending := m.overlays.Pending(testBridgeID); !pending {
		t.Error("expected overlay to remain pending after failed add_item")
	}
}

func TestDeleteSlotFailureKeepsOverlay(t *testing.T) {
	card := slotsCard()
	m, api := newTestManager(t, []Card{card}, map[string]any{
		"items": []any{
			map[string]any{
				"id":        "abc",
				"entity_id": "switch.boiler",
				"time":      "18:00",
				"weekdays":  []any{float64(0)},
				"enabled":   true,
			},
		},
	}, "off")
	api.failWith("delete_item", errors.New("not found"))

	err := m.DeleteSlot(context.Background(), card.ID, "abc")
	if err == nil {
		t.Fatal("expected error from failed delete_item")
	}

	view, ok := m.SlotsViewFor(card.ID, time.Now())
	if !ok {
		t.Fatal("expected slots view")
	}
	if len(view.Slots) != 0 {
		t.Fatalf("expected optimistic removal to survive the failure, got %d slots", len(view.Slots))
	}

	if _, _, pending := m.overlays.Pending(testBridgeID); !pending {
		t.Error("expected overlay to remain pending after failed delete_item")
	}
}

func TestAddSlotEnablesInactiveScheduler(t *testing.T) {
	card := slotsCard()
	m, api := newTestManager(t, []Card{card}, nil, "off")

	api.mu.Lock()
	api.states[testBridgeID].State = "disabled"
	api.mu.Unlock()

	// Rebuild the cache so the manager sees the disabled state.
	if err := m.Prime(context.Background()); err != nil {
		t.Fatalf("failed to re-prime: %v", err)
	}

	if err := m.AddSlot(context.Background(), card.ID, "06:00", nil, nil, ""); err != nil {
		t.Fatalf("failed to add slot: %v", err)
	}

	if calls := api.callsFor("homie_scheduler", "set_enabled"); len(calls) != 1 {
		t.Errorf("expected one set_enabled, got %d", len(calls))
	}
}

func TestAddSlotRejectsBadTime(t *testing.T) {
	card := slotsCard()
	m, _ := newTestManager(t, []Card{card}, nil, "off")

	if err := m.AddSlot(context.Background(), card.ID, "25:99", nil, nil, ""); err == nil {
		t.Fatal("expected error for invalid time")
	}
}

func TestDeleteSlotOptimistic(t *testing.T) {
	card := slotsCard()
	attrs := map[string]any{
		"items": []any{
			map[string]any{
				"id": "slot-1", "entity_id": "switch.boiler",
				"time": "18:00", "weekdays": []any{float64(0)}, "enabled": true,
			},
		},
	}
	m, api := newTestManager(t, []Card{card}, attrs, "off")

	if err := m.DeleteSlot(context.Background(), card.ID, "slot-1"); err != nil {
		t.Fatalf("failed to delete slot: %v", err)
	}

	calls := api.callsFor("homie_scheduler", "delete_item")
	if len(calls) != 1 {
		t.Fatalf("expected one delete_item, got %d", len(calls))
	}
	if got := calls[0].data["id"]; got != "slot-1" {
		t.Errorf("expected id slot-1, got %v", got)
	}

	view, _ := m.SlotsViewFor(card.ID, time.Now())
	if len(view.Slots) != 0 {
		t.Errorf("expected slot hidden by overlay, got %d slots", len(view.Slots))
	}
}

func TestToggleSlot(t *testing.T) {
	card := slotsCard()
	attrs := map[string]any{
		"items": []any{
			map[string]any{
				"id": "slot-1", "entity_id": "switch.boiler",
				"time": "18:00", "weekdays": []any{float64(0)}, "enabled": true,
			},
		},
	}
	m, api := newTestManager(t, []Card{card}, attrs, "off")

	if err := m.ToggleSlot(context.Background(), card.ID, "slot-1", false); err != nil {
		t.Fatalf("failed to toggle slot: %v", err)
	}

	calls := api.callsFor("homie_scheduler", "update_item")
	if len(calls) != 1 {
		t.Fatalf("expected one update_item, got %d", len(calls))
	}
	if got := calls[0].data["enabled"]; got != false {
		t.Errorf("expected enabled false, got %v", got)
	}

	view, _ := m.SlotsViewFor(card.ID, time.Now())
	if view.Enabled {
		t.Error("expected card disabled through overlay")
	}
}

func TestHandleStateChangeUpdatesCache(t *testing.T) {
	status := statusCard()
	m, _ := newTestManager(t, []Card{status}, nil, "off")

	m.HandleStateChange(hass.StateChange{
		EntityID: "switch.boiler",
		NewState: &hass.Entity{
			EntityID:    "switch.boiler",
			State:       "on",
			LastChanged: time.Now(),
		},
	})

	view, _ := m.StatusView(status.ID, time.Now())
	if !view.On {
		t.Error("expected view to reflect the new state")
	}
}

func TestPrimeRestoresExpiredRun(t *testing.T) {
	card := buttonCard(45)
	attrs := map[string]any{
		"active_buttons": map[string]any{
			"switch.boiler": map[string]any{
				"button_id": card.ButtonID(),
				"timer_end": time.Now().Add(-time.Minute).UnixMilli(),
			},
		},
	}
	_, api := newTestManager(t, []Card{card}, attrs, "on")

	// An expired run found on startup is cleared, not restored.
	if calls := api.callsFor("homie_scheduler", "clear_active_button"); len(calls) != 1 {
		t.Errorf("expected one clear_active_button, got %d", len(calls))
	}
}

func TestPrimeRestoresRunningTimer(t *testing.T) {
	card := buttonCard(45)
	attrs := map[string]any{
		"active_buttons": map[string]any{
			"switch.boiler": map[string]any{
				"button_id": card.ButtonID(),
				"timer_end": time.Now().Add(20 * time.Minute).UnixMilli(),
			},
		},
	}
	m, api := newTestManager(t, []Card{card}, attrs, "on")

	m.timerMu.Lock()
	_, armed := m.timers["switch.boiler"]
	m.timerMu.Unlock()

	if !armed {
		t.Error("expected restored turn-off timer")
	}
	if calls := api.callsFor("homie_scheduler", "clear_active_button"); len(calls) != 0 {
		t.Errorf("unexpected clear_active_button calls: %d", len(calls))
	}
}
