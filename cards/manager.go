package cards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/util/eventbus"

	"github.com/homie-scheduler/homie-cards/events"
	"github.com/homie-scheduler/homie-cards/hass"
	"github.com/homie-scheduler/homie-cards/scheduler"
)

const (
	// switchGap is the settle time between stopping a foreign run
	// and starting our own.
	switchGap = 500 * time.Millisecond
	// adoptDelay lets the bridge publish its own record before an
	// externally started run is adopted.
	adoptDelay = 150 * time.Millisecond
	// guardWindow suppresses adoption of turn-ons we caused
	// ourselves.
	guardWindow = 500 * time.Millisecond
	// staleRefreshDelay is the single deferred refresh when a
	// turn-off countdown expires before the bridge catches up.
	staleRefreshDelay = 800 * time.Millisecond
)

// Manager owns the runtime state behind every configured card: the
// entity cache fed by the websocket pump, per-card bridge bindings,
// the shared optimistic overlays, and the local timers that back
// manual runs.
type Manager struct {
	cards      []Card
	api        hass.API
	eventBus   *events.Bus
	client     *eventbus.Client
	overlays   *scheduler.OverlayStore
	reconciler *scheduler.Reconciler
	logger     *slog.Logger

	mu       sync.RWMutex
	entities map[string]*hass.Entity
	// bridgeIDs memoizes the bridge sensor each card bound to.
	bridgeIDs    map[string]string
	bridgeWarned map[string]bool
	// lastSnaps keeps the most recent parsed snapshot per bridge so
	// reads keep working if the sensor entity disappears.
	lastSnaps map[string]*scheduler.Snapshot
	services  map[string]*scheduler.Service

	timerMu sync.Mutex
	// timers holds the local turn-off timer per entity for manual
	// runs.
	timers map[string]*time.Timer
	// guards marks entities we just turned on ourselves, keyed by
	// entity id with the guard expiry.
	guards map[string]time.Time
	// staleRefresh dedups deferred bridge refreshes per card.
	staleRefresh map[string]bool

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewManager creates a card manager for the configured cards.
func NewManager(cardConfigs []Card, api hass.API, bus *events.Bus, logger *slog.Logger) (*Manager, error) {
	client, err := bus.Client(events.ClientCardManager)
	if err != nil {
		return nil, fmt.Errorf("failed to get cardmanager eventbus client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	overlays := scheduler.NewOverlayStore()

	m := &Manager{
		cards:        cardConfigs,
		api:          api,
		eventBus:     bus,
		client:       client,
		overlays:     overlays,
		reconciler:   scheduler.NewReconciler(api, overlays, logger),
		logger:       logger.With("component", "cardmanager"),
		entities:     make(map[string]*hass.Entity),
		bridgeIDs:    make(map[string]string),
		bridgeWarned: make(map[string]bool),
		lastSnaps:    make(map[string]*scheduler.Snapshot),
		services:     make(map[string]*scheduler.Service),
		timers:       make(map[string]*time.Timer),
		guards:       make(map[string]time.Time),
		staleRefresh: make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, card := range cardConfigs {
		logger.Info("Initialized card",
			"id", card.ID,
			"type", card.Type,
			"entity", card.Entity,
		)
	}

	return m, nil
}

// Cards returns the configured cards in file order.
func (m *Manager) Cards() []Card {
	return m.cards
}

// Card returns the configuration for the given card id.
func (m *Manager) Card(cardID string) (Card, bool) {
	for _, card := range m.cards {
		if card.ID == cardID {
			return card, true
		}
	}

	return Card{}, false
}

// Prime fetches the full entity table, binds every card to its bridge
// sensor, and restores manual-run timers recorded on the bridge. Run
// on startup and again on every websocket reconnect.
func (m *Manager) Prime(ctx context.Context) error {
	states, err := m.api.States(ctx)
	if err != nil {
		return fmt.Errorf("fetching entity states: %w", err)
	}

	m.mu.Lock()
	for i := range states {
		entity := states[i]
		m.entities[entity.EntityID] = &entity
	}
	m.mu.Unlock()

	for _, card := range m.cards {
		if snap := m.bridgeFor(card); snap != nil {
			m.restoreActiveButton(ctx, card, snap)
		}
	}

	m.publishAllCards("prime")

	return nil
}

// HandleConnectionStatus reacts to websocket lifecycle changes: every
// reconnect re-primes so manual runs survive a server or Home
// Assistant restart.
func (m *Manager) HandleConnectionStatus(connected bool) {
	if !connected {
		return
	}

	if err := m.Prime(m.ctx); err != nil {
		m.logger.Error("Failed to re-prime after reconnect", "error", err)
	}
}

// HandleStateChange merges a state change from the websocket feed
// into the entity cache and re-projects the affected cards.
func (m *Manager) HandleStateChange(change hass.StateChange) {
	m.mu.Lock()
	if change.NewState != nil {
		m.entities[change.EntityID] = change.NewState
	} else {
		delete(m.entities, change.EntityID)
	}
	m.mu.Unlock()

	for _, card := range m.cards {
		if card.Entity == change.EntityID {
			m.maybeAdoptExternalRun(card, change)
			m.maybePollBridge(card, change)
		}
	}

	m.publishAllCards("state_change")
}

// maybePollBridge starts a bounded bridge poll after a status card's
// entity switches on. The integration writes its turn-off bookkeeping
// to the sensor a beat after the switch flips, so poll until a
// turn-off time resolves or the entity is off again.
func (m *Manager) maybePollBridge(card Card, change hass.StateChange) {
	if card.Type != CardTypeBoilerStatus {
		return
	}

	if change.OldState.IsOn() || !change.NewState.IsOn() {
		return
	}

	snap := m.bridgeFor(card)
	if snap == nil {
		return
	}

	entityID := card.Entity
	m.reconcile(card, scheduler.BridgeJob(snap.EntityID, func(s *scheduler.Snapshot) bool {
		entity := m.entityFor(card)
		if entity == nil || !entity.IsOn() {
			return true
		}

		return !scheduler.TurnOffTime(s, []*scheduler.Snapshot{s}, entity, entityID, time.Now()).IsZero()
	}))
}

// maybeAdoptExternalRun handles recirculation cards: a turn-on that
// did not come from this server (wall switch, voice assistant) is
// adopted as a timed run so it still switches off.
func (m *Manager) maybeAdoptExternalRun(card Card, change hass.StateChange) {
	if card.Type != CardTypeBoilerButton || card.Mode != ModeRecirculation {
		return
	}

	wasOn := change.OldState.IsOn()
	isOn := change.NewState.IsOn()

	if wasOn || !isOn {
		return
	}

	m.timerMu.Lock()
	guarded := time.Now().Before(m.guards[card.Entity])
	m.timerMu.Unlock()

	if guarded {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// Give the bridge a moment; if another button card already
		// registered this run, leave it alone.
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(adoptDelay):
		}

		snap := m.bridgeFor(card)
		if snap == nil {
			return
		}

		if _, owned := snap.ActiveButtons[card.Entity]; owned {
			return
		}

		m.logger.Info("Adopting externally started run",
			"card_id", card.ID,
			"entity", card.Entity,
			"duration", card.Duration,
		)

		if err := m.startRun(m.ctx, card, snap, false); err != nil {
			m.logger.Error("Failed to adopt external run",
				"card_id", card.ID,
				"error", err,
			)
		}
	}()
}

// bridgeFor resolves a card's bridge snapshot through the overlay
// accessor. The binding is memoized on first successful discovery; if
// the sensor later disappears a warning is logged once and the last
// known overlay view is still served.
func (m *Manager) bridgeFor(card Card) *scheduler.Snapshot {
	m.mu.Lock()

	bridgeID, bound := m.bridgeIDs[card.ID]
	if !bound {
		states := make([]hass.Entity, 0, len(m.entities))
		for _, entity := range m.entities {
			states = append(states, *entity)
		}

		snap := scheduler.FindBridge(states, card.Entity)
		if snap == nil {
			m.mu.Unlock()

			return nil
		}

		bridgeID = snap.EntityID
		m.bridgeIDs[card.ID] = bridgeID

		m.logger.Info("Card bound to bridge sensor",
			"card_id", card.ID,
			"bridge", bridgeID,
			"entry_id", snap.EntryID,
		)
	}

	snap := scheduler.ParseSnapshot(m.entities[bridgeID])
	if snap != nil {
		m.lastSnaps[bridgeID] = snap
	} else {
		snap = m.lastSnaps[bridgeID]

		if !m.bridgeWarned[card.ID] {
			m.bridgeWarned[card.ID] = true
			m.logger.Warn("Bridge sensor disappeared, serving last known state",
				"card_id", card.ID,
				"bridge", bridgeID,
			)
		}
	}
	m.mu.Unlock()

	return m.overlays.Read(bridgeID, snap)
}

// allBridgesFor returns every bridge instance controlling the card's
// entity, for the multi-instance turn-off minimum.
func (m *Manager) allBridgesFor(card Card) []*scheduler.Snapshot {
	m.mu.RLock()
	states := make([]hass.Entity, 0, len(m.entities))
	for _, entity := range m.entities {
		states = append(states, *entity)
	}
	m.mu.RUnlock()

	return scheduler.AllBridges(states, card.Entity)
}

// entityFor returns the cached state of the card's controlled entity.
func (m *Manager) entityFor(card Card) *hass.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entities[card.Entity]
}

// serviceFor returns the scheduler service bound to the bridge's
// config entry.
func (m *Manager) serviceFor(snap *scheduler.Snapshot) *scheduler.Service {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[snap.EntryID]
	if !ok {
		svc = scheduler.NewService(m.api, snap.EntryID, m.logger)
		m.services[snap.EntryID] = svc
	}

	return svc
}

// restoreActiveButton re-arms the local turn-off timer for a manual
// run recorded on the bridge. Runs with an expired timer are cleared;
// implausibly distant ones (clock skew) are ignored.
func (m *Manager) restoreActiveButton(ctx context.Context, card Card, snap *scheduler.Snapshot) {
	if card.Type != CardTypeBoilerButton {
		return
	}

	button, ok := snap.ActiveButtons[card.Entity]
	if !ok || button.ButtonID != card.ButtonID() {
		return
	}

	remaining := time.Until(button.TimerEnd)

	switch {
	case remaining <= 0:
		m.logger.Info("Clearing expired manual run",
			"card_id", card.ID,
			"entity", card.Entity,
		)

		if err := m.serviceFor(snap).ClearActiveButton(ctx, card.Entity); err != nil {
			m.logger.Warn("Failed to clear expired manual run", "error", err)
		}
	case remaining < 24*time.Hour:
		m.logger.Info("Restoring manual run timer",
			"card_id", card.ID,
			"entity", card.Entity,
			"remaining", remaining.Round(time.Second),
		)

		m.armTurnOffTimer(card, remaining)
	}
}

// armTurnOffTimer schedules the local end of a manual run. At expiry
// the run is handed to the integration when a schedule slot is
// active, otherwise the entity is switched off here.
func (m *Manager) armTurnOffTimer(card Card, after time.Duration) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if timer, ok := m.timers[card.Entity]; ok {
		timer.Stop()
	}

	m.timers[card.Entity] = time.AfterFunc(after, func() {
		m.finishRun(card)
	})
}

func (m *Manager) cancelTurnOffTimer(entityID string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if timer, ok := m.timers[entityID]; ok {
		timer.Stop()
		delete(m.timers, entityID)
	}
}

// finishRun ends a manual run when its local timer fires.
func (m *Manager) finishRun(card Card) {
	ctx, cancelCtx := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancelCtx()

	snap := m.bridgeFor(card)
	if snap == nil {
		return
	}

	// A schedule slot overlapping the run owns the turn-off; the
	// integration respects slot ends and runtime caps.
	if scheduler.InActiveSlot(snap.Items, card.Entity, time.Now()) {
		m.logger.Info("Manual run ended inside an active slot, deferring turn-off",
			"card_id", card.ID,
			"entity", card.Entity,
		)

		if err := m.serviceFor(snap).ClearActiveButton(ctx, card.Entity); err != nil {
			m.logger.Warn("Failed to clear manual run record", "error", err)
		}

		return
	}

	m.logger.Info("Manual run finished, switching off",
		"card_id", card.ID,
		"entity", card.Entity,
	)

	if err := m.callEntityService(ctx, card.Entity, false); err != nil {
		m.logger.Error("Failed to switch off after manual run",
			"entity", card.Entity,
			"error", err,
		)
	}

	if err := m.serviceFor(snap).ClearActiveButton(ctx, card.Entity); err != nil {
		m.logger.Warn("Failed to clear manual run record", "error", err)
	}

	m.cancelTurnOffTimer(card.Entity)
	m.publishAllCards("timer")
}

// callEntityService turns the card's entity on or off through its
// domain service and records the call on the bus.
func (m *Manager) callEntityService(ctx context.Context, entityID string, on bool) error {
	domain := strings.SplitN(entityID, ".", 2)[0]

	service := "turn_off"
	if on {
		service = "turn_on"
	}

	err := m.api.CallService(ctx, domain, service, map[string]any{"entity_id": entityID})

	event := events.ServiceCallEvent{
		Timestamp: time.Now(),
		Domain:    domain,
		Service:   service,
	}
	if err != nil {
		event.Error = err.Error()
	}
	m.eventBus.PublishServiceCall(m.client, event)

	return err
}

// RunButton toggles a button card's manual run. Pressing the owning
// button stops the run; pressing while another button owns the run
// stops that run first, waits for the switch to settle, then starts
// this one; otherwise a fresh run starts.
func (m *Manager) RunButton(ctx context.Context, cardID string) error {
	card, ok := m.Card(cardID)
	if !ok || card.Type != CardTypeBoilerButton {
		return fmt.Errorf("card %q is not a button card", cardID)
	}

	snap := m.bridgeFor(card)
	if snap == nil {
		return fmt.Errorf("no scheduler bridge found for %q", card.Entity)
	}

	view := BuildButton(card, snap, m.entityFor(card), time.Now())

	switch {
	case view.Active:
		return m.stopRun(ctx, card, snap)
	case view.ForeignOwner != "":
		if err := m.stopRun(ctx, card, snap); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(switchGap):
		}

		return m.startRun(ctx, card, snap, true)
	default:
		return m.startRun(ctx, card, snap, true)
	}
}

func (m *Manager) startRun(ctx context.Context, card Card, snap *scheduler.Snapshot, turnOn bool) error {
	timerEnd := time.Now().Add(time.Duration(card.Duration) * time.Minute)

	if turnOn {
		m.timerMu.Lock()
		m.guards[card.Entity] = time.Now().Add(guardWindow)
		m.timerMu.Unlock()

		if err := m.callEntityService(ctx, card.Entity, true); err != nil {
			return err
		}
	}

	svc := m.serviceFor(snap)
	if err := svc.SetActiveButton(ctx, card.Entity, card.ButtonID(), timerEnd, card.Duration); err != nil {
		return err
	}

	m.armTurnOffTimer(card, time.Until(timerEnd))

	m.eventBus.PublishMutation(m.client, events.MutationEvent{
		Timestamp: time.Now(),
		Source:    "button",
		CardID:    card.ID,
		EntityID:  card.Entity,
		Type:      events.MutationRunButton,
	})

	m.publishAllCards("button")

	return nil
}

func (m *Manager) stopRun(ctx context.Context, card Card, snap *scheduler.Snapshot) error {
	m.cancelTurnOffTimer(card.Entity)

	if err := m.callEntityService(ctx, card.Entity, false); err != nil {
		return err
	}

	if err := m.serviceFor(snap).ClearActiveButton(ctx, card.Entity); err != nil {
		return err
	}

	m.eventBus.PublishMutation(m.client, events.MutationEvent{
		Timestamp: time.Now(),
		Source:    "button",
		CardID:    card.ID,
		EntityID:  card.Entity,
		Type:      events.MutationStopButton,
	})

	m.publishAllCards("button")

	return nil
}

// ToggleEntity flips a status card's entity. Turning off also clears
// any manual-run record; turning on leaves the turn-off to the
// integration's runtime cap or an explicit button run.
func (m *Manager) ToggleEntity(ctx context.Context, cardID string) error {
	card, ok := m.Card(cardID)
	if !ok {
		return fmt.Errorf("unknown card %q", cardID)
	}

	entity := m.entityFor(card)
	on := entity.IsOn()

	m.eventBus.PublishMutation(m.client, events.MutationEvent{
		Timestamp: time.Now(),
		Source:    "status",
		CardID:    card.ID,
		EntityID:  card.Entity,
		Type:      events.MutationToggleEntity,
	})

	if on {
		m.cancelTurnOffTimer(card.Entity)

		if err := m.callEntityService(ctx, card.Entity, false); err != nil {
			return err
		}

		if snap := m.bridgeFor(card); snap != nil {
			if _, owned := snap.ActiveButtons[card.Entity]; owned {
				if err := m.serviceFor(snap).ClearActiveButton(ctx, card.Entity); err != nil {
					m.logger.Warn("Failed to clear manual run record", "error", err)
				}
			}
		}

		return nil
	}

	m.timerMu.Lock()
	m.guards[card.Entity] = time.Now().Add(guardWindow)
	m.timerMu.Unlock()

	return m.callEntityService(ctx, card.Entity, true)
}

// AddSlot creates a schedule slot for a slots card: an optimistic
// temp slot is visible immediately, the integration call follows, and
// the reconciler polls until the real slot appears or gives up.
func (m *Manager) AddSlot(ctx context.Context, cardID, slotTime string, weekdays []int, duration *int, title string) error {
	card, ok := m.Card(cardID)
	if !ok {
		return fmt.Errorf("unknown card %q", cardID)
	}

	if _, _, ok := scheduler.ParseSlotTime(slotTime); !ok {
		return fmt.Errorf("invalid slot time %q", slotTime)
	}

	if len(weekdays) == 0 {
		weekdays = scheduler.AllWeekdays()
	}

	snap := m.bridgeFor(card)
	if snap == nil {
		return fmt.Errorf("no scheduler bridge found for %q", card.Entity)
	}

	duration = card.Bounds().ClampOptional(duration)

	var start scheduler.ServiceRef
	var end *scheduler.ServiceRef

	if card.Type == CardTypeClimateSlots {
		start, end = scheduler.ClimateServices(card.Entity, card.HVACMode)
	} else {
		start, end = scheduler.SwitchServices(card.Entity)
	}

	req := scheduler.SlotRequest{
		EntityID:     card.Entity,
		Time:         slotTime,
		Weekdays:     weekdays,
		Duration:     duration,
		ServiceStart: start,
		ServiceEnd:   end,
		Title:        title,
	}

	// Optimistic view: the new slot shows up immediately under a
	// temp id that the real one replaces on reconcile.
	optimistic := m.overlays.Read(snap.EntityID, snap)
	overlaid := *optimistic
	overlaid.Items = append(append([]scheduler.Item{}, optimistic.Items...), scheduler.Item{
		ID:       "temp-" + uuid.NewString(),
		EntityID: card.Entity,
		Time:     slotTime,
		Weekdays: weekdays,
		Duration: derefOr(duration, 0),
		Enabled:  true,
		Title:    title,
	})
	m.overlays.Apply(snap.EntityID, &overlaid)

	// The overlay is never rolled back on failure; the reconcile poll
	// either confirms the slot or abandons the overlay after its
	// attempt budget, so stale optimism cannot stick around.
	job := scheduler.SlotJob(snap.EntityID, func(fresh *scheduler.Snapshot) bool {
		return hasRealSlot(fresh.Items, card.Entity, slotTime, weekdays)
	})

	if err := m.serviceFor(snap).AddSlot(ctx, snap, req); err != nil {
		m.reconcile(card, job)

		return err
	}

	m.publishMutation(card, events.MutationAddSlot, "")
	m.publishAllCards("mutation")

	m.reconcile(card, job)

	return nil
}

// UpdateSlot patches a slot's fields with the same optimistic
// overlay and reconcile flow as AddSlot.
func (m *Manager) UpdateSlot(ctx context.Context, cardID, itemID string, updates map[string]any) error {
	card, ok := m.Card(cardID)
	if !ok {
		return fmt.Errorf("unknown card %q", cardID)
	}

	snap := m.bridgeFor(card)
	if snap == nil {
		return fmt.Errorf("no scheduler bridge found for %q", card.Entity)
	}

	optimistic := m.overlays.Read(snap.EntityID, snap)
	overlaid := *optimistic
	overlaid.Items = patchItems(optimistic.Items, itemID, updates)
	m.overlays.Apply(snap.EntityID, &overlaid)

	job := scheduler.SlotJob(snap.EntityID, func(fresh *scheduler.Snapshot) bool {
		return itemMatches(fresh.Items, itemID, updates)
	})

	if err := m.serviceFor(snap).UpdateItem(ctx, itemID, updates); err != nil {
		m.reconcile(card, job)

		return err
	}

	m.serviceFor(snap).ForceRefresh(ctx, snap.EntityID)

	m.publishMutation(card, events.MutationUpdateSlot, itemID)
	m.publishAllCards("mutation")

	m.reconcile(card, job)

	return nil
}

// ToggleSlot enables or disables a single slot.
func (m *Manager) ToggleSlot(ctx context.Context, cardID, itemID string, enabled bool) error {
	return m.UpdateSlot(ctx, cardID, itemID, map[string]any{"enabled": enabled})
}

// ToggleAll enables or disables every visible slot of a card.
func (m *Manager) ToggleAll(ctx context.Context, cardID string, enabled bool) error {
	card, ok := m.Card(cardID)
	if !ok {
		return fmt.Errorf("unknown card %q", cardID)
	}

	snap := m.bridgeFor(card)
	if snap == nil {
		return fmt.Errorf("no scheduler bridge found for %q", card.Entity)
	}

	svc := m.serviceFor(snap)
	visible := VisibleSlots(snap.Items, card.Entity)

	optimistic := m.overlays.Read(snap.EntityID, snap)
	overlaid := *optimistic
	items := append([]scheduler.Item{}, optimistic.Items...)
	for i := range items {
		if items[i].EntityID == card.Entity && !items[i].Temporary {
			items[i].Enabled = enabled
		}
	}
	overlaid.Items = items
	m.overlays.Apply(snap.EntityID, &overlaid)

	job := scheduler.SlotJob(snap.EntityID, func(fresh *scheduler.Snapshot) bool {
		for _, item := range VisibleSlots(fresh.Items, card.Entity) {
			if item.Enabled != enabled {
				return false
			}
		}

		return true
	})

	for _, item := range visible {
		if item.Enabled == enabled {
			continue
		}

		if err := svc.UpdateItem(ctx, item.ID, map[string]any{"enabled": enabled}); err != nil {
			m.reconcile(card, job)

			return err
		}
	}

	svc.ForceRefresh(ctx, snap.EntityID)

	m.publishMutation(card, events.MutationToggleAll, "")
	m.publishAllCards("mutation")

	m.reconcile(card, job)

	return nil
}

// DeleteSlot removes a slot.
func (m *Manager) DeleteSlot(ctx context.Context, cardID, itemID string) error {
	card, ok := m.Card(cardID)
	if !ok {
		return fmt.Errorf("unknown card %q", cardID)
	}

	snap := m.bridgeFor(card)
	if snap == nil {
		return fmt.Errorf("no scheduler bridge found for %q", card.Entity)
	}

	optimistic := m.overlays.Read(snap.EntityID, snap)
	overlaid := *optimistic
	items := make([]scheduler.Item, 0, len(optimistic.Items))
	for _, item := range optimistic.Items {
		if item.ID != itemID {
			items = append(items, item)
		}
	}
	overlaid.Items = items
	m.overlays.Apply(snap.EntityID, &overlaid)

	job := scheduler.SlotJob(snap.EntityID, func(fresh *scheduler.Snapshot) bool {
		for _, item := range fresh.Items {
			if item.ID == itemID {
				return false
			}
		}

		return true
	})

	if err := m.serviceFor(snap).DeleteItem(ctx, itemID); err != nil {
		m.reconcile(card, job)

		return err
	}

	m.serviceFor(snap).ForceRefresh(ctx, snap.EntityID)

	m.publishMutation(card, events.MutationDeleteSlot, itemID)
	m.publishAllCards("mutation")

	m.reconcile(card, job)

	return nil
}

// reconcile runs a reconciliation job in the background and reports
// its outcome on the bus.
func (m *Manager) reconcile(card Card, job scheduler.ReconcileJob) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		outcome := m.reconciler.Run(m.ctx, job)
		attempts, _, _ := m.overlays.Pending(job.BridgeID)

		m.eventBus.PublishReconcile(m.client, events.ReconcileEvent{
			Timestamp: time.Now(),
			BridgeID:  job.BridgeID,
			Outcome:   string(outcome),
			Attempts:  attempts,
		})

		m.publishAllCards("reconcile")
	}()
}

func (m *Manager) publishMutation(card Card, typ events.MutationType, itemID string) {
	m.eventBus.PublishMutation(m.client, events.MutationEvent{
		Timestamp: time.Now(),
		Source:    "slots",
		CardID:    card.ID,
		EntityID:  card.Entity,
		Type:      typ,
		ItemID:    itemID,
	})
}

// StatusView projects a status card at the given time.
func (m *Manager) StatusView(cardID string, now time.Time) (StatusView, bool) {
	card, ok := m.Card(cardID)
	if !ok {
		return StatusView{}, false
	}

	snap := m.bridgeFor(card)
	view := BuildStatus(card, snap, m.allBridgesFor(card), m.entityFor(card), now)

	if view.Stale && snap != nil {
		m.scheduleStaleRefresh(card, snap.EntityID)
	}

	return view, true
}

// ButtonView projects a button card at the given time.
func (m *Manager) ButtonView(cardID string, now time.Time) (ButtonView, bool) {
	card, ok := m.Card(cardID)
	if !ok {
		return ButtonView{}, false
	}

	return BuildButton(card, m.bridgeFor(card), m.entityFor(card), now), true
}

// SlotsViewFor projects a slots card at the given time.
func (m *Manager) SlotsViewFor(cardID string, now time.Time) (SlotsView, bool) {
	card, ok := m.Card(cardID)
	if !ok {
		return SlotsView{}, false
	}

	return BuildSlots(card, m.bridgeFor(card), m.entityFor(card), now), true
}

// scheduleStaleRefresh fires one deferred bridge refresh when a
// countdown expires before the bridge publishes its follow-up state.
func (m *Manager) scheduleStaleRefresh(card Card, bridgeID string) {
	m.timerMu.Lock()
	if m.staleRefresh[card.ID] {
		m.timerMu.Unlock()

		return
	}
	m.staleRefresh[card.ID] = true
	m.timerMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(staleRefreshDelay):
		}

		ctx, cancelCtx := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancelCtx()

		if err := m.api.UpdateEntity(ctx, bridgeID); err != nil {
			m.logger.Debug("Stale bridge refresh failed", "bridge", bridgeID, "error", err)
		}

		m.timerMu.Lock()
		delete(m.staleRefresh, card.ID)
		m.timerMu.Unlock()
	}()
}

// RunTicker re-projects every card once a second so countdown
// subtitles stay live. The bus drops projections that did not change.
func (m *Manager) RunTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishAllCards("tick")
		}
	}
}

// publishAllCards pushes the current projection of every card onto
// the bus. Deduplication happens in the bus, so callers fire this
// freely after any change.
func (m *Manager) publishAllCards(source string) {
	now := time.Now()

	for _, card := range m.cards {
		event := events.CardUpdateEvent{
			Timestamp: now,
			Source:    source,
			CardID:    card.ID,
			EntityID:  card.Entity,
		}

		snap := m.bridgeFor(card)
		if snap != nil {
			_, _, event.Pending = m.overlays.Pending(snap.EntityID)
		}

		switch card.Type {
		case CardTypeBoilerStatus:
			view := BuildStatus(card, snap, m.allBridgesFor(card), m.entityFor(card), now)
			event.On = view.On
			event.Subtitle = view.Subtitle
			event.NextRun = view.NextRun
			event.TurnOffAt = view.TurnOffAt
		case CardTypeBoilerButton:
			view := BuildButton(card, snap, m.entityFor(card), now)
			event.On = view.Active
			event.Subtitle = view.Remaining
			event.TurnOffAt = view.TurnOffAt
		case CardTypeBoilerSlots, CardTypeClimateSlots:
			view := BuildSlots(card, snap, m.entityFor(card), now)
			event.On = view.Enabled
			event.Subtitle = view.NextRun
			event.SlotCount = len(view.Slots)
		}

		m.eventBus.PublishCardUpdate(m.client, event)
	}
}

// CardRuntime is a diagnostic snapshot of one card's runtime state.
type CardRuntime struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Entity          string `json:"entity"`
	Bridge          string `json:"bridge,omitempty"`
	EntryID         string `json:"entry_id,omitempty"`
	TimerArmed      bool   `json:"timer_armed"`
	OverlayPending  bool   `json:"overlay_pending"`
	OverlayAttempts int    `json:"overlay_attempts,omitempty"`
}

// Runtime returns a diagnostic snapshot per card.
func (m *Manager) Runtime() []CardRuntime {
	out := make([]CardRuntime, 0, len(m.cards))

	for _, card := range m.cards {
		info := CardRuntime{
			ID:     card.ID,
			Type:   string(card.Type),
			Entity: card.Entity,
		}

		m.mu.RLock()
		info.Bridge = m.bridgeIDs[card.ID]
		m.mu.RUnlock()

		if info.Bridge != "" {
			if snap := m.bridgeFor(card); snap != nil {
				info.EntryID = snap.EntryID
			}
			info.OverlayAttempts, _, info.OverlayPending = m.overlays.Pending(info.Bridge)
		}

		m.timerMu.Lock()
		_, info.TimerArmed = m.timers[card.Entity]
		m.timerMu.Unlock()

		out = append(out, info)
	}

	return out
}

// Close stops timers and background work.
func (m *Manager) Close() {
	m.shutdownOnce.Do(func() {
		m.cancel()

		m.timerMu.Lock()
		for entityID, timer := range m.timers {
			timer.Stop()
			delete(m.timers, entityID)
		}
		m.timerMu.Unlock()

		m.wg.Wait()

		m.logger.Info("Card manager shut down")
	})
}

func derefOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}

	return *v
}

// hasRealSlot reports whether a non-temporary slot with the given
// time and weekdays exists for the entity.
func hasRealSlot(items []scheduler.Item, entityID, slotTime string, weekdays []int) bool {
	for _, item := range items {
		if item.EntityID != entityID || item.Temporary || isTempID(item.ID) {
			continue
		}

		if item.Time == slotTime && sameWeekdays(item.Weekdays, weekdays) {
			return true
		}
	}

	return false
}

func sameWeekdays(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[int]int, len(a))
	for _, day := range a {
		seen[day]++
	}
	for _, day := range b {
		seen[day]--
		if seen[day] < 0 {
			return false
		}
	}

	return true
}

// patchItems applies an update_item payload to the overlay's copy of
// the items.
func patchItems(items []scheduler.Item, itemID string, updates map[string]any) []scheduler.Item {
	out := append([]scheduler.Item{}, items...)

	for i := range out {
		if out[i].ID != itemID {
			continue
		}

		if v, ok := updates["enabled"].(bool); ok {
			out[i].Enabled = v
		}
		if v, ok := updates["time"].(string); ok {
			out[i].Time = v
		}
		if v, ok := updates["weekdays"].([]int); ok {
			out[i].Weekdays = v
		}
		if v, ok := updates["duration"].(int); ok {
			out[i].Duration = v
		}
		if v, ok := updates["title"].(string); ok {
			out[i].Title = v
		}
	}

	return out
}

// itemMatches reports whether the authoritative item reflects every
// field of an update_item payload.
func itemMatches(items []scheduler.Item, itemID string, updates map[string]any) bool {
	for _, item := range items {
		if item.ID != itemID {
			continue
		}

		if v, ok := updates["enabled"].(bool); ok && item.Enabled != v {
			return false
		}
		if v, ok := updates["time"].(string); ok && item.Time != v {
			return false
		}
		if v, ok := updates["weekdays"].([]int); ok && !sameWeekdays(item.Weekdays, v) {
			return false
		}
		if v, ok := updates["duration"].(int); ok && item.Duration != v {
			return false
		}
		if v, ok := updates["title"].(string); ok && item.Title != v {
			return false
		}

		return true
	}

	return false
}
