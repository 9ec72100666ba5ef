package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
)

const refreshSettle = 500 * time.Millisecond

// Service wraps the homie_scheduler services of one integration
// instance, binding every call to its config entry.
type Service struct {
	api     hass.API
	entryID string
	logger  *slog.Logger
}

// NewService creates a service bound to the given config entry.
func NewService(api hass.API, entryID string, logger *slog.Logger) *Service {
	return &Service{
		api:     api,
		entryID: entryID,
		logger:  logger.With("component", "scheduler-service", "entry_id", entryID),
	}
}

// Call invokes a homie_scheduler service with the entry id merged in.
func (s *Service) Call(ctx context.Context, service string, data map[string]any) error {
	payload := map[string]any{"entry_id": s.entryID}
	for k, v := range data {
		payload[k] = v
	}

	if err := s.api.CallService(ctx, Integration, service, payload); err != nil {
		return fmt.Errorf("calling %s.%s: %w", Integration, service, err)
	}

	return nil
}

// SetEnabled turns the whole scheduler instance on or off.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	return s.Call(ctx, "set_enabled", map[string]any{"enabled": enabled})
}

// AddItem creates a schedule slot.
func (s *Service) AddItem(ctx context.Context, req SlotRequest) error {
	return s.Call(ctx, "add_item", BuildSlotPayload(req))
}

// UpdateItem patches fields of an existing slot.
func (s *Service) UpdateItem(ctx context.Context, itemID string, updates map[string]any) error {
	data := map[string]any{"id": itemID}
	for k, v := range updates {
		data[k] = v
	}

	return s.Call(ctx, "update_item", data)
}

// DeleteItem removes a slot.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	return s.Call(ctx, "delete_item", map[string]any{"id": itemID})
}

// SetActiveButton records a manual timed run on the bridge so every
// card, and a restarted card, can see who owns it. timerEnd is sent
// as epoch milliseconds.
func (s *Service) SetActiveButton(ctx context.Context, entityID, buttonID string, timerEnd time.Time, durationMinutes int) error {
	return s.Call(ctx, "set_active_button", map[string]any{
		"entity_id": entityID,
		"button_id": buttonID,
		"timer_end": timerEnd.UnixMilli(),
		"duration":  durationMinutes,
	})
}

// ClearActiveButton removes the manual-run record for an entity.
func (s *Service) ClearActiveButton(ctx context.Context, entityID string) error {
	return s.Call(ctx, "clear_active_button", map[string]any{"entity_id": entityID})
}

// ForceRefresh asks Home Assistant to refresh the bridge sensor,
// waits for the state to settle, and refreshes once more. The
// integration updates its sensor asynchronously after a mutation, so
// a single refresh often returns the pre-mutation state. Errors are
// logged, not returned: a missed refresh only delays the next poll.
func (s *Service) ForceRefresh(ctx context.Context, bridgeEntityID string) {
	if err := s.api.UpdateEntity(ctx, bridgeEntityID); err != nil {
		s.logger.Debug("bridge refresh failed", "entity", bridgeEntityID, "error", err)
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(refreshSettle):
	}

	if err := s.api.UpdateEntity(ctx, bridgeEntityID); err != nil {
		s.logger.Debug("bridge refresh failed", "entity", bridgeEntityID, "error", err)
	}
}

// AddSlot runs the full slot-creation workflow: enable the scheduler
// instance if it is not active, create the slot, then force the
// bridge sensor to publish the new state.
func (s *Service) AddSlot(ctx context.Context, bridge *Snapshot, req SlotRequest) error {
	if bridge != nil && bridge.State != "active" {
		if err := s.SetEnabled(ctx, true); err != nil {
			return err
		}
	}

	if err := s.AddItem(ctx, req); err != nil {
		return err
	}

	if bridge != nil {
		s.ForceRefresh(ctx, bridge.EntityID)
	}

	return nil
}
