package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/homie-scheduler/homie-cards/hass"
)

// Reconcile poll budgets. Slot edits settle slowly since the
// integration rewrites its sensor after the registry update; bridge
// state flips are faster but polled less often.
const (
	SlotReconcileAttempts = 20
	SlotReconcileInterval = 500 * time.Millisecond

	BridgeReconcileAttempts = 10
	BridgeReconcileInterval = 2 * time.Second
)

// Outcome is the result of one reconciliation run.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeCancelled Outcome = "cancelled"
)

// ReconcileJob describes one mutation to verify against the bridge:
// poll the bridge sensor until Confirm accepts its authoritative
// snapshot or the attempt budget runs out.
type ReconcileJob struct {
	BridgeID    string
	Attempts    int
	Interval    time.Duration
	// Refresh requests a best-effort update_entity before each poll
	// instead of waiting for the integration's own publish cadence.
	Refresh bool
	// Confirm reports whether the authoritative snapshot reflects
	// the mutation.
	Confirm func(*Snapshot) bool
}

// Reconciler verifies optimistic mutations against the bridge sensor.
// All mutations share this one primitive; only their job parameters
// differ.
type Reconciler struct {
	api      hass.API
	overlays *OverlayStore
	logger   *slog.Logger
}

// NewReconciler creates a reconciler that clears overlays in the
// given store once their mutation is confirmed or abandoned.
func NewReconciler(api hass.API, overlays *OverlayStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		api:      api,
		overlays: overlays,
		logger:   logger.With("component", "reconciler"),
	}
}

// Run polls until the job confirms, the attempt budget is spent, or
// ctx is cancelled. The overlay for the job's bridge is cleared on
// confirmation and on abandonment; on cancellation it is left for the
// next snapshot to settle. Blocks; run it in a goroutine.
func (r *Reconciler) Run(ctx context.Context, job ReconcileJob) Outcome {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-time.After(job.Interval):
		}

		if job.Refresh {
			if err := r.api.UpdateEntity(ctx, job.BridgeID); err != nil {
				r.logger.Debug("bridge refresh failed", "bridge", job.BridgeID, "error", err)
			}
		}

		entity, err := r.api.State(ctx, job.BridgeID)
		if err != nil {
			r.logger.Debug("bridge poll failed", "bridge", job.BridgeID, "error", err)
		} else if job.Confirm(ParseSnapshot(entity)) {
			r.overlays.Clear(job.BridgeID)
			r.logger.Debug("mutation confirmed", "bridge", job.BridgeID, "attempts", attempt)

			return OutcomeConfirmed
		}

		r.overlays.Bump(job.BridgeID)

		if attempt >= job.Attempts {
			r.overlays.Clear(job.BridgeID)
			r.logger.Warn("mutation not confirmed, dropping overlay",
				"bridge", job.BridgeID,
				"attempts", attempt)

			return OutcomeAbandoned
		}
	}
}

// SlotJob builds the job used after slot mutations: a tight poll with
// best-effort refreshes.
func SlotJob(bridgeID string, confirm func(*Snapshot) bool) ReconcileJob {
	return ReconcileJob{
		BridgeID: bridgeID,
		Attempts: SlotReconcileAttempts,
		Interval: SlotReconcileInterval,
		Refresh:  true,
		Confirm:  confirm,
	}
}

// BridgeJob builds the job used while waiting for the bridge to
// reflect an entity state change: a slower poll without refreshes.
func BridgeJob(bridgeID string, confirm func(*Snapshot) bool) ReconcileJob {
	return ReconcileJob{
		BridgeID: bridgeID,
		Attempts: BridgeReconcileAttempts,
		Interval: BridgeReconcileInterval,
		Confirm:  confirm,
	}
}
