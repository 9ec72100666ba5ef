package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tailscale.com/util/eventbus"
)

// ClientName represents named clients used on the shared event bus.
type ClientName string

const (
	ClientCardManager ClientName = "cardmanager"
	ClientWeb         ClientName = "web"
	ClientSocket      ClientName = "socket"
	ClientMetrics     ClientName = "metrics"
)

// Bus wraps tailscale's eventbus and provides helpers for publishing
// card and scheduler events.
type Bus struct {
	bus     *eventbus.Bus
	clients map[ClientName]*eventbus.Client
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	lastCards map[string]CardUpdateEvent
	cardMu    sync.Mutex
	mu        sync.RWMutex
}

// New constructs a new bus with the known clients registered.
func New(logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		bus:       eventbus.New(),
		clients:   make(map[ClientName]*eventbus.Client),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		lastCards: make(map[string]CardUpdateEvent),
	}

	for _, name := range []ClientName{
		ClientCardManager,
		ClientWeb,
		ClientSocket,
		ClientMetrics,
	} {
		b.clients[name] = b.bus.Client(string(name))
	}

	logger.Info("eventbus initialized",
		slog.Int("client_count", len(b.clients)),
	)

	return b, nil
}

// Client returns the named eventbus client.
func (b *Bus) Client(name ClientName) (*eventbus.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	client, ok := b.clients[name]
	if !ok {
		return nil, fmt.Errorf("client %q not found", name)
	}

	return client, nil
}

// PublishCardUpdate emits a deduplicated card update for SSE
// consumers. Countdown ticks re-project every card each second, so
// identical consecutive projections are dropped here.
func (b *Bus) PublishCardUpdate(client *eventbus.Client, event CardUpdateEvent) {
	b.cardMu.Lock()
	defer b.cardMu.Unlock()

	last, ok := b.lastCards[event.CardID]
	if ok && event.Equals(last) {
		b.logger.Debug("skipping duplicate card update",
			slog.String("card_id", event.CardID),
			slog.String("source", event.Source),
		)
		return
	}

	b.logger.Debug("publishing card update",
		slog.String("card_id", event.CardID),
		slog.String("source", event.Source),
	)

	publisher := eventbus.Publish[CardUpdateEvent](client)
	defer publisher.Close()
	publisher.Publish(event)

	b.lastCards[event.CardID] = event
}

// PublishEntityChange emits a Home Assistant state change.
func (b *Bus) PublishEntityChange(client *eventbus.Client, event EntityChangeEvent) {
	b.logger.Debug("publishing entity change",
		slog.String("entity_id", event.EntityID),
		slog.String("new_state", event.NewState),
		slog.Bool("bridge", event.Bridge),
	)

	publisher := eventbus.Publish[EntityChangeEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// PublishMutation emits a mutation event for metrics/debug consumers.
func (b *Bus) PublishMutation(client *eventbus.Client, event MutationEvent) {
	b.logger.Debug("publishing mutation event",
		slog.String("card_id", event.CardID),
		slog.String("type", string(event.Type)),
	)

	publisher := eventbus.Publish[MutationEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// PublishServiceCall records a Home Assistant service call.
func (b *Bus) PublishServiceCall(client *eventbus.Client, event ServiceCallEvent) {
	publisher := eventbus.Publish[ServiceCallEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// PublishReconcile records a finished reconciliation run.
func (b *Bus) PublishReconcile(client *eventbus.Client, event ReconcileEvent) {
	b.logger.Debug("publishing reconcile event",
		slog.String("bridge_id", event.BridgeID),
		slog.String("outcome", event.Outcome),
	)

	publisher := eventbus.Publish[ReconcileEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// PublishConnectionStatus emits lifecycle updates for components.
func (b *Bus) PublishConnectionStatus(client *eventbus.Client, event ConnectionStatusEvent) {
	b.logger.Debug("publishing connection status",
		slog.String("component", event.Component),
		slog.String("status", string(event.Status)),
	)

	publisher := eventbus.Publish[ConnectionStatusEvent](client)
	defer publisher.Close()
	publisher.Publish(event)
}

// Close shuts down the event bus and releases clients.
func (b *Bus) Close() error {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, client := range b.clients {
		client.Close()
		delete(b.clients, name)
	}

	b.logger.Info("eventbus shut down")
	return nil
}
