package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"tailscale.com/util/eventbus"

	"github.com/homie-scheduler/homie-cards/events"
)

// Collector subscribes to eventbus updates and exposes Prometheus metrics.
type Collector struct {
	logger           *slog.Logger
	statusSub        *eventbus.Subscriber[events.ConnectionStatusEvent]
	mutationSub      *eventbus.Subscriber[events.MutationEvent]
	serviceSub       *eventbus.Subscriber[events.ServiceCallEvent]
	reconcileSub     *eventbus.Subscriber[events.ReconcileEvent]
	entitySub        *eventbus.Subscriber[events.EntityChangeEvent]
	cardSub          *eventbus.Subscriber[events.CardUpdateEvent]
	statusGauge      *prometheus.GaugeVec
	mutationCounter  *prometheus.CounterVec
	serviceCounter   *prometheus.CounterVec
	reconcileCounter *prometheus.CounterVec
	entityCounter    *prometheus.CounterVec
	cardState        *prometheus.GaugeVec
	ctx              context.Context
	cancel           context.CancelFunc
	shutdownOnce     sync.Once
	workers          sync.WaitGroup
}

// NewCollector wires eventbus subscribers into Prometheus metrics.
func NewCollector(ctx context.Context, logger *slog.Logger, bus *events.Bus, reg prometheus.Registerer) (*Collector, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	client, err := bus.Client(events.ClientMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics client: %w", err)
	}

	collectorCtx, cancel := context.WithCancel(ctx)
	statusSub := eventbus.Subscribe[events.ConnectionStatusEvent](client)
	mutationSub := eventbus.Subscribe[events.MutationEvent](client)
	serviceSub := eventbus.Subscribe[events.ServiceCallEvent](client)
	reconcileSub := eventbus.Subscribe[events.ReconcileEvent](client)
	entitySub := eventbus.Subscribe[events.EntityChangeEvent](client)
	cardSub := eventbus.Subscribe[events.CardUpdateEvent](client)

	statusGauge := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "homie_cards_component_status",
		Help: "Lifecycle state per component (1 when matching status, 0 otherwise)",
	}, []string{"component", "status"})

	mutationCounter := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "homie_cards_mutation_total",
		Help: "Total schedule and run mutations by card and type",
	}, []string{"card_id", "type", "result"})

	serviceCounter := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "homie_cards_service_call_total",
		Help: "Total Home Assistant service calls by domain and service",
	}, []string{"domain", "service", "result"})

	reconcileCounter := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "homie_cards_reconcile_total",
		Help: "Reconciliation runs by bridge sensor and outcome",
	}, []string{"bridge", "outcome"})

	entityCounter := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "homie_cards_entity_change_total",
		Help: "State changes seen on the websocket feed",
	}, []string{"entity_id", "bridge"})

	cardState := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "homie_cards_card_state",
		Help: "Card projection values (on, pending, slot_count)",
	}, []string{"card_id", "metric"})

	c := &Collector{
		logger:           logger,
		statusSub:        statusSub,
		mutationSub:      mutationSub,
		serviceSub:       serviceSub,
		reconcileSub:     reconcileSub,
		entitySub:        entitySub,
		cardSub:          cardSub,
		statusGauge:      statusGauge,
		mutationCounter:  mutationCounter,
		serviceCounter:   serviceCounter,
		reconcileCounter: reconcileCounter,
		entityCounter:    entityCounter,
		cardState:        cardState,
		ctx:              collectorCtx,
		cancel:           cancel,
	}

	c.workers.Add(4)
	go c.consumeStatuses()
	go c.consumeMutations()
	go c.consumeSchedulerEvents()
	go c.consumeCardUpdates()

	logger.Info("metrics collector started")

	return c, nil
}

// Close stops the collector and releases subscribers.
func (c *Collector) Close() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		if c.statusSub != nil {
			c.statusSub.Close()
		}
		if c.mutationSub != nil {
			c.mutationSub.Close()
		}
		if c.serviceSub != nil {
			c.serviceSub.Close()
		}
		if c.reconcileSub != nil {
			c.reconcileSub.Close()
		}
		if c.entitySub != nil {
			c.entitySub.Close()
		}
		if c.cardSub != nil {
			c.cardSub.Close()
		}
		c.workers.Wait()
		c.logger.Info("metrics collector stopped")
	})
}

func (c *Collector) consumeStatuses() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.statusSub.Events():
			c.observeStatus(evt)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumeMutations() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.mutationSub.Events():
			c.observeMutation(evt)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumeSchedulerEvents() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.serviceSub.Events():
			c.observeServiceCall(evt)
		case evt := <-c.reconcileSub.Events():
			c.reconcileCounter.WithLabelValues(evt.BridgeID, evt.Outcome).Inc()
		case evt := <-c.entitySub.Events():
			c.observeEntityChange(evt)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumeCardUpdates() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.cardSub.Events():
			c.observeCardUpdate(evt)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) observeStatus(evt events.ConnectionStatusEvent) {
	for _, status := range []events.ConnectionStatus{
		events.ConnectionStatusDisconnected,
		events.ConnectionStatusConnecting,
		events.ConnectionStatusConnected,
		events.ConnectionStatusReconnecting,
		events.ConnectionStatusFailed,
	} {
		value := 0.0
		if status == evt.Status {
			value = 1.0
		}
		c.statusGauge.WithLabelValues(evt.Component, string(status)).Set(value)
	}
}

func (c *Collector) observeMutation(evt events.MutationEvent) {
	mutationType := string(evt.Type)
	if mutationType == "" {
		mutationType = "unknown"
	}
	cardID := evt.CardID
	if cardID == "" {
		cardID = "unknown"
	}
	result := "ok"
	if evt.Error != "" {
		result = "error"
	}
	c.mutationCounter.WithLabelValues(cardID, mutationType, result).Inc()
}

func (c *Collector) observeServiceCall(evt events.ServiceCallEvent) {
	result := "ok"
	if evt.Error != "" {
		result = "error"
	}
	c.serviceCounter.WithLabelValues(evt.Domain, evt.Service, result).Inc()
}

func (c *Collector) observeEntityChange(evt events.EntityChangeEvent) {
	bridge := "false"
	if evt.Bridge {
		bridge = "true"
	}
	c.entityCounter.WithLabelValues(evt.EntityID, bridge).Inc()
}

func (c *Collector) observeCardUpdate(evt events.CardUpdateEvent) {
	on := 0.0
	if evt.On {
		on = 1.0
	}
	c.cardState.WithLabelValues(evt.CardID, "on").Set(on)

	pending := 0.0
	if evt.Pending {
		pending = 1.0
	}
	c.cardState.WithLabelValues(evt.CardID, "pending").Set(pending)

	c.cardState.WithLabelValues(evt.CardID, "slot_count").Set(float64(evt.SlotCount))
}
