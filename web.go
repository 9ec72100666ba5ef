package homiecards

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
	"github.com/kradalby/kra/web"
	"tailscale.com/util/eventbus"

	"github.com/homie-scheduler/homie-cards/cards"
	"github.com/homie-scheduler/homie-cards/events"
	"github.com/homie-scheduler/homie-cards/scheduler"
)

//go:embed assets/style.css
var cssContent string

//go:embed assets/script.js
var jsContent string

// WebServer manages the dashboard UI.
type WebServer struct {
	logger           *slog.Logger
	kraweb           *web.KraWeb
	manager          *cards.Manager
	eventLog         []string
	eventLogMu       sync.Mutex
	eventBus         *events.Bus
	client           *eventbus.Client
	cardSubscriber   *eventbus.Subscriber[events.CardUpdateEvent]
	statusSubscriber *eventbus.Subscriber[events.ConnectionStatusEvent]
	connectionState  map[string]events.ConnectionStatusEvent
	statusMu         sync.RWMutex
	sseClients       map[chan events.CardUpdateEvent]struct{}
	sseClientsMu     sync.RWMutex
	ctx              context.Context
}

// NewWebServer creates a new web server.
func NewWebServer(logger *slog.Logger, manager *cards.Manager, bus *events.Bus, kraweb *web.KraWeb) *WebServer {
	client, err := bus.Client(events.ClientWeb)
	if err != nil {
		panic(fmt.Sprintf("failed to create web client: %v", err))
	}

	return &WebServer{
		logger:           logger,
		kraweb:           kraweb,
		manager:          manager,
		eventLog:         make([]string, 0, 100),
		eventBus:         bus,
		client:           client,
		cardSubscriber:   eventbus.Subscribe[events.CardUpdateEvent](client),
		statusSubscriber: eventbus.Subscribe[events.ConnectionStatusEvent](client),
		connectionState:  make(map[string]events.ConnectionStatusEvent),
		sseClients:       make(map[chan events.CardUpdateEvent]struct{}),
		ctx:              context.Background(),
	}
}

// LogEvent adds an event to the log.
func (ws *WebServer) LogEvent(event string) {
	ws.eventLogMu.Lock()
	defer ws.eventLogMu.Unlock()

	ws.eventLog = append(ws.eventLog, fmt.Sprintf("%s: %s", time.Now().Format("15:04:05"), event))
	if len(ws.eventLog) > 100 {
		ws.eventLog = ws.eventLog[1:]
	}
}

func (ws *WebServer) recentEvents(n int) []string {
	ws.eventLogMu.Lock()
	defer ws.eventLogMu.Unlock()

	var out []string
	for i := len(ws.eventLog) - 1; i >= 0 && i >= len(ws.eventLog)-n; i-- {
		out = append(out, ws.eventLog[i])
	}

	return out
}

func (ws *WebServer) Start(ctx context.Context) {
	ws.ctx = ctx
	go ws.processCardUpdates(ctx)
	go ws.processConnectionStatuses(ctx)
	ws.publishConnectionStatus(events.ConnectionStatusConnecting, "")

	go func() {
		if ws.kraweb == nil {
			return
		}
		ws.logger.Info("Starting web interface")
		ws.publishConnectionStatus(events.ConnectionStatusConnected, "")
		if err := ws.kraweb.ListenAndServe(ctx); err != nil {
			ws.logger.Error("Web server error", slog.Any("error", err))
			if errors.Is(err, context.Canceled) {
				ws.publishConnectionStatus(events.ConnectionStatusDisconnected, "")
			} else {
				ws.publishConnectionStatus(events.ConnectionStatusFailed, err.Error())
			}
			return
		}
		ws.publishConnectionStatus(events.ConnectionStatusDisconnected, "")
	}()
}

func (ws *WebServer) Close() {
	ws.cardSubscriber.Close()
	ws.statusSubscriber.Close()

	ws.sseClientsMu.Lock()
	for client := range ws.sseClients {
		close(client)
	}
	ws.sseClients = make(map[chan events.CardUpdateEvent]struct{})
	ws.sseClientsMu.Unlock()
}

func (ws *WebServer) publishConnectionStatus(status events.ConnectionStatus, errMsg string) {
	if ws.eventBus == nil || ws.client == nil {
		return
	}

	ws.eventBus.PublishConnectionStatus(ws.client, events.ConnectionStatusEvent{
		Timestamp: time.Now(),
		Component: "web",
		Status:    status,
		Error:     errMsg,
	})
}

func (ws *WebServer) processCardUpdates(ctx context.Context) {
	for {
		select {
		case event := <-ws.cardSubscriber.Events():
			ws.logger.Debug("Web UI: card update received", "card_id", event.CardID)
			ws.broadcastSSE(event)
		case <-ctx.Done():
			return
		}
	}
}

func (ws *WebServer) processConnectionStatuses(ctx context.Context) {
	for {
		select {
		case event := <-ws.statusSubscriber.Events():
			ws.statusMu.Lock()
			ws.connectionState[event.Component] = event
			ws.statusMu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (ws *WebServer) broadcastSSE(event events.CardUpdateEvent) {
	ws.sseClientsMu.RLock()
	defer ws.sseClientsMu.RUnlock()

	for client := range ws.sseClients {
		select {
		case client <- event:
		default:
		}
	}
}

func (ws *WebServer) snapshotStatuses() []events.ConnectionStatusEvent {
	ws.statusMu.RLock()
	defer ws.statusMu.RUnlock()

	statuses := make([]events.ConnectionStatusEvent, 0, len(ws.connectionState))
	for _, evt := range ws.connectionState {
		statuses = append(statuses, evt)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})

	return statuses
}

func (ws *WebServer) renderPage(title string, content elem.Node) string {
	page := elem.Html(attrs.Props{},
		elem.Head(attrs.Props{},
			elem.Meta(attrs.Props{attrs.Charset: "utf-8"}),
			elem.Meta(attrs.Props{attrs.Name: "viewport", attrs.Content: "width=device-width, initial-scale=1"}),
			elem.Title(attrs.Props{}, elem.Text(title)),
			elem.Script(attrs.Props{
				attrs.Src: "https://unpkg.com/htmx.org@2.0.4",
			}),
			elem.Style(attrs.Props{}, elem.Text(cssContent)),
			elem.Script(attrs.Props{}, elem.Raw(jsContent)),
		),
		elem.Body(attrs.Props{}, content),
	)
	return page.Render()
}

// renderCard renders one card by type.
func (ws *WebServer) renderCard(card cards.Card) elem.Node {
	now := time.Now()

	switch card.Type {
	case cards.CardTypeBoilerStatus:
		view, _ := ws.manager.StatusView(card.ID, now)
		return ws.renderStatusCard(card, view)
	case cards.CardTypeBoilerButton:
		view, _ := ws.manager.ButtonView(card.ID, now)
		return ws.renderButtonCard(card, view)
	case cards.CardTypeBoilerSlots, cards.CardTypeClimateSlots:
		view, _ := ws.manager.SlotsViewFor(card.ID, now)
		return ws.renderSlotsCard(card, view)
	default:
		return elem.Div(attrs.Props{attrs.Class: "card"}, elem.Text("unknown card type"))
	}
}

func (ws *WebServer) renderStatusCard(card cards.Card, view cards.StatusView) elem.Node {
	statusClass := "off"
	if view.On {
		statusClass = "on"
	}

	buttonText := "Turn On"
	buttonClass := "on"
	if view.On {
		buttonText = "Turn Off"
		buttonClass = "off"
	}

	children := []elem.Node{
		elem.Div(attrs.Props{attrs.Class: "card-header"},
			elem.Div(attrs.Props{attrs.Class: "card-icon"}, elem.Text("🚿")),
			elem.Div(attrs.Props{attrs.Class: "card-info"},
				elem.Div(attrs.Props{attrs.Class: "card-name"}, elem.Text(view.Title)),
				elem.Div(attrs.Props{attrs.Class: "card-subtitle", "data-role": "subtitle"}, elem.Text(view.Subtitle)),
			),
		),
	}

	if view.MaxRuntime != "" {
		children = append(children,
			elem.Div(attrs.Props{attrs.Class: "card-detail"},
				elem.Span(attrs.Props{attrs.Class: "card-detail-label"}, elem.Text("Max runtime:")),
				elem.Span(attrs.Props{attrs.Class: "card-detail-value"}, elem.Text(view.MaxRuntime)),
			),
		)
	}

	children = append(children, elem.Form(
		attrs.Props{
			"hx-post":   "/toggle/" + card.ID,
			"hx-target": "#card-" + card.ID,
			"hx-swap":   "outerHTML",
		},
		elem.Button(
			attrs.Props{attrs.Type: "submit", attrs.Class: buttonClass, "data-role": "toggle-button"},
			elem.Text(buttonText),
		),
	))

	return elem.Div(
		attrs.Props{
			attrs.ID:       "card-" + card.ID,
			attrs.Class:    "card status-card " + statusClass,
			"data-card-id": card.ID,
		},
		children...,
	)
}

func (ws *WebServer) renderButtonCard(card cards.Card, view cards.ButtonView) elem.Node {
	statusClass := "idle"
	if view.Active {
		statusClass = "active"
	} else if view.EntityOn {
		statusClass = "foreign"
	}

	face := []elem.Node{
		elem.Span(attrs.Props{attrs.Class: "button-number"}, elem.Text(view.Number)),
		elem.Span(attrs.Props{attrs.Class: "button-unit"}, elem.Text(view.Unit)),
	}

	// A recirculation run started elsewhere (wall switch, another
	// card) shows how long it has been going instead of the duration
	// face.
	alreadyRunning := card.Mode == cards.ModeRecirculation && view.EntityOn && !view.Active
	if alreadyRunning {
		face = []elem.Node{
			elem.Span(attrs.Props{attrs.Class: "button-label"}, elem.Text("Already running")),
		}
	}

	children := []elem.Node{
		elem.Div(attrs.Props{attrs.Class: "card-header"},
			elem.Div(attrs.Props{attrs.Class: "card-info"},
				elem.Div(attrs.Props{attrs.Class: "card-name"}, elem.Text(view.Title)),
			),
		),
		elem.Form(
			attrs.Props{
				"hx-post":   "/run/" + card.ID,
				"hx-target": "#card-" + card.ID,
				"hx-swap":   "outerHTML",
			},
			elem.Button(
				attrs.Props{attrs.Type: "submit", attrs.Class: "run-button " + statusClass, "data-role": "run-button"},
				face...,
			),
		),
	}

	if view.Remaining != "" {
		children = append(children,
			elem.Div(attrs.Props{attrs.Class: "card-subtitle", "data-role": "remaining"},
				elem.Text("Off in "+view.Remaining),
			),
		)
	}

	if alreadyRunning && view.RunsSince != "" {
		children = append(children,
			elem.Div(attrs.Props{attrs.Class: "card-subtitle", "data-role": "runs-since"},
				elem.Text(view.RunsSince),
			),
		)
	}

	return elem.Div(
		attrs.Props{
			attrs.ID:       "card-" + card.ID,
			attrs.Class:    "card button-card " + statusClass,
			"data-card-id": card.ID,
		},
		children...,
	)
}

func (ws *WebServer) renderSlotsCard(card cards.Card, view cards.SlotsView) elem.Node {
	allText := "Enable all"
	allAction := "on"
	if view.Enabled {
		allText = "Disable all"
		allAction = "off"
	}

	children := []elem.Node{
		elem.Div(attrs.Props{attrs.Class: "card-header"},
			elem.Div(attrs.Props{attrs.Class: "card-icon"}, elem.Text("🗓️")),
			elem.Div(attrs.Props{attrs.Class: "card-info"},
				elem.Div(attrs.Props{attrs.Class: "card-name"}, elem.Text(view.Title)),
				elem.Div(attrs.Props{attrs.Class: "card-subtitle", "data-role": "next-run"}, elem.Text(view.NextRun)),
			),
			elem.Form(
				attrs.Props{
					attrs.Class: "slots-all-form",
					"hx-post":   "/slots/" + card.ID + "/all",
					"hx-target": "#card-" + card.ID,
					"hx-swap":   "outerHTML",
				},
				elem.Input(attrs.Props{attrs.Type: "hidden", attrs.Name: "action", attrs.Value: allAction}),
				elem.Button(attrs.Props{attrs.Type: "submit", attrs.Class: "slots-all-button"}, elem.Text(allText)),
			),
		),
	}

	var rows []elem.Node
	for _, slot := range view.Slots {
		rows = append(rows, ws.renderSlotRow(card, slot))
	}
	children = append(children, elem.Div(attrs.Props{attrs.Class: "slots-list"}, rows...))

	children = append(children, ws.renderAddSlotForm(card))

	return elem.Div(
		attrs.Props{
			attrs.ID:       "card-" + card.ID,
			attrs.Class:    "card slots-card",
			"data-card-id": card.ID,
		},
		children...,
	)
}

func (ws *WebServer) renderSlotRow(card cards.Card, slot cards.SlotView) elem.Node {
	rowClass := "slot-row"
	if !slot.Enabled {
		rowClass += " disabled"
	}
	if strings.HasPrefix(slot.ID, "temp-") {
		rowClass += " pending"
	}

	toggleAction := "on"
	if slot.Enabled {
		toggleAction = "off"
	}

	label := slot.Time
	if slot.Duration != "" {
		label += " " + slot.Duration
	}

	return elem.Div(attrs.Props{attrs.Class: rowClass, "data-slot-id": slot.ID},
		elem.Div(attrs.Props{attrs.Class: "slot-info"},
			elem.Span(attrs.Props{attrs.Class: "slot-time"}, elem.Text(label)),
			elem.Span(attrs.Props{attrs.Class: "slot-weekdays"}, elem.Text(slot.Weekdays)),
		),
		elem.Form(
			attrs.Props{
				attrs.Class: "slot-toggle-form",
				"hx-post":   "/slots/" + card.ID + "/toggle/" + slot.ID,
				"hx-target": "#card-" + card.ID,
				"hx-swap":   "outerHTML",
			},
			elem.Input(attrs.Props{attrs.Type: "hidden", attrs.Name: "action", attrs.Value: toggleAction}),
			elem.Button(attrs.Props{attrs.Type: "submit", attrs.Class: "slot-toggle " + toggleAction}, elem.Text(strings.ToUpper(toggleAction))),
		),
		elem.Form(
			attrs.Props{
				attrs.Class: "slot-delete-form",
				"hx-post":   "/slots/" + card.ID + "/delete/" + slot.ID,
				"hx-target": "#card-" + card.ID,
				"hx-swap":   "outerHTML",
			},
			elem.Button(attrs.Props{attrs.Type: "submit", attrs.Class: "slot-delete"}, elem.Text("✕")),
		),
	)
}

func (ws *WebServer) renderAddSlotForm(card cards.Card) elem.Node {
	bounds := card.Bounds()

	var dayBoxes []elem.Node
	for _, day := range scheduler.AllWeekdays() {
		dayBoxes = append(dayBoxes,
			elem.Label(attrs.Props{attrs.Class: "weekday-box"},
				elem.Input(attrs.Props{
					attrs.Type:  "checkbox",
					attrs.Name:  "weekday",
					attrs.Value: strconv.Itoa(day),
				}),
				elem.Text(scheduler.WeekdayName(day)),
			),
		)
	}

	return elem.Form(
		attrs.Props{
			attrs.Class: "add-slot-form",
			"hx-post":   "/slots/" + card.ID + "/add",
			"hx-target": "#card-" + card.ID,
			"hx-swap":   "outerHTML",
		},
		elem.Input(attrs.Props{
			attrs.Type:  "time",
			attrs.Name:  "time",
			attrs.Class: "slot-time-input",
		}),
		elem.Input(attrs.Props{
			attrs.Type:        "number",
			attrs.Name:        "duration",
			attrs.Class:       "slot-duration-input",
			attrs.Min:     strconv.Itoa(bounds.Min),
			attrs.Max:     strconv.Itoa(bounds.Max),
			"step":        strconv.Itoa(bounds.Step),
			"placeholder": "min",
		}),
		elem.Div(attrs.Props{attrs.Class: "weekday-boxes"}, dayBoxes...),
		elem.Button(attrs.Props{attrs.Type: "submit", attrs.Class: "add-slot-button"}, elem.Text("Add")),
	)
}

// HandleIndex renders the main dashboard.
func (ws *WebServer) HandleIndex(w http.ResponseWriter, r *http.Request) {
	var cardElements []elem.Node
	for _, card := range ws.manager.Cards() {
		cardElements = append(cardElements, ws.renderCard(card))
	}

	var eventElements []elem.Node
	for _, entry := range ws.recentEvents(20) {
		eventElements = append(eventElements, elem.Div(attrs.Props{attrs.Class: "event"}, elem.Text(entry)))
	}

	content := elem.Div(attrs.Props{},
		elem.H1(attrs.Props{}, elem.Text("Homie Scheduler Cards")),
		elem.P(attrs.Props{}, elem.Text(fmt.Sprintf("Managing %d cards", len(ws.manager.Cards())))),
		elem.Div(attrs.Props{attrs.Class: "cards-grid"}, cardElements...),
		elem.Div(attrs.Props{attrs.Class: "events"},
			elem.H2(attrs.Props{}, elem.Text("Recent Events")),
			elem.Div(attrs.Props{}, eventElements...),
		),
	)

	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, ws.renderPage("homie-cards", content)); err != nil {
		ws.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

// HandleCard renders a single card fragment, used by the SSE-driven
// refresh.
func (ws *WebServer) HandleCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cardID := strings.TrimPrefix(r.URL.Path, "/card/")
	card, ok := ws.manager.Card(cardID)
	if !ok {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, ws.renderCard(card).Render()); err != nil {
		ws.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

// HandleToggle flips a status card's entity.
func (ws *WebServer) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cardID := strings.TrimPrefix(r.URL.Path, "/toggle/")
	card, ok := ws.manager.Card(cardID)
	if !ok {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}

	if err := ws.manager.ToggleEntity(r.Context(), cardID); err != nil {
		ws.logger.Error("Failed to toggle entity", "card_id", cardID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to toggle entity: %v", err), http.StatusInternalServerError)
		return
	}

	ws.LogEvent(fmt.Sprintf("Web UI: Toggle %s", cardID))
	ws.respondCard(w, r, card)
}

// HandleRun starts or stops a button card's timed run.
func (ws *WebServer) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cardID := strings.TrimPrefix(r.URL.Path, "/run/")
	card, ok := ws.manager.Card(cardID)
	if !ok {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}

	if err := ws.manager.RunButton(r.Context(), cardID); err != nil {
		ws.logger.Error("Failed to run button", "card_id", cardID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to run button: %v", err), http.StatusInternalServerError)
		return
	}

	ws.LogEvent(fmt.Sprintf("Web UI: Run %s", cardID))
	ws.respondCard(w, r, card)
}

// HandleSlots dispatches slot mutations: /slots/{card}/add,
// /slots/{card}/all, /slots/{card}/toggle/{item},
// /slots/{card}/delete/{item}.
func (ws *WebServer) HandleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/slots/"), "/")
	if len(parts) < 2 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	cardID, action := parts[0], parts[1]
	card, ok := ws.manager.Card(cardID)
	if !ok {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}

	var err error
	switch action {
	case "add":
		err = ws.handleAddSlot(r, cardID)
	case "all":
		err = ws.manager.ToggleAll(r.Context(), cardID, r.FormValue("action") == "on")
	case "toggle":
		if len(parts) < 3 {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		err = ws.manager.ToggleSlot(r.Context(), cardID, parts[2], r.FormValue("action") == "on")
	case "delete":
		if len(parts) < 3 {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		err = ws.manager.DeleteSlot(r.Context(), cardID, parts[2])
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if err != nil {
		ws.logger.Error("Slot mutation failed", "card_id", cardID, "action", action, "error", err)
		http.Error(w, fmt.Sprintf("Slot mutation failed: %v", err), http.StatusBadRequest)
		return
	}

	ws.LogEvent(fmt.Sprintf("Web UI: Slots %s %s", cardID, action))
	ws.respondCard(w, r, card)
}

func (ws *WebServer) handleAddSlot(r *http.Request, cardID string) error {
	if err := r.ParseForm(); err != nil {
		return err
	}

	slotTime := r.FormValue("time")

	var weekdays []int
	for _, raw := range r.Form["weekday"] {
		day, err := strconv.Atoi(raw)
		if err != nil || day < 0 || day > 6 {
			return fmt.Errorf("invalid weekday %q", raw)
		}
		weekdays = append(weekdays, day)
	}

	var duration *int
	if raw := r.FormValue("duration"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		duration = &minutes
	}

	return ws.manager.AddSlot(r.Context(), cardID, slotTime, weekdays, duration, r.FormValue("title"))
}

// respondCard returns the refreshed card fragment for htmx requests
// and redirects plain form posts back to the dashboard.
func (ws *WebServer) respondCard(w http.ResponseWriter, r *http.Request, card cards.Card) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html")
		if _, err := fmt.Fprint(w, ws.renderCard(card).Render()); err != nil {
			ws.logger.Error("Failed to write response", slog.Any("error", err))
		}
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleEventBusDebug renders a simple diagnostic view of the current state.
func (ws *WebServer) HandleEventBusDebug(w http.ResponseWriter, r *http.Request) {
	ws.sseClientsMu.RLock()
	clientCount := len(ws.sseClients)
	ws.sseClientsMu.RUnlock()

	now := time.Now()
	rows := []elem.Node{
		elem.Tr(attrs.Props{},
			elem.Th(attrs.Props{}, elem.Text("Card ID")),
			elem.Th(attrs.Props{}, elem.Text("Type")),
			elem.Th(attrs.Props{}, elem.Text("Entity")),
			elem.Th(attrs.Props{}, elem.Text("Subtitle")),
		),
	}

	for _, card := range ws.manager.Cards() {
		subtitle := ""
		switch card.Type {
		case cards.CardTypeBoilerStatus:
			view, _ := ws.manager.StatusView(card.ID, now)
			subtitle = view.Subtitle
		case cards.CardTypeBoilerButton:
			view, _ := ws.manager.ButtonView(card.ID, now)
			subtitle = view.Remaining
		case cards.CardTypeBoilerSlots, cards.CardTypeClimateSlots:
			view, _ := ws.manager.SlotsViewFor(card.ID, now)
			subtitle = view.NextRun
		}

		rows = append(rows,
			elem.Tr(attrs.Props{},
				elem.Td(attrs.Props{}, elem.Text(card.ID)),
				elem.Td(attrs.Props{}, elem.Text(string(card.Type))),
				elem.Td(attrs.Props{}, elem.Text(card.Entity)),
				elem.Td(attrs.Props{}, elem.Text(subtitle)),
			),
		)
	}

	statusRows := []elem.Node{
		elem.Tr(attrs.Props{},
			elem.Th(attrs.Props{}, elem.Text("Component")),
			elem.Th(attrs.Props{}, elem.Text("Status")),
			elem.Th(attrs.Props{}, elem.Text("Updated")),
			elem.Th(attrs.Props{}, elem.Text("Error")),
		),
	}

	for _, status := range ws.snapshotStatuses() {
		statusRows = append(statusRows,
			elem.Tr(attrs.Props{},
				elem.Td(attrs.Props{}, elem.Text(status.Component)),
				elem.Td(attrs.Props{}, elem.Text(string(status.Status))),
				elem.Td(attrs.Props{}, elem.Text(status.Timestamp.Format(time.RFC3339))),
				elem.Td(attrs.Props{}, elem.Text(status.Error)),
			),
		)
	}

	content := elem.Div(attrs.Props{},
		elem.H1(attrs.Props{}, elem.Text("EventBus Debug")),
		elem.P(attrs.Props{}, elem.Text(fmt.Sprintf("Connected SSE clients: %d", clientCount))),
		elem.Table(attrs.Props{"border": "1", "cellpadding": "4", "cellspacing": "0"}, rows...),
		elem.H2(attrs.Props{}, elem.Text("Component Status")),
		elem.Table(attrs.Props{"border": "1", "cellpadding": "4", "cellspacing": "0"}, statusRows...),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, ws.renderPage("EventBus Debug", content)); err != nil {
		ws.logger.Error("Failed to write eventbus debug response", slog.Any("error", err))
	}
}

// HandleSSE streams JSON card updates to clients.
func (ws *WebServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan events.CardUpdateEvent, 10)

	ws.sseClientsMu.Lock()
	ws.sseClients[clientChan] = struct{}{}
	ws.sseClientsMu.Unlock()

	defer func() {
		ws.sseClientsMu.Lock()
		delete(ws.sseClients, clientChan)
		ws.sseClientsMu.Unlock()
		close(clientChan)
	}()

	for {
		select {
		case evt := <-clientChan:
			payload, err := json.Marshal(evt)
			if err != nil {
				ws.logger.Error("Failed to marshal SSE payload", slog.Any("error", err))
				continue
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		case <-ws.ctx.Done():
			return
		}
	}
}

// HandleHealth exposes a JSON health summary.
func (ws *WebServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws.sseClientsMu.RLock()
	sseClients := len(ws.sseClients)
	ws.sseClientsMu.RUnlock()

	resp := struct {
		Status     string    `json:"status"`
		Cards      int       `json:"cards"`
		SSEClients int       `json:"sse_clients"`
		Timestamp  time.Time `json:"timestamp"`
	}{
		Status:     "ok",
		Cards:      len(ws.manager.Cards()),
		SSEClients: sseClients,
		Timestamp:  time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ws.logger.Error("Failed to write health response", slog.Any("error", err))
	}
}
