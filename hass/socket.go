package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Socket subscribes to state_changed events over the Home Assistant
// websocket API and delivers them to a handler. It reconnects with
// backoff until its context is cancelled.
type Socket struct {
	url    string
	token  string
	logger *slog.Logger

	onChange  func(StateChange)
	onConnect func(connected bool)

	nextID int64
}

// NewSocket creates an event socket for the given Home Assistant base
// URL. onChange is called for every state_changed event, onConnect on
// every connect and disconnect.
func NewSocket(baseURL, token string, logger *slog.Logger, onChange func(StateChange), onConnect func(bool)) *Socket {
	wsURL := strings.TrimSuffix(baseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	return &Socket{
		url:       wsURL + "/api/websocket",
		token:     token,
		logger:    logger.With("component", "hass-socket"),
		onChange:  onChange,
		onConnect: onConnect,
	}
}

// Run connects and pumps events until ctx is cancelled.
func (s *Socket) Run(ctx context.Context) {
	backoff := reconnectMin

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, reconnectMax)
		if err == nil {
			backoff = reconnectMin
		}
	}
}

func (s *Socket) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: defaultTimeout}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}
	defer conn.Close()

	if err := s.authenticate(conn); err != nil {
		return err
	}

	if err := s.subscribe(conn); err != nil {
		return err
	}

	s.logger.Info("websocket connected", "url", s.url)
	if s.onConnect != nil {
		s.onConnect(true)
	}
	defer func() {
		if s.onConnect != nil {
			s.onConnect(false)
		}
	}()

	// Close from a watcher goroutine so ReadMessage unblocks when
	// the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg socketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading message: %w", err)
		}

		if msg.Type != "event" || msg.Event == nil {
			continue
		}

		if msg.Event.EventType != "state_changed" {
			continue
		}

		var change StateChange
		if err := json.Unmarshal(msg.Event.Data, &change); err != nil {
			s.logger.Warn("could not decode state change", "error", err)

			continue
		}

		s.onChange(change)
	}
}

func (s *Socket) authenticate(conn *websocket.Conn) error {
	var hello socketMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading auth challenge: %w", err)
	}

	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected first message type %q", hello.Type)
	}

	err := conn.WriteJSON(map[string]any{
		"type":         "auth",
		"access_token": s.token,
	})
	if err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var result socketMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}

	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication failed: %s", result.Type)
	}

	return nil
}

func (s *Socket) subscribe(conn *websocket.Conn) error {
	s.nextID++
	err := conn.WriteJSON(map[string]any{
		"id":         s.nextID,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	})
	if err != nil {
		return fmt.Errorf("subscribing to state_changed: %w", err)
	}

	var result socketMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("reading subscribe result: %w", err)
	}

	if result.Type != "result" || !result.Success {
		return fmt.Errorf("subscription rejected: %s", result.Type)
	}

	return nil
}

type socketMessage struct {
	ID      int64        `json:"id,omitempty"`
	Type    string       `json:"type"`
	Success bool         `json:"success,omitempty"`
	Event   *socketEvent `json:"event,omitempty"`
}

type socketEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}
