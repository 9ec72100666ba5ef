// Package cards holds the card configuration and the runtime state
// that backs each configured dashboard card.
package cards

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/homie-scheduler/homie-cards/scheduler"
)

// CardType represents the kind of dashboard card.
type CardType string

const (
	CardTypeBoilerStatus CardType = "boiler_status"
	CardTypeBoilerButton CardType = "boiler_button"
	CardTypeBoilerSlots  CardType = "boiler_slots"
	CardTypeClimateSlots CardType = "climate_slots"
)

// ButtonMode selects the button card behavior.
type ButtonMode string

const (
	// ModeNormal runs the entity for a fixed duration.
	ModeNormal ButtonMode = "normal"
	// ModeRecirculation additionally adopts runs started outside
	// the card, e.g. from a wall switch.
	ModeRecirculation ButtonMode = "recirculation"
)

// Card describes a single configured card.
type Card struct {
	ID     string   `json:"id"`
	Type   CardType `json:"type"`
	Entity string   `json:"entity"`
	Title  string   `json:"title,omitempty"`

	// Button cards
	Mode     ButtonMode `json:"mode,omitempty"`
	Duration int        `json:"duration,omitempty"`

	// Slot cards
	MinDuration  int `json:"min_duration,omitempty"`
	MaxDuration  int `json:"max_duration,omitempty"`
	DurationStep int `json:"duration_step,omitempty"`

	// Climate cards
	HVACMode string `json:"hvac_mode,omitempty"`
}

// Bounds returns the card's duration bounds with defaults filled in.
func (c Card) Bounds() scheduler.Bounds {
	return scheduler.NewBounds(c.MinDuration, c.MaxDuration, c.DurationStep)
}

// ButtonID is the identity a button card registers on the bridge:
// entity, duration and mode together, so two buttons for the same
// entity with different durations stay distinct.
func (c Card) ButtonID() string {
	return fmt.Sprintf("%s_%d_%s", c.Entity, c.Duration, c.Mode)
}

// Config defines the cards configuration file structure.
type Config struct {
	Cards []Card `json:"cards"`
}

const defaultButtonDuration = 60

// LoadConfig reads and validates the HuJSON cards configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cards config file: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to standardize HuJSON: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cards config: %w", err)
	}

	if len(cfg.Cards) == 0 {
		return nil, fmt.Errorf("no cards configured")
	}

	seenIDs := make(map[string]struct{}, len(cfg.Cards))

	for i, card := range cfg.Cards {
		if card.ID == "" {
			return nil, fmt.Errorf("card %d has no ID", i)
		}
		if card.Type == "" {
			return nil, fmt.Errorf("card %s has no type", card.ID)
		}
		if !isValidCardType(card.Type) {
			return nil, fmt.Errorf("card %s has invalid type %q", card.ID, card.Type)
		}
		if card.Entity == "" {
			return nil, fmt.Errorf("card %s has no entity", card.ID)
		}
		if !strings.Contains(card.Entity, ".") {
			return nil, fmt.Errorf("card %s entity %q is not a valid entity id", card.ID, card.Entity)
		}
		if card.Type == CardTypeClimateSlots && !strings.HasPrefix(card.Entity, "climate.") {
			return nil, fmt.Errorf("card %s needs a climate entity, got %q", card.ID, card.Entity)
		}
		if card.Mode != "" && card.Mode != ModeNormal && card.Mode != ModeRecirculation {
			return nil, fmt.Errorf("card %s has invalid mode %q", card.ID, card.Mode)
		}
		if _, exists := seenIDs[card.ID]; exists {
			return nil, fmt.Errorf("duplicate card id %q", card.ID)
		}
		seenIDs[card.ID] = struct{}{}

		// Defaults
		if cfg.Cards[i].Mode == "" {
			cfg.Cards[i].Mode = ModeNormal
		}
		if card.Type == CardTypeBoilerButton && cfg.Cards[i].Duration == 0 {
			cfg.Cards[i].Duration = defaultButtonDuration
		}
		if card.Type == CardTypeClimateSlots && cfg.Cards[i].HVACMode == "" {
			cfg.Cards[i].HVACMode = "heat"
		}
	}

	return &cfg, nil
}

func isValidCardType(t CardType) bool {
	switch t {
	case CardTypeBoilerStatus, CardTypeBoilerButton,
		CardTypeBoilerSlots, CardTypeClimateSlots:
		return true
	default:
		return false
	}
}

// Ptr helpers for creating pointers to values.
func Ptr[T any](v T) *T {
	return &v
}
