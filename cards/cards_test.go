package cards

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cards.hujson")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		// Boiler dashboard
		"cards": [
			{
				"id": "boiler-status",
				"type": "boiler_status",
				"entity": "switch.boiler",
			},
			{
				"id": "boiler-45",
				"type": "boiler_button",
				"entity": "switch.boiler",
				"duration": 45,
				"mode": "recirculation",
			},
			{
				"id": "boiler-run",
				"type": "boiler_button",
				"entity": "switch.boiler",
			},
			{
				"id": "heating",
				"type": "climate_slots",
				"entity": "climate.living_room",
			},
		],
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Cards) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(cfg.Cards))
	}

	if cfg.Cards[0].Mode != ModeNormal {
		t.Errorf("expected default mode normal, got %q", cfg.Cards[0].Mode)
	}
	if cfg.Cards[1].Mode != ModeRecirculation {
		t.Errorf("expected recirculation mode, got %q", cfg.Cards[1].Mode)
	}
	if cfg.Cards[1].Duration != 45 {
		t.Errorf("expected duration 45, got %d", cfg.Cards[1].Duration)
	}
	if cfg.Cards[2].Duration != defaultButtonDuration {
		t.Errorf("expected default duration, got %d", cfg.Cards[2].Duration)
	}
	if cfg.Cards[3].HVACMode != "heat" {
		t.Errorf("expected default hvac mode heat, got %q", cfg.Cards[3].HVACMode)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"no cards",
			`{"cards": []}`,
			"no cards configured",
		},
		{
			"missing id",
			`{"cards": [{"type": "boiler_status", "entity": "switch.boiler"}]}`,
			"has no ID",
		},
		{
			"missing type",
			`{"cards": [{"id": "a", "entity": "switch.boiler"}]}`,
			"has no type",
		},
		{
			"invalid type",
			`{"cards": [{"id": "a", "type": "thermostat", "entity": "switch.boiler"}]}`,
			"invalid type",
		},
		{
			"missing entity",
			`{"cards": [{"id": "a", "type": "boiler_status"}]}`,
			"has no entity",
		},
		{
			"malformed entity",
			`{"cards": [{"id": "a", "type": "boiler_status", "entity": "boiler"}]}`,
			"not a valid entity id",
		},
		{
			"climate slots needs climate entity",
			`{"cards": [{"id": "a", "type": "climate_slots", "entity": "switch.boiler"}]}`,
			"needs a climate entity",
		},
		{
			"invalid mode",
			`{"cards": [{"id": "a", "type": "boiler_button", "entity": "switch.boiler", "mode": "turbo"}]}`,
			"invalid mode",
		},
		{
			"duplicate id",
			`{"cards": [
				{"id": "a", "type": "boiler_status", "entity": "switch.boiler"},
				{"id": "a", "type": "boiler_status", "entity": "switch.boiler"}
			]}`,
			"duplicate card id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.hujson")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
