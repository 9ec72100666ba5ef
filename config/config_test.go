package config

import (
	"os"
	"testing"
)

func clearEnvVars() {
	envVars := []string{
		"HOMIE_CARDS_HA_URL",
		"HOMIE_CARDS_HA_TOKEN",
		"HOMIE_CARDS_WEB_ADDR",
		"HOMIE_CARDS_WEB_BIND_ADDRESS",
		"HOMIE_CARDS_WEB_PORT",
		"HOMIE_CARDS_CARDS_CONFIG",
		"HOMIE_CARDS_LOG_LEVEL",
		"HOMIE_CARDS_LOG_FORMAT",
		"HOMIE_CARDS_TS_HOSTNAME",
		"HOMIE_CARDS_TS_STATE_DIR",
		"HOMIE_CARDS_TS_AUTHKEY",
		"HOMIE_CARDS_SERVER_NAME",
	}
	for _, env := range envVars {
		os.Unsetenv(env)
	}
}

// setRequiredEnv sets the variables without defaults that Validate
// requires.
func setRequiredEnv() {
	os.Setenv("HOMIE_CARDS_HA_TOKEN", "test-token")
}

func TestDefaultConfig(t *testing.T) {
	clearEnvVars()
	setRequiredEnv()
	defer clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check defaults
	if cfg.HomeAssistantURL != "http://homeassistant.local:8123" {
		t.Errorf("default HomeAssistantURL = %q, want %q", cfg.HomeAssistantURL, "http://homeassistant.local:8123")
	}
	if cfg.CardsConfigPath != "./cards.hujson" {
		t.Errorf("default CardsConfigPath = %q, want %q", cfg.CardsConfigPath, "./cards.hujson")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("default LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
	if cfg.WebPort != 8092 {
		t.Errorf("default WebPort = %d, want %d", cfg.WebPort, 8092)
	}
	if cfg.ServerName != "homie-cards" {
		t.Errorf("default ServerName = %q, want %q", cfg.ServerName, "homie-cards")
	}
	if cfg.TailscaleHostname != "homie-cards" {
		t.Errorf("default TailscaleHostname = %q, want %q", cfg.TailscaleHostname, "homie-cards")
	}
}

func TestConfigFromEnv(t *testing.T) {
	clearEnvVars()
	setRequiredEnv()

	// Set custom values
	os.Setenv("HOMIE_CARDS_HA_URL", "https://ha.example.com")
	os.Setenv("HOMIE_CARDS_WEB_ADDR", "127.0.0.1:9000")
	os.Setenv("HOMIE_CARDS_LOG_LEVEL", "debug")
	os.Setenv("HOMIE_CARDS_LOG_FORMAT", "console")
	defer clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HomeAssistantURL != "https://ha.example.com" {
		t.Errorf("HomeAssistantURL = %q, want %q", cfg.HomeAssistantURL, "https://ha.example.com")
	}
	if cfg.WebAddr != "127.0.0.1:9000" {
		t.Errorf("WebAddr = %q, want %q", cfg.WebAddr, "127.0.0.1:9000")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.LogFormat != "console" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "console")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		wantErr bool
	}{
		{
			name: "missing token",
			setup: func() {
				clearEnvVars()
			},
			wantErr: true,
		},
		{
			name: "valid minimal config",
			setup: func() {
				clearEnvVars()
				setRequiredEnv()
			},
			wantErr: false,
		},
		{
			name: "invalid HA URL scheme",
			setup: func() {
				clearEnvVars()
				setRequiredEnv()
				os.Setenv("HOMIE_CARDS_HA_URL", "ftp://ha.example.com")
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			setup: func() {
				clearEnvVars()
				setRequiredEnv()
				os.Setenv("HOMIE_CARDS_LOG_LEVEL", "invalid")
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			setup: func() {
				clearEnvVars()
				setRequiredEnv()
				os.Setenv("HOMIE_CARDS_LOG_FORMAT", "invalid")
			},
			wantErr: true,
		},
		{
			name: "invalid web addr",
			setup: func() {
				clearEnvVars()
				setRequiredEnv()
				os.Setenv("HOMIE_CARDS_WEB_ADDR", "not-an-addr")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer clearEnvVars()

			_, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddrPortMethods(t *testing.T) {
	clearEnvVars()
	setRequiredEnv()
	defer clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	webAddr := cfg.WebAddrPort()
	if !webAddr.IsValid() {
		t.Error("WebAddrPort() returned invalid address")
	}
	if webAddr.Port() != 8092 {
		t.Errorf("WebAddrPort().Port() = %d, want %d", webAddr.Port(), 8092)
	}
}

func TestTailscaleHostnameWinsNaming(t *testing.T) {
	clearEnvVars()
	setRequiredEnv()
	os.Setenv("HOMIE_CARDS_TS_HOSTNAME", "cards-house")
	defer clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerName != "cards-house" {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, "cards-house")
	}
}
