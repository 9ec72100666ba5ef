package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"

	env "github.com/Netflix/go-env"
)

const (
	defaultBindAddress = "0.0.0.0"
	defaultWebPort     = 8092
	defaultServerName  = "homie-cards"
)

// Config holds all environment-driven configuration.
type Config struct {
	// Home Assistant connection
	HomeAssistantURL   string `env:"HOMIE_CARDS_HA_URL,default=http://homeassistant.local:8123"`
	HomeAssistantToken string `env:"HOMIE_CARDS_HA_TOKEN"`

	// Web listener configuration
	WebAddr        string `env:"HOMIE_CARDS_WEB_ADDR"`
	WebBindAddress string `env:"HOMIE_CARDS_WEB_BIND_ADDRESS,default=0.0.0.0"`
	WebPort        int    `env:"HOMIE_CARDS_WEB_PORT,default=8092"`

	// Tailscale configuration
	ServerName        string `env:"HOMIE_CARDS_SERVER_NAME"`
	TailscaleHostname string `env:"HOMIE_CARDS_TS_HOSTNAME"`
	TailscaleAuthKey  string `env:"HOMIE_CARDS_TS_AUTHKEY"`
	TailscaleStateDir string `env:"HOMIE_CARDS_TS_STATE_DIR,default=./data/tailscale"`

	// Logging options
	LogLevel  string `env:"HOMIE_CARDS_LOG_LEVEL,default=info"`
	LogFormat string `env:"HOMIE_CARDS_LOG_FORMAT,default=json"`

	// Cards configuration file
	CardsConfigPath string `env:"HOMIE_CARDS_CARDS_CONFIG,default=./cards.hujson"`

	webAddr netip.AddrPort
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.applyNameDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate ensures basic correctness of the configuration.
func (c *Config) Validate() error {
	if err := validateHomeAssistantURL(c.HomeAssistantURL); err != nil {
		return err
	}
	if c.HomeAssistantToken == "" {
		return fmt.Errorf("HomeAssistantToken cannot be empty")
	}
	if c.ServerName == "" {
		return fmt.Errorf("ServerName cannot be empty")
	}
	if err := c.parseListenerAddrs(); err != nil {
		return err
	}
	if c.CardsConfigPath == "" {
		return fmt.Errorf("CardsConfigPath cannot be empty")
	}
	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validateLogFormat(c.LogFormat); err != nil {
		return err
	}
	if c.TailscaleStateDir == "" {
		return fmt.Errorf("TailscaleStateDir cannot be empty")
	}
	return nil
}

func (c *Config) parseListenerAddrs() error {
	if c.WebBindAddress == "" {
		c.WebBindAddress = defaultBindAddress
	}
	if c.WebPort == 0 && !envVarSet("HOMIE_CARDS_WEB_PORT") {
		c.WebPort = defaultWebPort
	}
	if err := validatePortRange("web", c.WebPort); err != nil {
		return err
	}
	webAddr := c.WebAddr
	if webAddr == "" {
		webAddr = fmt.Sprintf("%s:%d", c.WebBindAddress, c.WebPort)
	}
	parsedWeb, err := netip.ParseAddrPort(webAddr)
	if err != nil {
		return fmt.Errorf("invalid web addr %q: %w", webAddr, err)
	}
	c.webAddr = parsedWeb

	return nil
}

// WebAddrPort returns the parsed web listener address.
func (c *Config) WebAddrPort() netip.AddrPort {
	c.ensureParsed()
	return c.webAddr
}

func (c *Config) ensureParsed() {
	if !c.webAddr.IsValid() {
		if err := c.parseListenerAddrs(); err != nil {
			panic(fmt.Sprintf("failed to parse listener addresses: %v", err))
		}
	}
}

func (c *Config) applyNameDefaults() {
	tsHostnameSet := envVarSet("HOMIE_CARDS_TS_HOSTNAME")
	serverNameSet := envVarSet("HOMIE_CARDS_SERVER_NAME")

	base := defaultServerName
	switch {
	case tsHostnameSet:
		base = c.TailscaleHostname
	case serverNameSet:
		base = c.ServerName
	case c.TailscaleHostname != "":
		base = c.TailscaleHostname
	case c.ServerName != "":
		base = c.ServerName
	}

	if !tsHostnameSet {
		if c.TailscaleHostname == "" {
			c.TailscaleHostname = base
		} else {
			base = c.TailscaleHostname
		}
	}
	if !serverNameSet {
		c.ServerName = base
	}
}

// SetListenerAddrsForTesting overrides listener addresses in tests.
func (c *Config) SetListenerAddrsForTesting(web string) {
	c.webAddr = netip.MustParseAddrPort(web)
}

func validateHomeAssistantURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("HomeAssistantURL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid Home Assistant URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("Home Assistant URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("Home Assistant URL %q has no host", raw)
	}
	return nil
}

func validatePortRange(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", level)
	}
}

func validateLogFormat(format string) error {
	switch format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be 'json' or 'console'", format)
	}
}

func envVarSet(key string) bool {
	if key == "" {
		return false
	}
	_, ok := os.LookupEnv(key)
	return ok
}
