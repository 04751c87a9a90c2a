package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/eventlog"
	"github.com/kilianp07/cleandispatch/core/metrics"
	"github.com/kilianp07/cleandispatch/infra/mqtt"
	"github.com/kilianp07/cleandispatch/infra/redisstore"
)

type Config struct {
	Dispatch dispatch.Config   `json:"dispatch"`
	Store    StoreConfig       `json:"store"`
	Bus      BusConfig         `json:"bus"`
	Redis    redisstore.Config `json:"redis"`
	MQTT     mqtt.Config       `json:"mqtt"`
	Notifier NotifierConfig    `json:"notifier"`
	Metrics  metrics.Config    `json:"metrics"`
	EventLog eventlog.Config   `json:"event_log"`
	Sentry   SentryConfig      `json:"sentry"`
	API      APIConfig         `json:"api"`
	Logging  LoggingConfig     `json:"logging"`
}

// Load reads a YAML or JSON file, applies K_ environment overrides
// (K_DISPATCH__MAX_BACKUPS=5) and validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.Store.SetDefaults()
	c.Bus.SetDefaults()
	c.Redis.SetDefaults()
	if c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
	}
	c.Notifier.SetDefaults(c.MQTT.Broker)
	c.EventLog.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	if err := c.Notifier.Validate(c.MQTT.Broker); err != nil {
		return err
	}
	if err := c.EventLog.Validate(); err != nil {
		return err
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
