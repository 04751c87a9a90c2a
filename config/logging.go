package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LoggingConfig selects the minimum level of the process logs. APP_ENV and
// LOG_LEVEL still apply when the section is empty.
type LoggingConfig struct {
	Level string `json:"level"`
}

// Validate checks the level name.
func (c LoggingConfig) Validate() error {
	if c.Level == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging: unknown level %s", c.Level)
	}
	return nil
}
