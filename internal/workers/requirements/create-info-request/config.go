// internal/workers/requirements/create-info-request/config.go
package createinforequest

import "time"

type Config struct {
	Timeout time.Duration
	// DefaultDueInHours applies to requested items that carry no due window.
	DefaultDueInHours int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:           30 * time.Second,
		DefaultDueInHours: 72,
	}
}
