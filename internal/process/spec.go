package process

import (
	"errors"
	"strings"
)

// Config describes a process the service should track.
// ID is the oracle process id and is unique across the registry.
type Config struct {
	Name    string `json:"name" mapstructure:"name"`
	ID      string `json:"processId" mapstructure:"processId"`
	BaseURL string `json:"baseUrl,omitempty" mapstructure:"baseUrl"` // optional override of the oracle base URL
}

// Validate checks the minimal invariants of a Config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("process id required")
	}
	if strings.ContainsAny(c.ID, "/~ \t\n") {
		return errors.New("process id must not contain '/', '~' or whitespace")
	}
	return nil
}

// DisplayName returns Name, falling back to the id.
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ShortID returns the first 8 characters of id for log lines.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
