package common

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Duration wraps time.Duration so it can be written as "2s" or "1m30s"
// in YAML, JSON and TOML configuration files.
type Duration struct {
	time.Duration
}

// NewDuration returns a Duration holding d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(data), err)
	}
	d.Duration = duration
	return nil
}

// MarshalText formats the duration using time.Duration.String.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// JSONSchema describes the string representation of Duration.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: [ns, us, ms, s, m, h]",
		Examples: []any{
			"1m",
			"300ms",
			"2s",
		},
	}
}
