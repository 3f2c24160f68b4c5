package logging

import (
	"maps"
	"slices"
	"time"
)

// Config controls the router and the sinks it feeds. Zero values fall back
// to the defaults below at construction time.
type Config struct {
	EnabledSinks     []string
	BufferSize       int
	MinimumSeverity  Severity
	Fields           map[string]any
	DropWarnInterval time.Duration

	JSON    JSONConfig
	Console ConsoleConfig
}

// JSONConfig tunes the newline-delimited file sink.
type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

// ConsoleConfig tunes the human-readable sink.
type ConsoleConfig struct {
	UseColor bool
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON:             JSONConfig{FlushInterval: 2 * time.Second},
	}
}

// HasSink reports whether the named sink is enabled.
func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}

// CloneFields returns a copy of the ambient field map, nil when empty.
func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	return maps.Clone(c.Fields)
}
