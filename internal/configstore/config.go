package configstore

import (
	"fmt"
	"strings"

	"github.com/aumai/policyminer/internal/mine"
	"github.com/aumai/policyminer/internal/render"
)

// Output format names accepted by the CLI and the config file.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Config represents the persisted miner configuration.
type Config struct {
	Mining     MiningConfig
	Output     OutputConfig
	Serve      ServeConfig
	Redactions map[string]string
}

// MiningConfig carries the extractor thresholds and the default set name.
type MiningConfig struct {
	Name          string
	MinSupport    float64
	MinConfidence float64
	MinLift       float64
}

// OutputConfig controls how policy sets are rendered by default.
type OutputConfig struct {
	Format      string
	MaxPolicies int
}

// ServeConfig carries daemon settings.
type ServeConfig struct {
	Listen      string
	EventBuffer int
}

// New returns a Config seeded with the extractor defaults. Callers that
// mutate the configuration should always start from this constructor to
// avoid nil maps.
func New() Config {
	opts := mine.DefaultOptions()
	return Config{
		Mining: MiningConfig{
			Name:          opts.Name,
			MinSupport:    opts.MinSupport,
			MinConfidence: opts.MinConfidence,
			MinLift:       opts.MinLift,
		},
		Output: OutputConfig{
			Format:      FormatText,
			MaxPolicies: render.DefaultMaxPolicies,
		},
		Serve: ServeConfig{
			Listen:      ":18500",
			EventBuffer: 4096,
		},
		Redactions: make(map[string]string),
	}
}

// Clone produces a deep copy suitable for mutation without affecting the
// original instance.
func (c Config) Clone() Config {
	out := c
	out.Redactions = make(map[string]string, len(c.Redactions))
	for id, value := range c.Redactions {
		out.Redactions[id] = value
	}
	return out
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Mining.MinSupport < 0 || c.Mining.MinSupport > 1 {
		return fmt.Errorf("mining.min_support must be within [0, 1], got %g", c.Mining.MinSupport)
	}
	if c.Mining.MinConfidence < 0 || c.Mining.MinConfidence > 1 {
		return fmt.Errorf("mining.min_confidence must be within [0, 1], got %g", c.Mining.MinConfidence)
	}
	if c.Mining.MinLift < 0 {
		return fmt.Errorf("mining.min_lift must not be negative, got %g", c.Mining.MinLift)
	}
	switch strings.TrimSpace(c.Output.Format) {
	case FormatText, FormatMarkdown, FormatJSON:
	default:
		return fmt.Errorf("output.format must be one of text, markdown, json; got %q", c.Output.Format)
	}
	if c.Output.MaxPolicies < 0 {
		return fmt.Errorf("output.max_policies must not be negative, got %d", c.Output.MaxPolicies)
	}
	if c.Serve.EventBuffer < 0 {
		return fmt.Errorf("serve.event_buffer must not be negative, got %d", c.Serve.EventBuffer)
	}
	return nil
}

// MiningOptions converts the mining table into extractor options.
func (c Config) MiningOptions() mine.Options {
	return mine.Options{
		MinSupport:    c.Mining.MinSupport,
		MinConfidence: c.Mining.MinConfidence,
		MinLift:       c.Mining.MinLift,
		Name:          c.Mining.Name,
	}
}

// SetRedaction records a redaction seed. The value is kept verbatim; env
// expansion happens at load time, not here.
func (c *Config) SetRedaction(id, value string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("redaction id must not be empty")
	}
	c.ensureInitialized()
	c.Redactions[id] = value
	return nil
}

// UnsetRedaction removes a redaction seed.
func (c *Config) UnsetRedaction(id string) {
	if c.Redactions == nil {
		return
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	delete(c.Redactions, id)
}

func (c *Config) ensureInitialized() {
	if c.Redactions == nil {
		c.Redactions = make(map[string]string)
	}
}
