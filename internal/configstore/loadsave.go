package configstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ParseError represents a TOML decode failure.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the persisted config from disk. Missing files result in a
// configuration with defaults.
func Load() (Config, error) {
	cfg := New()
	_, file, err := GetConfigPath()
	if err != nil {
		return cfg, err
	}
	return LoadFile(file)
}

// LoadFile reads configuration from an explicit path. A missing file yields
// the defaults without error.
func LoadFile(path string) (Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(data, path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &ParseError{Path: path, Err: err}
	}
	return cfg, nil
}

func decodeConfig(data []byte, path string, cfg *Config) error {
	cfg.ensureInitialized()

	var raw map[string]any
	err := toml.Unmarshal(data, &raw)
	if err != nil && needsDollarEscapeFix(err) {
		if fixed, changed := sanitizeDollarEscapes(data); changed {
			data = fixed
			err = toml.Unmarshal(data, &raw)
		}
	}
	if err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			return &ParseError{Path: path, Err: decodeErr}
		}
		return err
	}

	if mining, ok := raw["mining"].(map[string]any); ok {
		if value, ok := mining["name"]; ok {
			s, err := toString(value)
			if err != nil {
				return fmt.Errorf("parse mining.name: %w", err)
			}
			cfg.Mining.Name = strings.TrimSpace(s)
		}
		if value, ok := mining["min_support"]; ok {
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("parse mining.min_support: %w", err)
			}
			cfg.Mining.MinSupport = f
		}
		if value, ok := mining["min_confidence"]; ok {
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("parse mining.min_confidence: %w", err)
			}
			cfg.Mining.MinConfidence = f
		}
		if value, ok := mining["min_lift"]; ok {
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("parse mining.min_lift: %w", err)
			}
			cfg.Mining.MinLift = f
		}
	}

	if output, ok := raw["output"].(map[string]any); ok {
		if value, ok := output["format"]; ok {
			s, err := toString(value)
			if err != nil {
				return fmt.Errorf("parse output.format: %w", err)
			}
			cfg.Output.Format = strings.TrimSpace(strings.ToLower(s))
		}
		if value, ok := output["max_policies"]; ok {
			n, err := toInt(value)
			if err != nil {
				return fmt.Errorf("parse output.max_policies: %w", err)
			}
			cfg.Output.MaxPolicies = n
		}
	}

	if serve, ok := raw["serve"].(map[string]any); ok {
		if value, ok := serve["listen"]; ok {
			s, err := toString(value)
			if err != nil {
				return fmt.Errorf("parse serve.listen: %w", err)
			}
			cfg.Serve.Listen = strings.TrimSpace(s)
		}
		if value, ok := serve["event_buffer"]; ok {
			n, err := toInt(value)
			if err != nil {
				return fmt.Errorf("parse serve.event_buffer: %w", err)
			}
			cfg.Serve.EventBuffer = n
		}
	}

	if redactions, ok := raw["redactions"].(map[string]any); ok {
		for key, value := range redactions {
			strVal, err := toString(value)
			if err != nil {
				return fmt.Errorf("parse redactions.%s: %w", key, err)
			}
			trimmedKey := strings.TrimSpace(key)
			if trimmedKey == "" {
				continue
			}
			cfg.Redactions[trimmedKey] = expandConfigValue(strVal)
		}
	}

	return nil
}

// Save atomically writes the configuration to disk.
func Save(cfg Config) error {
	cfg.ensureInitialized()

	dir, file, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	out := buildPersisted(cfg)
	encoder := toml.NewEncoder(tmp)
	if err := encoder.Encode(out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	cleaned = true
	return nil
}

type persistedConfig struct {
	Mining     map[string]any    `toml:"mining,omitempty"`
	Output     map[string]any    `toml:"output,omitempty"`
	Serve      map[string]any    `toml:"serve,omitempty"`
	Redactions map[string]string `toml:"redactions,omitempty"`
}

func buildPersisted(cfg Config) persistedConfig {
	result := persistedConfig{}

	mining := map[string]any{
		"min_support":    cfg.Mining.MinSupport,
		"min_confidence": cfg.Mining.MinConfidence,
		"min_lift":       cfg.Mining.MinLift,
	}
	if name := strings.TrimSpace(cfg.Mining.Name); name != "" {
		mining["name"] = name
	}
	result.Mining = mining

	output := make(map[string]any)
	if format := strings.TrimSpace(cfg.Output.Format); format != "" {
		output["format"] = format
	}
	if cfg.Output.MaxPolicies > 0 {
		output["max_policies"] = cfg.Output.MaxPolicies
	}
	if len(output) > 0 {
		result.Output = output
	}

	serve := make(map[string]any)
	if listen := strings.TrimSpace(cfg.Serve.Listen); listen != "" {
		serve["listen"] = listen
	}
	if cfg.Serve.EventBuffer > 0 {
		serve["event_buffer"] = cfg.Serve.EventBuffer
	}
	if len(serve) > 0 {
		result.Serve = serve
	}

	if len(cfg.Redactions) > 0 {
		redactions := make(map[string]string, len(cfg.Redactions))
		for key, value := range cfg.Redactions {
			trimmedKey := strings.TrimSpace(key)
			if trimmedKey == "" {
				continue
			}
			redactions[trimmedKey] = value
		}
		if len(redactions) > 0 {
			result.Redactions = redactions
		}
	}

	return result
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("expected string, got %T", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", value)
	}
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}
