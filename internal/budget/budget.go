package budget

import "fmt"

// Config defines the guardrails applied to one planning turn.
type Config struct {
	MaxToolCalls   *int64
	MaxTimeSeconds *int64
	Metadata       map[string]interface{}
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxToolCalls != nil && *c.MaxToolCalls < 0 {
		return fmt.Errorf("max_tool_calls cannot be negative")
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds < 0 {
		return fmt.Errorf("max_time_seconds cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{}
	if c.MaxToolCalls != nil {
		v := *c.MaxToolCalls
		clone.MaxToolCalls = &v
	}
	if c.MaxTimeSeconds != nil {
		v := *c.MaxTimeSeconds
		clone.MaxTimeSeconds = &v
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Merge overlays non-nil values from override onto base.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxToolCalls != nil {
		v := *override.MaxToolCalls
		result.MaxToolCalls = &v
	}
	if override.MaxTimeSeconds != nil {
		v := *override.MaxTimeSeconds
		result.MaxTimeSeconds = &v
	}
	if override.Metadata != nil {
		result.Metadata = make(map[string]interface{}, len(override.Metadata))
		for k, v := range override.Metadata {
			result.Metadata[k] = v
		}
	}
	return result
}

// IsZero reports whether the config defines no explicit limits.
func (c Config) IsZero() bool {
	if c.MaxToolCalls != nil && *c.MaxToolCalls != 0 {
		return false
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds != 0 {
		return false
	}
	return len(c.Metadata) == 0
}
