package config

import "fmt"

// ConfigError reports a missing or unusable configuration key. It is fatal:
// the collector never starts with an invalid configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: missing required key %q", e.Key)
	}
	return fmt.Sprintf("config: invalid %q: %s", e.Key, e.Reason)
}

func missing(key string) error {
	return &ConfigError{Key: key}
}

func invalid(key, reason string) error {
	return &ConfigError{Key: key, Reason: reason}
}
