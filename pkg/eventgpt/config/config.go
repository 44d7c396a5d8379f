package config

import (
	"math"
	"time"
)

// Config is a read-only view over decoded YAML or JSON.
//
// Every accessor takes the value to use when the key is absent or holds
// something that does not convert cleanly, so callers spell out their
// defaults next to the key they read.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// Has reports whether key is present, even with a null value.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// String returns the string at key.
func (c Config) String(key, fallback string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return fallback
}

// Bool returns the boolean at key. Strings such as "true" are not parsed.
func (c Config) Bool(key string, fallback bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return fallback
}

// Int returns the whole number at key. A float with a fractional part,
// as JSON decodes every number, yields fallback.
func (c Config) Int(key string, fallback int) int {
	f, ok := number(c.data[key])
	if !ok || f != math.Trunc(f) {
		return fallback
	}
	return int(f)
}

// Float returns the number at key.
func (c Config) Float(key string, fallback float64) float64 {
	if f, ok := number(c.data[key]); ok {
		return f
	}
	return fallback
}

// Duration returns the duration at key: a time.ParseDuration string such
// as "90s", a number of seconds, or a time.Duration.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	switch v := c.data[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		return fallback
	}
	if secs, ok := number(c.data[key]); ok {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// StringSlice returns the list of strings at key. A list holding any
// non-string yields fallback.
func (c Config) StringSlice(key string, fallback []string) []string {
	switch v := c.data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return fallback
			}
			out[i] = s
		}
		return out
	}
	return fallback
}

// FloatSlice returns the list of numbers at key. A list holding any
// non-number yields fallback.
func (c Config) FloatSlice(key string, fallback []float64) []float64 {
	switch v := c.data[key].(type) {
	case []float64:
		return v
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			f, ok := number(item)
			if !ok {
				return fallback
			}
			out[i] = f
		}
		return out
	}
	return fallback
}

// Sub returns the section at key. Absent keys and non-map values yield an
// empty Config, so chained reads fall through to their defaults.
func (c Config) Sub(key string) Config {
	m, _ := asMap(c.data[key])
	return New(m)
}

// Maps returns the list of records at key, one Config per element, or nil
// if the value is not a list of maps:
//
//	measurements:
//	  - name: event_type
//	    kind: single_categorical
func (c Config) Maps(key string) []Config {
	items, ok := c.data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Config, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil
		}
		out[i] = New(m)
	}
	return out
}

// number converts the numeric types produced by the YAML and JSON decoders.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Config:
		return m.data, true
	}
	return nil, false
}
