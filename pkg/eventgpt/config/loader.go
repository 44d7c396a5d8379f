package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/template"
)

// LoadOption configures FromFile.
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookups []template.Lookup
	strict  bool
}

// WithVars expands ${NAME} placeholders from vars. Earlier lookups win.
func WithVars(vars map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.lookups = append(o.lookups, template.Vars(vars))
	}
}

// WithEnv expands ${NAME} placeholders from the process environment.
func WithEnv() LoadOption {
	return func(o *loadOptions) {
		o.lookups = append(o.lookups, template.Env())
	}
}

// WithStrictVars fails the load when a placeholder without a default is
// unresolved.
func WithStrictVars() LoadOption {
	return func(o *loadOptions) {
		o.strict = true
	}
}

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
//
// With WithVars or WithEnv, ${NAME} and ${NAME:-default} placeholders in
// the file are expanded before parsing.
func FromFile(path string, opts ...LoadOption) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.lookups) > 0 || o.strict {
		data, err = expand(data, o)
		if err != nil {
			return Config{}, fmt.Errorf("expand config file: %w", err)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

func expand(data []byte, o loadOptions) ([]byte, error) {
	action := template.MissingKeep
	if o.strict {
		action = template.MissingError
	}
	out, err := template.NewExpander(template.WithMissingAction(action)).
		Expand(string(data), template.Chain(o.lookups...))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
