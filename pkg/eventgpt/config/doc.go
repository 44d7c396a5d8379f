/*
Package config provides type-safe configuration extraction from map[string]any.

# Overview

config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches by returning default values. Model,
schema, and trainer settings are all read through it, so a single YAML file
can describe a whole run:

	model:
	  hidden_size: 32
	  num_layers: 2
	train:
	  learning_rate: 0.003
	measurements:
	  - name: event_type
	    kind: single_categorical
	    vocab_size: 3
	    level: 0

# Basic Usage

	cfg, err := config.FromFile("run.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	hidden := cfg.Sub("model").Int("hidden_size", 64) // 32
	lr := cfg.Sub("train").Float("learning_rate", 1e-3)
	for _, m := range cfg.Maps("measurements") {
	    fmt.Println(m.String("name", ""))
	}

# Type Coercion

Duration accepts a time.ParseDuration string, a number of seconds, or a
time.Duration. Int accepts whole floats (JSON numbers) and int64; Float
accepts any numeric type. A value that cannot be converted without loss
yields the default.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
