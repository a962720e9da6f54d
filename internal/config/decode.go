package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Secrets may come from the environment instead of the file. A set variable
// wins over the file value.
const (
	EnvTelegramToken = "BIOSCOUT_TELEGRAM_TOKEN"
	EnvRedisPassword = "BIOSCOUT_REDIS_PASSWORD"
	EnvOpsToken      = "BIOSCOUT_OPS_TOKEN"
)

func readFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(path, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	applyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// decode parses JSON, or YAML for .yaml/.yml files. YAML goes through JSON so
// both formats share the strict decoder that rejects unknown keys.
func decode(path string, raw []byte) (*Config, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		j, err := json.Marshal(stringKeys(v))
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		raw = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after config object")
	}
	return &cfg, nil
}

// stringKeys rewrites YAML maps so encoding/json accepts them.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTelegramToken); ok && v != "" {
		cfg.Telegram.Token = v
	}
	if v, ok := lookup(EnvRedisPassword); ok && v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v, ok := lookup(EnvOpsToken); ok && v != "" {
		cfg.Ops.Token = v
	}
}
