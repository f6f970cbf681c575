package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	yaml "go.yaml.in/yaml/v3"
)

// envOverrides are the environment-style configuration surface. They are
// applied on top of the file (or on top of pure defaults when no file is
// given), so a container deployment can run file-less.
type envOverrides struct {
	Token          string  `envconfig:"TOKEN"`
	DBPath         string  `envconfig:"DB_PATH"`
	DefaultTZ      string  `envconfig:"DEFAULT_TZ"`
	GroupID        int64   `envconfig:"GROUP_ID"`
	BulletinChatID int64   `envconfig:"BULLETIN_CHAT_ID"`
	AdminIDs       []int64 `envconfig:"ADMIN_IDS"`
}

const envPrefix = "ackbot"

// Load reads the YAML file at path (optional: empty path or a missing file
// just means defaults), applies ACKBOT_* environment overrides, fills
// defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{Logging: LoggingConfig{Console: true}}

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env-only config
		case err != nil:
			return nil, err
		default:
			parsed, err := parse(path, b)
			if err != nil {
				return nil, err
			}
			cfg = parsed
		}
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, err
	}
	if env.Token != "" {
		cfg.Telegram.Token = env.Token
	}
	if env.DBPath != "" {
		cfg.Storage.Path = env.DBPath
	}
	if env.DefaultTZ != "" {
		cfg.Schedule.DefaultTZ = env.DefaultTZ
	}
	if env.GroupID != 0 {
		cfg.Telegram.GroupChatID = env.GroupID
	}
	if env.BulletinChatID != 0 {
		cfg.Telegram.BulletinChatID = env.BulletinChatID
	}
	if len(env.AdminIDs) > 0 {
		cfg.Admin.UserIDs = env.AdminIDs
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse decodes a config file strictly: unknown keys are errors, so typos
// and removed legacy keys are caught at startup instead of silently ignored.
func parse(path string, data []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	cfg := Config{Logging: LoggingConfig{Console: true}}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// coerceToJSONBytes converts YAML to JSON bytes so the strict JSON decoder
// (DisallowUnknownFields) serves both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
