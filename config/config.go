// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mbeckert/stiebelgw/infra/influx"
	"github.com/mbeckert/stiebelgw/infra/mqtt"
	"github.com/mbeckert/stiebelgw/metrics"
)

type Config struct {
	Auth         AuthConfig     `json:"auth"`
	Installation Installation   `json:"installation"`
	Fields       []int          `json:"fields"`
	Realtime     RealtimeConfig `json:"realtime"`
	MQTT         mqtt.Config    `json:"mqtt"`
	Influx       influx.Config  `json:"influx"`
	Metrics      metrics.Config `json:"metrics"`
	Logging      LoggingConfig  `json:"logging"`
}

// Installation selects which installation the session attaches to. When ID is
// zero the first installation returned by the service is used.
type Installation struct {
	ID int64 `json:"id"`
}

// RealtimeConfig overrides the websocket endpoint, mainly for testing against
// a local stub.
type RealtimeConfig struct {
	URL string `json:"url"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, e.g. STIEBEL_AUTH__PASSWORD.
	if err := k.Load(env.Provider("STIEBEL_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "stiebel_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Auth.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Influx.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Logging.SetDefaults()
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Influx.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
