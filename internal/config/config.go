package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like "30s" or
// "5m". Bare integers without a unit are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the engine configuration, loaded from a YAML file with a few
// environment overrides applied on top.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Engine Engine `yaml:"engine"`

	Scanner struct {
		URL       string   `yaml:"url"`
		Timeout   Duration `yaml:"timeout"`
		WindowLen int      `yaml:"window_len"`
	} `yaml:"scanner"`

	Feed struct {
		WSEndpoint string `yaml:"ws_endpoint"`
	} `yaml:"feed"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Engine holds the simulation and risk parameters shared by the fill
// simulator, the exit engine and the orchestrator.
type Engine struct {
	SlippageRate        float64  `yaml:"slippage_rate"`
	Commission          float64  `yaml:"commission"`
	MaxPositionFraction float64  `yaml:"max_position_fraction"`
	MaxPositions        int      `yaml:"max_positions"`
	MinReserveFraction  float64  `yaml:"min_reserve_fraction"`
	MaxParticipation    float64  `yaml:"max_participation"`
	EquityFraction      float64  `yaml:"equity_fraction"`
	SignalWindow        Duration `yaml:"signal_window"`
	MonitorEvery        int      `yaml:"monitor_every"`
	Timezone            string   `yaml:"timezone"`
}

// DefaultEngine returns the engine parameters used when no config file
// overrides them.
func DefaultEngine() Engine {
	return Engine{
		SlippageRate:        0.0001, // 0.01%
		Commission:          1.0,
		MaxPositionFraction: 0.25,
		MaxPositions:        5,
		MinReserveFraction:  0.1,
		MaxParticipation:    0.1,
		EquityFraction:      0.1,
		SignalWindow:        Duration(5 * time.Minute),
		MonitorEvery:        1,
		Timezone:            "America/New_York",
	}
}

// Load reads the YAML config at path and applies env overrides. A missing
// file is not an error: defaults are returned so the engine can run with a
// bare environment.
func Load(path string) (*Config, error) {
	cfg := &Config{Engine: DefaultEngine()}
	cfg.Server.Port = "8080"
	cfg.Database.Path = "paper.db"
	cfg.Auth.JWTSecret = "paper-engine-secret"
	cfg.Scanner.Timeout = Duration(30 * time.Second)
	cfg.Scanner.WindowLen = 30
	cfg.Logging.Level = "info"

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("SCANNER_URL"); url != "" {
		cfg.Scanner.URL = url
	}

	return cfg, nil
}
