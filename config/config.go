// Package config loads service settings from a YAML file and PAYROLL_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env:"PAYROLL_ENV" env-default:"prod"`
	StoragePath string `yaml:"storage_path" env:"PAYROLL_STORAGE_PATH" env-default:"./data/payroll.db"`
	ArtifactDir string `yaml:"artifact_dir" env:"PAYROLL_ARTIFACT_DIR" env-default:"./data/artifacts"`

	// WarmInterval of zero disables background cache warming.
	WarmInterval time.Duration `yaml:"warm_interval" env:"PAYROLL_WARM_INTERVAL" env-default:"15m"`

	HTTPServer `yaml:"http_server"`
	Log        `yaml:"log"`
}

type HTTPServer struct {
	Address        string        `yaml:"address" env:"PAYROLL_HTTP_ADDRESS" env-default:":8080"`
	Timeout        time.Duration `yaml:"timeout" env:"PAYROLL_HTTP_TIMEOUT" env-default:"10s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"PAYROLL_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"PAYROLL_HTTP_ALLOWED_ORIGINS" env-default:"*"`
}

type Log struct {
	Level  string `yaml:"level" env:"PAYROLL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"PAYROLL_LOG_FORMAT" env-default:"json"`
}

// Load reads path when it exists, then applies the environment. An empty
// path reads the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("cannot read config %s: %w", path, err)
			}
			return &cfg, nil
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	return &cfg, nil
}

// IsDev reports whether the service runs in a local environment.
func (c *Config) IsDev() bool { return c.Env == "local" || c.Env == "dev" }
