// Package config loads the process configuration: embedded defaults,
// overlaid by an optional YAML file, overlaid by DRIFT_* environment
// variables. A .env file in the working directory is folded into the
// environment first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "72h" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server configures the HTTP/WS listener.
type Server struct {
	ListenAddr  string   `yaml:"listen_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateRPS     float64  `yaml:"rate_rps"`
	RateBurst   int      `yaml:"rate_burst"`
}

// Storage configures the embedded store and the external backends.
// Empty endpoints disable the backend: no Redis means in-memory blocks
// and no session revocation, no Postgres means reports are accepted but
// not persisted, no NATS means events stay in-process.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	RedisAddr   string `yaml:"redis_addr"`
	NATSURL     string `yaml:"nats_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Auth configures session token minting.
type Auth struct {
	JWTSecret  string   `yaml:"jwt_secret"`
	SessionTTL Duration `yaml:"session_ttl"`
}

// Chat configures messaging behavior.
type Chat struct {
	CruiseRetention Duration `yaml:"cruise_retention"`
	MessageLimit    int      `yaml:"message_limit"`
	MessageWindow   Duration `yaml:"message_window"`
}

// Sweep configures the retention sweep schedule.
type Sweep struct {
	Cron string `yaml:"cron"`
}

// Logging configures the process logger.
type Logging struct {
	Development bool `yaml:"development"`
}

// Config is the effective process configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Chat    Chat    `yaml:"chat"`
	Sweep   Sweep   `yaml:"sweep"`
	Logging Logging `yaml:"logging"`
}

// Default returns the embedded defaults.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddr: ":8080",
			RateRPS:    50,
			RateBurst:  100,
		},
		Storage: Storage{
			DataDir: "./drift-data",
		},
		Auth: Auth{
			SessionTTL: Duration(24 * time.Hour),
		},
		Chat: Chat{
			CruiseRetention: Duration(72 * time.Hour),
			MessageLimit:    20,
			MessageWindow:   Duration(time.Minute),
		},
		Sweep: Sweep{
			Cron: "0 * * * *",
		},
	}
}

// Load builds the effective configuration. path may be empty or point
// at a missing file; both fall back to defaults plus environment. A
// malformed file or duration is an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath decides the config file path: the flag value when set,
// else DRIFT_CONFIG, else the flag default.
func ResolvePath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("DRIFT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// applyEnv overlays DRIFT_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("DRIFT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("DRIFT_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("DRIFT_RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: DRIFT_RATE_RPS: %w", err)
		}
		cfg.Server.RateRPS = f
	}
	if v := os.Getenv("DRIFT_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: DRIFT_RATE_BURST: %w", err)
		}
		cfg.Server.RateBurst = n
	}
	if v := os.Getenv("DRIFT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("DRIFT_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("DRIFT_NATS_URL"); v != "" {
		cfg.Storage.NATSURL = v
	}
	if v := os.Getenv("DRIFT_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("DRIFT_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if err := envDuration("DRIFT_SESSION_TTL", &cfg.Auth.SessionTTL); err != nil {
		return err
	}
	if err := envDuration("DRIFT_CRUISE_RETENTION", &cfg.Chat.CruiseRetention); err != nil {
		return err
	}
	if err := envDuration("DRIFT_MESSAGE_WINDOW", &cfg.Chat.MessageWindow); err != nil {
		return err
	}
	if v := os.Getenv("DRIFT_MESSAGE_LIMIT"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: DRIFT_MESSAGE_LIMIT: %w", err)
		}
		cfg.Chat.MessageLimit = n
	}
	if v := os.Getenv("DRIFT_SWEEP_CRON"); v != "" {
		cfg.Sweep.Cron = v
	}
	if v := os.Getenv("DRIFT_DEV_LOG"); v != "" {
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Logging.Development = vl == "1" || vl == "true" || vl == "yes"
	}
	return nil
}

func envDuration(name string, dst *Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	*dst = Duration(d)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
