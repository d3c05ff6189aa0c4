package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Import   ImportConfig   `yaml:"import"`
	SSE      SSEConfig      `yaml:"sse"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis configuration. Redis is optional: when disabled,
// the progress mirror and distributed lock fall back to Postgres-only paths.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ImportConfig holds CSV import tuning knobs
type ImportConfig struct {
	CSVPath         string `yaml:"csv_path"`
	TotalRows       int64  `yaml:"total_rows"`
	BatchSize       int    `yaml:"batch_size"`
	ProgressEveryMs int    `yaml:"progress_every_ms"`
	HighWaterMark   int    `yaml:"high_water_mark"`
	ResumeOverlap   int64  `yaml:"resume_overlap"`
	RecentLimit     int    `yaml:"recent_limit"`
}

// ProgressEvery returns the progress persistence interval as a duration
func (c ImportConfig) ProgressEvery() time.Duration {
	return time.Duration(c.ProgressEveryMs) * time.Millisecond
}

// SSEConfig holds server-sent events configuration
type SSEConfig struct {
	HeartbeatMs int `yaml:"heartbeat_ms"`
}

// Heartbeat returns the SSE heartbeat interval as a duration
func (c SSEConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// CORSConfig holds allowed origins for browser clients
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads and parses the configuration file. A missing file is not an
// error: containerized deploys configure everything through env vars.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Import.CSVPath == "" {
		cfg.Import.CSVPath = "data/customers.csv"
	}
	if cfg.Import.TotalRows == 0 {
		cfg.Import.TotalRows = 2_000_000
	}
	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = 1000
	}
	if cfg.Import.ProgressEveryMs == 0 {
		cfg.Import.ProgressEveryMs = 1000
	}
	if cfg.Import.HighWaterMark == 0 {
		cfg.Import.HighWaterMark = 1024 * 1024
	}
	if cfg.Import.ResumeOverlap == 0 {
		cfg.Import.ResumeOverlap = 1024 * 1024
	}
	if cfg.Import.RecentLimit == 0 {
		cfg.Import.RecentLimit = 20
	}
	if cfg.SSE.HeartbeatMs == 0 {
		cfg.SSE.HeartbeatMs = 15000
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CSV_PATH"); v != "" {
		cfg.Import.CSVPath = v
	}
	if v := os.Getenv("IMPORT_TOTAL_ROWS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid IMPORT_TOTAL_ROWS %q: %w", v, err)
		}
		cfg.Import.TotalRows = n
	}
	if v := os.Getenv("IMPORT_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IMPORT_BATCH_SIZE %q: %w", v, err)
		}
		cfg.Import.BatchSize = n
	}
	if v := os.Getenv("IMPORT_PROGRESS_EVERY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IMPORT_PROGRESS_EVERY_MS %q: %w", v, err)
		}
		cfg.Import.ProgressEveryMs = n
	}
	if v := os.Getenv("IMPORT_HIGH_WATER_MARK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IMPORT_HIGH_WATER_MARK %q: %w", v, err)
		}
		cfg.Import.HighWaterMark = n
	}
	if v := os.Getenv("IMPORT_RESUME_OVERLAP"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid IMPORT_RESUME_OVERLAP %q: %w", v, err)
		}
		cfg.Import.ResumeOverlap = n
	}
	if v := os.Getenv("IMPORT_RECENT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IMPORT_RECENT_LIMIT %q: %w", v, err)
		}
		cfg.Import.RecentLimit = n
	}
	if v := os.Getenv("SSE_HEARTBEAT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SSE_HEARTBEAT_MS %q: %w", v, err)
		}
		cfg.SSE.HeartbeatMs = n
	}

	return cfg, nil
}
