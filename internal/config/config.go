package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PD_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PD_DB_MAX_CONNS" default:"8"`

	// Embedding service. When the endpoint is empty the deterministic
	// hashing embedder is used on its own.
	EmbeddingEndpoint   string        `envconfig:"EMBEDDING_ENDPOINT" default:""`
	EmbeddingModelName  string        `envconfig:"EMBEDDING_MODEL_NAME" default:"all-MiniLM-L6-v2"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"384"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"20s"`

	DuplicateThreshold float64 `envconfig:"DUPLICATE_THRESHOLD" default:"0.85"`
	WarningThreshold   float64 `envconfig:"WARNING_THRESHOLD" default:"0.75"`
	NeighborLimit      int     `envconfig:"NEIGHBOR_LIMIT" default:"20"`

	UploadRoot string `envconfig:"UPLOAD_ROOT" default:"./uploads"`

	DefaultAdminUser     string `envconfig:"DEFAULT_ADMIN_USER" default:"admin"`
	DefaultAdminPassword string `envconfig:"DEFAULT_ADMIN_PASSWORD" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PD_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PD_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PD_DB_MIN_CONNS (%d) cannot exceed PD_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1")
	}
	if c.DuplicateThreshold < 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("DUPLICATE_THRESHOLD must be within [0, 1]")
	}
	if c.WarningThreshold < 0 || c.WarningThreshold > 1 {
		return fmt.Errorf("WARNING_THRESHOLD must be within [0, 1]")
	}
	if c.WarningThreshold > c.DuplicateThreshold {
		return fmt.Errorf("WARNING_THRESHOLD (%v) cannot exceed DUPLICATE_THRESHOLD (%v)", c.WarningThreshold, c.DuplicateThreshold)
	}
	if c.NeighborLimit < 1 {
		return fmt.Errorf("NEIGHBOR_LIMIT must be >= 1")
	}
	if strings.TrimSpace(c.DefaultAdminUser) == "" {
		return fmt.Errorf("DEFAULT_ADMIN_USER is required")
	}
	return nil
}
