package config

import (
	"fmt"
	"time"

	"github.com/rpattn/datamigrate/internal/db"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// PipelineConfig holds tunables of the migration pipeline.
type PipelineConfig struct {
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	MaxChunkRows      int
	UploadChunkSize   int
	ValidationWorkers int
}

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Database db.Config
	Pipeline PipelineConfig
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: db.DefaultConfig(),
		Pipeline: PipelineConfig{
			SessionTTL:        48 * time.Hour,
			SweepInterval:     15 * time.Minute,
			MaxChunkRows:      5000,
			UploadChunkSize:   1000,
			ValidationWorkers: 4,
		},
	}
}

// Load reads config.yaml from configPath and applies environment overrides.
func Load(configPath string) (Config, error) {
	// Start with default
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()              // allow environment overrides
	v.SetEnvPrefix("DATAMIGRATE") // map env vars like DATAMIGRATE_DATABASE_HOST

	v.BindEnv("server.addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("pipeline.session_ttl")
	v.BindEnv("pipeline.sweep_interval")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("pipeline.session_ttl") {
		cfg.Pipeline.SessionTTL = v.GetDuration("pipeline.session_ttl")
	}
	if v.IsSet("pipeline.sweep_interval") {
		cfg.Pipeline.SweepInterval = v.GetDuration("pipeline.sweep_interval")
	}
	if v.IsSet("pipeline.max_chunk_rows") {
		cfg.Pipeline.MaxChunkRows = v.GetInt("pipeline.max_chunk_rows")
	}
	if v.IsSet("pipeline.upload_chunk_size") {
		cfg.Pipeline.UploadChunkSize = v.GetInt("pipeline.upload_chunk_size")
	}
	if v.IsSet("pipeline.validation_workers") {
		cfg.Pipeline.ValidationWorkers = v.GetInt("pipeline.validation_workers")
	}

	return cfg, nil
}
