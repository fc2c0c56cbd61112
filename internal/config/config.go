package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultJWTExpiresIn     = "24h"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "quill"
	DefaultPGSSLMode        = "disable"
	DefaultQdrantHost       = "127.0.0.1"
	DefaultQdrantPort       = 6334
	DefaultQdrantCollection = "rag_chunks"
	DefaultDataRoot         = "data"
	DefaultHistoryMessages  = 30
	DefaultHistoryChars     = 15000
	DefaultLegacyHistory    = 10
	DefaultRAGLimit         = 5
	DefaultRAGMinScore      = 0.35
	DefaultJanitorSpec      = "0 */30 * * * *"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Qdrant   QdrantConfig   `toml:"qdrant"`
	Storage  StorageConfig  `toml:"storage"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Search   SearchConfig   `toml:"search"`
	Janitor  JanitorConfig  `toml:"janitor"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type QdrantConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	APIKey     string `toml:"api_key"`
	UseTLS     bool   `toml:"use_tls"`
	Collection string `toml:"collection"`
}

type StorageConfig struct {
	DataRoot string `toml:"data_root"`
}

// PipelineConfig carries the tunables the orchestrator is constructed with.
// There is no process-wide flag state; everything flows through this struct.
type PipelineConfig struct {
	HistoryMaxMessages       int     `toml:"history_max_messages"`
	HistoryMaxChars          int     `toml:"history_max_chars"`
	LegacyHistoryMaxMessages int     `toml:"legacy_history_max_messages"`
	RAGLimit                 int     `toml:"rag_limit"`
	RAGMinScore              float64 `toml:"rag_min_score"`
}

type SearchConfig struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Timeout  int    `toml:"timeout_seconds"`
}

type JanitorConfig struct {
	Spec                string `toml:"spec"`
	StuckAfterMinutes   int    `toml:"stuck_after_minutes"`
	SearchRetentionDays int    `toml:"search_retention_days"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Qdrant: QdrantConfig{
			Host:       DefaultQdrantHost,
			Port:       DefaultQdrantPort,
			Collection: DefaultQdrantCollection,
		},
		Storage: StorageConfig{
			DataRoot: DefaultDataRoot,
		},
		Pipeline: PipelineConfig{
			HistoryMaxMessages:       DefaultHistoryMessages,
			HistoryMaxChars:          DefaultHistoryChars,
			LegacyHistoryMaxMessages: DefaultLegacyHistory,
			RAGLimit:                 DefaultRAGLimit,
			RAGMinScore:              DefaultRAGMinScore,
		},
		Janitor: JanitorConfig{
			Spec:                DefaultJanitorSpec,
			StuckAfterMinutes:   30,
			SearchRetentionDays: 14,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
