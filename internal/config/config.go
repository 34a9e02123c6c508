// Package config loads the multiplexer process's environment configuration.
// Everything here is ambient wiring (listen port, environment name, input
// queue size) plus the file path of the optional session-metadata store;
// the credential store is an external collaborator (§1) and has no
// configuration in this process.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig is the process-wide configuration loaded once at startup.
type AppConfig struct {
	// Port is the HTTP/WebSocket listen port for the command and event
	// surface (§6).
	Port string

	// Environment is the ENVIRONMENT value; "production" switches gin to
	// release mode. internal/logging reads the ENVIRONMENT variable itself
	// (not this field) to choose between JSON and console encoding.
	Environment string

	// MaxInputQueue is loaded from MAX_INPUT_QUEUE but is not passed to the
	// multiplexer: the per-session input channel in internal/mux has a
	// fixed capacity of 4096 items regardless of this value.
	MaxInputQueue int

	// MetadataDBPath is where the session-metadata store (§6 "Persisted
	// state") keeps its SQLite file. This is the external collaborator's
	// storage, not the multiplexer's — see internal/store.
	MetadataDBPath string
}

// Load reads .env (if present) and then environment variables, falling
// back to sane development defaults for anything unset.
func Load() *AppConfig {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	return &AppConfig{
		Port:           getEnv("PORT", "8787"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		MaxInputQueue:  getEnvInt("MAX_INPUT_QUEUE", 4096),
		MetadataDBPath: getEnv("METADATA_DB_PATH", "./termforge.db"),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
