package main

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config is built once at startup and handed to every component constructor;
// nothing reads the environment after this.
type Config struct {
	DatabaseURL string
	ListenAddr  string
	Debug       bool

	MaxPoolConns     int32
	MaxSubscriptions int

	RecorderBuffer  int
	RecorderWorkers int

	LoaderMaxBatch int
	LoaderWindow   time.Duration
}

// LoadConfig reads the environment. Only DATABASE_URL is required.
func LoadConfig() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ListenAddr:       envString("LISTEN_ADDR", ":8080"),
		MaxPoolConns:     int32(envInt("DB_MAX_CONNS", 10)),
		MaxSubscriptions: envInt("MAX_SUBSCRIPTIONS", 32),
		RecorderBuffer:   envInt("RECORDER_BUFFER", 1024),
		RecorderWorkers:  envInt("RECORDER_WORKERS", 4),
		LoaderMaxBatch:   envInt("LOADER_MAX_BATCH", 128),
		LoaderWindow:     envDur("LOADER_WINDOW", 250*time.Microsecond),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
