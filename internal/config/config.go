// Package config reads process configuration from the environment exactly
// once, in main. Components receive the resulting value through their
// constructors; nothing reads ambient settings inside business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full process configuration.
type Config struct {
	// Addr is the gateway listen address.
	Addr string
	// DatabaseURL is the Postgres connection string shared by all guild
	// schemas.
	DatabaseURL string
	// RedisAddr is the event feed broker; empty disables the feed.
	RedisAddr string
	RedisDB   int
	// EventQueue is the Redis list lifecycle events are pushed onto.
	EventQueue string
	// BridgeTokenExpiry bounds bridge token lifetime; zero means never.
	BridgeTokenExpiry time.Duration
	// BridgeKeyPrivate and BridgeKeyPublic point at an ed25519 key pair
	// on disk. When unset a fresh pair is generated at startup, which
	// invalidates outstanding bridge tokens on restart.
	BridgeKeyPrivate string
	BridgeKeyPublic  string
	// ReconcileInterval is the period of the leaderless-lobby sweep.
	ReconcileInterval time.Duration
	// SessionTTL bounds how long a disambiguation session stays open.
	SessionTTL time.Duration
	// SystemActorID is the service's own actor id on the chat platform,
	// used to reject self-originated selection events.
	SystemActorID string
	// BridgeGuilds lists guilds to mint bridge tokens for at startup.
	BridgeGuilds []string
	LogLevel     logrus.Level
}

// Load populates a Config from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:             getEnv("LOBBYD_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		EventQueue:       getEnv("EVENT_QUEUE_NAME", "lobby_events"),
		SystemActorID:    getEnv("SYSTEM_ACTOR_ID", "lobbyd"),
		BridgeGuilds:     splitList(os.Getenv("BRIDGE_GUILDS")),
		BridgeKeyPrivate: os.Getenv("BRIDGE_KEY_PRIVATE"),
		BridgeKeyPublic:  os.Getenv("BRIDGE_KEY_PUBLIC"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.BridgeTokenExpiry, err = getEnvDuration("BRIDGE_TOKEN_EXPIRE_TIME", 0); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 2*time.Minute); err != nil {
		return Config{}, err
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	if s == "never" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}
