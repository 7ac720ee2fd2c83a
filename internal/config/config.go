// Package config loads the Router's process-level configuration from
// environment variables: the listener address, the cleanup interval,
// and the session/challenge/request timing values.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the Router's process configuration.
type Config struct {
	// Port and Host bind the combined HTTP/WebSocket listener.
	Port int
	Host string

	// ChallengeTTL, SessionAbsoluteTTL, SessionIdleTimeout, and
	// RequestTimeout default to the Router's production timing
	// constants and are read from the environment, but router.New does
	// not pass them on: the services use the fixed constants in
	// pkg/repository and pkg/transport, so overriding these has no
	// effect on behavior. CleanupInterval is the one timing value the
	// Router applies (to its cleanup ticker).
	ChallengeTTL       time.Duration
	SessionAbsoluteTTL time.Duration
	SessionIdleTimeout time.Duration
	RequestTimeout     time.Duration
	CleanupInterval    time.Duration
}

// Load reads Config from the environment, falling back to this system's
// defaults for anything unset or unparsable.
func Load() Config {
	return Config{
		Port:               getEnvInt("PORT", 3000),
		Host:               getEnvString("HOST", "0.0.0.0"),
		ChallengeTTL:       getEnvDuration("ROUTER_CHALLENGE_TTL", 5*time.Minute),
		SessionAbsoluteTTL: getEnvDuration("ROUTER_SESSION_TTL", 1*time.Hour),
		SessionIdleTimeout: getEnvDuration("ROUTER_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		RequestTimeout:     getEnvDuration("ROUTER_REQUEST_TIMEOUT", 30*time.Second),
		CleanupInterval:    getEnvDuration("ROUTER_CLEANUP_INTERVAL", 60*time.Second),
	}
}

// Addr returns the combined host:port listen address.
func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func getEnvString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getEnvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
