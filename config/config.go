// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strings"
)

// Config covers both the client binary and the development server.
type Config struct {
	// ServerURL is the signaling endpoint the client dials.
	ServerURL string
	// Port is the listen port of the development server.
	Port string
	// Environment selects gin's mode on the server side.
	Environment string
	// JWTSecret is the shared HMAC secret for profile tokens.
	JWTSecret string
	// STUNServers are the ICE STUN urls, comma separated in the env.
	STUNServers []string
	// TURN relay, optional.
	TURNServer     string
	TURNUsername   string
	TURNCredential string
}

// Load reads configuration from environment variables with development
// defaults.
func Load() *Config {
	return &Config{
		ServerURL:      getEnv("VOICEMATCH_SERVER_URL", "ws://localhost:8080/ws"),
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		STUNServers:    splitList(getEnv("STUN_SERVERS", "stun:stun.l.google.com:19302")),
		TURNServer:     getEnv("TURN_SERVER", ""),
		TURNUsername:   getEnv("TURN_USERNAME", ""),
		TURNCredential: getEnv("TURN_CREDENTIAL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
