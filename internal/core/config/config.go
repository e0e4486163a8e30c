// Package config provides service configuration management.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "IDEAFILTER"

// Secret environment variables. Secrets are never read from the config file.
const (
	EnvRedisPassword = EnvPrefix + "_REDIS_PASSWORD"
	EnvSMTPPassword  = EnvPrefix + "_SMTP_PASSWORD"
)

// Config is the service configuration.
type Config struct {
	Filter   FilterConfig
	Counters CountersConfig
	Trap     TrapConfig
	Warden   WardenConfig
	Health   HealthConfig
	Log      LogConfig

	// RedisPassword authenticates to the counter and TRAP Redis servers.
	RedisPassword string
}

// FilterConfig locates the rule document and controls reloading.
type FilterConfig struct {
	Config        string
	Module        string
	WatchInterval time.Duration
	WatchMode     string
}

// CountersConfig selects the counter store.
type CountersConfig struct {
	Backend   string
	Prefix    string
	RedisAddr string
	DBURL     string
}

// TrapConfig configures the default TRAP publisher. An empty RedisAddr
// disables trap actions.
type TrapConfig struct {
	RedisAddr string
	Channel   string
}

// WardenConfig configures the Warden submitter. An empty URL disables
// warden actions.
type WardenConfig struct {
	URL     string
	Client  string
	Timeout time.Duration
}

// HealthConfig configures the gRPC health endpoint. Port 0 disables it.
type HealthConfig struct {
	Host string
	Port int
}

// LogConfig configures the service logger.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Filter: FilterConfig{
			Module:        "reporter",
			WatchInterval: 5 * time.Second,
			WatchMode:     "poll",
		},
		Counters: CountersConfig{
			Backend: "memory",
			Prefix:  "ideafilter",
		},
		Trap: TrapConfig{
			Channel: "ideafilter:trap",
		},
		Warden: WardenConfig{
			Client:  "ideafilter",
			Timeout: 30 * time.Second,
		},
		Health: HealthConfig{
			Host: "0.0.0.0",
			Port: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SMTPPasswords returns SMTP passwords keyed by smtp connection id from
// IDEAFILTER_SMTP_PASSWORD_<ID> environment variables. The id part is
// lowercased. IDEAFILTER_SMTP_PASSWORD alone applies to every connection
// without its own entry and is returned under the empty key.
func SMTPPasswords() map[string]string {
	passwords := make(map[string]string)
	if pass := os.Getenv(EnvSMTPPassword); pass != "" {
		passwords[""] = pass
	}
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || value == "" || !strings.HasPrefix(key, EnvSMTPPassword+"_") {
			continue
		}
		id := strings.ToLower(strings.TrimPrefix(key, EnvSMTPPassword+"_"))
		if id == "" {
			continue
		}
		passwords[id] = value
	}
	return passwords
}

// SMTPPassword looks up the password for an smtp connection id.
func SMTPPassword(passwords map[string]string, id string) (string, bool) {
	if pass, ok := passwords[smtpEnvID(id)]; ok {
		return pass, true
	}
	pass, ok := passwords[""]
	return pass, ok
}

// smtpEnvID maps a connection id to the form used in variable names.
func smtpEnvID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Addr returns the health endpoint listen address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
