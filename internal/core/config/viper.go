package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// secretKeys may only be supplied through the environment.
var secretKeys = []string{
	"redis_password",
	"counters.redis_password",
	"trap.redis_password",
	"smtp_password",
	"smtp_passwords",
}

var (
	counterBackends = map[string]bool{"memory": true, "redis": true, "sql": true}
	watchModes      = map[string]bool{"poll": true, "notify": true}
	logLevels       = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true, "disabled": true}
	logFormats      = map[string]bool{"json": true, "console": true, "text": true}
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("filter.config", d.Filter.Config)
	v.SetDefault("filter.module", d.Filter.Module)
	v.SetDefault("filter.watch_interval", d.Filter.WatchInterval.String())
	v.SetDefault("filter.watch_mode", d.Filter.WatchMode)
	v.SetDefault("counters.backend", d.Counters.Backend)
	v.SetDefault("counters.prefix", d.Counters.Prefix)
	v.SetDefault("counters.redis_addr", d.Counters.RedisAddr)
	v.SetDefault("counters.db_url", d.Counters.DBURL)
	v.SetDefault("trap.redis_addr", d.Trap.RedisAddr)
	v.SetDefault("trap.channel", d.Trap.Channel)
	v.SetDefault("warden.url", d.Warden.URL)
	v.SetDefault("warden.client", d.Warden.Client)
	v.SetDefault("warden.timeout", d.Warden.Timeout.String())
	v.SetDefault("health.host", d.Health.Host)
	v.SetDefault("health.port", d.Health.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	// IDEAFILTER_FILTER_CONFIG, IDEAFILTER_COUNTERS_BACKEND, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Filter: FilterConfig{
			Config:        v.GetString("filter.config"),
			Module:        v.GetString("filter.module"),
			WatchInterval: v.GetDuration("filter.watch_interval"),
			WatchMode:     v.GetString("filter.watch_mode"),
		},
		Counters: CountersConfig{
			Backend:   v.GetString("counters.backend"),
			Prefix:    v.GetString("counters.prefix"),
			RedisAddr: v.GetString("counters.redis_addr"),
			DBURL:     v.GetString("counters.db_url"),
		},
		Trap: TrapConfig{
			RedisAddr: v.GetString("trap.redis_addr"),
			Channel:   v.GetString("trap.channel"),
		},
		Warden: WardenConfig{
			URL:     v.GetString("warden.url"),
			Client:  v.GetString("warden.client"),
			Timeout: v.GetDuration("warden.timeout"),
		},
		Health: HealthConfig{
			Host: v.GetString("health.host"),
			Port: v.GetInt("health.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		RedisPassword: os.Getenv(EnvRedisPassword),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks enumerations, port range and backend requirements.
func (cfg *Config) Validate() error {
	return validateConfig(cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.Filter.WatchInterval < 0 {
		return fmt.Errorf("filter.watch_interval must not be negative, got %v", cfg.Filter.WatchInterval)
	}
	if !watchModes[cfg.Filter.WatchMode] {
		return fmt.Errorf("filter.watch_mode must be poll or notify, got %q", cfg.Filter.WatchMode)
	}
	if !counterBackends[cfg.Counters.Backend] {
		return fmt.Errorf("counters.backend must be memory, redis or sql, got %q", cfg.Counters.Backend)
	}
	if cfg.Counters.Backend == "redis" && cfg.Counters.RedisAddr == "" {
		return fmt.Errorf("counters.redis_addr is required for the redis backend")
	}
	if cfg.Counters.Backend == "sql" && cfg.Counters.DBURL == "" {
		return fmt.Errorf("counters.db_url is required for the sql backend")
	}
	if cfg.Counters.Prefix == "" {
		return fmt.Errorf("counters.prefix must not be empty")
	}
	if cfg.Trap.RedisAddr != "" && cfg.Trap.Channel == "" {
		return fmt.Errorf("trap.channel must not be empty")
	}
	if cfg.Warden.URL != "" && cfg.Warden.Timeout <= 0 {
		return fmt.Errorf("warden.timeout must be positive, got %v", cfg.Warden.Timeout)
	}
	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", cfg.Health.Port)
	}
	if !logLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", cfg.Log.Level)
	}
	if !logFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("%s not allowed in config files (use %s or %s_<ID> environment variables)",
				key, EnvRedisPassword, EnvSMTPPassword)
		}
	}
	return nil
}
