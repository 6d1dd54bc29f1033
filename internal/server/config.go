package server

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/crypto"
)

// masterKeyEnv overrides the configured master key. Preferred in production
// so the key never lands in a config file.
const masterKeyEnv = "AUTHCORE_MASTER_KEY"

// LoadConfig reads config/server/config.toml, applies defaults and resolves
// the master key. When no key is configured anywhere a fresh one is
// generated and logged exactly once; data encrypted under a generated key is
// unreadable after a restart, so this is for development only.
func LoadConfig(log *zap.Logger) (*config.AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath("./config/server")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Warn("no config file found, using defaults")
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if key := os.Getenv(masterKeyEnv); key != "" {
		cfg.Crypto.MasterKey = key
	}
	if cfg.Crypto.MasterKey == "" {
		key, err := crypto.GenerateMasterKey()
		if err != nil {
			return nil, fmt.Errorf("error generating master key: %w", err)
		}
		cfg.Crypto.MasterKey = key
		log.Warn("no master key configured, generated an ephemeral one; "+
			"set "+masterKeyEnv+" to keep encrypted data readable across restarts",
			zap.String("master_key", key))
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "authcore")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_duration", 15*time.Minute)
	v.SetDefault("auth.access_token_duration", 15*time.Minute)
	v.SetDefault("auth.session_duration", 12*time.Hour)

	v.SetDefault("crypto.kdf_iterations", 600_000)
	v.SetDefault("crypto.argon_time", 3)
	v.SetDefault("crypto.argon_memory", 64*1024)
	v.SetDefault("crypto.argon_threads", 2)

	v.SetDefault("mfa.backup_code_count", 10)
	v.SetDefault("mfa.trusted_device_duration", 30*24*time.Hour)
	v.SetDefault("mfa.verification_code_ttl", 5*time.Minute)
	v.SetDefault("mfa.verification_max_attempts", 5)
	v.SetDefault("mfa.totp_digits", 6)
	v.SetDefault("mfa.totp_period", 30)

	v.SetDefault("passkey.relying_party_id", "localhost")
	v.SetDefault("passkey.expected_origin", "http://localhost:8080")
	v.SetDefault("passkey.dev_origin", "http://localhost:5173")
	v.SetDefault("passkey.allow_dev_origin", false)
	v.SetDefault("passkey.challenge_ttl", 5*time.Minute)

	v.SetDefault("approval.request_ttl", 15*time.Second)
	v.SetDefault("approval.retention", 24*time.Hour)
	v.SetDefault("approval.sweep_interval", time.Minute)
	v.SetDefault("approval.code_digits", 6)

	v.SetDefault("ratelimit.max_attempts", 10)
	v.SetDefault("ratelimit.window", time.Minute)
}
