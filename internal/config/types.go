package config

import "time"

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type AuthConfig struct {
	MaxFailedLogins     int           `mapstructure:"max_failed_logins"`
	LockoutDuration     time.Duration `mapstructure:"lockout_duration"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
	SessionDuration     time.Duration `mapstructure:"session_duration"`
}

type CryptoConfig struct {
	// MasterKey is the hex-encoded master secret. When empty, a fresh key is
	// generated at startup and surfaced to the operator exactly once.
	MasterKey string `mapstructure:"master_key"`

	// PBKDF2 work factor for deriving the data-encryption key from the master key.
	KDFIterations int `mapstructure:"kdf_iterations"`

	// Argon2id parameters for password-class secrets.
	ArgonTime    uint32 `mapstructure:"argon_time"`
	ArgonMemory  uint32 `mapstructure:"argon_memory"`
	ArgonThreads uint8  `mapstructure:"argon_threads"`
}

type MFAConfig struct {
	BackupCodeCount         int           `mapstructure:"backup_code_count"`
	TrustedDeviceDuration   time.Duration `mapstructure:"trusted_device_duration"`
	VerificationCodeTTL     time.Duration `mapstructure:"verification_code_ttl"`
	VerificationMaxAttempts int           `mapstructure:"verification_max_attempts"`
	TOTPDigits              int           `mapstructure:"totp_digits"`
	TOTPPeriod              uint          `mapstructure:"totp_period"`
}

type PasskeyConfig struct {
	RelyingPartyID string        `mapstructure:"relying_party_id"`
	ExpectedOrigin string        `mapstructure:"expected_origin"`
	DevOrigin      string        `mapstructure:"dev_origin"`
	AllowDevOrigin bool          `mapstructure:"allow_dev_origin"`
	ChallengeTTL   time.Duration `mapstructure:"challenge_ttl"`
}

type ApprovalConfig struct {
	RequestTTL    time.Duration `mapstructure:"request_ttl"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	CodeDigits    int           `mapstructure:"code_digits"`
}

type RateLimitConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	MFA       MFAConfig       `mapstructure:"mfa"`
	Passkey   PasskeyConfig   `mapstructure:"passkey"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}
