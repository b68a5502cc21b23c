package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig carries basic process identity.
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig configures the operator control surface and SSE gateway.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig configures log file rotation.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures zap level, format and file output.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig configures the prometheus exposition endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig points at the embedded single-file store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SSHConfig carries the C1 remote shell client's timeout table.
type SSHConfig struct {
	Port               int           `mapstructure:"port"`
	ConnectTimeout     time.Duration `mapstructure:"connectTimeout"`
	CommandTimeout     time.Duration `mapstructure:"commandTimeout"`
	PingTimeout        time.Duration `mapstructure:"pingTimeout"`
	DownloadTimeout    time.Duration `mapstructure:"downloadTimeout"`
	FlashSubmitTimeout time.Duration `mapstructure:"flashSubmitTimeout"`
	// RebootPollAttempts is loaded but not passed to the rollout engine,
	// which always polls a fixed 20 times (rollout.rebootPollAttempts).
	RebootPollAttempts int           `mapstructure:"rebootPollAttempts"`
	RebootPollInterval time.Duration `mapstructure:"rebootPollInterval"`
}

// ScanConfig configures the C6 scan engine.
type ScanConfig struct {
	ChunkSize int `mapstructure:"chunkSize"`
}

// RolloutConfig configures the C7 rollout engine.
type RolloutConfig struct {
	AllowedBatchSizes []int `mapstructure:"allowedBatchSizes"`
}

// AuthConfig configures the operator control surface's API key check.
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// Config is the top-level application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Rollout  RolloutConfig  `mapstructure:"rollout"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// Load reads YAML/TOML/JSON config plus environment overrides.
// If path is empty it falls back to configs/example.yaml; a missing
// file is tolerated on first run since every field has a default.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if fmt.Sprintf("%T", err) != fmt.Sprintf("%T", notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fleet-rollout")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "0s") // SSE stream must not be write-timed out

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/fleet-rollout.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.path", "data/fleet.db")

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.connectTimeout", "30s")
	v.SetDefault("ssh.commandTimeout", "60s")
	v.SetDefault("ssh.pingTimeout", "10s")
	v.SetDefault("ssh.downloadTimeout", "5m")
	v.SetDefault("ssh.flashSubmitTimeout", "120s")
	v.SetDefault("ssh.rebootPollAttempts", 20)
	v.SetDefault("ssh.rebootPollInterval", "30s")

	v.SetDefault("scan.chunkSize", 10)

	v.SetDefault("rollout.allowedBatchSizes", []int{5, 10, 25, 100})

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.apiKeys", []string{})
}
