package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Profiles ProfilesConfig `mapstructure:"device_profiles"`
	Cards    []CardConfig   `mapstructure:"cards"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
	AdminUser              string        `mapstructure:"admin_user"`
	AdminPasswordEnv       string        `mapstructure:"admin_password_env"`
}

// SerialConfig holds the port defaults every card starts from.
type SerialConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	FrameGap    time.Duration `mapstructure:"frame_gap"`
	USBVID      string        `mapstructure:"usb_vid"`
	USBPID      string        `mapstructure:"usb_pid"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

// CardConfig declares a card that is loaded at start-up.
type CardConfig struct {
	Name         string         `mapstructure:"name"`
	Port         string         `mapstructure:"port"`
	Profile      string         `mapstructure:"profile"`
	ResetOnClose *bool          `mapstructure:"reset_on_close"`
	AutoInit     bool           `mapstructure:"auto_init"`
	IOMapping    map[string]int `mapstructure:"io_mapping"`
}

const envPrefix = "OPENDO96"

// Load reads a YAML config file. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix) // OPENDO96_SERVER_HTTP_PORT etc.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "opendo96")
	v.SetDefault("database.user", "opendo96")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_password_env", "OPENDO96_ADMIN_PASSWORD")

	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.read_timeout", "1s")
	v.SetDefault("serial.frame_gap", "10ms")
	v.SetDefault("serial.usb_vid", "0403")
	v.SetDefault("serial.usb_pid", "6001")

	v.SetDefault("logging.level", "info")
	v.SetDefault("device_profiles.search_paths", []string{"./profiles"})
}

// Validate rejects duplicate or unnamed cards.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Cards))
	for i, card := range c.Cards {
		if card.Name == "" {
			return fmt.Errorf("cards[%d]: name is required", i)
		}
		if seen[card.Name] {
			return fmt.Errorf("cards[%d]: duplicate card name %q", i, card.Name)
		}
		seen[card.Name] = true
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ResetOnCloseOrDefault reports the card's reset-on-close policy, on unless
// set otherwise.
func (c CardConfig) ResetOnCloseOrDefault() bool {
	return c.ResetOnClose == nil || *c.ResetOnClose
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

// AdminPassword is the bootstrap admin password; empty disables bootstrap.
func (a *AuthConfig) AdminPassword() string {
	if a.AdminPasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.AdminPasswordEnv)
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
