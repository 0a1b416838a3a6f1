// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents the monitoring HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StreamConfig holds everything one connection attempt needs: caster
// endpoint, credentials, and the validation/recovery tuning knobs.
//
// Tuning:
//   - RetryDelay / MaxTries trade faster recovery against caster load.
//   - HealthTimeout / PassiveSample / RequiredValidFrames trade sensitivity
//     to stalled streams against tolerance to intermittent data.
//   - BufferSize trades memory against the ability to absorb read bursts.
//   - ConnectTimeout bounds both the TCP connect and the HTTP response wait.
type StreamConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Mount       string `mapstructure:"mount"`
	User        string `mapstructure:"user"`
	Pass        string `mapstructure:"pass"`
	GGASentence string `mapstructure:"gga_sentence"`

	MaxTries            int           `mapstructure:"max_tries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	HealthTimeout       time.Duration `mapstructure:"health_timeout"`
	PassiveSample       time.Duration `mapstructure:"passive_sample"`
	RequiredValidFrames int           `mapstructure:"required_valid_frames"`
	BufferSize          int           `mapstructure:"buffer_size"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	Rev1Fallback        bool          `mapstructure:"rev1_fallback"`
}

// SinkConfig selects where received RTCM bytes are forwarded.
type SinkConfig struct {
	Type     string `mapstructure:"type"` // "serial" or "discard"
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
}

// SecurityConfig represents API security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// IsProduction reports whether the app runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./internal/config")

	// Environment variable support
	viper.SetEnvPrefix("NTRIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file; defaults plus environment variables are a complete
	// configuration, so a missing file is not an error.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8072")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Stream defaults mirror the tuning a rover in the field starts from.
	viper.SetDefault("stream.port", 2101)
	viper.SetDefault("stream.max_tries", 5)
	viper.SetDefault("stream.retry_delay", "30s")
	viper.SetDefault("stream.health_timeout", "60s")
	viper.SetDefault("stream.passive_sample", "5s")
	viper.SetDefault("stream.required_valid_frames", 3)
	viper.SetDefault("stream.buffer_size", 1024)
	viper.SetDefault("stream.connect_timeout", "5s")
	viper.SetDefault("stream.rev1_fallback", true)

	// Sink defaults
	viper.SetDefault("sink.type", "discard")
	viper.SetDefault("sink.baud_rate", 115200)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// App defaults
	viper.SetDefault("app.name", "gnss-ntrip-client")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}
