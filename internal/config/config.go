package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/imagewriter/flashctl/pkg/size"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory for downloaded images
	WorkDir string `mapstructure:"work-dir"`

	// S3 configuration
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`

	// Image rules
	MaxImageSize    string   `mapstructure:"max-image-size"`
	ImageExtensions []string `mapstructure:"image-extensions"`

	// Writer
	WriterCommand      string `mapstructure:"writer-command"`
	BlockSize          string `mapstructure:"block-size"`
	UnmountBeforeFlash bool   `mapstructure:"unmount-before-flash"`

	// Presentation
	BinaryUnits bool   `mapstructure:"binary-units"`
	LogLevel    string `mapstructure:"log-level"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("sqlite-path", ".artifacts/flashes.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("work-dir", "/tmp/flashctl")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("max-image-size", "0")
	viper.SetDefault("image-extensions", []string{"iso", "img", "raw", "dmg"})
	viper.SetDefault("writer-command", "dd")
	viper.SetDefault("block-size", "4M")
	viper.SetDefault("unmount-before-flash", true)
	viper.SetDefault("binary-units", false)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("fsm-max-retries", 3)

	// Environment variables (FLASHCTL_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("FLASHCTL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.flashctl")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// MaxImageBytes parses max-image-size. Zero means unlimited.
func (c *Config) MaxImageBytes() (size.Bytes, error) {
	if strings.TrimSpace(c.MaxImageSize) == "" {
		return size.Zero, nil
	}
	n, err := size.Parse(c.MaxImageSize)
	if err != nil {
		return size.Zero, fmt.Errorf("max-image-size: %w", err)
	}
	return n, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if strings.TrimSpace(c.WriterCommand) == "" {
		return fmt.Errorf("writer-command cannot be empty")
	}
	if c.BlockSize == "" {
		return fmt.Errorf("block-size cannot be empty")
	}
	n, err := c.MaxImageBytes()
	if err != nil {
		return err
	}
	if n.Sign() < 0 {
		return fmt.Errorf("max-image-size must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error")
	}
	return nil
}

// RequireBucket checks the S3 settings needed by the remote image commands
func (c *Config) RequireBucket() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("s3-bucket cannot be empty")
	}
	if c.S3Region == "" {
		return fmt.Errorf("s3-region cannot be empty")
	}
	return nil
}
