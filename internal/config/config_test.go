package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		SQLitePath:    ".artifacts/flashes.db",
		FSMDBPath:     ".artifacts/fsm",
		WorkDir:       "/tmp/flashctl",
		WriterCommand: "dd",
		BlockSize:     "4M",
		MaxImageSize:  "0",
		LogLevel:      "info",
		FSMMaxRetries: 3,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }, "sqlite-path"},
		{"empty fsm path", func(c *Config) { c.FSMDBPath = "" }, "fsm-db-path"},
		{"empty writer", func(c *Config) { c.WriterCommand = "  " }, "writer-command"},
		{"bad max size", func(c *Config) { c.MaxImageSize = "4GB" }, "max-image-size"},
		{"negative max size", func(c *Config) { c.MaxImageSize = "-1" }, "max-image-size"},
		{"huge max size", func(c *Config) { c.MaxImageSize = "100000000000000000000" }, ""},
		{"negative retries", func(c *Config) { c.FSMMaxRetries = -1 }, "fsm-max-retries"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log-level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestRequireBucket(t *testing.T) {
	cfg := validConfig()
	if err := cfg.RequireBucket(); err == nil {
		t.Error("expected error without a bucket")
	}
	cfg.S3Bucket = "images"
	cfg.S3Region = "us-east-1"
	if err := cfg.RequireBucket(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLASHCTL_BLOCK_SIZE", "1M")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BlockSize != "1M" {
		t.Errorf("block-size = %q, want env override 1M", cfg.BlockSize)
	}
	if cfg.WriterCommand != "dd" || len(cfg.ImageExtensions) != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
