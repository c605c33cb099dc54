package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig configures the studio command line client.
type ClientConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	CredentialsDir string        `mapstructure:"credentials_dir"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// LoadClient reads the client configuration from path, or from
// ~/.genstudio.yaml when path is empty. A missing default file is not an
// error. STUDIO_* environment variables override file values.
func LoadClient(path string) (*ClientConfig, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("api_url", "http://localhost:4000")
	v.SetDefault("credentials_dir", filepath.Join(home, ".genstudio"))
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_backoff", time.Second)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("history_limit", 5)

	if path == "" {
		v.SetConfigName(".genstudio")
		v.SetConfigType("yaml")
		v.AddConfigPath(home)
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	// environment overrides, e.g. STUDIO_API_URL=http://localhost:4000
	v.SetEnvPrefix("STUDIO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c ClientConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if c.APIURL == "" {
		return nil, errors.New("api_url is required")
	}
	if c.MaxAttempts < 1 {
		return nil, errors.New("max_attempts must be at least 1")
	}
	if c.RetryBackoff < 0 {
		return nil, errors.New("retry_backoff must not be negative")
	}
	return &c, nil
}
