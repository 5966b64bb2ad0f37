package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/okazan/clauth/internal/logger"
)

const (
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvDev
)

type Config struct {
	// Base URL of the remote auth API
	// Required; there is no sensible default to talk to
	BaseURL string

	// Default logging level
	LogLevel string

	// Environment (dev, prod); controls log format
	Environment string

	// Path of the encrypted file holding the refresh token
	// Defaults to <user config dir>/clauth/refresh.secret
	StorePath string

	// Key the refresh-token file is encrypted with
	StoreKey string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"API_URL":     setString(&c.BaseURL),
		"LOG_LEVEL":   setString(&c.LogLevel),
		"ENVIRONMENT": setString(&c.Environment),
		"STORE_PATH":  setString(&c.StorePath),
		"STORE_KEY":   setString(&c.StoreKey),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

// ParseFlags parses known flags and returns the remaining positional
// arguments (the command and its operands)
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("clauth", pflag.ContinueOnError)

	fs.StringVarP(&c.BaseURL, "api-url", "u", c.BaseURL, "Base URL of the auth API")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.StorePath, "store-path", "p", c.StorePath, "Path of the encrypted refresh-token file")
	fs.StringVarP(&c.StoreKey, "store-key", "k", c.StoreKey, "Key the refresh-token file is encrypted with")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

// Validate checks the settings no command can run without. A missing
// API URL is a configuration fault, not a runtime error.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("API base URL is not configured (set API_URL or --api-url)")
	}
	if c.StoreKey == "" {
		return errors.New("store key is not configured (set STORE_KEY or --store-key)")
	}
	return nil
}

// ResolveStorePath returns the configured store path or the default
// location under the user config directory
func (c *Config) ResolveStorePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "clauth", "refresh.secret"), nil
}
