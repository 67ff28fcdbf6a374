package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BRIDGE"

// LoadConfig merges defaults, the optional config file, BRIDGE_* environment variables and
// command line flags, in increasing order of precedence.
func LoadConfig(cli *CliConfig) (*Config, error) {
	if cli == nil {
		cli = &CliConfig{}
	}

	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading env file: %w", err)
		}
	}

	v := viper.New()
	v.SetDefault("listen_address", "127.0.0.1:8080")
	v.SetDefault("metrics_address", "")
	v.SetDefault("programs_dir", "examples")
	v.SetDefault("program_path", "./src/example")
	v.SetDefault("max_concurrent", 0)
	v.SetDefault("process_timeout", "0s")
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("debug", false)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if cli.ConfigFile != "" {
		v.SetConfigFile(cli.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if cli.flags != nil {
		for key, flag := range map[string]string{
			"listen_address":  "listen",
			"metrics_address": "metrics-listen",
		} {
			if f := cli.flags.Lookup(flag); f != nil && f.Changed {
				v.Set(key, f.Value.String())
			}
		}
	}
	if cli.Debug {
		v.Set("debug", true)
	}

	var configuration Config
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validation
	if configuration.ListenAddress == "" {
		return nil, errors.New("listen_address is required")
	}
	if configuration.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max_concurrent must not be negative, got %d", configuration.MaxConcurrent)
	}
	if configuration.ProcessTimeout < 0 {
		return nil, fmt.Errorf("process_timeout must not be negative, got %s", configuration.ProcessTimeout)
	}
	if configuration.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("max_body_bytes must be positive, got %d", configuration.MaxBodyBytes)
	}

	return &configuration, nil
}
