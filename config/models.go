package config

import "time"

// Config holds the application configuration.
type Config struct {
	ListenAddress  string        `mapstructure:"listen_address"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	ProgramsDir    string        `mapstructure:"programs_dir"`
	ProgramPath    string        `mapstructure:"program_path"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	Debug          bool          `mapstructure:"debug"`
}
