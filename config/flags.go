package config

import (
	"github.com/spf13/pflag"
)

type CliConfig struct {
	ConfigFile string
	EnvFile    string
	Debug      bool
	Version    bool
	// Args holds the positional arguments left after flag parsing.
	Args []string

	flags *pflag.FlagSet
}

// ParseArgs parses the command line (without the program name).
func ParseArgs(name string, args []string) (*CliConfig, error) {
	cli := &CliConfig{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&cli.ConfigFile, "config", "", "Path to the config file")
	fs.StringVar(&cli.EnvFile, "env-file", ".env", "Path to an optional .env file")
	fs.String("listen", "", "Address to listen on (default 127.0.0.1:8080)")
	fs.String("metrics-listen", "", "Address to serve Prometheus metrics on (disabled when empty)")
	fs.BoolVarP(&cli.Debug, "debug", "d", false, "Enable debug mode")
	fs.BoolVarP(&cli.Version, "version", "v", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cli.Args = fs.Args()
	cli.flags = fs
	return cli, nil
}

// Arg returns the i-th positional argument or an empty string.
func (c *CliConfig) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}
