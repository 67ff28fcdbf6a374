// Command example-server bridges POSTed queries to a single fixed program,
// ./src/example unless program_path says otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"querybridge/config"
	"querybridge/logging"
	"querybridge/server"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	log := logging.GetLogger()

	cli, err := config.ParseArgs("example-server", args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if cli.Version {
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg, err := config.LoadConfig(cli)
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		return 1
	}
	if cfg.Debug {
		logging.InitLogger(logrus.DebugLevel)
	} else {
		logging.InitLogger(logrus.InfoLevel)
	}

	target := server.Target{
		Name: "example",
		Path: cfg.ProgramPath,
	}
	if err := server.Run(ctx, cfg, target, stdout); err != nil {
		log.Errorf("Server failed: %v", err)
		return 1
	}
	return 0
}
