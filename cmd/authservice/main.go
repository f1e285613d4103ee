// The authservice command runs the standalone credential service that
// Dalang servers configured with the remote auth backend talk to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dalang-app/dalang/internal/authservice"
	"github.com/dalang-app/dalang/internal/core"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Printf("authservice error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	a := cli.NewApp()
	a.Name = "authservice"
	a.Usage = "dalang credential service"
	a.Commands = []*cli.Command{
		{
			Name:        "start",
			Usage:       "start the credential service",
			Description: "Runs the Dalang credential service.",
			Action:      start,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "Path to the directory containing the service config file",
					EnvVars: []string{"DALANG_CONFIG"},
					Value:   "./",
				},
			},
		},
	}
	return a
}

func start(c *cli.Context) error {
	config, err := core.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("waiting to shut down gracefully...")
		cancel()
	}()

	if err := authservice.Start(ctx, config, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shut down")
	return nil
}
