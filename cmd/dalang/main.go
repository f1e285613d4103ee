// The dalang command runs the client-facing Dalang server: the WebSocket
// endpoint editor clients connect to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/dalang-app/dalang/internal/auth"
	"github.com/dalang-app/dalang/internal/authservice"
	"github.com/dalang-app/dalang/internal/core"
	"github.com/dalang-app/dalang/internal/debug"
	"github.com/dalang-app/dalang/internal/server"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Printf("dalang error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	a := cli.NewApp()
	a.Name = "dalang"
	a.Usage = "dalang server"
	a.Commands = []*cli.Command{
		{
			Name:        "start",
			Usage:       "start the server",
			Description: "Runs the Dalang server.",
			Action:      start,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "Path to the directory containing the server config file",
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

	db, err := core.OpenDatabase(config)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	authenticator, err := buildAuthenticator(config, logger, db)
	if err != nil {
		return err
	}

	srv, err := server.New(config, logger, authenticator, db)
	if err != nil {
		return fmt.Errorf("error initializing server: %w", err)
	}

	// One top-level context so that SIGTERM shuts everything down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("waiting to shut down gracefully...")
		cancel()
	}()

	go func() {
		if err := debug.Start(ctx, config, logger, srv.MetricsRegistry()); err != nil {
			logger.Warnf("debug server error: %v", err)
		}
	}()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shut down")
	return nil
}

func buildAuthenticator(config *core.Config, logger *logrus.Logger, db *gorm.DB) (auth.Authenticator, error) {
	switch config.Auth.Backend {
	case "", "local":
		return auth.NewLocal(db, logger)
	case "remote":
		return authservice.NewClient(logger, config.Auth.RemoteAddress), nil
	}
	return nil, fmt.Errorf("unsupported auth backend %q", config.Auth.Backend)
}
