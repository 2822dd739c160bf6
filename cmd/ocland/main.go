package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/ocland/internal/config"
	"github.com/fxnlabs/ocland/internal/logger"
	"github.com/fxnlabs/ocland/pkg/ocland"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	var client *ocland.Client
	var rootLogger *zap.Logger

	app := &cli.App{
		Name:  "ocland",
		Usage: "Inspect and exercise ocland servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the configuration file",
				EnvVars: []string{"OCLAND_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "server",
				Usage: "Server address; overrides the server list",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "warn",
				Usage: "Log level",
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if path := c.String("config"); path != "" {
				var err error
				if cfg, err = config.LoadConfig(path); err != nil {
					return err
				}
			}
			zapLogger, err := logger.New(c.String("verbosity"))
			if err != nil {
				return err
			}
			rootLogger = zapLogger.Named("cli")

			var opts ocland.Options
			if servers := c.StringSlice("server"); len(servers) > 0 {
				opts, err = ocland.OptionsFromConfig(cfg, servers...)
			} else {
				opts, err = ocland.OptionsFromConfig(cfg)
			}
			if err != nil {
				return err
			}
			client = ocland.New(opts, rootLogger)
			return nil
		},
		After: func(c *cli.Context) error {
			if client != nil {
				return client.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			platformsCommand(&client),
			devicesCommand(&client),
			saxpyCommand(&client),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
