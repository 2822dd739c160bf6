package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/ocland/fixtures"
	"github.com/fxnlabs/ocland/internal/config"
	"github.com/fxnlabs/ocland/internal/daemon"
	"github.com/fxnlabs/ocland/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

func main() {
	app := &cli.App{
		Name:  "oclandd",
		Usage: "Serve the local compute devices to ocland clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the configuration file",
				EnvVars: []string{"OCLAND_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to bind the control and callback listeners to",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Control port; callbacks use port+1",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also log to this file; empty logs to stderr only",
				Value: logger.DefaultLogFile,
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.IntFlag{
				Name:  "max-clients",
				Usage: "Concurrent client sessions",
			},
			&cli.StringFlag{
				Name:  "metrics-listen",
				Usage: "Serve Prometheus metrics on this address",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write a configuration file and a server list to a directory",
				ArgsUsage: "[dir]",
				Action: func(c *cli.Context) error {
					dir := c.Args().First()
					if dir == "" {
						dir = "."
					}
					return writeTemplates(dir)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("listen") {
		cfg.Server.ListenAddress = c.String("listen")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("log-file") || cfg.Logger.File == "" {
		cfg.Logger.File = c.String("log-file")
	}
	if c.IsSet("verbosity") {
		cfg.Logger.Verbosity = c.String("verbosity")
	}
	if c.IsSet("max-clients") {
		cfg.Server.MaxClients = c.Int("max-clients")
	}
	if c.IsSet("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = c.String("metrics-listen")
	}
	return cfg, nil
}

func writeTemplates(dir string) error {
	files := map[string][]byte{
		"config.yaml":            fixtures.ConfigTemplate,
		config.DefaultServerList: fixtures.ServerListTemplate,
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Println("wrote", path)
	}
	return nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	figure.NewFigure("oclandd", "", true).Print()
	fmt.Printf("control %s:%d, callbacks on port %d\n\n", cfg.Server.ListenAddress, cfg.Server.Port, cfg.Server.Port+1)

	app := fx.New(
		fx.Supply(cfg),
		daemon.Module,
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
