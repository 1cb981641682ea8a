package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	urfave "github.com/urfave/cli"

	"github.com/eshaffer321/ledger-reconciler/internal/cli"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/config"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/logging"
	"github.com/eshaffer321/ledger-reconciler/internal/infrastructure/storage"
)

func main() {
	app := urfave.NewApp()
	app.Name = "reconcile"
	app.Usage = "match and link platform ledger records to bank records"
	app.Flags = []urfave.Flag{
		urfave.StringFlag{Name: "config, c", Value: "config.yaml", Usage: "configuration file (falls back to environment)"},
	}
	app.Commands = []urfave.Command{
		{
			Name:   "run",
			Usage:  "run one reconciliation now",
			Flags:  cli.RunFlags,
			Action: runCommand,
		},
		{
			Name:  "serve",
			Usage: "serve the HTTP API and the configured schedule",
			Flags: []urfave.Flag{
				urfave.IntFlag{Name: "port, p", Usage: "listen port (default from config)"},
				urfave.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
			},
			Action: serveCommand,
		},
		{
			Name:  "runs",
			Usage: "list recorded runs",
			Flags: []urfave.Flag{
				urfave.IntFlag{Name: "limit", Value: 20},
				urfave.StringFlag{Name: "status", Usage: "only runs with this status"},
			},
			Action: runsCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *urfave.Context, verbose bool) (*config.Config, *slog.Logger) {
	cfg := config.LoadOrEnvWithPath(c.GlobalString("config"))
	if verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	return cfg, logging.NewLoggerWithSystem(cfg.Observability.Logging, "reconcile")
}

func runCommand(c *urfave.Context) error {
	flags, err := cli.ParseRunFlags(c)
	if err != nil {
		return err
	}
	cfg, logger := loadConfig(c, flags.Verbose)

	rt, err := cli.NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

	result, err := cli.Run(ctx, rt, flags, os.Stdout)
	if err != nil {
		return err
	}
	if len(result.WriteErrors) > 0 || len(result.HolderErrors) > 0 {
		return urfave.NewExitError("run finished with errors", 2)
	}
	return nil
}

func serveCommand(c *urfave.Context) error {
	cfg, logger := loadConfig(c, c.Bool("verbose"))

	rt, err := cli.NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	return cli.RunServe(rt, c.Int("port"))
}

func runsCommand(c *urfave.Context) error {
	cfg, _ := loadConfig(c, false)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(context.Background(), storage.RunFilters{
		Status: c.String("status"),
		Limit:  c.Int("limit"),
	})
	if err != nil {
		return err
	}
	cli.PrintRuns(os.Stdout, runs)
	return nil
}
