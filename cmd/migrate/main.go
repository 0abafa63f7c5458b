package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/segyhp/library-engine/internal/bootstrap"
	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/migrations"
	"github.com/segyhp/library-engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	// Flags
	cmd := flag.String("cmd", "up", "migration command: up|down|status|redo|reset|version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return resourceFailed(ctx, logg, "config", err)
	}

	logg = bootstrap.NewLogger(cfg, "migrate")
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.Server.Env,
		"cmd": *cmd,
	})

	switch *cmd {
	case "up", "down", "status", "redo", "reset", "version":
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		return fmt.Errorf("unknown command %q", *cmd)
	}

	if cfg.Database.Driver != config.DriverPostgres {
		logg.Info(ctx, fmt.Sprintf("driver %s has no SQL migrations; nothing to do", cfg.Database.Driver))
		return nil
	}

	db, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		return resourceFailed(ctx, logg, "database", err)
	}
	defer db.Close()

	logg.Info(ctx, "migrate ready")

	if err := migrations.Run(ctx, db.DB, *cmd); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		return err
	}
	return nil
}

func resourceFailed(ctx context.Context, logg *logger.Logger, resource string, err error) error {
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	return err
}
