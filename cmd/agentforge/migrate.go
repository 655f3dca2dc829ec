package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/Strob0t/AgentForge/internal/adapter/postgres"
	"github.com/Strob0t/AgentForge/internal/config"
)

// runMigrate dispatches migrate subcommands (up, down, version).
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (defaults to config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printMigrateHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dsn != "" {
		cfg.Postgres.DSN = *dsn
	}
	ctx := context.Background()

	switch rest[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "migrations applied")
	case "down":
		steps := 1
		if len(rest) > 1 {
			steps, err = strconv.Atoi(rest[1])
			if err != nil || steps < 1 {
				return fmt.Errorf("invalid step count %q", rest[1])
			}
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "rolled back %d migration(s)\n", steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", rest[0])
	}
	return nil
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: agentforge migrate [--dsn DSN] <command>

Commands:
  up            Apply all pending migrations
  down [N]      Roll back the last N migrations (default 1)
  version       Print the current schema version
`)
}
