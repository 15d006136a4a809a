// Command migrate применяет, откатывает или показывает встроенные миграции PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/farmops/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

type command struct {
	dsn    string
	action string // up, down or status
	steps  int
	dryRun bool
}

func parseCommand(args []string, getenv func(string) string) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cmd command
	fs.StringVar(&cmd.action, "direction", "up", "up, down or status")
	fs.IntVar(&cmd.steps, "steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	fs.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN, defaults to POSTGRES_DSN")
	fs.BoolVar(&cmd.dryRun, "dry-run", false, "print the plan without touching the schema")
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}

	cmd.action = strings.ToLower(strings.TrimSpace(cmd.action))
	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		cmd.dsn = strings.TrimSpace(getenv("POSTGRES_DSN"))
	}

	switch {
	case cmd.dsn == "":
		return command{}, errors.New("POSTGRES_DSN (or -dsn) is required")
	case cmd.steps < 0:
		return command{}, errors.New("-steps must not be negative")
	case cmd.action == "status":
		return cmd, nil
	}
	if _, err := postgres.ParseDirection(cmd.action); err != nil {
		return command{}, fmt.Errorf("%w (use up, down or status)", err)
	}
	return cmd, nil
}

// migrator описывает часть *postgres.Store, которой управляет команда.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	PlanMigration(ctx context.Context, direction postgres.Direction, steps int) ([]postgres.Migration, error)
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

func execute(ctx context.Context, out io.Writer, store migrator, cmd command) error {
	if cmd.action != "status" {
		direction, err := postgres.ParseDirection(cmd.action)
		if err != nil {
			return err
		}
		if cmd.dryRun {
			plan, err := store.PlanMigration(ctx, direction, cmd.steps)
			if err != nil {
				return fmt.Errorf("plan %s: %w", direction, err)
			}
			_, _ = fmt.Fprintf(out, "dry run, %s would run %d migration(s)\n", direction, len(plan))
			for _, m := range plan {
				_, _ = fmt.Fprintf(out, "  %s %s\n", direction, m)
			}
			return nil
		}

		if direction == postgres.DirectionUp {
			err = store.MigrateUp(ctx, cmd.steps)
		} else {
			err = store.MigrateDown(ctx, cmd.steps)
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", direction, err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n",
		cmd.action, state.Version, state.Applied, len(state.Pending))
	for _, m := range state.Pending {
		_, _ = fmt.Fprintf(out, "  pending %s\n", m)
	}
	for _, v := range state.Unknown {
		_, _ = fmt.Fprintf(out, "  unknown version %d (applied by a newer build?)\n", v)
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	cmd, err := parseCommand(os.Args[1:], os.Getenv)
	if err != nil {
		exitf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, cmd.dsn)
	if err != nil {
		exitf("open postgres: %v", err)
	}
	defer store.Close()

	if err := execute(ctx, os.Stdout, store, cmd); err != nil {
		_ = store.Close()
		exitf("%v", err)
	}
}

func exitf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "migrate: "+format+"\n", args...)
	os.Exit(1)
}
