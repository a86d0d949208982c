// Команда migrate применяет и откатывает миграции схемы PostgreSQL витрины.
//
//	migrate -command=status
//	migrate -command=up [-steps=N]
//	migrate -command=down [-steps=N]
//	migrate -command=redo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vladislavdragonenkov/fluidstore/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "FLUIDSTORE_POSTGRES_DSN"
)

type command string

const (
	commandUp     command = "up"
	commandDown   command = "down"
	commandStatus command = "status"
	// commandRedo откатывает последнюю миграцию и применяет её снова.
	commandRedo command = "redo"
)

type config struct {
	command command
	steps   int
	dsn     string
	timeout time.Duration
}

// schema — часть *postgres.Store, нужная команде.
type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

var openSchema = func(ctx context.Context, dsn string) (schema, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	cfg, err := readConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var (
		cfg config
		raw string
	)
	fs.SetOutput(io.Discard)
	fs.StringVar(&raw, "command", string(commandUp), "up|down|status|redo")
	// -direction оставлен для старых скриптов деплоя
	fs.StringVar(&raw, "direction", string(commandUp), "alias of -command")
	fs.IntVar(&cfg.steps, "steps", 0, "сколько миграций применить или откатить (up: 0 = все, down: 0 = одна)")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (по умолчанию "+envPostgresDSN+")")
	fs.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "общий таймаут команды")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.command = command(strings.ToLower(strings.TrimSpace(raw)))
	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		cfg.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}

	switch cfg.command {
	case commandUp, commandDown, commandStatus, commandRedo:
	default:
		return config{}, fmt.Errorf("unsupported command %q (use up|down|status|redo)", raw)
	}
	switch {
	case cfg.dsn == "":
		return config{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	case cfg.steps < 0:
		return config{}, errors.New("steps must be >= 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	}
	return cfg, nil
}

// run выполняет команду и печатает итоговое состояние схемы в out.
func run(ctx context.Context, cfg config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	db, err := openSchema(ctx, cfg.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := apply(ctx, db, cfg); err != nil {
		return err
	}

	state, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, err = fmt.Fprintln(out, formatStatus(string(cfg.command), state))
	return err
}

func apply(ctx context.Context, db schema, cfg config) error {
	switch cfg.command {
	case commandUp:
		if err := db.MigrateUp(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case commandDown:
		if err := db.MigrateDown(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case commandRedo:
		if err := db.MigrateDown(ctx, 1); err != nil {
			return fmt.Errorf("redo: migrate down: %w", err)
		}
		if err := db.MigrateUp(ctx, 1); err != nil {
			return fmt.Errorf("redo: migrate up: %w", err)
		}
	}
	return nil
}

func formatStatus(prefix string, state postgres.MigrationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: version=%d applied=%d", prefix, state.Version, state.Applied)
	if len(state.Pending) > 0 {
		b.WriteString(" pending=")
		b.WriteString(strings.Join(state.Pending, ","))
	}
	if len(state.Drifted) > 0 {
		b.WriteString(" drifted=")
		b.WriteString(strings.Join(state.Drifted, ","))
	}
	return b.String()
}
