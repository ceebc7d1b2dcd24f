package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hms/backend/internal/infrastructure/config"
	"github.com/hms/backend/internal/infrastructure/logger"
	"github.com/hms/backend/internal/infrastructure/migration"
	"github.com/hms/backend/migrations"
)

const usage = `Billing schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands that need a database:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (negative n rolls back)
  goto <version>        Migrate to a specific version
  version               Show the applied version
  force <version>       Mark a version applied after a failed run

Commands that only touch files:
  create <name> [desc]  Write the next numbered up/down pair
  list                  List available migrations

Flags:
  -path string          Migrations directory (default: embedded set)
  -log-level string     debug, info, warn or error (default: info)

The database is configured through HMS_DATABASE_HOST, HMS_DATABASE_PORT,
HMS_DATABASE_USER, HMS_DATABASE_PASSWORD, HMS_DATABASE_DBNAME and
HMS_DATABASE_SSLMODE.`

var errUsage = errors.New("bad arguments")

// schemaCommands run against a live database.
var schemaCommands = map[string]func(m *migration.Migrator, args []string, log *zap.Logger) error{
	"up":   func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Up() },
	"down": func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Down() },
	"step": func(m *migration.Migrator, args []string, _ *zap.Logger) error {
		n, err := strconv.Atoi(arg(args, 0))
		if err != nil {
			return fmt.Errorf("%w: step <n>", errUsage)
		}
		return m.Steps(n)
	},
	"goto": func(m *migration.Migrator, args []string, _ *zap.Logger) error {
		v, err := strconv.ParseUint(arg(args, 0), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: goto <version>", errUsage)
		}
		return m.GoTo(uint(v))
	},
	"force": func(m *migration.Migrator, args []string, _ *zap.Logger) error {
		v, err := strconv.Atoi(arg(args, 0))
		if err != nil {
			return fmt.Errorf("%w: force <version>", errUsage)
		}
		return m.Force(v)
	},
	"version": func(m *migration.Migrator, _ []string, log *zap.Logger) error {
		version, dirty, err := m.Version()
		if err == nil {
			log.Info("Applied schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
		return err
	},
}

func main() {
	dir := flag.String("path", "", "read migrations from this directory instead of the embedded set")
	level := flag.String("log-level", "info", "log level")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(config.LogConfig{Level: *level, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	command, rest := args[0], args[1:]
	switch command {
	case "create":
		err = create(*dir, rest, log)
	case "list":
		err = list(*dir)
	default:
		run, ok := schemaCommands[command]
		if !ok {
			log.Error("Unknown command", zap.String("command", command))
			flag.Usage()
			os.Exit(2)
		}
		err = withMigrator(*dir, log, func(m *migration.Migrator) error { return run(m, rest, log) })
	}

	if errors.Is(err, errUsage) {
		log.Error("Usage", zap.Error(err))
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("Migration command failed", zap.String("command", command), zap.Error(err))
	}
}

func withMigrator(dir string, log *zap.Logger, fn func(*migration.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	var m *migration.Migrator
	if dir != "" {
		m, err = migration.NewFromPath(db, dir, log)
	} else {
		m, err = migration.New(db, log)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			log.Warn("Closing migrator", zap.Error(cerr))
		}
	}()
	return fn(m)
}

func create(dir string, args []string, log *zap.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: create <name> [description]", errUsage)
	}
	if dir == "" {
		dir = "migrations"
	}
	mf, err := migration.CreateMigration(dir, args[0], arg(args, 1))
	if err != nil {
		return err
	}
	log.Info("Migration created",
		zap.Uint("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func list(dir string) error {
	var src fs.FS = migrations.FS
	if dir != "" {
		src = os.DirFS(dir)
	}
	found, err := migration.ListMigrations(src)
	if err != nil {
		return err
	}
	for _, m := range found {
		fmt.Printf("  %06d  %s\n", m.Version, m.Name)
	}
	return nil
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
