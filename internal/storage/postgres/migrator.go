package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Ключ advisory lock: две реплики не применяют миграции одновременно.
const migrationLockKey = int64(0x666c7569) // "flui"

const (
	migrationsDir = "sql/migrations"

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	schemaMigrationsChecksumDDL = `ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`

	appliedMigrationsSQL = `SELECT version, checksum FROM schema_migrations`
	recordMigrationSQL   = `INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`
	forgetMigrationSQL   = `DELETE FROM schema_migrations WHERE version = $1`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

	embeddedMigrations = sync.OnceValues(func() ([]migration, error) {
		return loadMigrationsFromFS(migrationsFS)
	})
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// ID в формате имени файла без направления: 0003_outbox_claims.
func (m migration) ID() string { return fmt.Sprintf("%04d_%s", m.Version, m.Name) }

func (m migration) body(d migrationDirection) string {
	if d == migrationDown {
		return m.DownSQL
	}
	return m.UpSQL
}

// checksum up-скрипта; по нему видно, что применённый файл потом правили.
func (m migration) checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL))
	return hex.EncodeToString(sum[:])
}

// MigrationState описывает состояние схемы.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
	// Drifted перечисляет применённые миграции, чей up-файл изменился после применения.
	Drifted []string
}

// MigrateUp применяет up-миграции. steps=0 применяет все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции. steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// MigrationStatus сравнивает встроенные миграции с журналом schema_migrations.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreClosed
	}
	all, err := embeddedMigrations()
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := ensureJournal(ctx, s.db); err != nil {
		return MigrationState{}, err
	}
	applied, err := appliedMigrations(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}
	return describe(all, applied), nil
}

func describe(all []migration, applied map[int64]string) MigrationState {
	var state MigrationState
	for _, m := range all {
		sum, ok := applied[m.Version]
		if !ok {
			state.Pending = append(state.Pending, m.ID())
			continue
		}
		state.Applied++
		state.Version = max(state.Version, m.Version)
		// Пустой checksum у строк, записанных до появления колонки.
		if sum != "" && sum != m.checksum() {
			state.Drifted = append(state.Drifted, m.ID())
		}
	}
	return state
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	all, err := embeddedMigrations()
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	// advisory lock держится на сессии, поэтому всё идёт через одно соединение
	lockCtx, cancel := withTimeout(ctx)
	_, err = conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if err := ensureJournal(ctx, conn); err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range planMigrations(all, applied, direction, steps) {
		if err := applyMigration(ctx, conn, m, direction); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations: up идут по возрастанию среди неприменённых, down по убыванию среди применённых.
func planMigrations(all []migration, applied map[int64]string, direction migrationDirection, steps int) []migration {
	plan := make([]migration, 0, len(all))
	for _, m := range all {
		if _, ok := applied[m.Version]; ok == (direction == migrationDown) {
			plan = append(plan, m)
		}
	}
	if direction == migrationDown {
		slices.Reverse(plan)
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan
}

func applyMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", direction, m.ID(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.body(direction)); err != nil {
		return fmt.Errorf("execute %s %s: %w", direction, m.ID(), err)
	}
	if direction == migrationUp {
		_, err = tx.ExecContext(ctx, recordMigrationSQL, m.Version, m.Name, m.checksum())
	} else {
		_, err = tx.ExecContext(ctx, forgetMigrationSQL, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s %s: %w", direction, m.ID(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", direction, m.ID(), err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func ensureJournal(ctx context.Context, db execer) error {
	for _, ddl := range []string{schemaMigrationsDDL, schemaMigrationsChecksumDDL} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema_migrations: %w", err)
		}
	}
	return nil
}

// appliedMigrations возвращает checksum применённых миграций по версии.
func appliedMigrations(ctx context.Context, db queryer) (map[int64]string, error) {
	rows, err := db.QueryContext(ctx, appliedMigrationsSQL)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

type migrationFile struct {
	version   int64
	name      string
	direction migrationDirection
}

func parseMigrationFile(base string) (migrationFile, error) {
	parts := migrationFileName.FindStringSubmatch(base)
	if parts == nil {
		return migrationFile{}, fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return migrationFile{}, fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return migrationFile{version: version, name: parts[2], direction: migrationDirection(parts[3])}, nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration, len(files)/2)
	for _, file := range files {
		base := path.Base(file)
		f, err := parseMigrationFile(base)
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m := byVersion[f.version]
		switch {
		case m == nil:
			m = &migration{Version: f.version, Name: f.name}
			byVersion[f.version] = m
		case m.Name != f.name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", f.version, m.Name, f.name)
		}

		target := &m.UpSQL
		if f.direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", f.direction, f.version)
		}
		*target = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.ID())
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
