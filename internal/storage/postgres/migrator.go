package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	migrationsGlob = "sql/migrations/*.sql"
	// advisory lock, общий для всех экземпляров farm-service, запускающих миграции
	migrationLockKey  = int64(20261018)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	selectAppliedSQL = `SELECT version FROM schema_migrations`
	recordUpSQL      = `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`
	recordDownSQL    = `DELETE FROM schema_migrations WHERE version = $1`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

// Direction выбирает, какая половина миграции выполняется.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection принимает "up" или "down" в любом регистре.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case DirectionUp, DirectionDown:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported migration direction %q", raw)
	}
}

// Migration описывает одно пронумерованное изменение схемы с откатом.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m Migration) String() string { return fmt.Sprintf("%04d_%s", m.Version, m.Name) }

// MigrationState сводит таблицу schema_migrations со встроенным набором.
type MigrationState struct {
	Version int64
	Applied int
	Pending []Migration
	// Unknown перечисляет применённые версии, которых нет в этом бинарнике, обычно
	// оставленные более новым релизом.
	Unknown []int64
}

// MigrateUp применяет ожидающие миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	_, err := s.migrate(ctx, DirectionUp, steps, false)
	return err
}

// MigrateDown откатывает самые новые миграции; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	_, err := s.migrate(ctx, DirectionDown, steps, false)
	return err
}

// PlanMigration возвращает то, что выполнили бы MigrateUp или MigrateDown, не
// выполняя этого.
func (s *Store) PlanMigration(ctx context.Context, direction Direction, steps int) ([]Migration, error) {
	return s.migrate(ctx, direction, steps, true)
}

// EnsureSchema применяет все ожидающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// MigrationStatus сообщает текущую версию и ещё не применённые встроенные миграции.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	embedded, err := loadMigrations(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	rows, err := s.db.QueryContext(queryCtx, selectAppliedSQL)
	if err != nil {
		return MigrationState{}, fmt.Errorf("query applied migrations: %w", err)
	}
	applied, err := scanVersions(rows)
	if err != nil {
		return MigrationState{}, err
	}
	return summarize(embedded, applied), nil
}

func summarize(embedded []Migration, applied map[int64]bool) MigrationState {
	state := MigrationState{Applied: len(applied)}
	known := make(map[int64]bool, len(embedded))
	for _, m := range embedded {
		known[m.Version] = true
		if !applied[m.Version] {
			state.Pending = append(state.Pending, m)
		}
	}
	for version := range applied {
		state.Version = max(state.Version, version)
		if !known[version] {
			state.Unknown = append(state.Unknown, version)
		}
	}
	slices.Sort(state.Unknown)
	return state
}

// planUp выбирает ожидающие миграции по порядку версий; steps<=0 означает все.
func planUp(embedded []Migration, applied map[int64]bool, steps int) []Migration {
	var plan []Migration
	for _, m := range embedded {
		if applied[m.Version] {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown выбирает самые новые применённые миграции, новые первыми; steps<=0 означает
// одну. Применённую версию без встроенного SQL откатить нельзя.
func planDown(embedded []Migration, applied map[int64]bool, steps int) ([]Migration, error) {
	if steps <= 0 {
		steps = 1
	}
	byVersion := make(map[int64]Migration, len(embedded))
	for _, m := range embedded {
		byVersion[m.Version] = m
	}

	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	slices.SortFunc(versions, func(a, b int64) int { return cmp.Compare(b, a) })

	plan := make([]Migration, 0, min(steps, len(versions)))
	for _, version := range versions[:min(steps, len(versions))] {
		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot roll back migration %d: no embedded down file", version)
		}
		plan = append(plan, m)
	}
	return plan, nil
}

func (s *Store) migrate(ctx context.Context, direction Direction, steps int, dryRun bool) ([]Migration, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotInitialized
	}
	embedded, err := loadMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}
	rows, err := conn.QueryContext(ctx, selectAppliedSQL)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	applied, err := scanVersions(rows)
	if err != nil {
		return nil, err
	}

	var plan []Migration
	switch direction {
	case DirectionUp:
		plan = planUp(embedded, applied, steps)
	case DirectionDown:
		if plan, err = planDown(embedded, applied, steps); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported migration direction %q", direction)
	}
	if dryRun {
		return plan, nil
	}

	for _, m := range plan {
		if direction == DirectionUp {
			err = runInTx(ctx, conn, m, m.UpSQL, recordUpSQL, m.Version, m.Name)
		} else {
			err = runInTx(ctx, conn, m, m.DownSQL, recordDownSQL, m.Version)
		}
		if err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// runInTx атомарно выполняет body и учёт в schema_migrations.
func runInTx(ctx context.Context, conn *sql.Conn, m Migration, body, record string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", m, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", m, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m, err)
	}
	return nil
}

func scanVersions(rows *sql.Rows) (map[int64]bool, error) {
	defer rows.Close()

	versions := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}

// loadMigrations составляет пары файлов NNNN_name.up.sql и NNNN_name.down.sql.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*Migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("migration file %s does not match NNNN_name.(up|down).sql", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file %s is empty", base)
		}

		m := byVersion[version]
		switch {
		case m == nil:
			m = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		case m.Name != parts[2]:
			return nil, fmt.Errorf("version %d is used by both %s and %s", version, m.Name, parts[2])
		}

		slot := &m.UpSQL
		if Direction(parts[3]) == DirectionDown {
			slot = &m.DownSQL
		}
		if *slot != "" {
			return nil, fmt.Errorf("version %d has two %s files", version, parts[3])
		}
		*slot = body
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", m)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
