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
	"time"

	log "github.com/sirupsen/logrus"
)

// Схема корзины: products, orders (с частичным уникальным индексом открытого заказа),
// order_items, outbox_messages и idempotency_keys.
var (
	//go:embed sql/migrations/*.sql
	schemaFS embed.FS

	schemaFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

const (
	schemaDir = "sql/migrations"
	// schemaLockKey: "akub" в ASCII, общий для всех экземпляров cmd/migrate и сервера.
	schemaLockKey = int64(0x616B7562)

	schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

// schemaStep описывает одну версию схемы и её обратный шаг.
type schemaStep struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (s schemaStep) label() string {
	return fmt.Sprintf("%04d_%s", s.Version, s.Name)
}

// schemaPlan упорядочен по возрастанию версии.
type schemaPlan []schemaStep

func (p schemaPlan) find(version int64) (schemaStep, bool) {
	i, ok := slices.BinarySearchFunc(p, version, func(s schemaStep, v int64) int {
		return cmp.Compare(s.Version, v)
	})
	if !ok {
		return schemaStep{}, false
	}
	return p[i], true
}

// pending возвращает ещё не применённые шаги; limit<=0 снимает ограничение.
func (p schemaPlan) pending(applied map[int64]struct{}, limit int) schemaPlan {
	var out schemaPlan
	for _, step := range p {
		if _, done := applied[step.Version]; done {
			continue
		}
		out = append(out, step)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan) error {
		applied, err := appliedSchemaVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, step := range plan.pending(applied, steps) {
			if err := runSchemaStep(ctx, conn, step, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает миграции, начиная с последней.
// steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan) error {
		versions, err := latestSchemaVersions(ctx, conn, steps)
		if err != nil {
			return err
		}
		for _, version := range versions {
			step, ok := plan.find(version)
			if !ok {
				return fmt.Errorf("schema version %d is applied but not embedded in this build", version)
			}
			if err := runSchemaStep(ctx, conn, step, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaVersionsDDL); err != nil {
		return 0, 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, count, nil
}

// withSchemaLock держит advisory-lock на выделенном соединении, пока выполняется fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(*sql.Conn, schemaPlan) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	plan, err := readSchemaPlan(schemaFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("take schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return fn(conn, plan)
}

// runSchemaStep выполняет тело шага и запись в schema_migrations одной транзакцией.
func runSchemaStep(ctx context.Context, conn *sql.Conn, step schemaStep, up bool) (err error) {
	body, record, args, verb := step.Down, `DELETE FROM schema_migrations WHERE version = $1`, []any{step.Version}, "revert"
	if up {
		body = step.Up
		record = `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
		args = []any{step.Version, step.Name}
		verb = "apply"
	}

	started := time.Now()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", verb, step.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("%s %s: %w", verb, step.label(), err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("%s %s: record version: %w", verb, step.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s %s: commit: %w", verb, step.label(), err)
	}

	log.WithFields(log.Fields{
		"component": "schema",
		"migration": step.label(),
		"direction": verb,
		"duration":  time.Since(started),
	}).Info("schema migration finished")
	return nil
}

func appliedSchemaVersions(ctx context.Context, conn *sql.Conn) (map[int64]struct{}, error) {
	versions, err := scanVersions(conn.QueryContext(ctx, `SELECT version FROM schema_migrations`))
	if err != nil {
		return nil, err
	}
	applied := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}
	return applied, nil
}

func latestSchemaVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	return scanVersions(conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit))
}

func scanVersions(rows *sql.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return versions, nil
}

// readSchemaPlan собирает пары up/down из fsys; у каждой версии должны быть оба файла.
func readSchemaPlan(fsys fs.FS) (schemaPlan, error) {
	entries, err := fs.ReadDir(fsys, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", schemaDir, err)
	}

	byVersion := make(map[int64]*schemaStep)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m := schemaFileName.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("unexpected migration file %q", entry.Name())
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: version: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(schemaDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %q is empty", entry.Name())
		}

		step, seen := byVersion[version]
		if !seen {
			step = &schemaStep{Version: version, Name: m[2]}
			byVersion[version] = step
		}
		if step.Name != m[2] {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, step.Name, m[2])
		}

		target := &step.Up
		if m[3] == "down" {
			target = &step.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("version %d has duplicate %s file", version, m[3])
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, fmt.Errorf("no migrations under %s", schemaDir)
	}

	plan := make(schemaPlan, 0, len(byVersion))
	for _, step := range byVersion {
		if step.Up == "" || step.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", step.label())
		}
		plan = append(plan, *step)
	}
	slices.SortFunc(plan, func(a, b schemaStep) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return plan, nil
}
