/*
Package sqlite provides the SQLite-backed equation repository, metric
provider and holiday calendar.

PURPOSE:
  Payroll equations, their variables, metric values and holiday ranges are
  configuration data. This store keeps them in one SQLite file and serves
  the collaborator interfaces the equation engine needs. In production the
  same queries run against the payroll database.

INTERFACES IMPLEMENTED:
  equation.Repository:     FetchDefinitions
  equation.MetricProvider: MetricValue

KEY TABLES:
  equations:          One row per equation, grouped by equation_id
  equation_variables: Constants and metric-backed variables per equation_id
  metrics:            Dated metric values with optional scope columns
  holidays:           Holiday ranges, optionally scoped to a location

DECIMALS:
  Decimals are stored as TEXT in canonical form and summed in Go, never
  as SQLite REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, plus a single connection so that
  ":memory:" databases are shared by every query.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  cache.GetOrBuild(ctx, equationID, store, store)

SEE ALSO:
  - equation/types.go: Repository and MetricProvider contracts
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/store"
	"github.com/warp/payroll-engine/timerange"
)

// timeLayout sorts lexically; every stored instant is UTC.
const timeLayout = "2006-01-02T15:04:05Z"

var _ store.Store = (*Store)(nil)

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS equations (
		equation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		return_type TEXT NOT NULL,
		expression TEXT NOT NULL,
		condition_expr TEXT NOT NULL DEFAULT '',
		quantity_source TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (equation_id, name)
	);

	CREATE TABLE IF NOT EXISTS equation_variables (
		equation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		cacheable INTEGER NOT NULL DEFAULT 0,
		metric_type TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (equation_id, name)
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		location_id TEXT,
		provider_location_id TEXT,
		process_id TEXT,
		pay_header_id TEXT,
		schedule_type TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: MetricValue filters by name and date
	CREATE INDEX IF NOT EXISTS idx_metrics_name_effective
		ON metrics(name, effective_at);

	CREATE TABLE IF NOT EXISTS holidays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		location_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_range
		ON holidays(start_at, end_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EQUATION REPOSITORY
// =============================================================================

// FetchDefinitions returns the equations (in saved order) and variables of
// equationID.
func (s *Store) FetchDefinitions(ctx context.Context, equationID decimal.Decimal) ([]equation.Definition, []equation.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := generic.IDString(equationID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, return_type, expression, condition_expr, quantity_source
		FROM equations WHERE equation_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var defs []equation.Definition
	for rows.Next() {
		var d equation.Definition
		var rt string
		if err := rows.Scan(&d.Name, &rt, &d.Expression, &d.Condition, &d.QuantitySource); err != nil {
			return nil, nil, err
		}
		d.ReturnType = equation.ReturnType(rt)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(defs) == 0 {
		return nil, nil, fmt.Errorf("%w: equation %s", generic.ErrNotFound, id)
	}

	vrows, err := s.db.QueryContext(ctx, `
		SELECT name, value, cacheable, metric_type
		FROM equation_variables WHERE equation_id = ? ORDER BY name ASC`, id)
	if err != nil {
		return nil, nil, err
	}
	defer vrows.Close()

	var vars []equation.Variable
	for vrows.Next() {
		var v equation.Variable
		var value string
		if err := vrows.Scan(&v.Name, &value, &v.Cacheable, &v.MetricType); err != nil {
			return nil, nil, err
		}
		if v.Value, err = storedDecimal("variable "+v.Name, value); err != nil {
			return nil, nil, err
		}
		vars = append(vars, v)
	}
	return defs, vars, vrows.Err()
}

// SaveEquation replaces every definition stored under equationID.
func (s *Store) SaveEquation(ctx context.Context, equationID decimal.Decimal, defs []equation.Definition, vars []equation.Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := generic.IDString(equationID)
	if _, err := tx.ExecContext(ctx, "DELETE FROM equations WHERE equation_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM equation_variables WHERE equation_id = ?", id); err != nil {
		return err
	}

	now := time.Now().UTC().Format(timeLayout)
	for i, d := range defs {
		rt := d.ReturnType
		if rt == "" {
			rt = equation.ReturnDecimal
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO equations (equation_id, seq, name, return_type, expression, condition_expr, quantity_source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, d.Name, string(rt), d.Expression, d.Condition, d.QuantitySource, now)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: equation %q", generic.ErrDuplicateName, d.Name)
			}
			return err
		}
	}
	for _, v := range vars {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO equation_variables (equation_id, name, value, cacheable, metric_type)
			VALUES (?, ?, ?, ?, ?)`,
			id, v.Name, v.Value.String(), v.Cacheable, v.MetricType)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: variable %q", generic.ErrDuplicateName, v.Name)
			}
			return err
		}
	}
	return tx.Commit()
}

// ListEquationIDs returns every stored equation id, ascending.
func (s *Store) ListEquationIDs(ctx context.Context) ([]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT equation_id FROM equations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []decimal.Decimal
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		d, err := storedDecimal("equation id", id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, d)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].LessThan(ids[j]) })
	return ids, rows.Err()
}

// =============================================================================
// METRIC PROVIDER
// =============================================================================

func (s *Store) RecordMetric(ctx context.Context, m store.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (name, value, effective_at, location_id, provider_location_id, process_id, pay_header_id, schedule_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Value.String(), m.EffectiveAt.UTC().Format(timeLayout),
		nullDecimal(m.LocationID), nullDecimal(m.ProviderLocationID),
		nullDecimal(m.ProcessID), nullDecimal(m.PayHeaderID),
		nullString(m.ScheduleType), time.Now().UTC().Format(timeLayout),
	)
	return err
}

// MetricValue sums the values of name effective inside the run period
// whose scope columns are NULL or equal to the run parameters. A zero
// period matches every date. No matching rows yields zero.
func (s *Store) MetricValue(ctx context.Context, name string, p equation.Params) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT value FROM metrics
		WHERE name = ?
		  AND (location_id IS NULL OR location_id = ?)
		  AND (provider_location_id IS NULL OR provider_location_id = ?)
		  AND (process_id IS NULL OR process_id = ?)
		  AND (pay_header_id IS NULL OR pay_header_id = ?)
		  AND (schedule_type IS NULL OR schedule_type = ?)`
	args := []any{
		name,
		generic.IDString(p.LocationID),
		generic.IDString(p.ProviderLocationID),
		generic.IDString(p.ProcessID),
		generic.IDString(p.PayHeaderID),
		p.ScheduleType,
	}
	if !p.Period.IsZero() {
		query += " AND effective_at >= ? AND effective_at <= ?"
		args = append(args, p.Period.Start.UTC().Format(timeLayout), p.Period.End.UTC().Format(timeLayout))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return decimal.Zero, err
		}
		d, err := storedDecimal("metric "+name, value)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// SaveHoliday inserts a holiday range and returns its id.
func (s *Store) SaveHoliday(ctx context.Context, h timerange.Holiday) (int64, error) {
	if h.End.Before(h.Start) {
		return 0, fmt.Errorf("%w: holiday %q", generic.ErrInvalidPeriod, h.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (name, start_at, end_at, location_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		h.Name, h.Start.UTC().Format(timeLayout), h.End.UTC().Format(timeLayout),
		nullDecimal(h.LocationID), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) DeleteHoliday(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: holiday %d", generic.ErrNotFound, id)
	}
	return nil
}

// HolidayAt returns the holiday containing t for location. Rows scoped to
// the location win over unscoped ones. Returns nil when none matches.
func (s *Store) HolidayAt(ctx context.Context, t time.Time, location decimal.Decimal) (*timerange.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := t.UTC().Format(timeLayout)
	holidays, err := s.queryHolidays(ctx, `
		SELECT id, name, start_at, end_at, location_id FROM holidays
		WHERE start_at <= ? AND end_at >= ?
		  AND (location_id IS NULL OR location_id = ?)
		ORDER BY location_id IS NULL, start_at ASC
		LIMIT 1`, at, at, generic.IDString(location))
	if err != nil || len(holidays) == 0 {
		return nil, err
	}
	return &holidays[0], nil
}

// ListHolidays returns every holiday, ordered by start.
func (s *Store) ListHolidays(ctx context.Context) ([]timerange.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryHolidays(ctx, `
		SELECT id, name, start_at, end_at, location_id FROM holidays
		ORDER BY start_at ASC`)
}

func (s *Store) queryHolidays(ctx context.Context, query string, args ...any) ([]timerange.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []timerange.Holiday
	for rows.Next() {
		var h timerange.Holiday
		var start, end string
		var loc sql.NullString
		if err := rows.Scan(&h.ID, &h.Name, &start, &end, &loc); err != nil {
			return nil, err
		}
		if h.Start, err = time.Parse(timeLayout, start); err != nil {
			return nil, err
		}
		if h.End, err = time.Parse(timeLayout, end); err != nil {
			return nil, err
		}
		if loc.Valid {
			d, err := storedDecimal("holiday location", loc.String)
			if err != nil {
				return nil, err
			}
			h.LocationID = &d
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: generic.IDString(*d), Valid: true}
}

// storedDecimal parses a TEXT decimal column. A value that does not parse
// is an error, never a silent zero.
func storedDecimal(what, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt %s value %q: %w", what, raw, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
