package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DateLayout is the on-disk and on-wire format of snapshot dates.
const DateLayout = "2006-01-02"

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrEmptyFilter   = errors.New("filter must name at least one column")
	ErrEmptyRecord   = errors.New("record has no columns")
	ErrNoSnapshotKey = errors.New("table has no (date, project_id, region_index) key")
)

// Record is one row keyed by column name. Values read back from SQLite are
// int64, float64, string or nil.
type Record map[string]any

type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at dbPath and
// initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per run; a single connection keeps pragmas consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if hasLegacyTable(db) {
		importSQL := `
			INSERT OR IGNORE INTO ranking_snapshots
				(date, project_id, region_index, all_positions, top_1_3, top_1_10,
				 top_11_30, top_31_50, top_51_100, avg_position, visibility, folder_id)
				SELECT date, project_id, region_index,
				       COALESCE(all_positions, 0), COALESCE(top_1_3, 0), COALESCE(top_1_10, 0),
				       COALESCE(top_11_30, 0), COALESCE(top_31_50, 0), COALESCE(top_51_100, 0),
				       COALESCE(avg_position, 0), COALESCE(visibility, 0), folder_id
				FROM project_data
				WHERE date IS NOT NULL AND project_id IS NOT NULL AND region_index IS NOT NULL;
			ALTER TABLE project_data RENAME TO project_data_imported;
		`
		if _, err := db.Exec(importSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to import legacy project_data: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// hasLegacyTable reports whether the database still carries the table
// written by the earlier sync script.
func hasLegacyTable(db *sql.DB) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", legacyTable,
	).Scan(&name)
	return err == nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func lookupTable(name string) (*tableDef, error) {
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Exists reports whether a row with the exact composite key is present.
func (s *Store) Exists(table string, date time.Time, projectID, regionIndex int64) (bool, error) {
	t, err := lookupTable(table)
	if err != nil {
		return false, err
	}
	if !t.snapshotKey {
		return false, fmt.Errorf("%s: %w", table, ErrNoSnapshotKey)
	}

	var one int
	err = s.db.QueryRow(
		"SELECT 1 FROM "+t.name+" WHERE date = ? AND project_id = ? AND region_index = ? LIMIT 1",
		date.Format(DateLayout), projectID, regionIndex,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s key: %w", table, err)
	}
	return true, nil
}

// Create inserts rec. A row that would violate the table's primary key is
// silently ignored; the returned bool reports whether a row was written.
func (s *Store) Create(table string, rec Record) (bool, error) {
	t, err := lookupTable(table)
	if err != nil {
		return false, err
	}
	if len(rec) == 0 {
		return false, ErrEmptyRecord
	}
	cols, args, err := t.bind(rec)
	if err != nil {
		return false, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		t.name, strings.Join(cols, ", "), placeholders,
	)
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return n > 0, nil
}

// Read returns all rows matching every filter column by exact equality.
// An empty filter returns the whole table in storage order.
func (s *Store) Read(table string, filters Record) ([]Record, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	where, args, err := t.where(filters)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + strings.Join(t.columns, ", ") + " FROM " + t.name + where + " ORDER BY rowid"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		values := make([]any, len(t.columns))
		ptrs := make([]any, len(t.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		rec := make(Record, len(t.columns))
		for i, c := range t.columns {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = values[i]
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update sets data on rows matching filters. Returns the number of rows changed.
func (s *Store) Update(table string, filters, data Record) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, ErrEmptyFilter
	}
	if len(data) == 0 {
		return 0, ErrEmptyRecord
	}
	setCols, setArgs, err := t.bind(data)
	if err != nil {
		return 0, err
	}
	where, whereArgs, err := t.where(filters)
	if err != nil {
		return 0, err
	}

	assignments := make([]string, len(setCols))
	for i, c := range setCols {
		assignments[i] = c + " = ?"
	}
	query := "UPDATE " + t.name + " SET " + strings.Join(assignments, ", ") + where
	result, err := s.db.Exec(query, append(setArgs, whereArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return result.RowsAffected()
}

// Delete removes rows matching filters. Returns the number of rows removed.
func (s *Store) Delete(table string, filters Record) (int64, error) {
	t, err := lookupTable(table)
	if err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, ErrEmptyFilter
	}
	where, args, err := t.where(filters)
	if err != nil {
		return 0, err
	}
	result, err := s.db.Exec("DELETE FROM "+t.name+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return result.RowsAffected()
}

// bind validates rec's columns and returns them sorted with their values.
func (t *tableDef) bind(rec Record) ([]string, []any, error) {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		if !t.hasColumn(c) {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.name, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = t.normalize(c, rec[c])
	}
	return cols, args, nil
}

func (t *tableDef) where(filters Record) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	cols, args, err := t.bind(filters)
	if err != nil {
		return "", nil, err
	}
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = c + " = ?"
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// normalize converts Go values to their stored representation.
func (t *tableDef) normalize(col string, v any) any {
	switch val := v.(type) {
	case time.Time:
		if t.dateColumns[col] {
			return val.Format(DateLayout)
		}
		return val.UTC().Format(timestampLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return t.normalize(col, *val)
	case int:
		return int64(val)
	}
	return v
}
