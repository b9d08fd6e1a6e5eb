package storage

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is one project/region/date ranking-metrics row.
type Snapshot struct {
	Date         time.Time
	ProjectID    int64
	RegionIndex  int64
	AllPositions int64
	Top1To3      int64
	Top1To10     int64
	Top11To30    int64
	Top31To50    int64
	Top51To100   int64
	AvgPosition  float64
	Visibility   float64
	FolderID     *int64 // reserved for per-folder breakdowns
}

// Record converts s to a generic row for the snapshots table.
func (s Snapshot) Record() Record {
	return Record{
		"date":          s.Date,
		"project_id":    s.ProjectID,
		"region_index":  s.RegionIndex,
		"all_positions": s.AllPositions,
		"top_1_3":       s.Top1To3,
		"top_1_10":      s.Top1To10,
		"top_11_30":     s.Top11To30,
		"top_31_50":     s.Top31To50,
		"top_51_100":    s.Top51To100,
		"avg_position":  s.AvgPosition,
		"visibility":    s.Visibility,
		"folder_id":     s.FolderID,
	}
}

// SnapshotFromRecord converts a row read from the snapshots table.
func SnapshotFromRecord(rec Record) (Snapshot, error) {
	var s Snapshot
	var err error

	dateStr, ok := rec["date"].(string)
	if !ok {
		return s, fmt.Errorf("snapshot date: unexpected type %T", rec["date"])
	}
	if s.Date, err = time.Parse(DateLayout, dateStr); err != nil {
		return s, fmt.Errorf("snapshot date: %w", err)
	}

	ints := []struct {
		col string
		dst *int64
	}{
		{"project_id", &s.ProjectID},
		{"region_index", &s.RegionIndex},
		{"all_positions", &s.AllPositions},
		{"top_1_3", &s.Top1To3},
		{"top_1_10", &s.Top1To10},
		{"top_11_30", &s.Top11To30},
		{"top_31_50", &s.Top31To50},
		{"top_51_100", &s.Top51To100},
	}
	for _, f := range ints {
		if *f.dst, err = asInt64(rec[f.col]); err != nil {
			return s, fmt.Errorf("snapshot %s: %w", f.col, err)
		}
	}
	if s.AvgPosition, err = asFloat64(rec["avg_position"]); err != nil {
		return s, fmt.Errorf("snapshot avg_position: %w", err)
	}
	if s.Visibility, err = asFloat64(rec["visibility"]); err != nil {
		return s, fmt.Errorf("snapshot visibility: %w", err)
	}
	if v := rec["folder_id"]; v != nil {
		id, err := asInt64(v)
		if err != nil {
			return s, fmt.Errorf("snapshot folder_id: %w", err)
		}
		s.FolderID = &id
	}
	return s, nil
}

// SnapshotExists checks the composite key in the snapshots table.
func (s *Store) SnapshotExists(date time.Time, projectID, regionIndex int64) (bool, error) {
	return s.Exists(SnapshotsTable, date, projectID, regionIndex)
}

// InsertSnapshot stores snap unless its key is already present.
func (s *Store) InsertSnapshot(snap Snapshot) (bool, error) {
	return s.Create(SnapshotsTable, snap.Record())
}

// AllSnapshots returns the full snapshots table in storage order.
func (s *Store) AllSnapshots() ([]Snapshot, error) {
	recs, err := s.Read(SnapshotsTable, nil)
	if err != nil {
		return nil, err
	}
	return snapshotsFromRecords(recs)
}

// SnapshotFilter narrows ListSnapshots. Zero values are ignored.
type SnapshotFilter struct {
	ProjectID   int64
	RegionIndex int64
	From        time.Time // inclusive
	To          time.Time // inclusive
	Limit       int
}

// ListSnapshots returns snapshots matching f, newest date first.
func (s *Store) ListSnapshots(f SnapshotFilter) ([]Snapshot, error) {
	var conds []string
	var args []any
	if f.ProjectID != 0 {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.RegionIndex != 0 {
		conds = append(conds, "region_index = ?")
		args = append(args, f.RegionIndex)
	}
	if !f.From.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, f.From.Format(DateLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, f.To.Format(DateLayout))
	}

	query := "SELECT " + strings.Join(tables[SnapshotsTable].columns, ", ") + " FROM " + SnapshotsTable
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date DESC, project_id, region_index"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var date string
		var folderID *int64
		if err := rows.Scan(&date, &snap.ProjectID, &snap.RegionIndex,
			&snap.AllPositions, &snap.Top1To3, &snap.Top1To10, &snap.Top11To30,
			&snap.Top31To50, &snap.Top51To100, &snap.AvgPosition, &snap.Visibility,
			&folderID); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.Date, err = time.Parse(DateLayout, date); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot date %q: %w", date, err)
		}
		snap.FolderID = folderID
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func snapshotsFromRecords(recs []Record) ([]Snapshot, error) {
	snaps := make([]Snapshot, 0, len(recs))
	for _, r := range recs {
		snap, err := SnapshotFromRecord(r)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}
