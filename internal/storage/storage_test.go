package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func testSnapshot(date string, projectID, regionIndex int64) Snapshot {
	return Snapshot{
		Date:         day(date),
		ProjectID:    projectID,
		RegionIndex:  regionIndex,
		AllPositions: 100,
		Top1To3:      5,
		Top1To10:     20,
		Top11To30:    30,
		Top31To50:    15,
		Top51To100:   10,
		AvgPosition:  23.4,
		Visibility:   12.5,
	}
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)
	if store.db == nil {
		t.Fatal("Database connection is nil")
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.InsertSnapshot(testSnapshot("2024-01-03", 7, 1)); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}
	store.Close()

	store, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	snaps, err := store.AllSnapshots()
	if err != nil {
		t.Fatalf("AllSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot after reopen, got %d", len(snaps))
	}
}

func TestInsertSnapshot_Idempotent(t *testing.T) {
	store := newTestStore(t)
	snap := testSnapshot("2024-01-03", 7, 1)

	inserted, err := store.InsertSnapshot(snap)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if !inserted {
		t.Error("first insert should report a new row")
	}

	// Same key, different values: must be ignored, not overwrite.
	changed := snap
	changed.AllPositions = 999
	inserted, err = store.InsertSnapshot(changed)
	if err != nil {
		t.Fatalf("duplicate insert should not error: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should not report a new row")
	}

	snaps, err := store.AllSnapshots()
	if err != nil {
		t.Fatalf("AllSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].AllPositions != 100 {
		t.Errorf("existing snapshot was overwritten: all_positions = %d", snaps[0].AllPositions)
	}
}

func TestInsertSnapshot_CompositeKey(t *testing.T) {
	store := newTestStore(t)

	// Each differs from the first in exactly one key column.
	snaps := []Snapshot{
		testSnapshot("2024-01-03", 7, 1),
		testSnapshot("2024-01-02", 7, 1),
		testSnapshot("2024-01-03", 8, 1),
		testSnapshot("2024-01-03", 7, 2),
	}
	for _, s := range snaps {
		inserted, err := store.InsertSnapshot(s)
		if err != nil {
			t.Fatalf("InsertSnapshot failed: %v", err)
		}
		if !inserted {
			t.Errorf("snapshot %v/%d/%d should be new", s.Date, s.ProjectID, s.RegionIndex)
		}
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM ranking_snapshots").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4 rows, got %d", count)
	}
}

func TestSnapshotExists(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.InsertSnapshot(testSnapshot("2024-01-03", 7, 1)); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}

	tests := []struct {
		date   string
		pid    int64
		region int64
		want   bool
	}{
		{"2024-01-03", 7, 1, true},
		{"2024-01-02", 7, 1, false},
		{"2024-01-03", 8, 1, false},
		{"2024-01-03", 7, 2, false},
	}
	for _, tt := range tests {
		got, err := store.SnapshotExists(day(tt.date), tt.pid, tt.region)
		if err != nil {
			t.Fatalf("SnapshotExists failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("SnapshotExists(%s, %d, %d) = %v, want %v", tt.date, tt.pid, tt.region, got, tt.want)
		}
	}
}

func TestExists_TableWithoutSnapshotKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Exists(RunsTable, day("2024-01-03"), 7, 1)
	if !errors.Is(err, ErrNoSnapshotKey) {
		t.Errorf("expected ErrNoSnapshotKey, got %v", err)
	}
}

func TestRead(t *testing.T) {
	store := newTestStore(t)
	for _, s := range []Snapshot{
		testSnapshot("2024-01-01", 7, 1),
		testSnapshot("2024-01-02", 7, 1),
		testSnapshot("2024-01-01", 8, 1),
	} {
		if _, err := store.InsertSnapshot(s); err != nil {
			t.Fatalf("InsertSnapshot failed: %v", err)
		}
	}

	all, err := store.Read(SnapshotsTable, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	// Storage order is insertion order.
	if all[1]["date"] != "2024-01-02" {
		t.Errorf("second record date = %v, want 2024-01-02", all[1]["date"])
	}
	if all[0]["folder_id"] != nil {
		t.Errorf("folder_id should be NULL, got %v", all[0]["folder_id"])
	}

	filtered, err := store.Read(SnapshotsTable, Record{"project_id": 7, "date": day("2024-01-01")})
	if err != nil {
		t.Fatalf("filtered Read failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("Expected 1 filtered record, got %d", len(filtered))
	}
	if filtered[0]["project_id"] != int64(7) {
		t.Errorf("project_id = %v (%T), want int64 7", filtered[0]["project_id"], filtered[0]["project_id"])
	}

	none, err := store.Read(SnapshotsTable, Record{"project_id": 404})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no records, got %d", len(none))
	}
}

func TestSnapshotFromRecord_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	folder := int64(42)
	want := testSnapshot("2024-01-03", 7, 1)
	want.FolderID = &folder
	if _, err := store.InsertSnapshot(want); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}

	snaps, err := store.AllSnapshots()
	if err != nil {
		t.Fatalf("AllSnapshots failed: %v", err)
	}
	got := snaps[0]
	if !got.Date.Equal(want.Date) {
		t.Errorf("Date = %v, want %v", got.Date, want.Date)
	}
	if got.Top1To10 != want.Top1To10 || got.Visibility != want.Visibility {
		t.Errorf("metrics mismatch: got %+v", got)
	}
	if got.FolderID == nil || *got.FolderID != 42 {
		t.Errorf("FolderID = %v, want 42", got.FolderID)
	}
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.InsertSnapshot(testSnapshot("2024-01-03", 7, 1)); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}
	if _, err := store.InsertSnapshot(testSnapshot("2024-01-02", 7, 1)); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}

	n, err := store.Update(SnapshotsTable,
		Record{"date": day("2024-01-03"), "project_id": 7, "region_index": 1},
		Record{"visibility": 50.0},
	)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row updated, got %d", n)
	}

	recs, err := store.Read(SnapshotsTable, Record{"date": "2024-01-03"})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if recs[0]["visibility"] != 50.0 {
		t.Errorf("visibility = %v, want 50", recs[0]["visibility"])
	}

	other, err := store.Read(SnapshotsTable, Record{"date": "2024-01-02"})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if other[0]["visibility"] != 12.5 {
		t.Errorf("unfiltered row changed: visibility = %v", other[0]["visibility"])
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	for _, s := range []Snapshot{
		testSnapshot("2024-01-01", 7, 1),
		testSnapshot("2024-01-02", 7, 1),
		testSnapshot("2024-01-01", 8, 1),
	} {
		if _, err := store.InsertSnapshot(s); err != nil {
			t.Fatalf("InsertSnapshot failed: %v", err)
		}
	}

	n, err := store.Delete(SnapshotsTable, Record{"project_id": 7})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows deleted, got %d", n)
	}

	remaining, err := store.AllSnapshots()
	if err != nil {
		t.Fatalf("AllSnapshots failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ProjectID != 8 {
		t.Errorf("unexpected remaining rows: %+v", remaining)
	}
}

func TestMutations_RejectEmptyFilter(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.InsertSnapshot(testSnapshot("2024-01-01", 7, 1)); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}

	if _, err := store.Delete(SnapshotsTable, nil); !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("Delete with empty filter: expected ErrEmptyFilter, got %v", err)
	}
	if _, err := store.Update(SnapshotsTable, Record{}, Record{"visibility": 1.0}); !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("Update with empty filter: expected ErrEmptyFilter, got %v", err)
	}
	if _, err := store.Update(SnapshotsTable, Record{"project_id": 7}, nil); !errors.Is(err, ErrEmptyRecord) {
		t.Errorf("Update with no data: expected ErrEmptyRecord, got %v", err)
	}

	snaps, _ := store.AllSnapshots()
	if len(snaps) != 1 {
		t.Errorf("table should be untouched, got %d rows", len(snaps))
	}
}

func TestUnknownTableAndColumn(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Read("users", nil); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Read unknown table: expected ErrUnknownTable, got %v", err)
	}
	if _, err := store.Create(SnapshotsTable, Record{"date": "2024-01-01", "nope": 1}); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("Create unknown column: expected ErrUnknownColumn, got %v", err)
	}
	if _, err := store.Read(SnapshotsTable, Record{"project_id; DROP TABLE sync_runs": 1}); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("Read unknown filter column: expected ErrUnknownColumn, got %v", err)
	}
	if _, err := store.Create(SnapshotsTable, Record{}); !errors.Is(err, ErrEmptyRecord) {
		t.Errorf("Create empty record: expected ErrEmptyRecord, got %v", err)
	}
}

func TestListSnapshots(t *testing.T) {
	store := newTestStore(t)
	for _, s := range []Snapshot{
		testSnapshot("2024-01-01", 7, 1),
		testSnapshot("2024-01-03", 7, 1),
		testSnapshot("2024-01-02", 7, 1),
		testSnapshot("2024-01-02", 8, 2),
	} {
		if _, err := store.InsertSnapshot(s); err != nil {
			t.Fatalf("InsertSnapshot failed: %v", err)
		}
	}

	all, err := store.ListSnapshots(SnapshotFilter{})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 snapshots, got %d", len(all))
	}
	if all[0].Date.Format(DateLayout) != "2024-01-03" {
		t.Errorf("newest first: got %s", all[0].Date.Format(DateLayout))
	}

	ranged, err := store.ListSnapshots(SnapshotFilter{ProjectID: 7, From: day("2024-01-02"), To: day("2024-01-03")})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("Expected 2 snapshots in range, got %d", len(ranged))
	}

	limited, err := store.ListSnapshots(SnapshotFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 snapshot with limit, got %d", len(limited))
	}
}

func TestLegacyImport(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE project_data (
			date DATE, project_id INTEGER, region_index INTEGER,
			all_positions INTEGER, top_1_3 INTEGER, top_1_10 INTEGER,
			top_11_30 INTEGER, top_31_50 INTEGER, top_51_100 INTEGER,
			avg_position REAL, visibility REAL, folder_id INTEGER,
			PRIMARY KEY (date, project_id, region_index)
		);
		INSERT INTO project_data VALUES ('2023-12-30', 7, 1, 90, 4, 18, 30, 20, 18, 25.0, 10.0, NULL);
		INSERT INTO project_data VALUES ('2023-12-31', 7, 1, 91, 5, 19, 30, 20, 17, 24.5, 10.5, NULL);
	`)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	db.Close()

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	snaps, err := store.AllSnapshots()
	if err != nil {
		t.Fatalf("AllSnapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 imported snapshots, got %d", len(snaps))
	}
	if hasLegacyTable(store.db) {
		t.Error("legacy table should be renamed after import")
	}

	exists, err := store.SnapshotExists(day("2023-12-31"), 7, 1)
	if err != nil || !exists {
		t.Errorf("imported key should exist (exists=%v, err=%v)", exists, err)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC)
	msg := "get_history: transport error: boom"

	runs := []*SyncRun{
		{ID: "a", StartedAt: base, FinishedAt: base.Add(time.Second), DaysBack: 3, Projects: 2, Fetched: 6, Inserted: 6, Published: 6, Status: RunSucceeded},
		{ID: "b", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + 500*time.Millisecond), DaysBack: 3, Projects: 2, Status: RunFailed, Error: &msg},
	}
	for _, r := range runs {
		if err := store.RecordRun(r); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	got, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("most recent run first: got %s", got[0].ID)
	}
	if got[0].Error == nil || *got[0].Error != msg {
		t.Errorf("Error = %v, want %q", got[0].Error, msg)
	}
	if got[1].Error != nil {
		t.Errorf("succeeded run should have no error, got %q", *got[1].Error)
	}
	if !got[0].FinishedAt.Equal(base.Add(time.Hour + 500*time.Millisecond)) {
		t.Errorf("FinishedAt = %v", got[0].FinishedAt)
	}
	if got[1].Inserted != 6 {
		t.Errorf("Inserted = %d, want 6", got[1].Inserted)
	}

	if err := store.RecordRun(&SyncRun{}); err == nil {
		t.Error("RecordRun with empty id should fail")
	}
}
