package storage

// Table names known to the store.
const (
	SnapshotsTable = "ranking_snapshots"
	RunsTable      = "sync_runs"
)

// legacyTable is the table name used by databases written by the earlier
// Python sync script; rows found there are imported on open.
const legacyTable = "project_data"

const Schema = `
CREATE TABLE IF NOT EXISTS ranking_snapshots (
    date TEXT NOT NULL,
    project_id INTEGER NOT NULL,
    region_index INTEGER NOT NULL,
    all_positions INTEGER NOT NULL DEFAULT 0,
    top_1_3 INTEGER NOT NULL DEFAULT 0,
    top_1_10 INTEGER NOT NULL DEFAULT 0,
    top_11_30 INTEGER NOT NULL DEFAULT 0,
    top_31_50 INTEGER NOT NULL DEFAULT 0,
    top_51_100 INTEGER NOT NULL DEFAULT 0,
    avg_position REAL NOT NULL DEFAULT 0,
    visibility REAL NOT NULL DEFAULT 0,
    folder_id INTEGER,
    PRIMARY KEY (date, project_id, region_index)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_project ON ranking_snapshots(project_id, region_index);

CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    days_back INTEGER NOT NULL,
    projects INTEGER NOT NULL DEFAULT 0,
    fetched INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    published INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`

// tableDef describes the fixed column set of a table. Generic record
// operations only accept columns listed here, so identifiers never come
// from caller input.
type tableDef struct {
	name        string
	columns     []string
	dateColumns map[string]bool // stored as YYYY-MM-DD
	timeColumns map[string]bool // stored as RFC 3339
	snapshotKey bool            // has the (date, project_id, region_index) key
}

func (t *tableDef) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

var tables = map[string]*tableDef{
	SnapshotsTable: {
		name: SnapshotsTable,
		columns: []string{
			"date", "project_id", "region_index",
			"all_positions", "top_1_3", "top_1_10", "top_11_30", "top_31_50", "top_51_100",
			"avg_position", "visibility", "folder_id",
		},
		dateColumns: map[string]bool{"date": true},
		snapshotKey: true,
	},
	RunsTable: {
		name: RunsTable,
		columns: []string{
			"id", "started_at", "finished_at", "days_back", "projects",
			"fetched", "inserted", "skipped", "published", "status", "error",
		},
		timeColumns: map[string]bool{"started_at": true, "finished_at": true},
	},
}
