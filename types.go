package rankmirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/allcookiesaccept/rankmirror/internal/config"
	"github.com/allcookiesaccept/rankmirror/internal/pipeline"
	"github.com/allcookiesaccept/rankmirror/internal/upstream"
)

// EngineConfig configures the rankmirror sync engine.
type EngineConfig struct {
	DBPath string

	TopvisorBaseURL   string
	UserID            string
	APIKey            string
	RequestsPerSecond float64
	RequestTimeout    time.Duration

	SpreadsheetID   string
	CredentialsFile string
	SheetName       string
	RangeStart      string
	// SheetsOptions replace the credentials file when set, e.g. to point
	// the publisher at a different endpoint.
	SheetsOptions []option.ClientOption

	Projects []ProjectConfig

	Logger     *zap.Logger
	Registerer prometheus.Registerer // nil leaves sync metrics unregistered
	ReadOnly   bool                  // when true, only the local store is opened
}

// ProjectConfig names one Topvisor project/region pair to sync.
type ProjectConfig = config.ProjectConfig

// Error types callers can match with errors.As.
type (
	TransportError     = upstream.TransportError
	DataFormatError    = upstream.DataFormatError
	ConfigurationError = pipeline.ConfigurationError
)

// Snapshot is one day of ranking metrics for a project/region.
type Snapshot struct {
	Date         string  `json:"date"`
	ProjectID    int64   `json:"project_id"`
	RegionIndex  int64   `json:"region_index"`
	AllPositions int64   `json:"all_positions"`
	Top1To3      int64   `json:"top_1_3"`
	Top1To10     int64   `json:"top_1_10"`
	Top11To30    int64   `json:"top_11_30"`
	Top31To50    int64   `json:"top_31_50"`
	Top51To100   int64   `json:"top_51_100"`
	AvgPosition  float64 `json:"avg_position"`
	Visibility   float64 `json:"visibility"`
	FolderID     *int64  `json:"folder_id,omitempty"`
}

// SnapshotFilter narrows Snapshots. Zero values are ignored; dates are
// YYYY-MM-DD and inclusive.
type SnapshotFilter struct {
	ProjectID   int64  `json:"project_id,omitempty"`
	RegionIndex int64  `json:"region_index,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// SnapshotKey selects snapshots for update or delete. Zero fields are
// ignored, but at least one must be set.
type SnapshotKey struct {
	Date        string `json:"date,omitempty"`
	ProjectID   int64  `json:"project_id,omitempty"`
	RegionIndex int64  `json:"region_index,omitempty"`
}

// SnapshotPatch lists metric values to overwrite; nil fields are left alone.
type SnapshotPatch struct {
	AllPositions *int64   `json:"all_positions,omitempty"`
	Top1To3      *int64   `json:"top_1_3,omitempty"`
	Top1To10     *int64   `json:"top_1_10,omitempty"`
	Top11To30    *int64   `json:"top_11_30,omitempty"`
	Top31To50    *int64   `json:"top_31_50,omitempty"`
	Top51To100   *int64   `json:"top_51_100,omitempty"`
	AvgPosition  *float64 `json:"avg_position,omitempty"`
	Visibility   *float64 `json:"visibility,omitempty"`
	FolderID     *int64   `json:"folder_id,omitempty"`
}

// ProjectSyncResult is one project's share of a sync.
type ProjectSyncResult struct {
	ProjectID   int64    `json:"project_id"`
	RegionIndex int64    `json:"region_index"`
	Name        string   `json:"name,omitempty"`
	Dates       []string `json:"dates"`
	Fetched     int      `json:"fetched"`
	Inserted    int      `json:"inserted"`
	Skipped     int      `json:"skipped"`
}

// SyncResult reports a sync run. It is returned alongside the error when a
// run fails part way.
type SyncResult struct {
	RunID     string              `json:"run_id"`
	DaysBack  int                 `json:"days_back"`
	Fetched   int                 `json:"fetched"`
	Inserted  int                 `json:"inserted"`
	Skipped   int                 `json:"skipped"`
	Published int                 `json:"published"`
	Duration  time.Duration       `json:"duration_ns"`
	Projects  []ProjectSyncResult `json:"projects"`
	Snapshots []Snapshot          `json:"snapshots"`
}

// SyncRun is a recorded sync run.
type SyncRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DaysBack   int       `json:"days_back"`
	Projects   int       `json:"projects"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Published  int       `json:"published"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
}

// Project is a Topvisor project with the regions it tracks.
type Project struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Site    string   `json:"site"`
	Regions []Region `json:"regions"`
}

// Region is a searcher/region pairing; Index is the value to put in a
// ProjectConfig's region_index.
type Region struct {
	Index    int64  `json:"index"`
	Name     string `json:"name"`
	Searcher string `json:"searcher"`
	Lang     string `json:"lang,omitempty"`
	Device   int    `json:"device"`
}
