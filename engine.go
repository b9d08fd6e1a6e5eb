// Package rankmirror mirrors Topvisor ranking summaries into a local SQLite
// database and a Google Sheets spreadsheet.
package rankmirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror/internal/pipeline"
	"github.com/allcookiesaccept/rankmirror/internal/sheets"
	"github.com/allcookiesaccept/rankmirror/internal/storage"
	"github.com/allcookiesaccept/rankmirror/internal/topvisor"
)

// ErrReadOnly is returned by operations that need the Topvisor client or
// the spreadsheet when the engine was opened read-only.
var ErrReadOnly = errors.New("engine is read-only")

// Engine is the public API for the sync pipeline.
// It wraps the internal store, Topvisor client, publisher and orchestrator.
type Engine struct {
	store        *storage.Store
	client       *topvisor.Client
	publisher    *sheets.Publisher
	orchestrator *pipeline.Orchestrator
	logger       *zap.Logger
	readOnly     bool
}

// NewEngine opens the database and, unless cfg.ReadOnly is set, builds the
// Topvisor client and the spreadsheet publisher. The publisher is only
// created when a spreadsheet id is configured.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = "./rankmirror.db"
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Positions"
	}
	if cfg.RangeStart == "" {
		cfg.RangeStart = "A1"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	e := &Engine{store: store, logger: cfg.Logger, readOnly: cfg.ReadOnly}
	if cfg.ReadOnly {
		return e, nil
	}

	e.client = topvisor.NewClient(cfg.TopvisorBaseURL, cfg.UserID, cfg.APIKey,
		topvisor.WithRateLimit(cfg.RequestsPerSecond),
		topvisor.WithTimeout(cfg.RequestTimeout),
		topvisor.WithLogger(cfg.Logger.Named("topvisor")),
	)

	// Keep pub a nil interface when there is no publisher.
	var pub pipeline.Publisher
	if cfg.SpreadsheetID != "" {
		ctx := context.Background()
		if len(cfg.SheetsOptions) > 0 {
			e.publisher, err = sheets.NewPublisherWithOptions(ctx, cfg.SpreadsheetID, cfg.Logger.Named("sheets"), cfg.SheetsOptions...)
		} else {
			e.publisher, err = sheets.NewPublisher(ctx, cfg.SpreadsheetID, cfg.CredentialsFile, cfg.Logger.Named("sheets"))
		}
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create spreadsheet publisher: %w", err)
		}
		pub = e.publisher
	}

	e.orchestrator = pipeline.New(e.client, store, pub, cfg.Projects,
		pipeline.WithLogger(cfg.Logger.Named("sync")),
		pipeline.WithMetrics(pipeline.NewMetrics(cfg.Registerer)),
		pipeline.WithSheet(cfg.SheetName, cfg.RangeStart),
	)
	return e, nil
}

// Sync fetches new snapshots for every configured project and republishes
// the spreadsheet. On failure the partial result is returned with the error.
func (e *Engine) Sync(ctx context.Context, daysBack int) (*SyncResult, error) {
	if e.readOnly {
		return nil, ErrReadOnly
	}
	report, err := e.orchestrator.Run(ctx, daysBack)
	return syncResultFromReport(report), err
}

// Publish rewrites the spreadsheet from the local store without fetching.
func (e *Engine) Publish(ctx context.Context) (int, error) {
	if e.readOnly {
		return 0, ErrReadOnly
	}
	return e.orchestrator.Republish(ctx)
}

// Snapshots lists stored snapshots, newest first.
func (e *Engine) Snapshots(f SnapshotFilter) ([]Snapshot, error) {
	sf := storage.SnapshotFilter{ProjectID: f.ProjectID, RegionIndex: f.RegionIndex, Limit: f.Limit}
	var err error
	if f.From != "" {
		if sf.From, err = time.Parse(storage.DateLayout, f.From); err != nil {
			return nil, fmt.Errorf("invalid from date: %w", err)
		}
	}
	if f.To != "" {
		if sf.To, err = time.Parse(storage.DateLayout, f.To); err != nil {
			return nil, fmt.Errorf("invalid to date: %w", err)
		}
	}
	snaps, err := e.store.ListSnapshots(sf)
	if err != nil {
		return nil, err
	}
	return snapshotsFromInternal(snaps), nil
}

// DeleteSnapshots removes the snapshots matching key.
func (e *Engine) DeleteSnapshots(key SnapshotKey) (int64, error) {
	filters, err := key.filters()
	if err != nil {
		return 0, err
	}
	n, err := e.store.Delete(storage.SnapshotsTable, filters)
	if err == nil {
		e.logger.Info("snapshots deleted", zap.Int64("rows", n))
	}
	return n, err
}

// UpdateSnapshots overwrites metric values on the snapshots matching key.
func (e *Engine) UpdateSnapshots(key SnapshotKey, patch SnapshotPatch) (int64, error) {
	filters, err := key.filters()
	if err != nil {
		return 0, err
	}
	n, err := e.store.Update(storage.SnapshotsTable, filters, patch.record())
	if err == nil {
		e.logger.Info("snapshots updated", zap.Int64("rows", n))
	}
	return n, err
}

// Runs returns the most recent sync runs first.
func (e *Engine) Runs(limit int) ([]SyncRun, error) {
	runs, err := e.store.ListRuns(limit)
	if err != nil {
		return nil, err
	}
	out := make([]SyncRun, len(runs))
	for i, r := range runs {
		out[i] = SyncRun{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			DaysBack:   r.DaysBack,
			Projects:   r.Projects,
			Fetched:    r.Fetched,
			Inserted:   r.Inserted,
			Skipped:    r.Skipped,
			Published:  r.Published,
			Status:     r.Status,
			Error:      r.Error,
		}
	}
	return out, nil
}

// Projects lists the Topvisor projects visible to the configured account,
// with their region indexes.
func (e *Engine) Projects(ctx context.Context) ([]Project, error) {
	if e.readOnly {
		return nil, ErrReadOnly
	}
	resp, err := e.client.Projects(ctx, topvisor.NewProjectsRequest())
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, &DataFormatError{Task: topvisor.OpProjects.String(), Field: "result"}
	}
	var projects []Project
	for _, p := range *resp.Result {
		proj := Project{ID: p.ID, Name: p.Name, Site: p.Site, Regions: []Region{}}
		for _, s := range p.Searchers {
			for _, r := range s.Regions {
				proj.Regions = append(proj.Regions, Region{
					Index:    r.Index,
					Name:     r.Name,
					Searcher: s.Name,
					Lang:     r.Lang,
					Device:   r.Device,
				})
			}
		}
		projects = append(projects, proj)
	}
	return projects, nil
}

// Close releases the database.
func (e *Engine) Close() error {
	return e.store.Close()
}

func (k SnapshotKey) filters() (storage.Record, error) {
	filters := storage.Record{}
	if k.Date != "" {
		d, err := time.Parse(storage.DateLayout, k.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date: %w", err)
		}
		filters["date"] = d
	}
	if k.ProjectID != 0 {
		filters["project_id"] = k.ProjectID
	}
	if k.RegionIndex != 0 {
		filters["region_index"] = k.RegionIndex
	}
	if len(filters) == 0 {
		return nil, storage.ErrEmptyFilter
	}
	return filters, nil
}

func (p SnapshotPatch) record() storage.Record {
	rec := storage.Record{}
	ints := map[string]*int64{
		"all_positions": p.AllPositions,
		"top_1_3":       p.Top1To3,
		"top_1_10":      p.Top1To10,
		"top_11_30":     p.Top11To30,
		"top_31_50":     p.Top31To50,
		"top_51_100":    p.Top51To100,
		"folder_id":     p.FolderID,
	}
	for col, v := range ints {
		if v != nil {
			rec[col] = *v
		}
	}
	if p.AvgPosition != nil {
		rec["avg_position"] = *p.AvgPosition
	}
	if p.Visibility != nil {
		rec["visibility"] = *p.Visibility
	}
	return rec
}

func snapshotFromInternal(s storage.Snapshot) Snapshot {
	return Snapshot{
		Date:         s.Date.Format(storage.DateLayout),
		ProjectID:    s.ProjectID,
		RegionIndex:  s.RegionIndex,
		AllPositions: s.AllPositions,
		Top1To3:      s.Top1To3,
		Top1To10:     s.Top1To10,
		Top11To30:    s.Top11To30,
		Top31To50:    s.Top31To50,
		Top51To100:   s.Top51To100,
		AvgPosition:  s.AvgPosition,
		Visibility:   s.Visibility,
		FolderID:     s.FolderID,
	}
}

func snapshotsFromInternal(snaps []storage.Snapshot) []Snapshot {
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = snapshotFromInternal(s)
	}
	return out
}

func syncResultFromReport(r *pipeline.RunReport) *SyncResult {
	if r == nil {
		return nil
	}
	res := &SyncResult{
		RunID:     r.RunID,
		DaysBack:  r.DaysBack,
		Fetched:   r.Fetched,
		Inserted:  r.Inserted,
		Skipped:   r.Skipped,
		Published: r.Published,
		Duration:  r.FinishedAt.Sub(r.StartedAt),
		Projects:  make([]ProjectSyncResult, 0, len(r.Projects)),
		Snapshots: snapshotsFromInternal(r.Snapshots),
	}
	for _, p := range r.Projects {
		dates := make([]string, len(p.Dates))
		for i, d := range p.Dates {
			dates[i] = d.Format(storage.DateLayout)
		}
		res.Projects = append(res.Projects, ProjectSyncResult{
			ProjectID:   p.Project.ProjectID,
			RegionIndex: p.Project.RegionIndex,
			Name:        p.Project.Name,
			Dates:       dates,
			Fetched:     len(p.Snapshots),
			Inserted:    p.Inserted,
			Skipped:     p.Skipped,
		})
	}
	return res
}
