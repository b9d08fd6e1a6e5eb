// Package pipeline drives the incremental Topvisor sync: pick the recent
// check dates, fetch their summary metrics, store new snapshots and
// republish the whole table to the spreadsheet.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror/internal/config"
	"github.com/allcookiesaccept/rankmirror/internal/storage"
	"github.com/allcookiesaccept/rankmirror/internal/topvisor"
	"github.com/allcookiesaccept/rankmirror/internal/upstream"
)

// MaxCheckDates caps how many recent check dates are synced per project.
const MaxCheckDates = 3

// Header is the first row written to the spreadsheet.
var Header = []any{
	"Date", "Project ID", "Region Index", "All Positions",
	"Top 1-3", "Top 1-10", "Top 11-30", "Top 31-50", "Top 51-100",
	"Avg Position", "Visibility",
}

var (
	ErrNegativeDaysBack = errors.New("days_back must not be negative")
	ErrNoPublisher      = errors.New("no spreadsheet publisher configured")
)

// ConfigurationError reports a project entry without a usable identifier.
type ConfigurationError struct {
	Index int    // position in the configured project list
	Field string // project_id or region_index
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("project entry %d: missing or invalid %s", e.Index, e.Field)
}

type RankingClient interface {
	History(ctx context.Context, req topvisor.HistoryRequest) (*topvisor.HistoryResponse, error)
	SummaryChart(ctx context.Context, req topvisor.SummaryChartRequest) (*topvisor.SummaryChartResponse, error)
}

type Store interface {
	Exists(table string, date time.Time, projectID, regionIndex int64) (bool, error)
	Create(table string, rec storage.Record) (bool, error)
	Read(table string, filters storage.Record) ([]storage.Record, error)
	RecordRun(run *storage.SyncRun) error
}

type Publisher interface {
	Write(ctx context.Context, sheet, rangeStart string, rows [][]any) error
}

// Logger is satisfied by *zap.Logger.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Project is a validated project/region pair.
type Project struct {
	ProjectID   int64
	RegionIndex int64
	Name        string
}

func (p Project) fields() []zap.Field {
	fs := []zap.Field{zap.Int64("project_id", p.ProjectID), zap.Int64("region_index", p.RegionIndex)}
	if p.Name != "" {
		fs = append(fs, zap.String("project", p.Name))
	}
	return fs
}

func (p Project) labels() []string {
	return []string{strconv.FormatInt(p.ProjectID, 10), strconv.FormatInt(p.RegionIndex, 10)}
}

// ValidateProjects checks every entry before anything is fetched. Zero and
// negative identifiers count as missing.
func ValidateProjects(entries []config.ProjectConfig) ([]Project, error) {
	projects := make([]Project, 0, len(entries))
	for i, e := range entries {
		if e.ProjectID == nil || *e.ProjectID <= 0 {
			return nil, &ConfigurationError{Index: i, Field: "project_id"}
		}
		if e.RegionIndex == nil || *e.RegionIndex <= 0 {
			return nil, &ConfigurationError{Index: i, Field: "region_index"}
		}
		projects = append(projects, Project{ProjectID: *e.ProjectID, RegionIndex: *e.RegionIndex, Name: e.Name})
	}
	return projects, nil
}

type Orchestrator struct {
	client     RankingClient
	store      Store
	publisher  Publisher
	projects   []config.ProjectConfig
	logger     Logger
	metrics    *Metrics
	now        func() time.Time
	newRunID   func() string
	sheet      string
	rangeStart string
}

type Option func(*Orchestrator)

func WithLogger(l Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock sets the source of "today"; its Location decides calendar days.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newRunID = next }
}

// WithSheet sets the target sheet name and top-left cell.
func WithSheet(name, rangeStart string) Option {
	return func(o *Orchestrator) {
		o.sheet = name
		o.rangeStart = rangeStart
	}
}

// New creates an orchestrator. publisher may be nil when only fetching is
// needed; Run and Republish then fail with ErrNoPublisher.
func New(client RankingClient, store Store, publisher Publisher, projects []config.ProjectConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		store:      store,
		publisher:  publisher,
		projects:   projects,
		logger:     zap.NewNop(),
		metrics:    NewMetrics(nil),
		now:        time.Now,
		newRunID:   uuid.NewString,
		sheet:      "Positions",
		rangeStart: "A1",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) today() time.Time {
	now := o.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// RecentCheckDates returns up to MaxCheckDates distinct dates, newest first,
// on which Topvisor checked positions within [today-daysBack, today].
func (o *Orchestrator) RecentCheckDates(ctx context.Context, projectID, regionIndex int64, daysBack int) ([]time.Time, error) {
	if daysBack < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeDaysBack, daysBack)
	}
	end := o.today()
	start := end.AddDate(0, 0, -daysBack)

	req, err := topvisor.NewHistoryRequest(projectID, []int64{regionIndex}, start, end)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.History(ctx, req)
	if err != nil {
		return nil, err
	}

	task := topvisor.OpHistory.String()
	if resp.Result == nil {
		return nil, upstream.Missing(task, "result")
	}
	if resp.Result.ExistsDates == nil {
		return nil, upstream.Missing(task, "result.existsDates")
	}

	seen := make(map[time.Time]bool)
	var dates []time.Time
	for i, s := range *resp.Result.ExistsDates {
		d, err := time.ParseInLocation(topvisor.DateLayout, s, end.Location())
		if err != nil {
			return nil, &upstream.DataFormatError{Task: task, Field: fmt.Sprintf("result.existsDates[%d]", i), Err: err}
		}
		if d.Before(start) || d.After(end) {
			o.logger.Debug("ignoring check date outside window",
				zap.String("date", s), zap.Int64("project_id", projectID))
			continue
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		dates = append(dates, d)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	if len(dates) > MaxCheckDates {
		dates = dates[:MaxCheckDates]
	}
	return dates, nil
}

// SummaryMetrics fetches all dates in one call and rebuilds one snapshot per
// entry of result.dates by position.
func (o *Orchestrator) SummaryMetrics(ctx context.Context, projectID, regionIndex int64, dates []time.Time) ([]storage.Snapshot, error) {
	req, err := topvisor.NewSummaryChartRequest(projectID, regionIndex, dates)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.SummaryChart(ctx, req)
	if err != nil {
		return nil, err
	}

	task := topvisor.OpSummaryChart.String()
	if resp.Result == nil {
		return nil, upstream.Missing(task, "result")
	}
	if resp.Result.Dates == nil {
		return nil, upstream.Missing(task, "result.dates")
	}
	if resp.Result.SeriesByProjectsID == nil {
		return nil, upstream.Missing(task, "result.seriesByProjectsId")
	}
	key := strconv.FormatInt(projectID, 10)
	base := "result.seriesByProjectsId." + key
	series := resp.Result.SeriesByProjectsID[key]
	if series == nil {
		return nil, upstream.Missing(task, base)
	}
	if series.Tops == nil {
		return nil, upstream.Missing(task, base+".tops")
	}

	resultDates := *resp.Result.Dates
	n := len(resultDates)

	checkLen := func(field string, got int) error {
		if got < n {
			return &upstream.DataFormatError{Task: task, Field: field,
				Err: fmt.Errorf("has %d values for %d dates", got, n)}
		}
		return nil
	}

	tops := make(map[string][]int64, 6)
	for _, bucket := range []string{"all", "1_3", "1_10", "11_30", "31_50", "51_100"} {
		field := base + ".tops." + bucket
		values, ok := series.Tops[bucket]
		if !ok || values == nil {
			return nil, upstream.Missing(task, field)
		}
		if err := checkLen(field, len(values)); err != nil {
			return nil, err
		}
		tops[bucket] = values
	}
	if series.Avg == nil {
		return nil, upstream.Missing(task, base+".avg")
	}
	if err := checkLen(base+".avg", len(*series.Avg)); err != nil {
		return nil, err
	}
	if series.Visibility == nil {
		return nil, upstream.Missing(task, base+".visibility")
	}
	if err := checkLen(base+".visibility", len(*series.Visibility)); err != nil {
		return nil, err
	}

	loc := o.now().Location()
	snapshots := make([]storage.Snapshot, 0, n)
	for i, s := range resultDates {
		d, err := time.ParseInLocation(topvisor.DateLayout, s, loc)
		if err != nil {
			return nil, &upstream.DataFormatError{Task: task, Field: fmt.Sprintf("result.dates[%d]", i), Err: err}
		}
		snapshots = append(snapshots, storage.Snapshot{
			Date:         d,
			ProjectID:    projectID,
			RegionIndex:  regionIndex,
			AllPositions: tops["all"][i],
			Top1To3:      tops["1_3"][i],
			Top1To10:     tops["1_10"][i],
			Top11To30:    tops["11_30"][i],
			Top31To50:    tops["31_50"][i],
			Top51To100:   tops["51_100"][i],
			AvgPosition:  (*series.Avg)[i],
			Visibility:   (*series.Visibility)[i],
		})
	}
	return snapshots, nil
}

// UpsertResult counts the outcome of UpsertSnapshots.
type UpsertResult struct {
	Inserted int
	Skipped  int
}

// UpsertSnapshots stores each snapshot whose key is not present yet. Stored
// rows are never modified.
func (o *Orchestrator) UpsertSnapshots(snapshots []storage.Snapshot) (UpsertResult, error) {
	var res UpsertResult
	for _, s := range snapshots {
		date := s.Date.Format(storage.DateLayout)
		labels := Project{ProjectID: s.ProjectID, RegionIndex: s.RegionIndex}.labels()

		exists, err := o.store.Exists(storage.SnapshotsTable, s.Date, s.ProjectID, s.RegionIndex)
		if err != nil {
			return res, fmt.Errorf("check snapshot %s: %w", date, err)
		}
		if exists {
			o.logger.Debug("snapshot already stored",
				zap.String("date", date), zap.Int64("project_id", s.ProjectID), zap.Int64("region_index", s.RegionIndex))
			res.Skipped++
			o.metrics.SnapshotsSkipped.WithLabelValues(labels...).Inc()
			continue
		}

		inserted, err := o.store.Create(storage.SnapshotsTable, s.Record())
		if err != nil {
			return res, fmt.Errorf("store snapshot %s: %w", date, err)
		}
		if !inserted {
			res.Skipped++
			o.metrics.SnapshotsSkipped.WithLabelValues(labels...).Inc()
			continue
		}
		res.Inserted++
		o.metrics.SnapshotsInserted.WithLabelValues(labels...).Inc()
	}
	return res, nil
}

// ProjectResult is what one project contributed to a run.
type ProjectResult struct {
	Project   Project
	Dates     []time.Time
	Snapshots []storage.Snapshot
	UpsertResult
}

// ProcessProject runs window, fetch and persist for one project. An empty
// window makes no summary call.
func (o *Orchestrator) ProcessProject(ctx context.Context, p Project, daysBack int) (*ProjectResult, error) {
	res := &ProjectResult{Project: p}

	dates, err := o.RecentCheckDates(ctx, p.ProjectID, p.RegionIndex, daysBack)
	if err != nil {
		return res, err
	}
	res.Dates = dates
	if len(dates) == 0 {
		o.logger.Info("no position checks in window", append(p.fields(), zap.Int("days_back", daysBack))...)
		return res, nil
	}

	snapshots, err := o.SummaryMetrics(ctx, p.ProjectID, p.RegionIndex, dates)
	if err != nil {
		return res, err
	}
	res.Snapshots = snapshots
	o.metrics.SnapshotsFetched.WithLabelValues(p.labels()...).Add(float64(len(snapshots)))

	upserted, err := o.UpsertSnapshots(snapshots)
	res.UpsertResult = upserted
	if err != nil {
		return res, err
	}

	o.logger.Info("project synced", append(p.fields(),
		zap.Int("fetched", len(snapshots)),
		zap.Int("inserted", upserted.Inserted),
		zap.Int("skipped", upserted.Skipped),
	)...)
	return res, nil
}

// RunReport summarizes one Run. Snapshots are in processing order.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DaysBack   int
	Projects   []ProjectResult
	Snapshots  []storage.Snapshot
	Fetched    int
	Inserted   int
	Skipped    int
	Published  int
}

// Run validates the configured projects, syncs them in order and then
// republishes the full table. The first error stops the run before the
// republish. A sync_runs row is written either way, and the report is
// returned even on failure.
func (o *Orchestrator) Run(ctx context.Context, daysBack int) (*RunReport, error) {
	report := &RunReport{RunID: o.newRunID(), StartedAt: o.now(), DaysBack: daysBack}
	err := o.run(ctx, report)
	report.FinishedAt = o.now()

	status := storage.RunSucceeded
	if err != nil {
		status = storage.RunFailed
		o.logger.Error("sync run failed", zap.String("run_id", report.RunID), zap.Error(err))
	} else {
		o.metrics.LastSuccess.Set(float64(report.FinishedAt.Unix()))
		o.logger.Info("sync run finished",
			zap.String("run_id", report.RunID),
			zap.Int("fetched", report.Fetched),
			zap.Int("inserted", report.Inserted),
			zap.Int("skipped", report.Skipped),
			zap.Int("published", report.Published),
		)
	}
	o.metrics.Runs.WithLabelValues(status).Inc()
	o.metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	if rerr := o.recordRun(report, status, err); rerr != nil {
		if err == nil {
			return report, rerr
		}
		o.logger.Error("failed to record sync run", zap.String("run_id", report.RunID), zap.Error(rerr))
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *RunReport) error {
	if report.DaysBack < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeDaysBack, report.DaysBack)
	}
	projects, err := ValidateProjects(o.projects)
	if err != nil {
		return err
	}
	if o.publisher == nil {
		return ErrNoPublisher
	}

	o.logger.Info("sync run started",
		zap.String("run_id", report.RunID),
		zap.Int("projects", len(projects)),
		zap.Int("days_back", report.DaysBack),
	)

	for _, p := range projects {
		res, err := o.ProcessProject(ctx, p, report.DaysBack)
		report.Projects = append(report.Projects, *res)
		report.Snapshots = append(report.Snapshots, res.Snapshots...)
		report.Fetched += len(res.Snapshots)
		report.Inserted += res.Inserted
		report.Skipped += res.Skipped
		if err != nil {
			return fmt.Errorf("project %d region %d: %w", p.ProjectID, p.RegionIndex, err)
		}
	}

	published, err := o.Republish(ctx)
	if err != nil {
		return err
	}
	report.Published = published
	return nil
}

func (o *Orchestrator) recordRun(report *RunReport, status string, runErr error) error {
	run := &storage.SyncRun{
		ID:         report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		DaysBack:   report.DaysBack,
		Projects:   len(o.projects),
		Fetched:    report.Fetched,
		Inserted:   report.Inserted,
		Skipped:    report.Skipped,
		Published:  report.Published,
		Status:     status,
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}
	return o.store.RecordRun(run)
}

// Republish overwrites the target range with the header followed by every
// stored snapshot. Returns the number of data rows written.
func (o *Orchestrator) Republish(ctx context.Context) (int, error) {
	if o.publisher == nil {
		return 0, ErrNoPublisher
	}
	recs, err := o.store.Read(storage.SnapshotsTable, nil)
	if err != nil {
		return 0, fmt.Errorf("republish: %w", err)
	}

	rows := make([][]any, 0, len(recs)+1)
	rows = append(rows, append([]any(nil), Header...))
	for _, rec := range recs {
		s, err := storage.SnapshotFromRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("republish: %w", err)
		}
		rows = append(rows, Row(s))
	}

	if err := o.publisher.Write(ctx, o.sheet, o.rangeStart, rows); err != nil {
		return 0, fmt.Errorf("republish: %w", err)
	}
	o.metrics.RowsPublished.Set(float64(len(recs)))
	o.logger.Info("spreadsheet republished", zap.String("sheet", o.sheet), zap.Int("rows", len(recs)))
	return len(recs), nil
}

// Row renders a snapshot in Header column order.
func Row(s storage.Snapshot) []any {
	return []any{
		s.Date.Format(storage.DateLayout),
		s.ProjectID,
		s.RegionIndex,
		s.AllPositions,
		s.Top1To3,
		s.Top1To10,
		s.Top11To30,
		s.Top31To50,
		s.Top51To100,
		s.AvgPosition,
		s.Visibility,
	}
}
