package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/allcookiesaccept/rankmirror"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// OutputSyncResult outputs the result of a sync run
func (f *Formatter) OutputSyncResult(result *rankmirror.SyncResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "run_id=%s\n", result.RunID)
		fmt.Fprintf(f.out, "fetched=%d\n", result.Fetched)
		fmt.Fprintf(f.out, "inserted=%d\n", result.Inserted)
		fmt.Fprintf(f.out, "skipped=%d\n", result.Skipped)
		fmt.Fprintf(f.out, "published=%d\n", result.Published)
		for _, p := range result.Projects {
			fmt.Fprintf(f.out, "project=%d\tregion=%d\tdates=%s\tinserted=%d\tskipped=%d\n",
				p.ProjectID, p.RegionIndex, strings.Join(p.Dates, ","), p.Inserted, p.Skipped)
		}
		return nil
	case FormatHuman:
		for _, p := range result.Projects {
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("project %d", p.ProjectID)
			}
			if len(p.Dates) == 0 {
				fmt.Fprintf(f.out, "%s (region %d): no checks in window\n", name, p.RegionIndex)
				continue
			}
			fmt.Fprintf(f.out, "%s (region %d): %d new, %d already stored [%s]\n",
				name, p.RegionIndex, p.Inserted, p.Skipped, strings.Join(p.Dates, ", "))
		}
		fmt.Fprintf(f.out, "Synced %d snapshots (%d new), published %d rows in %s\n",
			result.Fetched, result.Inserted, result.Published, result.Duration.Round(time.Millisecond))
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputPublishResult outputs the number of rows written to the spreadsheet
func (f *Formatter) OutputPublishResult(rows int) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]int{"published": rows})
	case FormatText:
		fmt.Fprintf(f.out, "published=%d\n", rows)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Published %d rows\n", rows)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputSnapshots outputs a list of stored snapshots
func (f *Formatter) OutputSnapshots(snaps []rankmirror.Snapshot) error {
	switch f.format {
	case FormatJSON:
		if snaps == nil {
			snaps = []rankmirror.Snapshot{}
		}
		return json.NewEncoder(f.out).Encode(snaps)
	case FormatText:
		for _, s := range snaps {
			fmt.Fprintf(f.out, "date=%s\tproject=%d\tregion=%d\tall=%d\ttop3=%d\ttop10=%d\tavg=%.2f\tvisibility=%.2f\n",
				s.Date, s.ProjectID, s.RegionIndex, s.AllPositions, s.Top1To3, s.Top1To10, s.AvgPosition, s.Visibility)
		}
		return nil
	case FormatHuman:
		if len(snaps) == 0 {
			fmt.Fprintln(f.out, "No snapshots stored")
			return nil
		}
		fmt.Fprintf(f.out, "%-10s  %8s  %6s  %5s  %5s  %6s  %6s  %6s  %7s  %6s  %10s\n",
			"Date", "Project", "Region", "All", "1-3", "1-10", "11-30", "31-50", "51-100", "Avg", "Visibility")
		fmt.Fprintln(f.out, strings.Repeat("-", 96))
		for _, s := range snaps {
			fmt.Fprintf(f.out, "%-10s  %8d  %6d  %5d  %5d  %6d  %6d  %6d  %7d  %6.2f  %9.2f%%\n",
				s.Date, s.ProjectID, s.RegionIndex, s.AllPositions, s.Top1To3, s.Top1To10,
				s.Top11To30, s.Top31To50, s.Top51To100, s.AvgPosition, s.Visibility)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputRuns outputs recorded sync runs
func (f *Formatter) OutputRuns(runs []rankmirror.SyncRun) error {
	switch f.format {
	case FormatJSON:
		if runs == nil {
			runs = []rankmirror.SyncRun{}
		}
		return json.NewEncoder(f.out).Encode(runs)
	case FormatText:
		for _, r := range runs {
			fmt.Fprintf(f.out, "id=%s\tstarted=%s\tstatus=%s\tfetched=%d\tinserted=%d\tskipped=%d\tpublished=%d",
				r.ID, r.StartedAt.Format(time.RFC3339), r.Status, r.Fetched, r.Inserted, r.Skipped, r.Published)
			if r.Error != nil {
				fmt.Fprintf(f.out, "\terror=%s", *r.Error)
			}
			fmt.Fprintln(f.out)
		}
		return nil
	case FormatHuman:
		if len(runs) == 0 {
			fmt.Fprintln(f.out, "No sync runs recorded")
			return nil
		}
		for _, r := range runs {
			mark := "ok"
			if r.Status != "succeeded" {
				mark = "FAILED"
			}
			fmt.Fprintf(f.out, "%s  %-6s  %d new / %d fetched, %d published (%s)\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), mark,
				r.Inserted, r.Fetched, r.Published, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
			if r.Error != nil {
				fmt.Fprintf(f.out, "    %s\n", truncate(*r.Error, 200))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputProjects outputs Topvisor projects and their region indexes
func (f *Formatter) OutputProjects(projects []rankmirror.Project) error {
	switch f.format {
	case FormatJSON:
		if projects == nil {
			projects = []rankmirror.Project{}
		}
		return json.NewEncoder(f.out).Encode(projects)
	case FormatText:
		for _, p := range projects {
			for _, r := range p.Regions {
				fmt.Fprintf(f.out, "project=%d\tname=%s\tregion_index=%d\tsearcher=%s\tregion=%s\n",
					p.ID, p.Name, r.Index, r.Searcher, r.Name)
			}
		}
		return nil
	case FormatHuman:
		if len(projects) == 0 {
			fmt.Fprintln(f.out, "No projects")
			return nil
		}
		for _, p := range projects {
			fmt.Fprintf(f.out, "%s (%s), id %d\n", p.Name, p.Site, p.ID)
			for _, r := range p.Regions {
				fmt.Fprintf(f.out, "  region_index %-4d %s / %s\n", r.Index, r.Searcher, r.Name)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputAffected reports how many snapshots an admin command changed
func (f *Formatter) OutputAffected(action string, n int64) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]int64{action: n})
	case FormatText:
		fmt.Fprintf(f.out, "%s=%d\n", action, n)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "%s %d snapshot(s)\n", strings.ToUpper(action[:1])+action[1:], n)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
