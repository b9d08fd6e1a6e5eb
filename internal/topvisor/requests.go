package topvisor

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used on the wire.
const DateLayout = "2006-01-02"

// ErrInvalidRequest is returned by the request builders; such requests are
// never sent.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// HistoryRequest asks positions_2/history which dates inside [Date1, Date2]
// had a position check.
type HistoryRequest struct {
	ProjectID       int64   `json:"project_id"`
	RegionsIndexes  []int64 `json:"regions_indexes"`
	Date1           string  `json:"date1"`
	Date2           string  `json:"date2"`
	ShowExistsDates bool    `json:"show_exists_dates"`
}

// NewHistoryRequest validates its arguments and builds a history request
// that lists existing check dates between from and to, inclusive.
func NewHistoryRequest(projectID int64, regionIndexes []int64, from, to time.Time) (HistoryRequest, error) {
	if projectID <= 0 {
		return HistoryRequest{}, invalid("project_id must be positive, got %d", projectID)
	}
	if len(regionIndexes) == 0 {
		return HistoryRequest{}, invalid("at least one region index is required")
	}
	for _, r := range regionIndexes {
		if r <= 0 {
			return HistoryRequest{}, invalid("region index must be positive, got %d", r)
		}
	}
	if to.Before(from) {
		return HistoryRequest{}, invalid("date2 %s is before date1 %s", to.Format(DateLayout), from.Format(DateLayout))
	}
	return HistoryRequest{
		ProjectID:       projectID,
		RegionsIndexes:  append([]int64(nil), regionIndexes...),
		Date1:           from.Format(DateLayout),
		Date2:           to.Format(DateLayout),
		ShowExistsDates: true,
	}, nil
}

// SummaryChartRequest asks positions_2/summary/chart for per-date metric
// series. All dates are fetched in one call.
type SummaryChartRequest struct {
	ProjectID      int64    `json:"project_id"`
	RegionIndex    int64    `json:"region_index"`
	Dates          []string `json:"dates"`
	ShowTops       bool     `json:"show_tops"`
	ShowAvg        bool     `json:"show_avg"`
	ShowVisibility bool     `json:"show_visibility"`
}

// NewSummaryChartRequest builds a summary chart request with position
// buckets, average position and visibility enabled.
func NewSummaryChartRequest(projectID, regionIndex int64, dates []time.Time) (SummaryChartRequest, error) {
	if projectID <= 0 {
		return SummaryChartRequest{}, invalid("project_id must be positive, got %d", projectID)
	}
	if regionIndex <= 0 {
		return SummaryChartRequest{}, invalid("region_index must be positive, got %d", regionIndex)
	}
	if len(dates) == 0 {
		return SummaryChartRequest{}, invalid("dates must not be empty")
	}
	formatted := make([]string, len(dates))
	for i, d := range dates {
		formatted[i] = d.Format(DateLayout)
	}
	return SummaryChartRequest{
		ProjectID:      projectID,
		RegionIndex:    regionIndex,
		Dates:          formatted,
		ShowTops:       true,
		ShowAvg:        true,
		ShowVisibility: true,
	}, nil
}

// ProjectsRequest lists the account's projects.
type ProjectsRequest struct {
	ShowSiteStat            bool `json:"show_site_stat"`
	ShowSearchersAndRegions int  `json:"show_searchers_and_regions"`
}

// NewProjectsRequest returns a request that includes every searcher and
// region attached to each project.
func NewProjectsRequest() ProjectsRequest {
	return ProjectsRequest{ShowSiteStat: true, ShowSearchersAndRegions: 2}
}
