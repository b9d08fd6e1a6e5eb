package topvisor

import "fmt"

// Response fields are pointers so callers can tell an absent key from an
// empty one.

// APIError is one entry of the "errors" array Topvisor returns instead of a
// result.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"string"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("topvisor error %d: %s", e.Code, e.Message)
}

type HistoryResponse struct {
	Result *HistoryResult `json:"result"`
}

type HistoryResult struct {
	ExistsDates *[]string `json:"existsDates"`
}

type SummaryChartResponse struct {
	Result *SummaryChartResult `json:"result"`
}

type SummaryChartResult struct {
	Dates              *[]string                 `json:"dates"`
	SeriesByProjectsID map[string]*ProjectSeries `json:"seriesByProjectsId"`
}

// ProjectSeries holds metric arrays aligned by index with
// SummaryChartResult.Dates. Tops is keyed by bucket name: all, 1_3, 1_10,
// 11_30, 31_50, 51_100.
type ProjectSeries struct {
	Tops       map[string][]int64 `json:"tops"`
	Avg        *[]float64         `json:"avg"`
	Visibility *[]float64         `json:"visibility"`
}

type ProjectsResponse struct {
	Result *[]Project `json:"result"`
}

type Project struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Site      string     `json:"site"`
	Searchers []Searcher `json:"searchers"`
}

type Searcher struct {
	ID      int64    `json:"id"`
	Key     int64    `json:"key"`
	Name    string   `json:"name"`
	Regions []Region `json:"regions"`
}

// Region is a searcher/region pairing. Index is the region_index used by
// the positions endpoints.
type Region struct {
	ID     int64  `json:"id"`
	Key    int64  `json:"key"`
	Index  int64  `json:"index"`
	Name   string `json:"name"`
	Lang   string `json:"lang"`
	Device int    `json:"device"`
}
