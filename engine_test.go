package rankmirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/allcookiesaccept/rankmirror/internal/storage"
)

// topvisorStub answers the three Topvisor endpoints for project 7, region 1,
// reporting a check for each of the last three days.
func topvisorStub(t *testing.T) *httptest.Server {
	t.Helper()
	today := time.Now()
	dates := []string{
		today.Format(storage.DateLayout),
		today.AddDate(0, 0, -1).Format(storage.DateLayout),
		today.AddDate(0, 0, -2).Format(storage.DateLayout),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v2/json/get/positions_2/history":
			json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{"existsDates": dates},
			})
		case "/v2/json/get/positions_2/summary/chart":
			var req struct {
				Dates []string `json:"dates"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			n := len(req.Dates)
			ints := make([]int64, n)
			floats := make([]float64, n)
			for i := range ints {
				ints[i] = int64(10 + i)
				floats[i] = 1.5 + float64(i)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{
					"dates": req.Dates,
					"seriesByProjectsId": map[string]any{
						"7": map[string]any{
							"tops": map[string]any{
								"all": ints, "1_3": ints, "1_10": ints,
								"11_30": ints, "31_50": ints, "51_100": ints,
							},
							"avg":        floats,
							"visibility": floats,
						},
					},
				},
			})
		case "/v2/json/get/projects_2/projects":
			w.Write([]byte(`{"result":[{"id":7,"name":"Shop","site":"shop.example","searchers":[
				{"id":1,"key":0,"name":"Yandex","regions":[{"id":5,"key":213,"index":1,"name":"Moscow","lang":"ru","device":0}]},
				{"id":2,"key":1,"name":"Google","regions":[{"id":6,"key":2643743,"index":2,"name":"London","lang":"en","device":2}]}
			]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sheetsStub records the rows of every update call.
type sheetsStub struct {
	mu      sync.Mutex
	clears  int
	updates [][][]any
}

func (s *sheetsStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, ":clear") {
			s.clears++
			w.Write([]byte(`{}`))
			return
		}
		var body struct {
			Values [][]any `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.updates = append(s.updates, body.Values)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T) (*Engine, *sheetsStub) {
	t.Helper()
	tv := topvisorStub(t)
	stub := &sheetsStub{}
	sh := stub.server(t)

	seven, one := int64(7), int64(1)
	engine, err := NewEngine(EngineConfig{
		DBPath:          filepath.Join(t.TempDir(), "test.db"),
		TopvisorBaseURL: tv.URL,
		UserID:          "42",
		APIKey:          "key",
		SpreadsheetID:   "sheet-id",
		SheetsOptions: []option.ClientOption{
			option.WithEndpoint(sh.URL + "/"),
			option.WithHTTPClient(sh.Client()),
		},
		Projects: []ProjectConfig{{ProjectID: &seven, RegionIndex: &one, Name: "shop"}},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine, stub
}

func TestNewEngine(t *testing.T) {
	engine, _ := newTestEngine(t)

	if engine.store == nil {
		t.Fatal("store is nil")
	}
	if engine.client == nil {
		t.Fatal("client is nil")
	}
	if engine.publisher == nil {
		t.Fatal("publisher is nil")
	}
	if engine.orchestrator == nil {
		t.Fatal("orchestrator is nil")
	}
}

func TestNewEngine_ReadOnly(t *testing.T) {
	engine, err := NewEngine(EngineConfig{
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
		ReadOnly: true,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	if engine.client != nil || engine.publisher != nil {
		t.Error("read-only engine should not build clients")
	}
	if _, err := engine.Sync(context.Background(), 3); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Sync: expected ErrReadOnly, got %v", err)
	}
	if _, err := engine.Publish(context.Background()); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Publish: expected ErrReadOnly, got %v", err)
	}

	snaps, err := engine.Snapshots(SnapshotFilter{})
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected empty store, got %d", len(snaps))
	}
}

func TestEngine_SyncEndToEnd(t *testing.T) {
	engine, stub := newTestEngine(t)

	result, err := engine.Sync(context.Background(), 3)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Inserted != 3 || result.Published != 3 {
		t.Errorf("inserted=%d published=%d, want 3 and 3", result.Inserted, result.Published)
	}
	if len(result.Projects) != 1 || result.Projects[0].Name != "shop" {
		t.Fatalf("unexpected project results: %+v", result.Projects)
	}
	if len(result.Projects[0].Dates) != 3 {
		t.Errorf("dates = %v, want 3", result.Projects[0].Dates)
	}

	if stub.clears != 1 || len(stub.updates) != 1 {
		t.Fatalf("clears=%d updates=%d, want 1 and 1", stub.clears, len(stub.updates))
	}
	rows := stub.updates[0]
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "Date" || rows[0][10] != "Visibility" {
		t.Errorf("unexpected header: %v", rows[0])
	}

	// Second run stores nothing new but republishes everything.
	again, err := engine.Sync(context.Background(), 3)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if again.Inserted != 0 || again.Skipped != 3 {
		t.Errorf("second run inserted=%d skipped=%d, want 0 and 3", again.Inserted, again.Skipped)
	}
	if len(stub.updates) != 2 || len(stub.updates[1]) != 4 {
		t.Errorf("second publish should rewrite 4 rows")
	}

	runs, err := engine.Runs(10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Status != "succeeded" || runs[0].Skipped != 3 {
		t.Errorf("latest run = %+v", runs[0])
	}
}

func TestEngine_SnapshotsAdmin(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Sync(context.Background(), 3); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	snaps, err := engine.Snapshots(SnapshotFilter{ProjectID: 7, Limit: 2})
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	newest := snaps[0]
	if newest.Date != time.Now().Format(storage.DateLayout) {
		t.Errorf("newest date = %s", newest.Date)
	}

	vis := 99.5
	n, err := engine.UpdateSnapshots(SnapshotKey{Date: newest.Date, ProjectID: 7, RegionIndex: 1}, SnapshotPatch{Visibility: &vis})
	if err != nil {
		t.Fatalf("UpdateSnapshots: %v", err)
	}
	if n != 1 {
		t.Errorf("updated %d rows, want 1", n)
	}
	got, _ := engine.Snapshots(SnapshotFilter{From: newest.Date, To: newest.Date})
	if len(got) != 1 || got[0].Visibility != 99.5 {
		t.Errorf("update not applied: %+v", got)
	}

	if _, err := engine.DeleteSnapshots(SnapshotKey{}); !errors.Is(err, storage.ErrEmptyFilter) {
		t.Errorf("empty key: expected ErrEmptyFilter, got %v", err)
	}
	if _, err := engine.Snapshots(SnapshotFilter{From: "yesterday"}); err == nil {
		t.Error("expected error for malformed date")
	}

	n, err = engine.DeleteSnapshots(SnapshotKey{Date: newest.Date})
	if err != nil {
		t.Fatalf("DeleteSnapshots: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
	all, _ := engine.Snapshots(SnapshotFilter{})
	if len(all) != 2 {
		t.Errorf("expected 2 snapshots left, got %d", len(all))
	}
}

func TestEngine_Projects(t *testing.T) {
	engine, _ := newTestEngine(t)

	projects, err := engine.Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	p := projects[0]
	if len(p.Regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(p.Regions))
	}
	if p.Regions[1].Index != 2 || p.Regions[1].Searcher != "Google" {
		t.Errorf("unexpected region: %+v", p.Regions[1])
	}
}

func TestEngine_SyncConfigurationError(t *testing.T) {
	tv := topvisorStub(t)
	seven := int64(7)
	engine, err := NewEngine(EngineConfig{
		DBPath:          filepath.Join(t.TempDir(), "test.db"),
		TopvisorBaseURL: tv.URL,
		UserID:          "42",
		APIKey:          "key",
		SpreadsheetID:   "sheet-id",
		SheetsOptions:   []option.ClientOption{option.WithoutAuthentication()},
		Projects:        []ProjectConfig{{ProjectID: &seven}},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	_, err = engine.Sync(context.Background(), 3)
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if ce.Field != "region_index" {
		t.Errorf("Field = %q, want region_index", ce.Field)
	}
}
