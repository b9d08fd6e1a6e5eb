package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
)

const (
	defaultSnapshotLimit = 100
	defaultRunLimit      = 20
	maxLimit             = 10000
)

// handlers holds dependencies for all HTTP handler methods.
type handlers struct {
	engine *rankmirror.Engine
	logger *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var errBadParam = errors.New("bad parameter")

// parseInt64Param reads a positive integer query parameter; absent means 0.
func parseInt64Param(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, errBadParam
	}
	return v, nil
}

func parseLimit(r *http.Request, defaultVal int) (int, error) {
	v, err := parseInt64Param(r, "limit")
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return defaultVal, nil
	}
	if v > maxLimit {
		v = maxLimit
	}
	return int(v), nil
}

func parseDateParam(r *http.Request, name string) (string, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return "", errBadParam
	}
	return raw, nil
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSnapshots serves GET /snapshots?project=&region=&from=&to=&limit=
func (h *handlers) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	var (
		f   rankmirror.SnapshotFilter
		err error
	)
	if f.ProjectID, err = parseInt64Param(r, "project"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid project")
		return
	}
	if f.RegionIndex, err = parseInt64Param(r, "region"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid region")
		return
	}
	if f.From, err = parseDateParam(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
		return
	}
	if f.To, err = parseDateParam(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
		return
	}
	if f.Limit, err = parseLimit(r, defaultSnapshotLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	snaps, err := h.engine.Snapshots(f)
	if err != nil {
		h.logger.Error("list snapshots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []rankmirror.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleRuns serves GET /runs?limit=
func (h *handlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	runs, err := h.engine.Runs(limit)
	if err != nil {
		h.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []rankmirror.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
