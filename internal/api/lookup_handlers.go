package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/analysis"
	"github.com/JakeFAU/telespot/internal/lookup"
	"github.com/JakeFAU/telespot/internal/planner"
	"github.com/JakeFAU/telespot/internal/search"
)

const maxLookupBody = 64 << 10

type lookupHandler struct {
	service     LookupService
	reports     ReportReader
	contentType string
	logger      *zap.Logger
}

func newLookupHandler(deps Deps, logger *zap.Logger) *lookupHandler {
	ct := deps.ReportContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &lookupHandler{service: deps.Lookups, reports: deps.Reports, contentType: ct, logger: logger}
}

type lookupRequest struct {
	Phone     string          `json:"phone"`
	Keyword   string          `json:"keyword"`
	Site      string          `json:"site"`
	Providers map[string]bool `json:"providers"`
}

func (req lookupRequest) toLookup() (lookup.Request, error) {
	out := lookup.Request{
		Phone:       req.Phone,
		Constraints: search.Constraints{Keyword: req.Keyword, Site: req.Site},
	}
	if len(req.Providers) > 0 {
		out.Providers = make(map[search.ProviderID]bool, len(req.Providers))
		for raw, on := range req.Providers {
			id, err := search.ParseProviderID(raw)
			if err != nil {
				return lookup.Request{}, err
			}
			out.Providers[id] = on
		}
	}
	return out, nil
}

// Start handles POST /v1/lookups. Invalid numbers answer 400 and a request
// that leaves no provider enabled answers 422, both before any provider is
// contacted. Accepted lookups answer 202 with the run ID.
func (h *lookupHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "lookup service unavailable")
		return
	}
	var body lookupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLookupBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := body.toLookup()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := h.service.Start(r.Context(), req)
	switch {
	case errors.Is(err, planner.ErrInvalidNumber):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, planner.ErrNoProviders):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.logger.Error("start lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start lookup")
		return
	}
	w.Header().Set("Location", "/v1/lookups/"+runID.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID.String()})
}

// Get handles GET /v1/lookups/{run_id}. A running lookup answers with its
// status only.
func (h *lookupHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLookupDTO(res))
}

// Report handles GET /v1/lookups/{run_id}/report and streams the exported
// report. 409 means the run has not finished; 404 means no report was written.
func (h *lookupHandler) Report(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	if res.FinishedAt.IsZero() {
		writeError(w, http.StatusConflict, "lookup still running")
		return
	}
	if h.reports == nil || res.ReportKey == "" {
		writeError(w, http.StatusNotFound, "report not available")
		return
	}
	data, err := h.reports.GetObject(r.Context(), res.ReportKey)
	if err != nil {
		h.logger.Error("read report failed", zap.String("key", res.ReportKey), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read report")
		return
	}
	w.Header().Set("Content-Type", h.contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write report failed", zap.Error(err))
	}
}

func (h *lookupHandler) result(w http.ResponseWriter, r *http.Request) (lookup.Result, bool) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "lookup service unavailable")
		return lookup.Result{}, false
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return lookup.Result{}, false
	}
	res, _, err := h.service.Result(runID)
	if err != nil {
		if errors.Is(err, lookup.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "lookup not found")
			return lookup.Result{}, false
		}
		h.logger.Error("lookup result failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load lookup")
		return lookup.Result{}, false
	}
	return res, true
}

type taskDTO struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Query    string `json:"query"`
	Records  int    `json:"records"`
	Error    string `json:"error,omitempty"`
}

type lookupDTO struct {
	RunID      string             `json:"run_id"`
	Phone      string             `json:"phone,omitempty"`
	Status     string             `json:"status"`
	Partial    bool               `json:"partial"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Duplicates int                `json:"duplicates"`
	Results    []search.Record    `json:"results,omitempty"`
	Patterns   *analysis.Patterns `json:"patterns,omitempty"`
	Tasks      []taskDTO          `json:"tasks,omitempty"`
	ReportURI  string             `json:"report_uri,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func toLookupDTO(res lookup.Result) lookupDTO {
	dto := lookupDTO{
		RunID:  res.RunID.String(),
		Phone:  res.Phone,
		Status: string(res.Status),
	}
	if res.FinishedAt.IsZero() {
		return dto
	}
	started, finished := res.StartedAt, res.FinishedAt
	dto.StartedAt, dto.FinishedAt = &started, &finished
	dto.Partial = res.Report.Partial
	dto.Duplicates = res.Report.Duplicates
	dto.Results = res.Report.Results
	patterns := res.Patterns
	dto.Patterns = &patterns
	dto.ReportURI = res.ReportURI
	if res.Err != nil {
		dto.Error = res.Err.Error()
	}
	for _, t := range res.Report.Tasks {
		td := taskDTO{ID: t.Task.ID, Provider: string(t.Task.Provider), Query: t.Task.Query.Text, Records: t.Records}
		if t.Err != nil {
			td.Error = t.Err.Error()
		}
		dto.Tasks = append(dto.Tasks, td)
	}
	return dto
}
