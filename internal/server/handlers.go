package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/export"
	"github.com/KaramelBytes/tabloom/internal/insight"
	"github.com/KaramelBytes/tabloom/internal/instruction"
	"github.com/KaramelBytes/tabloom/internal/pipeline"
	"github.com/KaramelBytes/tabloom/internal/safety"
)

// UploadResponse describes a freshly stored dataset.
type UploadResponse struct {
	SessionID      string               `json:"session_id"`
	Filename       string               `json:"filename"`
	Rows           int                  `json:"rows"`
	Columns        []string             `json:"columns"`
	ColumnMetadata *classify.Metadata   `json:"column_metadata"`
	Classification classify.Source      `json:"classification_source"`
	Summary        pipeline.DataSummary `json:"summary"`
}

// QueryRequest asks a question about an uploaded dataset.
type QueryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// QueryResponse is the answer to a QueryRequest. Success is false for
// rejected queries and for filters that leave no rows.
type QueryResponse struct {
	Success           bool                     `json:"success"`
	Message           string                   `json:"message,omitempty"`
	FilterStatus      string                   `json:"filter_status"`
	Response          string                   `json:"response,omitempty"`
	ResponseSource    insight.Source           `json:"response_source,omitempty"`
	Instruction       *instruction.Instruction `json:"instruction,omitempty"`
	InstructionSource instruction.Source       `json:"instruction_source,omitempty"`
	Chart             *pipeline.ChartSeries    `json:"chart,omitempty"`
	Summary           []pipeline.MetricSummary `json:"summary,omitempty"`
	DateRange         *pipeline.DateSpan       `json:"date_range,omitempty"`
	Records           int                      `json:"records"`
}

// HealthResponse reports liveness and model availability.
type HealthResponse struct {
	Status         string `json:"status"`
	Model          string `json:"model,omitempty"`
	ModelAvailable bool   `json:"model_available"`
	Sessions       int    `json:"active_sessions"`
}

const (
	filterAllowed  = "allowed"
	filterRejected = "rejected"
)

// handleUpload loads and classifies a dataset
// @Summary Upload a dataset
// @Description Load a CSV, TSV, XLSX, Arrow or Parquet file, classify its columns and store it in a new session
// @Tags sessions
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Tabular data file"
// @Success 200 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Router /upload [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	name := filepath.Base(hdr.Filename)
	if !export.Readable(name) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", filepath.Ext(name)))
		return
	}
	b, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	ds, err := export.Decode(r.Context(), name, b, s.cfg.Load)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.cfg.Classifier.Classify(r.Context(), ds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := &Session{
		Filename: name,
		Data:     res.Data,
		Meta:     res.Meta,
		Source:   res.Source,
		Summary:  pipeline.Summarize(res.Data, res.Meta),
		Created:  time.Now().UTC(),
	}
	n := s.sessions.add(sess)
	s.metrics.sessions.Set(float64(n))
	s.metrics.uploads.WithLabelValues(string(res.Source)).Inc()
	level.Info(s.logger).Log("msg", "dataset stored", "session", sess.ID, "file", name, "rows", res.Data.Len(), "classification", res.Source)

	writeJSON(w, http.StatusOK, UploadResponse{
		SessionID:      sess.ID,
		Filename:       name,
		Rows:           res.Data.Len(),
		Columns:        res.Data.Columns,
		ColumnMetadata: res.Meta,
		Classification: res.Source,
		Summary:        sess.Summary,
	})
}

// handleQuery answers a question about a session's dataset
// @Summary Query a dataset
// @Description Check the question, plan an analysis, run it and describe the result
// @Tags analysis
// @Accept json
// @Produce json
// @Param query body QueryRequest true "Session and question"
// @Success 200 {object} QueryResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /query [post]
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	sess, ok := s.sessions.get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	defer func() { s.metrics.queryDuration.Observe(time.Since(start).Seconds()) }()

	resp, err := s.answer(r.Context(), sess, req.Query)
	if err != nil {
		level.Error(s.logger).Log("msg", "query failed", "session", sess.ID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) answer(ctx context.Context, sess *Session, query string) (QueryResponse, error) {
	plan := s.cfg.Planner.Plan(ctx, query, sess.Summary.Markdown(), sess.Meta)
	s.metrics.queries.WithLabelValues(string(plan.Decision.Verdict)).Inc()
	s.metrics.sources.WithLabelValues(string(plan.Source)).Inc()
	if plan.Decision.Verdict != safety.Allowed {
		return QueryResponse{
			Message:      plan.Decision.Message,
			FilterStatus: filterRejected,
		}, nil
	}

	out, err := s.cfg.Engine.Run(ctx, sess.Data, sess.Meta, plan.Instruction)
	if err != nil {
		return QueryResponse{}, err
	}
	resp := QueryResponse{
		FilterStatus:      filterAllowed,
		Instruction:       &out.Instruction,
		InstructionSource: plan.Source,
		Records:           out.Records,
	}
	if out.NoRows {
		resp.Message = insight.NoRowsMessage
		return resp, nil
	}
	n := s.cfg.Narrator.Describe(ctx, query, out)
	resp.Success = true
	resp.Response = n.Text
	resp.ResponseSource = n.Source
	resp.Chart = &out.Chart
	resp.Summary = out.Summary
	resp.DateRange = out.DateRange
	return resp, nil
}

// handleSummary returns the stored dataset summary
// @Summary Dataset summary
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} pipeline.DataSummary
// @Failure 404 {object} ErrorResponse
// @Router /summary/{id} [get]
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Summary)
}

// handleSessions lists stored sessions
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Success 200 {array} SessionInfo
// @Router /sessions [get]
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.list())
}

// handleDelete drops a session
// @Summary Delete a session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [delete]
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, n := s.sessions.remove(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.metrics.sessions.Set(float64(n))
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

var contentTypes = map[export.Format]string{
	export.FormatArrow:   "application/vnd.apache.arrow.stream",
	export.FormatParquet: "application/vnd.apache.parquet",
	export.FormatJSON:    "application/json",
}

// handleExport streams the stored dataset
// @Summary Export a dataset
// @Description Download the classified dataset as an Arrow IPC stream (default), Parquet or JSON
// @Tags sessions
// @Produce octet-stream
// @Param id path string true "Session ID"
// @Param format query string false "arrow, parquet or json"
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/export [get]
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	f := export.FormatArrow
	if q := strings.ToLower(r.URL.Query().Get("format")); q != "" {
		f = export.Format(q)
	}
	ct, ok := contentTypes[f]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", f))
		return
	}
	base := strings.TrimSuffix(sess.Filename, filepath.Ext(sess.Filename))
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+"."+string(f)))
	if err := export.WriteDataset(w, f, sess.Data); err != nil {
		level.Error(s.logger).Log("msg", "export failed", "session", sess.ID, "format", f, "err", err)
	}
}

// handleHealth reports server status
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Model: s.cfg.Model, Sessions: s.sessions.len()}
	switch rt := s.cfg.Runtime.(type) {
	case nil:
	case ai.Pinger:
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		err := rt.Ping(ctx)
		resp.ModelAvailable = err == nil
		if err != nil {
			level.Warn(s.logger).Log("msg", "model runtime unreachable", "reason", ai.Reason(err), "err", err)
		}
	default:
		resp.ModelAvailable = true
	}
	writeJSON(w, http.StatusOK, resp)
}
