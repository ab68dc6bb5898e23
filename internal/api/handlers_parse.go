package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/export"
	"github.com/pvbaptista/orcaparse/internal/pipeline"
)

// parseForm reads the multipart fields common to the parse endpoints. The
// composition range is optional: both fields absent (or zero) means the
// annex is skipped.
func (s *Server) parseForm(r *http.Request) (pipeline.Request, error) {
	req := pipeline.Request{
		SourceID:     formOr(r, "fonte", "sinapi"),
		BaseID:       r.FormValue("base_id"),
		WorkName:     r.FormValue("obra_nome"),
		WorkLocation: r.FormValue("obra_localizacao"),
	}

	var err error
	if req.BudgetStart, err = formInt(r, "orcamento_inicio"); err != nil {
		return req, err
	}
	if req.BudgetEnd, err = formInt(r, "orcamento_fim"); err != nil {
		return req, err
	}
	if req.CompositionStart, err = formIntOr(r, "composicoes_inicio", 0); err != nil {
		return req, err
	}
	if req.CompositionEnd, err = formIntOr(r, "composicoes_fim", 0); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) readPDF(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	file, _, err := formFile(r, "pdf", "file")
	if err != nil {
		jsonError(w, "pdf is required: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read pdf", http.StatusInternalServerError)
		return nil, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("pdf exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

// handleParse runs one document synchronously. Caller-contract problems
// (bad form, unknown source, out-of-range pages) are 4xx; data-quality
// findings come back inside validacao, except that a strict rule set with
// erros answers 422.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runSync(w, r)
	if !ok {
		return
	}
	if s.strictFailure(res) {
		writeStrictFailure(w, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleParseExport is handleParse with an XLSX body instead of JSON.
func (s *Server) handleParseExport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runSync(w, r)
	if !ok {
		return
	}
	if s.strictFailure(res) {
		writeStrictFailure(w, res)
		return
	}
	writeXLSX(w, res)
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) (*budget.Result, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	req, err := s.parseForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	data, ok := s.readPDF(w, r)
	if !ok {
		return nil, false
	}
	req.PDF = data

	res, err := s.orchestrator.Runner().Run(r.Context(), req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return res, true
}

// strictFailure reports whether the rule set the parse ran under routes its
// validation errors as a rejection. Result.Source carries that id;
// Result.BaseID is the caller's document label and must not be used here.
func (s *Server) strictFailure(res *budget.Result) bool {
	rs := s.rules.Get(res.Source)
	if rs == nil {
		rs = s.rules.Get("sinapi")
	}
	return rs != nil && rs.Validation.Strict && len(res.Validation.Errors) > 0
}

func writeStrictFailure(w http.ResponseWriter, res *budget.Result) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message":      "documento rejeitado pela validação estrita",
		"erros":        res.Validation.Errors,
		"avisos":       res.Validation.Warnings,
		"divergencias": res.Validation.Discrepancies,
	})
}

// handleBatchParse queues one asynchronous job per uploaded file; all files
// share the same page ranges and context fields.
func (s *Server) handleBatchParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	base, err := s.parseForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var results []map[string]any
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			results = append(results, map[string]any{
				"filename": fh.Filename,
				"error":    "failed to open file",
			})
			continue
		}

		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil || int64(len(data)) > s.cfg.MaxUploadBytes {
			results = append(results, map[string]any{
				"filename": fh.Filename,
				"error":    "file too large or read error",
			})
			continue
		}

		req := base
		req.PDF = data
		if req.BaseID == "" {
			req.BaseID = fh.Filename
		}
		job := pipeline.NewJob(req)

		if err := s.orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{
				"filename": fh.Filename,
				"error":    err.Error(),
			})
			continue
		}

		snap := job.Snapshot()
		results = append(results, map[string]any{
			"filename": fh.Filename,
			"job_id":   snap.ID,
			"base_id":  snap.BaseID,
			"status":   snap.Status,
			"poll_url": fmt.Sprintf("/api/parse/%s/status", snap.ID),
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

func (s *Server) handleParseStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleJobExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	res := job.Result()
	if res == nil {
		jsonError(w, "job not completed", http.StatusConflict)
		return
	}
	writeXLSX(w, res)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	ids := s.rules.IDs()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]any{"fontes": ids})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeXLSX(w http.ResponseWriter, res *budget.Result) {
	name := res.BaseID
	if name == "" {
		name = "orcamento"
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
	if err := export.WriteXLSX(w, res); err != nil {
		// Headers are already out; nothing left to do but log via the
		// request logger's status.
		return
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func formOr(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

func formInt(r *http.Request, key string) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %q", key, v)
	}
	return n, nil
}

func formIntOr(r *http.Request, key string, fallback int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %q", key, v)
	}
	return n, nil
}

func formFile(r *http.Request, keys ...string) (multipart.File, *multipart.FileHeader, error) {
	var err error
	for _, key := range keys {
		var f multipart.File
		var h *multipart.FileHeader
		f, h, err = r.FormFile(key)
		if err == nil {
			return f, h, nil
		}
	}
	return nil, nil, err
}
