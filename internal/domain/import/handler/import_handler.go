package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/household-ledger/internal/domain/import/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Importer is the part of the import service exposed over HTTP.
type Importer interface {
	Start(ctx context.Context, req importservice.Request) (*repository.ImportJob, error)
	Status(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error)
	Subscribe(id uuid.UUID) (<-chan importservice.Event, func(), error)
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Rollback(ctx context.Context, id uuid.UUID) (int64, error)
	ReconcileCandidates(ctx context.Context, candidates []categorization.Candidate) ([]categorization.Resolution, error)
}

// ImportHandler serves the import REST API
type ImportHandler struct {
	importSvc      Importer
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc Importer, maxUploadBytes int64, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		importSvc:      importSvc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes mounts the handler's endpoints on r.
func (h *ImportHandler) Routes(r chi.Router) {
	r.Route("/v1/imports", func(r chi.Router) {
		r.Post("/", h.StartImport)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetImport)
			r.Get("/events", h.StreamEvents)
			r.Get("/errors.csv", h.DownloadErrors)
			r.Post("/pause", h.control(h.importSvc.Pause))
			r.Post("/resume", h.control(h.importSvc.Resume))
			r.Post("/cancel", h.control(h.importSvc.Cancel))
			r.Post("/rollback", h.RollbackImport)
		})
	})
	r.Post("/v1/reconcile", h.Reconcile)
	r.Get("/v1/templates/{kind}.xlsx", h.DownloadTemplate)
}

// StartImport accepts a multipart upload in the "file" field and starts the job.
func (h *ImportHandler) StartImport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := importservice.Request{
		Kind:  parser.Kind(query.Get("kind")),
		Scope: query.Get("scope"),
	}
	if v := query.Get("family_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid family_id")
			return
		}
		req.FamilyID = id
	}
	if v := query.Get("member_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid member_id")
			return
		}
		req.MemberID = &id
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	req.Data = data
	req.FileName = header.Filename

	job, err := h.importSvc.Start(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("import started",
		slog.String("import_id", job.ID.String()),
		slog.String("kind", string(job.Kind)),
		slog.String("file", req.FileName),
		slog.Int("total", job.Total))
	writeJSON(w, http.StatusAccepted, job)
}

// GetImport returns the job's current state.
func (h *ImportHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	job, err := h.importSvc.Status(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StreamEvents writes progress events as server-sent events until the job ends
// or the client goes away.
func (h *ImportHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe, err := h.importSvc.Subscribe(id)
	if errors.Is(err, importservice.ErrJobNotFound) {
		// the job may have finished in a previous process
		job, statusErr := h.importSvc.Status(r.Context(), id)
		if statusErr != nil {
			h.writeServiceError(w, r, statusErr)
			return
		}
		ch := make(chan importservice.Event, 1)
		ch <- eventFromJob(job)
		close(ch)
		events, unsubscribe, err = ch, func() {}, nil
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, e); err != nil {
				h.logger.Debug("event stream closed", slog.String("import_id", id.String()), slog.Any("error", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, e importservice.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	name := "progress"
	if e.Terminal() {
		name = "done"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func eventFromJob(job *repository.ImportJob) importservice.Event {
	return importservice.Event{
		ImportID:  job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Total:     job.Total,
		Processed: job.Processed,
		Success:   job.Success,
		Failed:    job.Failed,
		Skipped:   job.Skipped,
		Paused:    job.Paused,
		Errors:    job.Errors,
	}
}

// DownloadErrors returns every row error of the job as CSV.
func (h *ImportHandler) DownloadErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	job, err := h.importSvc.Status(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	report, err := parser.ErrorReportCSV(job.Errors)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import-%s-errors.csv"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}

func (h *ImportHandler) control(action func(context.Context, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := importID(w, r)
		if !ok {
			return
		}
		if err := action(r.Context(), id); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		job, err := h.importSvc.Status(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

// RollbackImport deletes every record the import inserted.
func (h *ImportHandler) RollbackImport(w http.ResponseWriter, r *http.Request) {
	id, ok := importID(w, r)
	if !ok {
		return
	}
	deleted, err := h.importSvc.Rollback(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"import_id": id, "deleted": deleted})
}

type reconcileRequest struct {
	Candidates []categorization.Candidate `json:"candidates"`
}

type reconcileResponse struct {
	Results []categorization.Resolution `json:"results"`
}

// Reconcile maps AI-parsed candidates onto the household taxonomy.
func (h *ImportHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var body reconcileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	results, err := h.importSvc.ReconcileCandidates(r.Context(), body.Candidates)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []categorization.Resolution{}
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Results: results})
}

// DownloadTemplate serves the empty XLSX template of a kind.
func (h *ImportHandler) DownloadTemplate(w http.ResponseWriter, r *http.Request) {
	kind := parser.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown template")
		return
	}
	data, err := parser.Template(kind)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-template.xlsx"`, kind))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func importID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import id")
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error  string             `json:"error"`
	Detail *parser.ParseError `json:"detail,omitempty"`
}

func (h *ImportHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var schemaErr *importservice.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: parser.MsgSchemaInvalid, Detail: &schemaErr.Detail})
	case errors.Is(err, importservice.ErrInvalidKind), errors.Is(err, importservice.ErrUnreadableFile):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, importservice.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "import not found")
	case errors.Is(err, importservice.ErrJobRunning), errors.Is(err, importservice.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.logger.Error("import request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
