// Package service drives spreadsheet imports end to end: parse, reconcile,
// deduplicate, insert in chunks and checkpoint after every chunk.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/jobstate"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/household-ledger/pkg/storage"
)

var (
	ErrSchema         = errors.New("header does not match any import template")
	ErrUnreadableFile = errors.New("file is not a readable spreadsheet")
	ErrInvalidKind    = errors.New("unknown import kind")
	ErrJobRunning     = errors.New("the same file is already being imported")
	ErrJobFinished    = errors.New("import job already finished")
	ErrJobNotFound    = repository.ErrJobNotFound
)

// SchemaError carries the single schema-level error of a rejected file.
type SchemaError struct {
	Detail parser.ParseError
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: got %q", ErrSchema, e.Detail.RawData)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// Request describes one upload to import.
type Request struct {
	Kind     parser.Kind
	Scope    string // narrows the resume key, e.g. a member id
	FamilyID uuid.UUID
	// MemberID is used for rows without a member name
	MemberID *uuid.UUID
	FileName string
	Data     []byte

	// importID and uploadKey are set when an interrupted job is restarted
	importID  uuid.UUID
	uploadKey string
}

// Event is a progress notification emitted after each chunk and on every
// status change.
type Event struct {
	ImportID  uuid.UUID            `json:"import_id"`
	Kind      parser.Kind          `json:"kind"`
	Status    repository.JobStatus `json:"status"`
	Total     int                  `json:"total"`
	Processed int                  `json:"processed"`
	Success   int                  `json:"success"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
	Paused    bool                 `json:"paused"`
	Errors    []parser.ParseError  `json:"errors"`
}

// Terminal reports whether no further events follow.
func (e Event) Terminal() bool { return e.Status.Terminal() }

// Observer receives every event of every job. Implementations must not block.
type Observer interface {
	OnEvent(ctx context.Context, e Event)
}

// TaxonomyLoader provides the taxonomy snapshot a job reconciles against.
type TaxonomyLoader interface {
	Snapshot(ctx context.Context) (*categorization.Snapshot, error)
}

// Config tunes chunking and retries.
type Config struct {
	ChunkSize       int
	RetryAttempts   int
	RetryBase       time.Duration
	ErrorPreview    int
	DefaultFamilyID uuid.UUID
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 200
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.ErrorPreview <= 0 {
		c.ErrorPreview = 10
	}
	return c
}

// ImportService handles import business logic
type ImportService struct {
	records     repository.RecordStore
	members     repository.MemberDirectory
	jobsRepo    repository.JobRepository
	taxonomy    TaxonomyLoader
	checkpoints jobstate.Store
	uploads     storage.Storage
	logger      *slog.Logger
	cfg         Config
	observers   []Observer
	metrics     *Metrics
	tracer      trace.Tracer

	mu     sync.Mutex
	jobs   map[uuid.UUID]*job
	active map[string]uuid.UUID // resume key -> running import
}

// Option configures an ImportService.
type Option func(*ImportService)

// WithUploads keeps every upload so interrupted jobs can be recovered.
func WithUploads(uploads storage.Storage) Option {
	return func(s *ImportService) { s.uploads = uploads }
}

// WithObserver adds an observer for progress events.
func WithObserver(o Observer) Option {
	return func(s *ImportService) { s.observers = append(s.observers, o) }
}

// WithMetrics records prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *ImportService) { s.metrics = m }
}

// NewImportService creates a new import service
func NewImportService(
	records repository.RecordStore,
	members repository.MemberDirectory,
	jobsRepo repository.JobRepository,
	taxonomy TaxonomyLoader,
	checkpoints jobstate.Store,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *ImportService {
	s := &ImportService{
		records:     records,
		members:     members,
		jobsRepo:    jobsRepo,
		taxonomy:    taxonomy,
		checkpoints: checkpoints,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		tracer:      otel.Tracer("github.com/FACorreiaa/household-ledger/import"),
		jobs:        make(map[uuid.UUID]*job),
		active:      make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the file and launches the import in the background. Only a
// bad request or a rejected header is returned as an error; everything after
// that surfaces through Status and Subscribe.
func (s *ImportService) Start(ctx context.Context, req Request) (*repository.ImportJob, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
	if req.FamilyID == uuid.Nil {
		req.FamilyID = s.cfg.DefaultFamilyID
	}

	grid, err := parser.ReadGrid(req.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}
	result := parser.Parse(grid, req.Kind)
	if result.SchemaFailed() {
		detail := parser.ParseError{Row: 1, Message: parser.MsgSchemaInvalid}
		if len(result.Errors) > 0 {
			detail = result.Errors[0]
		}
		return nil, &SchemaError{Detail: detail}
	}

	key := jobstate.Key(sniffer.Fingerprint(req.Data), req.Kind, req.Scope)

	s.mu.Lock()
	if running, ok := s.active[key]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, running)
	}
	// reserve the key while the checkpoint is read
	s.active[key] = uuid.Nil
	s.mu.Unlock()

	j := s.prepare(ctx, req, key, result)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancel
	snapshot := j.snapshot()

	s.mu.Lock()
	s.active[key] = snapshot.ID
	s.jobs[snapshot.ID] = j
	s.mu.Unlock()

	s.emit(runCtx, j, j.event())
	go s.run(runCtx, j, req, result)

	return &snapshot, nil
}

func (s *ImportService) prepare(ctx context.Context, req Request, key string, result *parser.Result) *job {
	cp, err := s.checkpoints.Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read import checkpoint, starting from the first row",
			slog.String("key", key), slog.Any("error", err))
		cp = nil
	}

	importID := req.importID
	next := 0
	if cp != nil {
		importID = cp.ImportID
		next = min(cp.NextRowIndex, len(result.Rows))
	}
	if importID == uuid.Nil {
		importID = uuid.New()
	}

	uploadKey := req.uploadKey
	if uploadKey == "" && s.uploads != nil {
		info, err := s.uploads.Upload(ctx, req.FamilyID, req.FileName, "application/octet-stream", bytes.NewReader(req.Data))
		if err != nil {
			s.logger.Warn("failed to store upload, job cannot be recovered after a restart",
				slog.String("import_id", importID.String()), slog.Any("error", err))
		} else {
			uploadKey = info.ID.String()
		}
	}

	validation := len(result.Errors)
	snap := repository.ImportJob{
		ID:        importID,
		Kind:      req.Kind,
		Scope:     req.Scope,
		Key:       key,
		UploadKey: uploadKey,
		FamilyID:  req.FamilyID,
		MemberID:  req.MemberID,
		Status:    repository.JobStatusProcessing,
		Total:     result.Total(),
		Processed: validation + next,
		Failed:    validation,
		Errors:    append([]parser.ParseError(nil), result.Errors...),
		StartedAt: time.Now().UTC(),
	}
	if cp != nil {
		snap.Success = cp.Success
		snap.Failed += cp.Failed
		snap.Skipped = cp.Skipped
		snap.Errors = append(snap.Errors, cp.Errors...)
		s.logger.Info("resuming import from checkpoint",
			slog.String("import_id", importID.String()),
			slog.Int("next_row_index", next),
			slog.Int("success", cp.Success))
	}

	if err := s.jobsRepo.CreateJob(ctx, &snap); err != nil {
		s.logger.Warn("failed to persist import job", slog.String("import_id", importID.String()), slog.Any("error", err))
	}

	return &job{
		snap:      snap,
		next:      next,
		insErrors: cpErrors(cp),
		preview:   s.cfg.ErrorPreview,
		done:      make(chan struct{}),
		subs:      make(map[int]chan Event),
	}
}

func cpErrors(cp *jobstate.Checkpoint) []parser.ParseError {
	if cp == nil {
		return nil
	}
	return append([]parser.ParseError(nil), cp.Errors...)
}

func (s *ImportService) release(key string) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
}

func (s *ImportService) lookup(id uuid.UUID) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Status returns the last known state of a job.
func (s *ImportService) Status(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	if j, ok := s.lookup(id); ok {
		snapshot := j.snapshot()
		return &snapshot, nil
	}
	return s.jobsRepo.GetJob(ctx, id)
}

// Wait blocks until the job ends or ctx is done.
func (s *ImportService) Wait(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	j, ok := s.lookup(id)
	if !ok {
		return s.jobsRepo.GetJob(ctx, id)
	}
	select {
	case <-j.done:
		snapshot := j.snapshot()
		return &snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause holds the job before its next row until Resume is called.
func (s *ImportService) Pause(ctx context.Context, id uuid.UUID) error {
	j, err := s.running(ctx, id)
	if err != nil {
		return err
	}
	if j.pause() {
		s.logger.Info("import paused", slog.String("import_id", id.String()))
		s.emit(ctx, j, j.event())
	}
	return nil
}

// Resume releases a paused job.
func (s *ImportService) Resume(ctx context.Context, id uuid.UUID) error {
	j, err := s.running(ctx, id)
	if err != nil {
		return err
	}
	if j.resume() {
		s.logger.Info("import resumed", slog.String("import_id", id.String()))
		s.emit(ctx, j, j.event())
	}
	return nil
}

// Cancel stops the job after flushing its staged rows. Inserted rows are kept.
func (s *ImportService) Cancel(ctx context.Context, id uuid.UUID) error {
	j, err := s.running(ctx, id)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

func (s *ImportService) running(ctx context.Context, id uuid.UUID) (*job, error) {
	j, ok := s.lookup(id)
	if !ok {
		if _, err := s.jobsRepo.GetJob(ctx, id); err == nil {
			return nil, ErrJobFinished
		}
		return nil, ErrJobNotFound
	}
	if j.status().Terminal() {
		return nil, ErrJobFinished
	}
	return j, nil
}

// Rollback deletes every record tagged with the import and drops its
// checkpoint, cancelling the job first when it is still running.
func (s *ImportService) Rollback(ctx context.Context, id uuid.UUID) (int64, error) {
	var key string
	if j, ok := s.lookup(id); ok {
		j.cancel()
		select {
		case <-j.done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		key = j.snapshot().Key
	} else {
		persisted, err := s.jobsRepo.GetJob(ctx, id)
		if err != nil {
			return 0, err
		}
		key = persisted.Key
	}

	deleted, err := s.records.DeleteByImportID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to roll back import %s: %w", id, err)
	}
	if key != "" {
		if err := s.checkpoints.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete checkpoint after rollback", slog.String("import_id", id.String()), slog.Any("error", err))
		}
	}
	s.logger.Info("import rolled back", slog.String("import_id", id.String()), slog.Int64("deleted", deleted))
	return deleted, nil
}

// Subscribe returns a channel of the job's events. The channel is closed after
// the terminal event; a slow reader misses intermediate events but never the
// terminal one. Call the returned func to stop early.
func (s *ImportService) Subscribe(id uuid.UUID) (<-chan Event, func(), error) {
	j, ok := s.lookup(id)
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	ch, unsubscribe := j.subscribe()
	return ch, unsubscribe, nil
}

// ReconcileCandidates resolves AI-parsed candidates against the current taxonomy.
func (s *ImportService) ReconcileCandidates(ctx context.Context, candidates []categorization.Candidate) ([]categorization.Resolution, error) {
	snap, err := s.taxonomy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ResolveAll(candidates), nil
}

// RecoverInterrupted restarts jobs left in processing by a previous process.
// Each resumes from its checkpoint. Jobs whose upload is gone are marked failed.
func (s *ImportService) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := s.jobsRepo.ListJobsByStatus(ctx, repository.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted imports: %w", err)
	}

	recovered := 0
	for _, persisted := range stale {
		if _, ok := s.lookup(persisted.ID); ok {
			continue
		}
		data, name, err := s.loadUpload(ctx, persisted)
		if err != nil {
			s.logger.Warn("cannot recover import, marking it failed",
				slog.String("import_id", persisted.ID.String()), slog.Any("error", err))
			s.abandon(ctx, persisted)
			continue
		}
		_, err = s.Start(ctx, Request{
			Kind:      persisted.Kind,
			Scope:     persisted.Scope,
			FamilyID:  persisted.FamilyID,
			MemberID:  persisted.MemberID,
			FileName:  name,
			Data:      data,
			importID:  persisted.ID,
			uploadKey: persisted.UploadKey,
		})
		if err != nil {
			s.logger.Warn("failed to restart import", slog.String("import_id", persisted.ID.String()), slog.Any("error", err))
			s.abandon(ctx, persisted)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered interrupted imports", slog.Int("count", recovered))
	}
	return recovered, nil
}

func (s *ImportService) loadUpload(ctx context.Context, persisted *repository.ImportJob) ([]byte, string, error) {
	if s.uploads == nil || persisted.UploadKey == "" {
		return nil, "", storage.ErrNotFound
	}
	fileID, err := uuid.Parse(persisted.UploadKey)
	if err != nil {
		return nil, "", fmt.Errorf("invalid upload key %q: %w", persisted.UploadKey, err)
	}
	rc, info, err := s.uploads.Download(ctx, persisted.FamilyID, fileID)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	return data, info.Name, nil
}

func (s *ImportService) abandon(ctx context.Context, persisted *repository.ImportJob) {
	now := time.Now().UTC()
	persisted.Status = repository.JobStatusFailed
	persisted.FinishedAt = &now
	if err := s.jobsRepo.FinishJob(ctx, persisted); err != nil {
		s.logger.Warn("failed to finish import job", slog.String("import_id", persisted.ID.String()), slog.Any("error", err))
	}
}

// Forget drops finished jobs from memory once they ended before cutoff.
// Their persisted state stays available through Status.
func (s *ImportService) Forget(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		snap := j.snapshot()
		if snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// ActiveKeys returns the resume keys of imports that are running or paused.
func (s *ImportService) ActiveKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.active))
	for key := range s.active {
		keys = append(keys, key)
	}
	return keys
}

// Uploads returns the upload store, or nil when uploads are not kept.
func (s *ImportService) Uploads() storage.Storage {
	return s.uploads
}
