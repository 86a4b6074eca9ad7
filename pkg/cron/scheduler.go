// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/pkg/storage"
)

// CheckpointPruner removes stale resume points.
type CheckpointPruner interface {
	Prune(ctx context.Context, olderThan time.Time, keep []string) (int, error)
}

// JobLister lists persisted import jobs by status.
type JobLister interface {
	ListJobsByStatus(ctx context.Context, status repository.JobStatus) ([]*repository.ImportJob, error)
}

// ImportTracker reports the imports held in memory and drops finished ones.
type ImportTracker interface {
	ActiveKeys() []string
	Forget(cutoff time.Time) int
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron        *cron.Cron
	schedule    string
	retention   time.Duration
	checkpoints CheckpointPruner
	jobs        JobLister
	imports     ImportTracker
	uploads     storage.Storage // nil when uploads are not kept
	logger      *slog.Logger
	now         func() time.Time
}

// NewScheduler creates a janitor that runs on schedule and removes state older than retention.
func NewScheduler(schedule string, retention time.Duration, checkpoints CheckpointPruner, jobs JobLister, imports ImportTracker, uploads storage.Storage, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:        c,
		schedule:    schedule,
		retention:   retention,
		checkpoints: checkpoints,
		jobs:        jobs,
		imports:     imports,
		uploads:     uploads,
		logger:      logger,
		now:         time.Now,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow manually triggers a sweep (for testing/admin).
func (s *Scheduler) RunNow() {
	go s.sweep()
}

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Checkpoints int
	Uploads     int
	Jobs        int
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	s.logger.Info("starting import state cleanup")
	res := s.Sweep(ctx)
	s.logger.Info("import state cleanup completed",
		slog.Int("checkpoints_pruned", res.Checkpoints),
		slog.Int("uploads_deleted", res.Uploads),
		slog.Int("jobs_forgotten", res.Jobs),
	)
}

// Sweep prunes checkpoints and uploads older than the retention and forgets
// finished jobs. State of unfinished jobs, paused ones included, is kept.
// Failures are logged and do not stop the other steps.
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	cutoff := s.now().Add(-s.retention)
	var res SweepResult

	running, err := s.jobs.ListJobsByStatus(ctx, repository.JobStatusProcessing)
	if err != nil {
		// without the job list nothing can be proven unused
		s.logger.Error("failed to list unfinished imports", slog.Any("error", err))
		if s.imports != nil {
			res.Jobs = s.imports.Forget(cutoff)
		}
		return res
	}

	var keep []string
	if s.imports != nil {
		keep = s.imports.ActiveKeys()
	}
	for _, job := range running {
		keep = append(keep, job.Key)
	}
	pruned, err := s.checkpoints.Prune(ctx, cutoff, keep)
	if err != nil {
		s.logger.Error("failed to prune checkpoints", slog.Any("error", err))
	}
	res.Checkpoints = pruned

	if s.uploads != nil {
		deleted, err := s.pruneUploads(ctx, cutoff, running)
		if err != nil {
			s.logger.Error("failed to prune uploads", slog.Any("error", err))
		}
		res.Uploads = deleted
	}

	if s.imports != nil {
		res.Jobs = s.imports.Forget(cutoff)
	}
	return res
}

func (s *Scheduler) pruneUploads(ctx context.Context, cutoff time.Time, running []*repository.ImportJob) (int, error) {
	inUse := make(map[string]bool, len(running))
	for _, job := range running {
		if job.UploadKey != "" {
			inUse[job.UploadKey] = true
		}
	}

	var stale []*storage.FileInfo
	err := s.uploads.Walk(ctx, func(info *storage.FileInfo) error {
		if info.CreatedAt.Before(cutoff) && !inUse[info.ID.String()] {
			stale = append(stale, info)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, info := range stale {
		if err := s.uploads.Delete(ctx, info.OwnerID, info.ID); err != nil {
			s.logger.Warn("failed to delete upload",
				slog.String("file_id", info.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		deleted++
	}
	return deleted, nil
}
