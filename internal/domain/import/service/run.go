package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/dedup"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/jobstate"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

const dateLayout = "2006-01-02"

// memberColumn labels member resolution failures in error reports.
const memberColumn = "费用归属"

type stagedRow struct {
	record repository.Record
	key    string
	row    int
}

// chunk is the outcome of processing rows [start, next) before insertion.
type chunk struct {
	staged []stagedRow
	// dupes repeat a key staged earlier in the same chunk; they count as skipped
	// only once that earlier row is stored
	dupes    []stagedRow
	pending  map[string]bool
	skipped  int
	failures []parser.ParseError
	next     int
}

func (s *ImportService) run(ctx context.Context, j *job, req Request, result *parser.Result) {
	defer close(j.done)

	start := j.snapshot()
	ctx, span := s.tracer.Start(ctx, "ImportJob", trace.WithAttributes(
		attribute.String("import.id", start.ID.String()),
		attribute.String("import.kind", string(start.Kind)),
		attribute.Int("import.total", start.Total),
		attribute.Int("import.resume_index", j.next),
	))
	defer span.End()

	s.metrics.jobStarted()
	s.metrics.rowsInvalid(len(result.Errors))

	snap, idx, err := s.setup(ctx, req.Kind, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "setup failed")
		s.logger.Error("failed to prepare import", slog.String("import_id", start.ID.String()), slog.Any("error", err))
		s.finish(ctx, j, repository.JobStatusFailed, false)
		return
	}

	members := make(map[string]uuid.UUID)
	rows := result.Rows
	for pos := j.next; pos < len(rows); {
		if ctx.Err() != nil {
			s.finish(ctx, j, repository.JobStatusCanceled, false)
			return
		}
		end := min(pos+s.cfg.ChunkSize, len(rows))
		c, stopped := s.process(ctx, j, req, rows, pos, end, snap, idx, members)
		s.commit(ctx, j, idx, c)
		if stopped {
			s.finish(ctx, j, repository.JobStatusCanceled, false)
			return
		}
		pos = c.next
	}

	status := repository.JobStatusFailed
	if j.snapshot().Success > 0 {
		status = repository.JobStatusSuccess
	}
	s.finish(ctx, j, status, true)
}

// setup loads the taxonomy snapshot and the dedup index once per job.
func (s *ImportService) setup(ctx context.Context, kind parser.Kind, result *parser.Result) (*categorization.Snapshot, *dedup.Index, error) {
	var snap *categorization.Snapshot
	if kind == parser.KindExpense {
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			snap, err = s.taxonomy.Snapshot(ctx)
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load taxonomy: %w", err)
		}
	}

	from, to, ok := result.DateRange()
	if !ok {
		return snap, dedup.Build(nil), nil
	}
	fromDate, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid range start %q: %w", from, err)
	}
	toDate, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid range end %q: %w", to, err)
	}

	var existing []repository.Record
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		existing, err = s.records.QueryRange(ctx, kind, fromDate, toDate)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load existing records: %w", err)
	}
	return snap, dedup.Build(existing), nil
}

// process walks rows [start, end) and stages the ones to insert. It stops early
// when the job is cancelled, reporting stopped.
func (s *ImportService) process(
	ctx context.Context,
	j *job,
	req Request,
	rows []parser.ParsedRow,
	start, end int,
	snap *categorization.Snapshot,
	idx *dedup.Index,
	members map[string]uuid.UUID,
) (chunk, bool) {
	c := chunk{next: start}
	importID := j.snapshot().ID

	for i := start; i < end; i++ {
		if err := j.waitResume(ctx); err != nil {
			return c, true
		}
		if ctx.Err() != nil {
			return c, true
		}

		row := rows[i]
		c.next = i + 1

		memberID := req.MemberID
		if row.MemberName != "" {
			id, err := s.resolveMember(ctx, members, req.FamilyID, row.MemberName)
			if err != nil {
				c.failures = append(c.failures, parser.ParseError{
					Row:     row.RowNumber,
					Column:  memberColumn,
					Message: err.Error(),
					RawData: row.MemberName,
				})
				continue
			}
			memberID = &id
		}

		triple := categorization.Triple{Project: row.Project, Category: row.Category, SubCategory: row.SubCategory}
		if req.Kind == parser.KindExpense && snap != nil && !snap.Contains(triple) {
			triple = snap.Resolve(categorization.Candidate{
				Project:     row.Project,
				Category:    row.Category,
				SubCategory: row.SubCategory,
				Description: row.Description,
			}).Triple
		}

		date, err := time.Parse(dateLayout, row.Date)
		if err != nil {
			c.failures = append(c.failures, parser.ParseError{Row: row.RowNumber, Message: parser.MsgInvalidDate, RawData: row.Date})
			continue
		}

		key := dedup.Key(dedup.Fields{
			Date:        row.Date,
			Amount:      row.Amount,
			Category:    triple.Category,
			Description: row.Description,
			Project:     triple.Project,
			SubCategory: triple.SubCategory,
			MemberID:    memberID,
		})
		staged := stagedRow{
			key: key,
			row: row.RowNumber,
			record: repository.Record{
				ID:          uuid.New(),
				ImportID:    importID,
				Kind:        req.Kind,
				MemberID:    memberID,
				Project:     triple.Project,
				Category:    triple.Category,
				SubCategory: triple.SubCategory,
				Date:        date,
				Amount:      row.Amount,
				Description: row.Description,
				CreatedAt:   time.Now().UTC(),
			},
		}
		if !idx.Add(key) {
			if c.pending[key] {
				c.dupes = append(c.dupes, staged)
			} else {
				c.skipped++
			}
			continue
		}
		if c.pending == nil {
			c.pending = make(map[string]bool)
		}
		c.pending[key] = true
		c.staged = append(c.staged, staged)
	}
	return c, false
}

// resolveMember finds a member by name, creating it under the family when unseen.
func (s *ImportService) resolveMember(ctx context.Context, cache map[string]uuid.UUID, familyID uuid.UUID, name string) (uuid.UUID, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}

	var member *repository.Member
	err := s.withRetry(context.WithoutCancel(ctx), func(ctx context.Context) error {
		found, err := s.members.FindByName(ctx, familyID, name)
		if err != nil {
			return err
		}
		if found == nil {
			if found, err = s.members.Create(ctx, familyID, name); err != nil {
				return err
			}
			s.logger.Info("member created from import", slog.String("member", name), slog.String("member_id", found.ID.String()))
		}
		member = found
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve member %q: %w", name, err)
	}
	cache[name] = member.ID
	return member.ID, nil
}

// commit inserts a processed chunk, then checkpoints and reports progress. It
// runs to completion even when the job is being cancelled.
func (s *ImportService) commit(ctx context.Context, j *job, idx *dedup.Index, c chunk) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "CommitChunk", trace.WithAttributes(
		attribute.Int("chunk.staged", len(c.staged)),
		attribute.Int("chunk.next_row_index", c.next),
	))
	defer span.End()

	began := time.Now()
	inserted, insertFailures, lost := s.insertChunk(ctx, idx, c.staged)
	skipped := c.skipped
	for _, d := range c.dupes {
		// the first copy failed; this one takes its place
		if lost[d.key] && idx.Add(d.key) {
			if err := s.insertRow(ctx, d.record); err != nil {
				idx.Remove(d.key)
				insertFailures = append(insertFailures, parser.ParseError{Row: d.row, Message: err.Error()})
				continue
			}
			delete(lost, d.key)
			inserted++
			continue
		}
		skipped++
	}
	s.metrics.chunkCommitted(time.Since(began))

	failures := append(c.failures, insertFailures...)
	slices.SortStableFunc(failures, func(a, b parser.ParseError) int { return cmp.Compare(a.Row, b.Row) })
	if len(failures) > 0 {
		span.SetAttributes(attribute.Int("chunk.failed", len(failures)))
	}

	j.mu.Lock()
	j.snap.Processed += c.next - j.next
	j.snap.Success += inserted
	j.snap.Failed += len(failures)
	j.snap.Skipped += skipped
	j.snap.Errors = append(j.snap.Errors, failures...)
	j.insErrors = append(j.insErrors, failures...)
	j.next = c.next
	cp := jobstate.Checkpoint{
		Key:          j.snap.Key,
		ImportID:     j.snap.ID,
		Kind:         j.snap.Kind,
		NextRowIndex: j.next,
		Success:      j.snap.Success,
		Failed:       len(j.insErrors),
		Skipped:      j.snap.Skipped,
		Errors:       append([]parser.ParseError(nil), j.insErrors...),
	}
	progress := j.copyLocked()
	ev := j.eventLocked()
	j.mu.Unlock()

	s.metrics.rowsCommitted(inserted, len(failures), skipped)

	if err := s.checkpoints.Put(ctx, cp); err != nil {
		s.logger.Warn("failed to save import checkpoint", slog.String("import_id", cp.ImportID.String()), slog.Any("error", err))
	}
	if err := s.jobsRepo.UpdateJobProgress(ctx, &progress); err != nil {
		s.logger.Warn("failed to update import job progress", slog.String("import_id", cp.ImportID.String()), slog.Any("error", err))
	}
	s.emit(ctx, j, ev)
}

// insertChunk tries the whole chunk first and falls back to row by row so one
// bad row cannot sink its neighbours. Rows that still fail leave the dedup index
// and their keys are returned in lost.
func (s *ImportService) insertChunk(ctx context.Context, idx *dedup.Index, staged []stagedRow) (int, []parser.ParseError, map[string]bool) {
	if len(staged) == 0 {
		return 0, nil, nil
	}

	records := make([]repository.Record, len(staged))
	for i, st := range staged {
		records[i] = st.record
	}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.records.InsertMany(ctx, records)
	})
	if err == nil {
		return len(staged), nil, nil
	}
	s.logger.Warn("batch insert failed, inserting rows one by one",
		slog.Int("rows", len(staged)), slog.Any("error", err))

	inserted := 0
	var failures []parser.ParseError
	lost := make(map[string]bool)
	for _, st := range staged {
		if err := s.insertRow(ctx, st.record); err != nil {
			idx.Remove(st.key)
			lost[st.key] = true
			failures = append(failures, parser.ParseError{Row: st.row, Message: err.Error()})
			continue
		}
		inserted++
	}
	return inserted, failures, lost
}

func (s *ImportService) insertRow(ctx context.Context, record repository.Record) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.records.InsertOne(ctx, record)
	})
}

// withRetry runs fn up to RetryAttempts times, backing off exponentially
// between transient failures. Other errors are returned at once.
func (s *ImportService) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.cfg.RetryAttempts-1), retry.NewExponential(s.cfg.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if repository.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (s *ImportService) finish(ctx context.Context, j *job, status repository.JobStatus, dropCheckpoint bool) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	j.mu.Lock()
	j.resumeLocked()
	j.snap.Status = status
	j.snap.FinishedAt = &now
	final := j.copyLocked()
	ev := j.eventLocked()
	j.mu.Unlock()

	if dropCheckpoint {
		if err := s.checkpoints.Delete(ctx, final.Key); err != nil {
			s.logger.Warn("failed to delete import checkpoint", slog.String("import_id", final.ID.String()), slog.Any("error", err))
		}
	}
	if err := s.jobsRepo.FinishJob(ctx, &final); err != nil {
		s.logger.Warn("failed to finish import job", slog.String("import_id", final.ID.String()), slog.Any("error", err))
	}
	s.release(final.Key)
	j.cancel()

	s.metrics.jobFinished(status)
	s.logger.Info("import finished",
		slog.String("import_id", final.ID.String()),
		slog.String("status", string(status)),
		slog.Int("total", final.Total),
		slog.Int("success", final.Success),
		slog.Int("failed", final.Failed),
		slog.Int("skipped", final.Skipped))
	s.emit(ctx, j, ev)
}

func (s *ImportService) emit(ctx context.Context, j *job, e Event) {
	j.publish(e)
	for _, o := range s.observers {
		o.OnEvent(ctx, e)
	}
}
