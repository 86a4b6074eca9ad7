package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/jobstate"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

type fakeRecords struct {
	mu         sync.Mutex
	rows       []repository.Record
	manyCalls  int
	oneCalls   int
	manyErrs   []error // returned by successive InsertMany calls
	manyAlways error
	rejectOne  func(repository.Record) error
	afterMany  func(call int)
}

func (f *fakeRecords) InsertMany(_ context.Context, records []repository.Record) error {
	f.mu.Lock()
	f.manyCalls++
	call := f.manyCalls
	err := f.manyAlways
	if len(f.manyErrs) > 0 {
		err, f.manyErrs = f.manyErrs[0], f.manyErrs[1:]
	}
	if err == nil {
		f.rows = append(f.rows, records...)
	}
	hook := f.afterMany
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (f *fakeRecords) InsertOne(_ context.Context, record repository.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneCalls++
	if f.rejectOne != nil {
		if err := f.rejectOne(record); err != nil {
			return err
		}
	}
	f.rows = append(f.rows, record)
	return nil
}

func (f *fakeRecords) QueryRange(_ context.Context, kind parser.Kind, from, to time.Time) ([]repository.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Record
	for _, r := range f.rows {
		if r.Kind == kind && !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecords) DeleteByImportID(_ context.Context, importID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	var deleted int64
	for _, r := range f.rows {
		if r.ImportID == importID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return deleted, nil
}

func (f *fakeRecords) all() []repository.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.Record(nil), f.rows...)
}

type fakeMembers struct {
	mu      sync.Mutex
	byName  map[string]*repository.Member
	created int
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{byName: make(map[string]*repository.Member)}
}

func (f *fakeMembers) FindByName(_ context.Context, familyID uuid.UUID, name string) (*repository.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byName[familyID.String()+"/"+name], nil
}

func (f *fakeMembers) Create(_ context.Context, familyID uuid.UUID, name string) (*repository.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &repository.Member{ID: uuid.New(), FamilyID: familyID, Name: name, CreatedAt: time.Now()}
	f.byName[familyID.String()+"/"+name] = m
	f.created++
	return m, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]repository.ImportJob
	order   []uuid.UUID
	updates int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]repository.ImportJob)}
}

func (f *fakeJobs) CreateJob(_ context.Context, job *repository.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		f.order = append(f.order, job.ID)
	}
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobs) UpdateJobProgress(_ context.Context, job *repository.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobs) FinishJob(_ context.Context, job *repository.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobs) GetJob(_ context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return &job, nil
}

func (f *fakeJobs) ListJobsByStatus(_ context.Context, status repository.JobStatus) ([]*repository.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ImportJob
	for _, id := range f.order {
		if job := f.jobs[id]; job.Status == status {
			out = append(out, &job)
		}
	}
	return out, nil
}

func (f *fakeJobs) lastID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return uuid.Nil
	}
	return f.order[len(f.order)-1]
}

type fakeTaxonomy struct {
	triples []categorization.Triple
	err     error
}

func (f *fakeTaxonomy) Snapshot(context.Context) (*categorization.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return categorization.NewSnapshot(f.triples, categorization.Reconciler{}, false), nil
}

// countingStore counts checkpoint writes.
type countingStore struct {
	*jobstate.MemoryStore
	mu   sync.Mutex
	puts []jobstate.Checkpoint
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: jobstate.NewMemoryStore()}
}

func (s *countingStore) Put(ctx context.Context, cp jobstate.Checkpoint) error {
	s.mu.Lock()
	s.puts = append(s.puts, cp)
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, cp)
}

func (s *countingStore) written() []jobstate.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobstate.Checkpoint(nil), s.puts...)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnEvent(_ context.Context, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) all() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

type harness struct {
	svc         *ImportService
	records     *fakeRecords
	members     *fakeMembers
	jobs        *fakeJobs
	taxonomy    *fakeTaxonomy
	checkpoints *countingStore
	observer    *recordingObserver
}

var testFamily = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func newHarness(t *testing.T, chunkSize int, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		records:     &fakeRecords{},
		members:     newFakeMembers(),
		jobs:        newFakeJobs(),
		taxonomy:    &fakeTaxonomy{},
		checkpoints: newCountingStore(),
		observer:    &recordingObserver{},
	}
	h.svc = h.build(chunkSize, opts...)
	return h
}

// build creates a service over the harness stores, as a restarted process would.
func (h *harness) build(chunkSize int, opts ...Option) *ImportService {
	cfg := Config{
		ChunkSize:       chunkSize,
		RetryAttempts:   3,
		RetryBase:       time.Millisecond,
		ErrorPreview:    10,
		DefaultFamilyID: testFamily,
	}
	opts = append([]Option{WithObserver(h.observer)}, opts...)
	return NewImportService(h.records, h.members, h.jobs, h.taxonomy, h.checkpoints, cfg, testLogger(), opts...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var expenseHeader = parser.Headers(parser.KindExpense, parser.HeaderNew)

func csvFile(t testing.TB, header []string, rows [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
	return buf.Bytes()
}

// expenseRows builds n distinct rows spread over January 2025.
func expenseRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{
			"爸爸", "日常开支", "餐饮", "午餐",
			time.Date(2025, 1, 1+i%28, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			"35.50",
			"午饭 " + uuid.NewString()[:8],
		}
	}
	return rows
}

func lunchTaxonomy() []categorization.Triple {
	return []categorization.Triple{{Project: "日常开支", Category: "餐饮", SubCategory: "午餐"}}
}

func waitDone(t *testing.T, svc *ImportService, id uuid.UUID) *repository.ImportJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return job
}
