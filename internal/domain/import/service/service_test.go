package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/pkg/money"
	"github.com/FACorreiaa/household-ledger/pkg/storage"
)

func TestStart_ImportsLargeFileInChunks(t *testing.T) {
	h := newHarness(t, 200)
	gen := money.NewTestDataGeneratorWithSeed(7)
	rows := make([][]string, 0, 5000)
	for _, r := range gen.ExpenseRows(5000) {
		rows = append(rows, r.Cells())
	}
	data := csvFile(t, expenseHeader, rows)

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, FileName: "ledger.csv", Data: data})
	require.NoError(t, err)
	assert.Equal(t, 5000, job.Total)
	assert.Equal(t, repository.JobStatusProcessing, job.Status)

	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusSuccess, final.Status)
	assert.Equal(t, 5000, final.Success)
	assert.Equal(t, 5000, final.Processed)
	assert.Zero(t, final.Failed)
	assert.Empty(t, final.Errors)
	require.NotNil(t, final.FinishedAt)

	puts := h.checkpoints.written()
	require.Len(t, puts, 25)
	for i, cp := range puts {
		assert.Equal(t, (i+1)*200, cp.NextRowIndex)
		assert.Equal(t, job.ID, cp.ImportID)
	}
	assert.Equal(t, 25, h.records.manyCalls)
	assert.Len(t, h.records.all(), 5000)

	cp, err := h.checkpoints.Get(context.Background(), final.Key)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint is deleted on success")

	persisted, err := h.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.JobStatusSuccess, persisted.Status)
	assert.Equal(t, 25, h.jobs.updates)
}

func TestStart_SecondImportIsFullyDeduplicated(t *testing.T) {
	h := newHarness(t, 4)
	h.taxonomy.triples = lunchTaxonomy()
	data := csvFile(t, expenseHeader, expenseRows(10))

	first, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	firstFinal := waitDone(t, h.svc, first.ID)
	assert.Equal(t, 10, firstFinal.Success)

	second, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	final := waitDone(t, h.svc, second.ID)
	assert.Equal(t, 0, final.Success)
	assert.Equal(t, 10, final.Skipped)
	assert.Equal(t, repository.JobStatusFailed, final.Status)
	assert.Len(t, h.records.all(), 10)
	assert.Equal(t, 1, h.members.created, "member is created once and found afterwards")
}

func TestStart_DuplicateRowsWithinFile(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = lunchTaxonomy()
	row := []string{"爸爸", "日常开支", "餐饮", "午餐", "2025-01-14", "35.5", "牛肉面"}
	data := csvFile(t, expenseHeader, [][]string{row, row, {"爸爸", "日常开支", "餐饮", "午餐", "2025-01-14", "35.50", "牛肉面"}})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)

	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, 1, final.Success)
	assert.Equal(t, 2, final.Skipped)
}

func TestStart_ResumeMatchesUninterruptedRun(t *testing.T) {
	rows := expenseRows(9)
	rows = append(rows, []string{"妈妈", "日常开支", "餐饮", "午餐", "2025-01-20", "abc", "坏金额"})
	data := csvFile(t, expenseHeader, rows)

	baseline := newHarness(t, 3)
	baseline.taxonomy.triples = lunchTaxonomy()
	job, err := baseline.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	want := waitDone(t, baseline.svc, job.ID)

	h := newHarness(t, 3)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.afterMany = func(call int) {
		if call == 2 {
			_ = h.svc.Cancel(context.Background(), h.jobs.lastID())
		}
	}
	interrupted, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	stopped := waitDone(t, h.svc, interrupted.ID)
	require.Equal(t, repository.JobStatusCanceled, stopped.Status)
	assert.Equal(t, 6, stopped.Success)

	cp, err := h.checkpoints.Get(context.Background(), stopped.Key)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 6, cp.NextRowIndex)

	// a fresh process over the same stores picks the checkpoint up
	h.records.afterMany = nil
	restarted := h.build(3)
	resumed, err := restarted.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	assert.Equal(t, interrupted.ID, resumed.ID)
	assert.Equal(t, 7, resumed.Processed, "validation error plus the committed rows")

	got := waitDone(t, restarted, resumed.ID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Success, got.Success)
	assert.Equal(t, want.Failed, got.Failed)
	assert.Equal(t, want.Skipped, got.Skipped)
	assert.Equal(t, want.Processed, got.Processed)
	assert.Len(t, h.records.all(), 9)
}

func TestCancel_KeepsRowsAndRollbackRemovesThem(t *testing.T) {
	h := newHarness(t, 2)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.afterMany = func(call int) {
		if call == 1 {
			_ = h.svc.Cancel(context.Background(), h.jobs.lastID())
		}
	}
	data := csvFile(t, expenseHeader, expenseRows(6))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)

	assert.Equal(t, repository.JobStatusCanceled, final.Status)
	assert.Equal(t, 2, final.Success)
	assert.Len(t, h.records.all(), 2)

	err = h.svc.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobFinished)

	deleted, err := h.svc.Rollback(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Empty(t, h.records.all())

	cp, err := h.checkpoints.Get(context.Background(), final.Key)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRollback_UsesPersistedJob(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = lunchTaxonomy()
	data := csvFile(t, expenseHeader, expenseRows(3))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	waitDone(t, h.svc, job.ID)

	restarted := h.build(200)
	deleted, err := restarted.Rollback(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, err = restarted.Rollback(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, 2)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.afterMany = func(call int) {
		if call == 1 {
			_ = h.svc.Pause(context.Background(), h.jobs.lastID())
		}
	}
	data := csvFile(t, expenseHeader, expenseRows(6))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := h.svc.Status(context.Background(), job.ID)
		return err == nil && st.Paused && st.Processed == 2
	}, 5*time.Second, 5*time.Millisecond)

	_, err = h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	assert.ErrorIs(t, err, ErrJobRunning)
	paused, err := h.svc.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{paused.Key}, h.svc.ActiveKeys(), "paused jobs stay active")

	time.Sleep(20 * time.Millisecond)
	st, err := h.svc.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Processed, "no rows are processed while paused")

	require.NoError(t, h.svc.Resume(context.Background(), job.ID))
	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusSuccess, final.Status)
	assert.Equal(t, 6, final.Success)
	assert.False(t, final.Paused)
	assert.Empty(t, h.svc.ActiveKeys())
}

func TestCancelWhilePaused(t *testing.T) {
	h := newHarness(t, 2)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.afterMany = func(call int) {
		if call == 1 {
			_ = h.svc.Pause(context.Background(), h.jobs.lastID())
		}
	}
	data := csvFile(t, expenseHeader, expenseRows(6))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := h.svc.Status(context.Background(), job.ID)
		return err == nil && st.Paused
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.Cancel(context.Background(), job.ID))
	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusCanceled, final.Status)
	assert.Equal(t, 2, final.Success)
	assert.False(t, final.Paused)
}

func TestStart_SchemaError(t *testing.T) {
	h := newHarness(t, 200)
	data := csvFile(t, []string{"日期", "金额", "说明"}, [][]string{{"2025-01-14", "35.5", "牛肉面"}})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.Error(t, err)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrSchema)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, 1, schemaErr.Detail.Row)
	assert.Contains(t, schemaErr.Detail.Message, parser.MsgSchemaInvalid)
	assert.Equal(t, uuid.Nil, h.jobs.lastID(), "no job is created")
}

func TestStart_RequestErrors(t *testing.T) {
	h := newHarness(t, 200)

	_, err := h.svc.Start(context.Background(), Request{Kind: "income", Data: []byte("a,b\n")})
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: nil})
	assert.ErrorIs(t, err, ErrUnreadableFile)
}

func TestStart_SevenColumnRow(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = []categorization.Triple{{Project: "餐饮", Category: "一日三餐", SubCategory: "午餐"}}
	data := csvFile(t, expenseHeader, [][]string{{"爸爸", "餐饮", "一日三餐", "午餐", "2025-01-14", "35.5", "牛肉面"}})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusSuccess, final.Status)
	assert.Equal(t, 1, final.Success)

	records := h.records.all()
	require.Len(t, records, 1)
	rec := records[0]
	member, err := h.members.FindByName(context.Background(), testFamily, "爸爸")
	require.NoError(t, err)
	require.NotNil(t, member)
	require.NotNil(t, rec.MemberID)
	assert.Equal(t, member.ID, *rec.MemberID)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("35.5")))
	assert.Equal(t, "2025-01-14", rec.Date.Format("2006-01-02"))
	assert.Equal(t, "餐饮", rec.Project)
	assert.Equal(t, "牛肉面", rec.Description)
	assert.Equal(t, job.ID, rec.ImportID)
}

func TestStart_InvalidAmountRow(t *testing.T) {
	h := newHarness(t, 200)
	data := csvFile(t, expenseHeader, [][]string{{"爸爸", "餐饮", "一日三餐", "午餐", "2025-01-14", "abc", "牛肉面"}})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err, "row problems never fail Start")
	assert.Equal(t, 1, job.Failed)

	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusFailed, final.Status)
	assert.Equal(t, 1, final.Total)
	assert.Equal(t, 1, final.Processed)
	assert.Zero(t, final.Success)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, 2, final.Errors[0].Row)
	assert.Equal(t, parser.MsgInvalidAmount, final.Errors[0].Message)
	assert.Empty(t, h.records.all())
}

func TestStart_ReconcilesUnknownCategories(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = []categorization.Triple{{Project: "P", Category: "餐饮", SubCategory: "午餐"}}
	data := csvFile(t, expenseHeader, [][]string{
		{"", "", "餐饮", "晚餐", "2025-01-14", "20", "晚饭"},
		{"", "", "", "", "2025-01-15", "8", "其他开销"},
	})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	waitDone(t, h.svc, job.ID)

	records := h.records.all()
	require.Len(t, records, 2)
	assert.Equal(t, []string{"P", "餐饮", "晚餐"}, []string{records[0].Project, records[0].Category, records[0].SubCategory})
	assert.Equal(t, categorization.DefaultTriple, categorization.Triple{
		Project: records[1].Project, Category: records[1].Category, SubCategory: records[1].SubCategory,
	})
	assert.Nil(t, records[0].MemberID, "no member name and no request member")
}

func TestStart_BudgetRowsAreNotReconciled(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.err = errors.New("taxonomy is not consulted for budgets")
	memberID := uuid.New()
	data := csvFile(t, parser.Headers(parser.KindBudget, parser.HeaderOld), [][]string{
		{"新项目", "新分类", "新子类", "2025年3月", "1,500", ""},
	})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindBudget, MemberID: &memberID, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusSuccess, final.Status)

	records := h.records.all()
	require.Len(t, records, 1)
	assert.Equal(t, parser.KindBudget, records[0].Kind)
	assert.Equal(t, "新子类", records[0].SubCategory)
	assert.Equal(t, "2025-03-01", records[0].Date.Format("2006-01-02"))
	assert.Equal(t, &memberID, records[0].MemberID)
}

func TestStart_RetriesTransientBatchErrors(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.manyErrs = []error{
		fmt.Errorf("insert: %w", repository.ErrUnavailable),
		fmt.Errorf("insert: %w", repository.ErrUnavailable),
	}
	data := csvFile(t, expenseHeader, expenseRows(5))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)

	assert.Equal(t, 5, final.Success)
	assert.Equal(t, 3, h.records.manyCalls)
	assert.Zero(t, h.records.oneCalls)
}

func TestStart_FallsBackToRowInserts(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.manyAlways = errors.New("value too long for column")
	h.records.rejectOne = func(r repository.Record) error {
		if r.Description == "坏行" {
			return errors.New("value too long for column")
		}
		return nil
	}
	rows := expenseRows(4)
	rows[2][6] = "坏行"
	data := csvFile(t, expenseHeader, rows)

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)

	assert.Equal(t, repository.JobStatusSuccess, final.Status)
	assert.Equal(t, 3, final.Success)
	assert.Equal(t, 1, final.Failed)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, 4, final.Errors[0].Row)
	assert.Contains(t, final.Errors[0].Message, "value too long")
	assert.Equal(t, 1, h.records.manyCalls, "permanent errors are not retried")
	assert.Equal(t, 4, h.records.oneCalls)
}

func TestStart_DuplicateTakesOverFailedRow(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = lunchTaxonomy()
	h.records.manyAlways = errors.New("value too long for column")
	attempts := 0
	h.records.rejectOne = func(r repository.Record) error {
		attempts++
		if attempts == 1 {
			return errors.New("value too long for column")
		}
		return nil
	}
	row := []string{"爸爸", "日常开支", "餐饮", "午餐", "2025-01-14", "35.5", "牛肉面"}
	data := csvFile(t, expenseHeader, [][]string{row, row, row})

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)

	assert.Equal(t, repository.JobStatusSuccess, final.Status)
	assert.Equal(t, 1, final.Success)
	assert.Equal(t, 1, final.Failed)
	assert.Equal(t, 1, final.Skipped)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, 2, final.Errors[0].Row)
	assert.Len(t, h.records.all(), 1)
	assert.Equal(t, 2, h.records.oneCalls)
}

func TestStart_TaxonomyFailureEndsJob(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.err = errors.New("relation hierarchy_dictionary does not exist")
	data := csvFile(t, expenseHeader, expenseRows(2))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)
	assert.Equal(t, repository.JobStatusFailed, final.Status)
	assert.Empty(t, h.records.all())
}

func TestSubscribe_EndsWithTerminalEvent(t *testing.T) {
	h := newHarness(t, 2)
	h.taxonomy.triples = lunchTaxonomy()
	release := make(chan struct{})
	h.records.afterMany = func(call int) {
		if call == 1 {
			<-release
		}
	}
	data := csvFile(t, expenseHeader, expenseRows(6))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)

	events, unsubscribe, err := h.svc.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()
	close(release)

	var last Event
	for e := range events {
		last = e
	}
	assert.True(t, last.Terminal())
	assert.Equal(t, repository.JobStatusSuccess, last.Status)
	assert.Equal(t, 6, last.Success)

	late, _, err := h.svc.Subscribe(job.ID)
	require.NoError(t, err)
	e, ok := <-late
	require.True(t, ok)
	assert.Equal(t, repository.JobStatusSuccess, e.Status)
	_, ok = <-late
	assert.False(t, ok)

	_, _, err = h.svc.Subscribe(uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	observed := h.observer.all()
	require.NotEmpty(t, observed)
	assert.Equal(t, repository.JobStatusProcessing, observed[0].Status)
	assert.True(t, observed[len(observed)-1].Terminal())
}

func TestEvent_ErrorPreviewIsCapped(t *testing.T) {
	h := newHarness(t, 200)
	rows := make([][]string, 15)
	for i := range rows {
		rows[i] = []string{"", "日常开支", "餐饮", "午餐", "2025-01-14", "abc", ""}
	}
	data := csvFile(t, expenseHeader, rows)

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	final := waitDone(t, h.svc, job.ID)
	assert.Len(t, final.Errors, 15, "status keeps every error")

	observed := h.observer.all()
	require.NotEmpty(t, observed)
	assert.Len(t, observed[len(observed)-1].Errors, 10)
}

func TestControl_UnknownJob(t *testing.T) {
	h := newHarness(t, 200)
	id := uuid.New()

	assert.ErrorIs(t, h.svc.Pause(context.Background(), id), ErrJobNotFound)
	assert.ErrorIs(t, h.svc.Resume(context.Background(), id), ErrJobNotFound)
	assert.ErrorIs(t, h.svc.Cancel(context.Background(), id), ErrJobNotFound)

	_, err := h.svc.Status(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	uploads, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	h := newHarness(t, 2, WithUploads(uploads))
	h.taxonomy.triples = lunchTaxonomy()
	data := csvFile(t, expenseHeader, expenseRows(4))

	info, err := uploads.Upload(ctx, testFamily, "ledger.csv", "text/csv", bytes.NewReader(data))
	require.NoError(t, err)
	recoverable := repository.ImportJob{
		ID: uuid.New(), Kind: parser.KindExpense, FamilyID: testFamily,
		UploadKey: info.ID.String(), Status: repository.JobStatusProcessing, StartedAt: time.Now(),
	}
	lost := repository.ImportJob{
		ID: uuid.New(), Kind: parser.KindExpense, FamilyID: testFamily,
		Status: repository.JobStatusProcessing, StartedAt: time.Now(),
	}
	require.NoError(t, h.jobs.CreateJob(ctx, &recoverable))
	require.NoError(t, h.jobs.CreateJob(ctx, &lost))

	n, err := h.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	final := waitDone(t, h.svc, recoverable.ID)
	assert.Equal(t, repository.JobStatusSuccess, final.Status)
	assert.Equal(t, 4, final.Success)
	assert.Equal(t, info.ID.String(), final.UploadKey, "the stored upload is reused")

	abandoned, err := h.jobs.GetJob(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.JobStatusFailed, abandoned.Status)
	assert.NotNil(t, abandoned.FinishedAt)
}

func TestStart_StoresUpload(t *testing.T) {
	uploads, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := newHarness(t, 200, WithUploads(uploads))
	h.taxonomy.triples = lunchTaxonomy()
	data := csvFile(t, expenseHeader, expenseRows(1))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, FileName: "一月.csv", Data: data})
	require.NoError(t, err)
	waitDone(t, h.svc, job.ID)

	fileID, err := uuid.Parse(job.UploadKey)
	require.NoError(t, err)
	info, err := uploads.GetInfo(context.Background(), testFamily, fileID)
	require.NoError(t, err)
	assert.Equal(t, "一月.csv", info.Name)
	assert.Equal(t, int64(len(data)), info.Size)
}

func TestReconcileCandidates(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = []categorization.Triple{{Project: "P", Category: "餐饮", SubCategory: "午餐"}}

	got, err := h.svc.ReconcileCandidates(context.Background(), []categorization.Candidate{
		{Category: "餐饮", SubCategory: "晚餐"},
		{Project: "P", Category: "餐饮", SubCategory: "午餐"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, categorization.Triple{Project: "P", Category: "餐饮", SubCategory: "晚餐"}, got[0].Triple)
	assert.Equal(t, categorization.RuleCategory, got[0].Rule)
	assert.Equal(t, categorization.RuleExact, got[1].Rule)
}

func TestForget(t *testing.T) {
	h := newHarness(t, 200)
	h.taxonomy.triples = lunchTaxonomy()
	data := csvFile(t, expenseHeader, expenseRows(1))

	job, err := h.svc.Start(context.Background(), Request{Kind: parser.KindExpense, Data: data})
	require.NoError(t, err)
	waitDone(t, h.svc, job.ID)

	assert.Equal(t, 0, h.svc.Forget(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, h.svc.Forget(time.Now().Add(time.Hour)))

	st, err := h.svc.Status(context.Background(), job.ID)
	require.NoError(t, err, "persisted state outlives the in-memory job")
	assert.Equal(t, repository.JobStatusSuccess, st.Status)
}
