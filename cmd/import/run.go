package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/household-ledger/internal/domain/import/service"
)

type runOptions struct {
	kind      string
	scope     string
	member    string
	errorsOut string
	quiet     bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Import an XLSX or CSV file and wait for it to finish",
		Long: "Import an XLSX or CSV file and wait for it to finish.\n\n" +
			"Interrupting the command cancels the job and keeps its checkpoint; running it\n" +
			"again with the same file, kind and scope resumes after the last committed chunk.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", string(parser.KindExpense), "Import kind: expense or budget")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Caller-chosen scope, e.g. the month the file covers")
	cmd.Flags().StringVar(&opts.member, "member", "", "Member UUID the rows belong to when the file has no member column")
	cmd.Flags().StringVar(&opts.errorsOut, "errors-out", "", "Write every row error to this CSV file")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the final summary")

	return cmd
}

func runImport(cmd *cobra.Command, global *globalOptions, opts runOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	e, err := openEnv(global, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	req := importservice.Request{
		Kind:     parser.Kind(opts.kind),
		Scope:    opts.scope,
		FamilyID: e.familyID,
		FileName: filepath.Base(path),
		Data:     data,
	}
	if opts.member != "" {
		id, err := uuid.Parse(opts.member)
		if err != nil {
			return fmt.Errorf("invalid --member: %w", err)
		}
		req.MemberID = &id
	}

	ctx := cmd.Context()
	job, err := e.svc.Start(ctx, req)
	if err != nil {
		var schemaErr *importservice.SchemaError
		if errors.As(err, &schemaErr) {
			return fmt.Errorf("%s: %s", parser.MsgSchemaInvalid, schemaErr.Detail.Error())
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "import %s started: %d rows\n", job.ID, job.Total)

	events, unsubscribe, err := e.svc.Subscribe(job.ID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	final, err := follow(ctx, e.svc, job.ID, events, out, opts.quiet)
	if err != nil {
		return err
	}
	printSummary(out, final)

	if opts.errorsOut != "" && len(final.Errors) > 0 {
		report, err := parser.ErrorReportCSV(final.Errors)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.errorsOut, report, 0o644); err != nil {
			return fmt.Errorf("write error report: %w", err)
		}
		fmt.Fprintf(out, "errors written to %s\n", opts.errorsOut)
	}
	if final.Status != repository.JobStatusSuccess {
		return fmt.Errorf("import %s ended %s", final.ID, final.Status)
	}
	return nil
}

// follow prints progress until the job ends. A done ctx cancels the job.
func follow(ctx context.Context, svc *importservice.ImportService, id uuid.UUID, events <-chan importservice.Event, out io.Writer, quiet bool) (*repository.ImportJob, error) {
	for {
		select {
		case <-ctx.Done():
			if err := svc.Cancel(context.Background(), id); err != nil && !errors.Is(err, importservice.ErrJobFinished) {
				return nil, err
			}
			fmt.Fprintln(out, "interrupted, canceling after the current row")
			return svc.Wait(context.Background(), id)
		case ev, open := <-events:
			if !open {
				return svc.Wait(ctx, id)
			}
			if !quiet && !ev.Terminal() {
				fmt.Fprintf(out, "  %d/%d processed (%d ok, %d failed, %d skipped)\n",
					ev.Processed, ev.Total, ev.Success, ev.Failed, ev.Skipped)
			}
		}
	}
}

func printSummary(out io.Writer, job *repository.ImportJob) {
	fmt.Fprintf(out, "import %s %s: total %d, success %d, failed %d, skipped %d\n",
		job.ID, job.Status, job.Total, job.Success, job.Failed, job.Skipped)
	for i, pe := range job.Errors {
		if i == 10 {
			fmt.Fprintf(out, "  ... %d more\n", len(job.Errors)-i)
			break
		}
		fmt.Fprintf(out, "  %s\n", pe.Error())
	}
}
