package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/pkg/money"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status IMPORT_ID",
		Short: "Show the persisted state of an import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseImportID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			job, err := e.svc.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), job)
			return nil
		},
	}
}

func newRollbackCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback IMPORT_ID",
		Short: "Delete every row an import inserted and drop its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseImportID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			deleted, err := e.svc.Rollback(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "import %s rolled back: %d rows deleted\n", id, deleted)
			return nil
		},
	}
}

func newTemplateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:       "template KIND",
		Short:     "Write the empty XLSX template of an import kind",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(parser.KindExpense), string(parser.KindBudget)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := parser.Kind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			data, err := parser.Template(kind)
			if err != nil {
				return err
			}
			if output == "" {
				output = string(kind) + "-template.xlsx"
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default KIND-template.xlsx)")
	return cmd
}

func newRecordsCmd(global *globalOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:       "records KIND",
		Short:     "List stored rows of a kind within a date range",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(parser.KindExpense), string(parser.KindBudget)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := parser.Kind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			start, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			end, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			e, err := openEnv(global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.repo.QueryRange(cmd.Context(), kind, start, end)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			total := decimal.Zero
			for _, rec := range records {
				total = total.Add(rec.Amount)
				fmt.Fprintf(w, "%s\t%s/%s/%s\t%s\t%s\n",
					rec.Date.Format(time.DateOnly), rec.Project, rec.Category, rec.SubCategory,
					money.Display(rec.Amount, money.CNY), rec.Description)
			}
			fmt.Fprintf(w, "%d rows\t\t%s\t\n", len(records), money.Display(total, money.CNY))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "1970-01-01", "First date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "9999-12-31", "Last date (YYYY-MM-DD)")
	return cmd
}
