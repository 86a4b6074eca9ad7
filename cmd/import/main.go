// Command import runs household ledger imports against a local SQLite file.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/jobstate"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository/sqlite"
	importservice "github.com/FACorreiaa/household-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/household-ledger/pkg/storage"
)

const defaultFamilyID = "00000000-0000-0000-0000-000000000001"

type globalOptions struct {
	dataDir   string
	chunkSize int
	family    string
	logLevel  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "import",
		Short:         "Bulk import household expenses and budgets",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "./data", "Directory holding ledger.db, checkpoints.db and uploads")
	root.PersistentFlags().IntVar(&opts.chunkSize, "chunk-size", 200, "Rows per committed chunk")
	root.PersistentFlags().StringVar(&opts.family, "family", defaultFamilyID, "Family UUID owning the imported rows")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(&opts),
		newStatusCmd(&opts),
		newRollbackCmd(&opts),
		newRecordsCmd(&opts),
		newTemplateCmd(),
	)
	return root
}

// env is the local backend a command works against.
type env struct {
	repo     *sqlite.Repository
	bolt     *jobstate.BoltStore
	svc      *importservice.ImportService
	familyID uuid.UUID
}

func openEnv(opts *globalOptions, stderr io.Writer) (*env, error) {
	familyID, err := uuid.Parse(strings.TrimSpace(opts.family))
	if err != nil {
		return nil, fmt.Errorf("invalid --family: %w", err)
	}
	logger := newLogger(opts.logLevel, stderr)

	repo, err := sqlite.Open(filepath.Join(opts.dataDir, "ledger.db"))
	if err != nil {
		return nil, err
	}
	bolt, err := jobstate.OpenBolt(filepath.Join(opts.dataDir, "checkpoints.db"))
	if err != nil {
		repo.Close()
		return nil, err
	}
	uploads, err := storage.NewLocalStorage(filepath.Join(opts.dataDir, "uploads"))
	if err != nil {
		bolt.Close()
		repo.Close()
		return nil, err
	}

	taxonomy := categorization.NewService(repo, repo, logger)
	svc := importservice.NewImportService(repo, repo, repo, taxonomy, bolt,
		importservice.Config{
			ChunkSize:       opts.chunkSize,
			RetryAttempts:   3,
			RetryBase:       200 * time.Millisecond,
			ErrorPreview:    10,
			DefaultFamilyID: familyID,
		},
		logger,
		importservice.WithUploads(uploads),
	)
	return &env{repo: repo, bolt: bolt, svc: svc, familyID: familyID}, nil
}

func (e *env) Close() error {
	boltErr := e.bolt.Close()
	if err := e.repo.Close(); err != nil {
		return err
	}
	return boltErr
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func parseImportID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(arg))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid import id %q: %w", arg, err)
	}
	return id, nil
}
