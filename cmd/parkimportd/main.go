package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"parkstatus-backend/config"
	"parkstatus-backend/internal/api"
	"parkstatus-backend/internal/archive"
	"parkstatus-backend/internal/db"
	"parkstatus-backend/internal/importer"
	"parkstatus-backend/internal/observability"
	"parkstatus-backend/internal/resolver"
	"parkstatus-backend/internal/store"
)

var (
	flagConfig     string
	flagAllParks   bool
	flagDest       string
	flagResume     string
	flagListDests  bool
	flagListActive bool
	flagStatus     string
	flagPause      string
	flagCancel     string
	flagStartDate  string
	flagEndDate    string
	flagBatchSize  int
	flagAutoCreate bool
	flagNoResume   bool
	flagDryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "parkimportd",
	Short: "Imports historical attraction status archives into the status database",
	Long: `parkimportd replays the historical theme-park status archive: it lists
dated archive files per destination, decodes them, reconciles the referenced
parks and rides against the entity catalog, and loads derived status records
in checkpointed batches. Interrupted imports resume from their checkpoint.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "path to config file (default $CONFIG_PATH or ./config/config.yaml)")
	f.BoolVar(&flagAllParks, "all-parks", false, "import every destination in the archive")
	f.StringVar(&flagDest, "destination", "", "import a single destination UUID")
	f.StringVar(&flagResume, "resume", "", "resume a paused/failed import; pass an import id or leave bare to resume all active")
	f.Lookup("resume").NoOptDefVal = "all"
	f.BoolVar(&flagListDests, "list-destinations", false, "list destination UUIDs present in the archive")
	f.BoolVar(&flagListActive, "list-active", false, "list active (in-progress or paused) imports")
	f.StringVar(&flagStatus, "status", "", "show the checkpoint for an import id")
	f.StringVar(&flagPause, "pause", "", "request pause of a running import")
	f.StringVar(&flagCancel, "cancel", "", "request cancellation of a running import")
	f.StringVar(&flagStartDate, "start-date", "", "first archive date to import (YYYY-MM-DD)")
	f.StringVar(&flagEndDate, "end-date", "", "last archive date to import (YYYY-MM-DD)")
	f.IntVar(&flagBatchSize, "batch-size", 0, "records per committed batch (default from config)")
	f.BoolVar(&flagAutoCreate, "auto-create", false, "create catalog rides for unmatched entities")
	f.BoolVar(&flagNoResume, "no-resume", false, "ignore existing checkpoints and start fresh")
	f.BoolVar(&flagDryRun, "dry-run", false, "parse and resolve without writing anything")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components for one invocation.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	source      archive.Source
	store       store.Store
	checkpoints store.CheckpointStore
	metrics     *observability.Metrics
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()

	a := &app{cfg: cfg, logger: logger}

	if a.source, err = newSource(ctx, cfg); err != nil {
		return err
	}

	// Destination listing needs only the archive source.
	if flagListDests {
		return listDestinations(ctx, a)
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	clock := clockwork.NewRealClock()
	a.store = store.NewGormStore(gormDB, clock, time.Duration(cfg.Import.DedupWindowMinutes)*time.Minute)
	a.checkpoints = store.NewGormCheckpointStore(gormDB, clock)
	a.metrics = observability.NewMetrics()

	if cfg.Monitor.Enabled {
		router := api.NewRouter(a.store, a.checkpoints)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitor.Port)
			logger.Info("monitor server listening", "addr", addr)
			if err := router.Run(addr); err != nil {
				logger.Error("monitor server stopped", "error", err)
			}
		}()
	}

	switch {
	case flagListActive:
		return listActive(ctx, a)
	case flagStatus != "":
		return showStatus(ctx, a, flagStatus)
	case flagPause != "":
		return requestTransition(ctx, a, flagPause, "pause", a.checkpoints.RequestPause)
	case flagCancel != "":
		return requestTransition(ctx, a, flagCancel, "cancel", a.checkpoints.RequestCancel)
	case flagResume != "":
		return resumeImports(ctx, a)
	case flagAllParks:
		return importAll(ctx, a)
	case flagDest != "":
		return importOne(ctx, a, flagDest)
	default:
		return errors.New("nothing to do: pass --destination, --all-parks, --resume, or a query flag")
	}
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "./config/config.yaml"
	}
	return config.Load(path)
}

func newSource(ctx context.Context, cfg *config.Config) (archive.Source, error) {
	if cfg.Archive.LocalDir != "" {
		return archive.NewDirSource(cfg.Archive.LocalDir), nil
	}
	if cfg.Archive.Bucket == "" {
		return nil, errors.New("archive source not configured: set archive.bucket or archive.local_dir")
	}
	return archive.NewS3Source(ctx, cfg.Archive)
}

func (a *app) newOrchestrator() *importer.Orchestrator {
	res := resolver.New(a.store, a.logger, resolver.WithAutoCreate(autoCreate(a.cfg)))
	return importer.New(a.source, res, a.store, a.checkpoints, a.logger, a.metrics, importer.Options{
		BatchSize:  batchSize(a.cfg),
		DryRun:     flagDryRun,
		OnProgress: renderProgress,
	})
}

func batchSize(cfg *config.Config) int {
	if flagBatchSize > 0 {
		return flagBatchSize
	}
	return cfg.Import.BatchSize
}

func autoCreate(cfg *config.Config) bool {
	return flagAutoCreate || cfg.Import.AutoCreate
}

func dateRange() (start, end *time.Time, err error) {
	if flagStartDate != "" {
		t, perr := time.Parse("2006-01-02", flagStartDate)
		if perr != nil {
			return nil, nil, fmt.Errorf("invalid --start-date %q: %w", flagStartDate, perr)
		}
		start = &t
	}
	if flagEndDate != "" {
		t, perr := time.Parse("2006-01-02", flagEndDate)
		if perr != nil {
			return nil, nil, fmt.Errorf("invalid --end-date %q: %w", flagEndDate, perr)
		}
		end = &t
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, errors.New("--end-date is before --start-date")
	}
	return start, end, nil
}

func listDestinations(ctx context.Context, a *app) error {
	dests, err := a.source.ListDestinations(ctx)
	if err != nil {
		return err
	}
	for _, d := range dests {
		fmt.Println(d)
	}
	return nil
}

func listActive(ctx context.Context, a *app) error {
	cps, err := a.checkpoints.GetActive(ctx)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Println("no active imports")
		return nil
	}
	for _, cp := range cps {
		fmt.Printf("%s  %-11s  destination=%s  records=%d  errors=%d  last=%s\n",
			cp.ImportID, cp.Status, cp.DestinationID, cp.RecordsImported, cp.ErrorsEncountered, cp.LastProcessedFile)
	}
	return nil
}

func showStatus(ctx context.Context, a *app, importID string) error {
	cp, err := a.checkpoints.Get(ctx, importID)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("no import with id %s", importID)
	}
	fmt.Printf("import:       %s\n", cp.ImportID)
	fmt.Printf("destination:  %s\n", cp.DestinationID)
	fmt.Printf("status:       %s\n", cp.Status)
	fmt.Printf("records:      %d\n", cp.RecordsImported)
	fmt.Printf("errors:       %d\n", cp.ErrorsEncountered)
	fmt.Printf("last file:    %s\n", cp.LastProcessedFile)
	fmt.Printf("started:      %s\n", cp.StartedAt.Format(time.RFC3339))
	if cp.CompletedAt != nil {
		fmt.Printf("completed:    %s\n", cp.CompletedAt.Format(time.RFC3339))
	}
	fmt.Printf("resumable:    %v\n", cp.CanResume())
	return nil
}

func requestTransition(ctx context.Context, a *app, importID, verb string, fn func(context.Context, string) (bool, error)) error {
	ok, err := fn(ctx, importID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot %s import %s: not in progress", verb, importID)
	}
	fmt.Printf("%s requested for import %s\n", verb, importID)
	return nil
}

func resumeImports(ctx context.Context, a *app) error {
	orch := a.newOrchestrator()

	if flagResume != "all" {
		res, err := orch.ResumeImport(ctx, flagResume)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("import %s is not resumable", flagResume)
		}
		return reportResult(res)
	}

	cps, err := a.checkpoints.GetActive(ctx)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Println("no resumable imports")
		return nil
	}

	var errs []error
	for _, cp := range cps {
		res, err := orch.ResumeImport(ctx, cp.ImportID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res == nil {
			continue
		}
		if rerr := reportResult(res); rerr != nil {
			errs = append(errs, rerr)
		}
	}
	return errors.Join(errs...)
}

func importOne(ctx context.Context, a *app, dest string) error {
	start, end, err := dateRange()
	if err != nil {
		return err
	}
	res, err := a.newOrchestrator().ImportDestination(ctx, dest, start, end, !flagNoResume)
	if err != nil {
		return err
	}
	return reportResult(res)
}

func importAll(ctx context.Context, a *app) error {
	start, end, err := dateRange()
	if err != nil {
		return err
	}
	results, err := a.newOrchestrator().ImportAllDestinations(ctx, start, end, !flagNoResume)
	for _, res := range results {
		if rerr := reportResult(res); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}
