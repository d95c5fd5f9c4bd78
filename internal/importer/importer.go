package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"parkstatus-backend/internal/archive"
	"parkstatus-backend/internal/model"
	"parkstatus-backend/internal/observability"
	"parkstatus-backend/internal/resolver"
	"parkstatus-backend/internal/store"
)

// DefaultBatchSize is the number of derived records committed per batch.
const DefaultBatchSize = 10000

// Progress is one progress-callback payload, emitted after every committed
// batch.
type Progress struct {
	PercentComplete   float64
	FilesProcessed    int
	FilesTotal        int
	RecordsImported   int64
	ErrorsEncountered int64
	CurrentDate       time.Time
}

// ProgressFunc receives progress updates. Called from the import goroutine.
type ProgressFunc func(Progress)

// Result summarizes one finished (or stopped) import job.
type Result struct {
	ImportID          string
	DestinationID     string
	Status            model.ImportStatus
	RecordsImported   int64
	ErrorsEncountered int64
	FilesProcessed    int
	FilesTotal        int
	Elapsed           time.Duration
	Issues            map[model.IssueType]int64
	ResolverStats     map[resolver.MatchType]int64
}

// Options configures one Orchestrator.
type Options struct {
	BatchSize  int
	DryRun     bool
	OnProgress ProgressFunc
	Clock      clockwork.Clock
}

// Orchestrator runs import jobs: it enumerates archive files for a
// destination, decodes them, resolves entities, batches derived records into
// storage, and advances the checkpoint per committed batch. One orchestrator
// serves one job at a time; run separate instances for concurrent
// destinations.
type Orchestrator struct {
	source      archive.Source
	codec       *archive.Codec
	resolver    *resolver.Resolver
	store       store.Store
	checkpoints store.CheckpointStore
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock

	batchSize int
	dryRun    bool
	progress  ProgressFunc
}

// New creates an Orchestrator.
func New(src archive.Source, res *resolver.Resolver, st store.Store, cps store.CheckpointStore,
	logger *slog.Logger, metrics *observability.Metrics, opts Options) *Orchestrator {

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Orchestrator{
		source:      src,
		codec:       archive.NewCodec(),
		resolver:    res,
		store:       st,
		checkpoints: cps,
		logger:      logger,
		metrics:     metrics,
		clock:       opts.Clock,
		batchSize:   opts.BatchSize,
		dryRun:      opts.DryRun,
		progress:    opts.OnProgress,
	}
}

// ListDestinations enumerates the destination UUIDs present in the archive.
func (o *Orchestrator) ListDestinations(ctx context.Context) ([]string, error) {
	return o.source.ListDestinations(ctx)
}

// ListFilesForDestination enumerates the dated archive files for a
// destination, chronologically sorted.
func (o *Orchestrator) ListFilesForDestination(ctx context.Context, destinationID string, start, end *time.Time) ([]archive.FileRef, error) {
	return o.source.ListFiles(ctx, destinationID, start, end)
}

// ImportDestination imports one destination's archive over the optional date
// range. With resume enabled, an existing resumable checkpoint for the
// destination is continued from its cursor; otherwise a fresh job starts.
func (o *Orchestrator) ImportDestination(ctx context.Context, destinationID string, start, end *time.Time, resume bool) (*Result, error) {
	files, err := o.source.ListFiles(ctx, destinationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("enumerate archive files: %w", err)
	}

	var cp *model.ImportCheckpoint
	if resume && !o.dryRun {
		cp, err = o.checkpoints.FindResumable(ctx, destinationID)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			o.logger.Info("resuming import", "import_id", cp.ImportID,
				"destination", destinationID, "last_file", cp.LastProcessedFile)
		}
	}

	if cp == nil {
		cp, err = o.newCheckpoint(ctx, destinationID)
		if err != nil {
			return nil, err
		}
	}

	if err := o.markRunning(ctx, cp); err != nil {
		return nil, err
	}
	return o.run(ctx, cp, files)
}

// ResumeImport continues a specific job from its checkpoint. Returns nil when
// the job does not exist or is not resumable.
func (o *Orchestrator) ResumeImport(ctx context.Context, importID string) (*Result, error) {
	cp, err := o.checkpoints.Get(ctx, importID)
	if err != nil {
		return nil, err
	}
	if cp == nil || !cp.CanResume() {
		return nil, nil
	}

	files, err := o.source.ListFiles(ctx, cp.DestinationID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("enumerate archive files: %w", err)
	}

	if err := o.markRunning(ctx, cp); err != nil {
		return nil, err
	}
	return o.run(ctx, cp, files)
}

// PauseImport requests a pause; valid only while the job is IN_PROGRESS. The
// running job observes the request at the next file boundary.
func (o *Orchestrator) PauseImport(ctx context.Context, importID string) (bool, error) {
	return o.checkpoints.RequestPause(ctx, importID)
}

// CancelImport requests cancellation; valid only while the job is
// IN_PROGRESS. A cancelled job cannot be resumed.
func (o *Orchestrator) CancelImport(ctx context.Context, importID string) (bool, error) {
	return o.checkpoints.RequestCancel(ctx, importID)
}

// ImportAllDestinations imports every destination in the archive
// sequentially. Failed destinations do not stop the sweep; their errors come
// back joined.
func (o *Orchestrator) ImportAllDestinations(ctx context.Context, start, end *time.Time, resume bool) ([]*Result, error) {
	dests, err := o.source.ListDestinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate destinations: %w", err)
	}

	var results []*Result
	var errs []error
	for _, dest := range dests {
		if ctx.Err() != nil {
			break
		}
		res, err := o.ImportDestination(ctx, dest, start, end, resume)
		if err != nil {
			o.logger.Error("destination import failed", "destination", dest, "error", err)
			errs = append(errs, fmt.Errorf("destination %s: %w", dest, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// jobRun is the mutable state of one running job.
type jobRun struct {
	cp          *model.ImportCheckpoint
	batch       []model.RideStatus
	imported    int64
	errs        int64
	pendingErrs int64 // errors not yet reflected in the checkpoint
	issues      map[model.IssueType]int64
	filesDone   int
	filesTotal  int
	lastDone    *archive.FileRef // last file fully consumed into committed batches
	currentDate time.Time
	startedAt   time.Time
}

func (o *Orchestrator) run(ctx context.Context, cp *model.ImportCheckpoint, files []archive.FileRef) (*Result, error) {
	o.metrics.ImportsRunning.Inc()
	defer o.metrics.ImportsRunning.Dec()

	j := &jobRun{
		cp:         cp,
		imported:   cp.RecordsImported,
		errs:       cp.ErrorsEncountered,
		issues:     make(map[model.IssueType]int64),
		filesTotal: len(files),
		startedAt:  o.clock.Now(),
	}

	o.logger.Info("import started", "import_id", cp.ImportID,
		"destination", cp.DestinationID, "files", len(files), "dry_run", o.dryRun)

	for i := range files {
		f := files[i]

		// Resume cursor: everything up to and including the recorded file is
		// already committed.
		if cp.LastProcessedFile != "" && f.Key <= cp.LastProcessedFile {
			j.filesDone++
			continue
		}

		stop, res, err := o.checkControl(ctx, j)
		if err != nil {
			return nil, o.fail(ctx, j, err)
		}
		if stop {
			return res, nil
		}

		j.currentDate = f.Date
		if err := o.processFile(ctx, j, &f); err != nil {
			return nil, o.fail(ctx, j, err)
		}
		if ctx.Err() != nil {
			// The file may be incomplete; leave the cursor so a resume
			// re-reads it. Idempotent inserts absorb the overlap.
			continue
		}

		j.lastDone = &files[i]
		j.filesDone++
		o.metrics.FilesProcessed.Inc()
	}

	if ctx.Err() != nil {
		return o.interrupted(ctx, j)
	}

	if err := o.flush(ctx, j); err != nil {
		return nil, o.fail(ctx, j, err)
	}

	// A job that committed nothing and only hit errors is a failure, kept
	// resumable for when the archive recovers.
	if j.imported == 0 && j.errs > 0 {
		if !o.dryRun {
			if err := o.checkpoints.MarkFailed(ctx, cp.ImportID); err != nil {
				return nil, err
			}
		}
		o.report(j)
		return o.result(j, model.ImportFailed), nil
	}

	if !o.dryRun {
		if err := o.checkpoints.MarkCompleted(ctx, cp.ImportID); err != nil {
			return nil, err
		}
	}

	o.report(j)
	res := o.result(j, model.ImportCompleted)
	o.logger.Info("import completed", "import_id", cp.ImportID,
		"records", res.RecordsImported, "errors", res.ErrorsEncountered, "elapsed", res.Elapsed)
	return res, nil
}

// processFile fetches, decodes and resolves one archive file, appending
// derived records to the running batch. Per-file and per-event problems are
// counted and logged; only storage failures return an error.
func (o *Orchestrator) processFile(ctx context.Context, j *jobRun, f *archive.FileRef) error {
	blob, err := o.source.Fetch(ctx, j.cp.DestinationID, *f)
	if err != nil {
		if ctx.Err() != nil {
			return nil // stop is handled at the next boundary check
		}
		o.logger.Warn("fetch failed, skipping file", "file", f.Key, "error", err)
		return o.recordFileIssue(ctx, j, f.Key, model.IssueGap, err)
	}

	before := o.codec.Counters().Errors
	events, err := o.codec.ParseCompressed(blob)
	if err != nil {
		o.logger.Warn("unreadable archive file, skipping", "file", f.Key, "error", err)
		return o.recordFileIssue(ctx, j, f.Key, model.IssueParseError, err)
	}

	if evErrs := o.codec.Counters().Errors - before; evErrs > 0 {
		j.errs += evErrs
		j.pendingErrs += evErrs
		o.metrics.ParseErrors.Add(float64(evErrs))
	}
	o.metrics.EventsParsed.Add(float64(len(events)))

	for idx := range events {
		ev := &events[idx]

		res, err := o.resolver.MapEntityFromEvent(ctx, ev)
		if err != nil {
			return fmt.Errorf("resolve entity %s: %w", ev.EntityID, err)
		}
		o.metrics.MatchTypes.WithLabelValues(string(res.MatchType)).Inc()

		if res.MatchType == resolver.MatchNotFound {
			j.issues[model.IssueMappingFailed]++
			o.metrics.MappingFailures.Inc()
			if !o.dryRun {
				msg := fmt.Sprintf("no catalog match for %q in file %s", ev.Name, f.Key)
				if err := o.store.LogQualityIssue(ctx, ev.EntityID, model.IssueMappingFailed, msg); err != nil {
					return err
				}
			}
			continue
		}

		j.batch = append(j.batch, deriveRecord(ev, res))
		if len(j.batch) >= o.batchSize {
			if err := o.flush(ctx, j); err != nil {
				return err
			}
		}
	}

	return nil
}

// recordFileIssue counts a skipped file and logs its quality issue.
func (o *Orchestrator) recordFileIssue(ctx context.Context, j *jobRun, key string, issueType model.IssueType, cause error) error {
	j.errs++
	j.pendingErrs++
	j.issues[issueType]++
	o.metrics.ParseErrors.Inc()
	if o.dryRun {
		return nil
	}
	return o.store.LogQualityIssue(ctx, key, issueType, cause.Error())
}

// flush commits the pending batch, advances the checkpoint to the last fully
// consumed file, and reports progress.
func (o *Orchestrator) flush(ctx context.Context, j *jobRun) error {
	if o.dryRun {
		j.imported += int64(len(j.batch))
		j.batch = j.batch[:0]
		j.pendingErrs = 0
		o.report(j)
		return nil
	}

	start := time.Now()
	inserted, err := o.store.SaveStatusBatch(ctx, j.batch)
	if err != nil {
		return err
	}
	o.metrics.BatchPersistDuration.Observe(time.Since(start).Seconds())
	o.metrics.RecordsImported.Add(float64(inserted))
	j.imported += inserted
	j.batch = j.batch[:0]

	var lastFile string
	var lastDate time.Time
	if j.lastDone != nil {
		lastFile, lastDate = j.lastDone.Key, j.lastDone.Date
	}
	if err := o.checkpoints.Advance(ctx, j.cp.ImportID, inserted, j.pendingErrs, lastFile, lastDate); err != nil {
		return err
	}
	j.pendingErrs = 0

	o.report(j)
	return nil
}

// checkControl observes pause/cancel requests and context cancellation at a
// file boundary. Returns stop=true with the final Result when the job should
// end here.
func (o *Orchestrator) checkControl(ctx context.Context, j *jobRun) (bool, *Result, error) {
	if ctx.Err() != nil {
		res, err := o.interrupted(ctx, j)
		return true, res, err
	}
	if o.dryRun {
		return false, nil, nil
	}

	cur, err := o.checkpoints.Get(ctx, j.cp.ImportID)
	if err != nil {
		return false, nil, err
	}
	if cur == nil {
		return false, nil, fmt.Errorf("checkpoint %s disappeared", j.cp.ImportID)
	}

	switch cur.Status {
	case model.ImportPaused:
		if err := o.flush(ctx, j); err != nil {
			return false, nil, err
		}
		o.logger.Info("import paused", "import_id", j.cp.ImportID, "last_file", j.lastFileKey())
		return true, o.result(j, model.ImportPaused), nil
	case model.ImportCancelled:
		// Pending work is discarded; the checkpoint keeps the last committed
		// batch but the job can never resume.
		j.batch = j.batch[:0]
		o.logger.Info("import cancelled", "import_id", j.cp.ImportID)
		return true, o.result(j, model.ImportCancelled), nil
	default:
		return false, nil, nil
	}
}

// interrupted handles external cancellation (typically a signal): commit the
// pending batch, leave a resumable PAUSED checkpoint, and stop.
func (o *Orchestrator) interrupted(ctx context.Context, j *jobRun) (*Result, error) {
	if o.dryRun {
		return o.result(j, model.ImportCancelled), nil
	}

	dctx := context.WithoutCancel(ctx)
	if err := o.flush(dctx, j); err != nil {
		return nil, o.fail(dctx, j, err)
	}
	if _, err := o.checkpoints.RequestPause(dctx, j.cp.ImportID); err != nil {
		return nil, err
	}
	o.logger.Info("import interrupted, checkpoint left resumable", "import_id", j.cp.ImportID)
	return o.result(j, model.ImportPaused), nil
}

// fail marks the job FAILED, keeping the checkpoint at the last committed
// batch so a resume reprocesses only the remainder.
func (o *Orchestrator) fail(ctx context.Context, j *jobRun, cause error) error {
	if !o.dryRun {
		if err := o.checkpoints.MarkFailed(context.WithoutCancel(ctx), j.cp.ImportID); err != nil {
			o.logger.Error("failed to mark checkpoint FAILED", "import_id", j.cp.ImportID, "error", err)
		}
	}
	o.logger.Error("import failed", "import_id", j.cp.ImportID, "error", cause)
	return cause
}

func (o *Orchestrator) newCheckpoint(ctx context.Context, destinationID string) (*model.ImportCheckpoint, error) {
	if o.dryRun {
		return &model.ImportCheckpoint{
			ImportID:      "dry-run",
			DestinationID: destinationID,
			Status:        model.ImportInProgress,
			StartedAt:     o.clock.Now().UTC(),
		}, nil
	}
	return o.checkpoints.Create(ctx, destinationID)
}

func (o *Orchestrator) markRunning(ctx context.Context, cp *model.ImportCheckpoint) error {
	if o.dryRun {
		return nil
	}
	return o.checkpoints.MarkRunning(ctx, cp.ImportID)
}

func (o *Orchestrator) report(j *jobRun) {
	if o.progress == nil {
		return
	}
	var pct float64
	if j.filesTotal > 0 {
		pct = float64(j.filesDone) / float64(j.filesTotal) * 100
	}
	o.progress(Progress{
		PercentComplete:   pct,
		FilesProcessed:    j.filesDone,
		FilesTotal:        j.filesTotal,
		RecordsImported:   j.imported,
		ErrorsEncountered: j.errs,
		CurrentDate:       j.currentDate,
	})
}

func (o *Orchestrator) result(j *jobRun, status model.ImportStatus) *Result {
	return &Result{
		ImportID:          j.cp.ImportID,
		DestinationID:     j.cp.DestinationID,
		Status:            status,
		RecordsImported:   j.imported,
		ErrorsEncountered: j.errs,
		FilesProcessed:    j.filesDone,
		FilesTotal:        j.filesTotal,
		Elapsed:           o.clock.Since(j.startedAt),
		Issues:            j.issues,
		ResolverStats:     o.resolver.Stats(),
	}
}

func (j *jobRun) lastFileKey() string {
	if j.lastDone == nil {
		return ""
	}
	return j.lastDone.Key
}

// deriveRecord projects one resolved event onto the stored record shape.
func deriveRecord(ev *archive.Event, res resolver.MappingResult) model.RideStatus {
	return model.RideStatus{
		RideID:      *res.RideID,
		ParkID:      *res.ParkID,
		RecordedAt:  ev.EventTime,
		Status:      ev.Status,
		WaitMinutes: ev.WaitTime(),
		IsDown:      ev.Status == model.StatusDown,
	}
}
