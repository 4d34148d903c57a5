// Package app wires configuration into the long-lived collaborators of a
// snapshot run and drives one run end to end.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/archive"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/clock/system"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/config"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/crawler"
	collyfetcher "github.com/xunniaona/RobloxServerListEndpoint/internal/fetcher/colly"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/id/uuid"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/metrics"
	pubsubpublisher "github.com/xunniaona/RobloxServerListEndpoint/internal/publisher/pubsub"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/snapshot"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/storage/gcs"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/storage/local"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/storage/postgres"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/telemetry"
)

const ledgerTimeout = 10 * time.Second

// RunLedger persists one row per run.
type RunLedger interface {
	RecordRun(ctx context.Context, record postgres.RunRecord) error
}

// SnapshotStore persists the snapshot when its bytes change.
type SnapshotStore interface {
	Save(ctx context.Context, snap crawler.Snapshot) (snapshot.SaveResult, error)
}

// Deps are the collaborators of a run. Archiver, Publisher, and Ledger are
// optional.
type Deps struct {
	Fetcher   crawler.PageFetcher
	Pauser    crawler.Pauser
	Archiver  crawler.PageArchiver
	Snapshots SnapshotStore
	Publisher crawler.Publisher
	Ledger    RunLedger
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// App holds the configured services for the CLI.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	deps    Deps
	closers []func()
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Result    crawler.Result
	Save      snapshot.SaveResult
	Published bool
}

// New builds every collaborator named by cfg. Optional integrations stay
// disabled when their settings are empty.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:      cfg.API.BaseURL,
		UserAgent:    cfg.API.UserAgent,
		Timeout:      cfg.API.Timeout,
		PreviewBytes: cfg.API.BodyPreviewBytes,
	}, logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	snapshots, err := snapshot.NewFileStore(cfg.Output.SnapshotPath, logger.Named("snapshot"))
	if err != nil {
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}

	a.deps = Deps{
		Fetcher:   fetcher,
		Pauser:    crawler.TimerPauser{},
		Snapshots: snapshots,
		IDs:       uuid.New(),
		Clock:     system.New(),
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			ProjectID:   cfg.Tracing.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("shutdown tracer provider", zap.Error(err))
			}
		})
	}

	if cfg.Archive.Enabled {
		store, err := a.archiveStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.deps.Archiver = archive.New(store, cfg.Target.PlaceID, logger.Named("archive"))
	}

	if cfg.PubSub.Topic != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, logger.Named("pubsub"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close publisher", zap.Error(err))
			}
		})
		a.deps.Publisher = pub
	}

	if cfg.DB.DSN != "" {
		ledger, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init run ledger: %w", err)
		}
		a.closers = append(a.closers, ledger.Close)
		if err := ledger.EnsureTable(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("init run ledger: %w", err)
		}
		a.deps.Ledger = ledger
	}

	return a, nil
}

// NewWithDeps builds an App around caller-supplied collaborators.
func NewWithDeps(cfg config.Config, logger *zap.Logger, deps Deps) (*App, error) {
	if deps.Fetcher == nil {
		return nil, crawler.ErrFetcherUnavailable
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &App{cfg: cfg, logger: logger, deps: deps}, nil
}

func (a *App) archiveStore(ctx context.Context) (crawler.BlobStore, error) {
	if a.cfg.Archive.GCSBucket == "" {
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("init archive dir: %w", err)
		}
		return store, nil
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	})
	store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket, Prefix: a.cfg.Archive.Dir})
	if err != nil {
		return nil, fmt.Errorf("init gcs archive: %w", err)
	}
	return store, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run performs one crawl. The snapshot is saved only when the crawl reached a
// successful stopping condition; the ledger row and metrics are recorded for
// every run.
func (a *App) Run(ctx context.Context) (report Report, err error) {
	runID, err := a.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := telemetry.StartRun(ctx, runID, a.cfg.Target.PlaceID)
	defer func() { telemetry.End(span, err) }()

	logger := a.logger.With(zap.String("run_id", runID))
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	started := a.deps.Clock.Now()

	ctrl, err := crawler.NewController(
		a.cfg.CrawlerConfig(),
		a.deps.Fetcher,
		a.cfg.RetryPolicy(),
		a.deps.Pauser,
		a.deps.Archiver,
		a.deps.Clock,
		logger.Named("crawler"),
	)
	if err != nil {
		return Report{RunID: runID}, fmt.Errorf("init controller: %w", err)
	}

	report = Report{RunID: runID}
	report.Result, err = ctrl.Run(ctx, runID)
	if err == nil && report.Result.Outcome.Successful() {
		err = a.persist(ctx, logger, &report)
	}

	a.finish(ctx, logger, report, started, err)
	return report, err
}

func (a *App) persist(ctx context.Context, logger *zap.Logger, report *Report) error {
	snap := report.Result.Snapshot
	saved, err := a.deps.Snapshots.Save(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	report.Save = saved
	metrics.ObserveSnapshot(saved.Written, saved.Servers)
	logger.Info(fmt.Sprintf("Wrote %d servers to %s", saved.Servers, saved.Path),
		zap.String("outcome", string(report.Result.Outcome)),
		zap.Int("pages", report.Result.Pages),
		zap.Bool("changed", saved.Written),
	)

	if !saved.Written || a.deps.Publisher == nil || a.cfg.PubSub.Topic == "" {
		return nil
	}
	notice := snapshot.NewChangeNotice(report.RunID, snap.PlaceID, snap.FetchedAt, saved)
	id, err := a.deps.Publisher.Publish(ctx, a.cfg.PubSub.Topic, notice)
	if err != nil {
		logger.Warn("publish change notice failed", zap.String("topic", a.cfg.PubSub.Topic), zap.Error(err))
		return nil
	}
	report.Published = true
	logger.Debug("change notice published", zap.String("message_id", id))
	return nil
}

func (a *App) finish(ctx context.Context, logger *zap.Logger, report Report, started time.Time, runErr error) {
	finished := a.deps.Clock.Now()
	outcome := string(report.Result.Outcome)
	if outcome == "" {
		outcome = "failed"
	}

	if a.deps.Ledger != nil {
		record := postgres.RunRecord{
			RunID:           report.RunID,
			PlaceID:         a.cfg.Target.PlaceID,
			StartedAt:       started,
			FinishedAt:      finished,
			Outcome:         outcome,
			Pages:           report.Result.Pages,
			Servers:         len(report.Result.Snapshot.Servers),
			Retries:         report.Result.Retries,
			SnapshotWritten: report.Save.Written,
			Digest:          report.Save.Digest,
		}
		if runErr != nil {
			record.ErrorText = runErr.Error()
		}
		ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
		if err := a.deps.Ledger.RecordRun(ledgerCtx, record); err != nil {
			logger.Warn("record run failed", zap.Error(err))
		}
		cancel()
	}

	metrics.ObserveRun(outcome, finished)
	if a.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics export failed", zap.Error(err))
		}
	}

	if runErr != nil {
		level := logger.Error
		if errors.Is(runErr, context.Canceled) {
			level = logger.Warn
		}
		level("run failed, snapshot left untouched",
			zap.String("outcome", outcome),
			zap.Int("pages", report.Result.Pages),
			zap.Error(runErr),
		)
	}
}

// Close releases network clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
