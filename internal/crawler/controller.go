package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/clock/system"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/metrics"
)

// Outcome is the terminal state of a crawl run.
type Outcome string

// Terminal outcomes. Only OutcomeBudgetExceeded and OutcomeCanceled are errors.
const (
	OutcomeCeilingReached   Outcome = "ceiling_reached"
	OutcomeListingExhausted Outcome = "listing_exhausted"
	OutcomeBudgetExceeded   Outcome = "budget_exceeded"
	OutcomeCanceled         Outcome = "canceled"
)

// Successful reports whether the outcome permits persisting the snapshot.
func (o Outcome) Successful() bool {
	return o == OutcomeCeilingReached || o == OutcomeListingExhausted
}

// Config captures the listing query and loop limits for one run.
type Config struct {
	PlaceID          int64
	PageLimit        int
	SortOrder        SortOrder
	ExcludeFullGames bool
	// MaxPages stops the run after this many pages; zero means no ceiling.
	MaxPages  int
	PageDelay time.Duration
}

// Result summarizes a run. Snapshot is only meaningful when Outcome.Successful().
type Result struct {
	Outcome  Outcome
	Snapshot Snapshot
	Pages    int
	Retries  int
	// Attempt is the retry counter when the run ended; zero after a successful page.
	Attempt int
}

// Controller drives a PageFetcher across the listing, one page at a time.
type Controller struct {
	cfg      Config
	fetcher  PageFetcher
	policy   RetryPolicy
	pauser   Pauser
	archiver PageArchiver
	clock    Clock
	logger   *zap.Logger
}

// NewController validates its collaborators once, before any request is made.
// A nil fetcher is environment-fatal and reported as ErrFetcherUnavailable.
func NewController(
	cfg Config,
	fetcher PageFetcher,
	policy RetryPolicy,
	pauser Pauser,
	archiver PageArchiver,
	clock Clock,
	logger *zap.Logger,
) (*Controller, error) {
	if fetcher == nil {
		return nil, ErrFetcherUnavailable
	}
	if cfg.PageLimit <= 0 {
		return nil, fmt.Errorf("page limit must be > 0")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	if cfg.SortOrder == "" {
		cfg.SortOrder = SortDesc
	}
	if policy == nil {
		policy = NewLinearRetryPolicy(DefaultMaxAttempts, DefaultRateLimitBackoff, DefaultErrorBackoff)
	}
	if pauser == nil {
		pauser = TimerPauser{}
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		fetcher:  fetcher,
		policy:   policy,
		pauser:   pauser,
		archiver: archiver,
		clock:    clock,
		logger:   logger,
	}, nil
}

// runState is owned by a single Run invocation.
type runState struct {
	cursor  string
	attempt int
	pages   int
	retries int
	servers []ServerRecord
}

// Run crawls the listing until the page ceiling is reached, the cursor runs
// out, or a page exhausts its retry budget. Only the last case (and context
// cancellation) returns an error; the snapshot is then empty and must not be
// persisted.
func (c *Controller) Run(ctx context.Context, runID string) (Result, error) {
	logger := c.logger.With(zap.String("run_id", runID), zap.Int64("place_id", c.cfg.PlaceID))
	state := &runState{servers: make([]ServerRecord, 0)}

	for {
		page, err := c.fetcher.FetchPage(ctx, c.pageRequest(state.cursor))
		if err != nil {
			if ctx.Err() != nil {
				return c.abort(state, OutcomeCanceled, fmt.Errorf("crawl canceled: %w", ctx.Err()))
			}
			state.attempt++
			kind := ClassifyFailure(err)
			metrics.ObserveFetchFailure(string(kind), statusOf(err))
			if !c.policy.ShouldRetry(err, state.attempt) {
				logger.Error("page fetch failed, giving up",
					zap.Int("page", state.pages+1),
					zap.Int("attempt", state.attempt),
					zap.Error(err),
				)
				return c.abort(state, OutcomeBudgetExceeded,
					fmt.Errorf("%w: page %d failed %d times: %w", ErrBudgetExceeded, state.pages+1, state.attempt, err))
			}
			delay := c.policy.Backoff(err, state.attempt)
			state.retries++
			class := "error"
			if IsRateLimited(err) {
				class = "rate_limited"
			}
			metrics.ObserveRetry(class, delay)
			logger.Warn("page fetch failed, retrying",
				zap.Int("page", state.pages+1),
				zap.Int("attempt", state.attempt),
				zap.String("class", class),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := c.pauser.Pause(ctx, delay); err != nil {
				return c.abort(state, OutcomeCanceled, fmt.Errorf("crawl canceled: %w", err))
			}
			continue
		}

		state.attempt = 0
		state.pages++
		if c.archiver != nil {
			c.archiver.ArchivePage(ctx, runID, state.pages, page.Body)
		}
		kept := c.collect(state, page)
		metrics.ObservePage(c.cfg.PlaceID, len(page.Data), kept)
		next := page.NextCursor()
		logger.Debug("page fetched",
			zap.Int("page", state.pages),
			zap.Int("entries", len(page.Data)),
			zap.Int("kept", kept),
			zap.Bool("has_next", next != ""),
		)

		if c.cfg.MaxPages > 0 && state.pages >= c.cfg.MaxPages {
			logger.Info("page ceiling reached", zap.Int("pages", state.pages))
			return c.finish(state, OutcomeCeilingReached), nil
		}
		if next == "" {
			return c.finish(state, OutcomeListingExhausted), nil
		}
		state.cursor = next
		if err := c.pauser.Pause(ctx, c.cfg.PageDelay); err != nil {
			return c.abort(state, OutcomeCanceled, fmt.Errorf("crawl canceled: %w", err))
		}
	}
}

func (c *Controller) pageRequest(cursor string) PageRequest {
	return PageRequest{
		PlaceID:          c.cfg.PlaceID,
		Limit:            c.cfg.PageLimit,
		SortOrder:        c.cfg.SortOrder,
		ExcludeFullGames: c.cfg.ExcludeFullGames,
		Cursor:           cursor,
	}
}

// collect appends the page's open servers in arrival order.
func (c *Controller) collect(state *runState, page Page) int {
	kept := 0
	for _, entry := range page.Data {
		if !entry.HasOpenSlot() {
			continue
		}
		state.servers = append(state.servers, entry.Record())
		kept++
	}
	return kept
}

func (c *Controller) finish(state *runState, outcome Outcome) Result {
	return Result{
		Outcome: outcome,
		Snapshot: Snapshot{
			FetchedAt: c.clock.Now().Unix(),
			PlaceID:   c.cfg.PlaceID,
			Servers:   state.servers,
		},
		Pages:   state.pages,
		Retries: state.retries,
		Attempt: state.attempt,
	}
}

func (c *Controller) abort(state *runState, outcome Outcome, err error) (Result, error) {
	return Result{
		Outcome: outcome,
		Pages:   state.pages,
		Retries: state.retries,
		Attempt: state.attempt,
	}, err
}

func statusOf(err error) int {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}
