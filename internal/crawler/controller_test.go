package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/clock/system"
)

type scriptedStep struct {
	page Page
	err  error
}

// scriptedFetcher replays a fixed sequence of outcomes and records requests.
type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []scriptedStep
	requests []PageRequest
}

func (f *scriptedFetcher) FetchPage(_ context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.steps) == 0 {
		return Page{}, errors.New("script exhausted")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.page, step.err
}

type recordingPauser struct {
	delays []time.Duration
	err    error
}

func (p *recordingPauser) Pause(_ context.Context, delay time.Duration) error {
	p.delays = append(p.delays, delay)
	return p.err
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) ArchivePage(ctx context.Context, runID string, pageNumber int, body []byte) {
	m.Called(ctx, runID, pageNumber, body)
}

func intp(v int) *int { return &v }

func strp(v string) *string { return &v }

func server(id string, playing, maxPlayers int) RawServer {
	return RawServer{ID: id, Playing: intp(playing), MaxPlayers: intp(maxPlayers)}
}

func page(cursor *string, servers ...RawServer) scriptedStep {
	return scriptedStep{page: Page{Data: servers, NextPageCursor: cursor}}
}

func statusErr(code int) scriptedStep {
	return scriptedStep{err: &FetchError{Kind: FailureStatus, StatusCode: code, Preview: "nope"}}
}

var fixedNow = time.Unix(1700000000, 0)

func newTestController(t *testing.T, cfg Config, fetcher PageFetcher, pauser Pauser) *Controller {
	t.Helper()
	if cfg.PageLimit == 0 {
		cfg.PageLimit = 100
	}
	if cfg.PlaceID == 0 {
		cfg.PlaceID = 109983668079237
	}
	policy := NewLinearRetryPolicy(6, 30*time.Second, 5*time.Second)
	ctrl, err := NewController(cfg, fetcher, policy, pauser, nil, system.Fixed(fixedNow), zap.NewNop())
	require.NoError(t, err)
	return ctrl
}

func TestControllerFiltersFullServers(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		page(nil, server("a", 5, 10), server("b", 10, 10)),
	}}
	ctrl := newTestController(t, Config{}, fetcher, &recordingPauser{})

	res, err := ctrl.Run(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeListingExhausted, res.Outcome)
	require.Equal(t, 1, res.Pages)
	require.Equal(t, []ServerRecord{{ID: "a", Playing: 5, MaxPlayers: 10}}, res.Snapshot.Servers)
	require.Equal(t, fixedNow.Unix(), res.Snapshot.FetchedAt)
	require.Equal(t, int64(109983668079237), res.Snapshot.PlaceID)
}

func TestControllerKeepsArrivalOrderAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		page(strp("c1"), server("a", 1, 10), server("full", 8, 8), server("b", 0, 4)),
		page(strp("c2"), server("c", 3, 4)),
		page(nil, server("d", 9, 10), server("over", 12, 10)),
	}}
	pauser := &recordingPauser{}
	ctrl := newTestController(t, Config{PageDelay: 200 * time.Millisecond}, fetcher, pauser)

	res, err := ctrl.Run(context.Background(), "run-order")
	require.NoError(t, err)
	require.Equal(t, OutcomeListingExhausted, res.Outcome)
	require.Equal(t, 3, res.Pages)

	ids := make([]string, 0, len(res.Snapshot.Servers))
	for _, s := range res.Snapshot.Servers {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, ids)

	require.Len(t, fetcher.requests, 3)
	require.Equal(t, "", fetcher.requests[0].Cursor)
	require.Equal(t, "c1", fetcher.requests[1].Cursor)
	require.Equal(t, "c2", fetcher.requests[2].Cursor)
	require.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, pauser.delays)
}

func TestControllerDefaultsMissingFields(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		page(nil,
			RawServer{ID: "no-playing", MaxPlayers: intp(6)},
			RawServer{ID: "no-max", Playing: intp(2)},
			RawServer{ID: "stamped", Playing: intp(1), MaxPlayers: intp(2), Created: json.RawMessage(`1699999999`)},
			RawServer{ID: "null-stamp", Playing: intp(1), MaxPlayers: intp(2), Created: json.RawMessage(`null`)},
		),
	}}
	ctrl := newTestController(t, Config{}, fetcher, &recordingPauser{})

	res, err := ctrl.Run(context.Background(), "run-defaults")
	require.NoError(t, err)
	require.Len(t, res.Snapshot.Servers, 3)

	require.Equal(t, ServerRecord{ID: "no-playing", Playing: 0, MaxPlayers: 6}, res.Snapshot.Servers[0])
	require.Equal(t, json.RawMessage(`1699999999`), res.Snapshot.Servers[1].Created)
	require.Nil(t, res.Snapshot.Servers[2].Created)
}

func TestControllerRetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		statusErr(http.StatusTooManyRequests),
		statusErr(http.StatusTooManyRequests),
		page(nil, server("only", 1, 2)),
	}}
	pauser := &recordingPauser{}
	ctrl := newTestController(t, Config{}, fetcher, pauser)

	res, err := ctrl.Run(context.Background(), "run-429")
	require.NoError(t, err)
	require.Equal(t, OutcomeListingExhausted, res.Outcome)
	require.Len(t, res.Snapshot.Servers, 1)
	require.Equal(t, "only", res.Snapshot.Servers[0].ID)
	require.Equal(t, 0, res.Attempt)
	require.Equal(t, 2, res.Retries)
	require.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, pauser.delays)

	for _, req := range fetcher.requests {
		require.Equal(t, "", req.Cursor, "retries must reuse the same cursor")
	}
}

func TestControllerResetsAttemptsAfterSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		statusErr(http.StatusInternalServerError),
		statusErr(http.StatusInternalServerError),
		page(strp("next"), server("a", 1, 2)),
		statusErr(http.StatusBadGateway),
		page(nil, server("b", 1, 2)),
	}}
	pauser := &recordingPauser{}
	ctrl := newTestController(t, Config{PageDelay: time.Millisecond}, fetcher, pauser)

	res, err := ctrl.Run(context.Background(), "run-reset")
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, 3, res.Retries)
	require.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		time.Millisecond,
		5 * time.Second,
	}, pauser.delays)
	require.Equal(t, "next", fetcher.requests[3].Cursor)
	require.Equal(t, "next", fetcher.requests[4].Cursor)
}

func TestControllerAbortsWhenBudgetExceeded(t *testing.T) {
	t.Parallel()

	steps := []scriptedStep{page(strp("p2"), server("a", 1, 2))}
	for i := 0; i < 7; i++ {
		steps = append(steps, scriptedStep{err: &FetchError{Kind: FailureNetwork, Err: errors.New("connection reset")}})
	}
	fetcher := &scriptedFetcher{steps: steps}
	pauser := &recordingPauser{}
	ctrl := newTestController(t, Config{}, fetcher, pauser)

	res, err := ctrl.Run(context.Background(), "run-budget")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Equal(t, OutcomeBudgetExceeded, res.Outcome)
	require.False(t, res.Outcome.Successful())
	require.Empty(t, res.Snapshot.Servers)
	require.Equal(t, 7, res.Attempt)
	require.Equal(t, 6, res.Retries)
	// 1 successful page + initial attempt + 6 retries.
	require.Len(t, fetcher.requests, 8)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, FailureNetwork, fetchErr.Kind)
}

func TestControllerStopsAtPageCeiling(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		page(strp("p2"), server("a", 1, 2)),
		page(strp("p3"), server("b", 1, 2)),
		page(strp("p4"), server("c", 1, 2)),
	}}
	ctrl := newTestController(t, Config{MaxPages: 2}, fetcher, &recordingPauser{})

	res, err := ctrl.Run(context.Background(), "run-ceiling")
	require.NoError(t, err)
	require.Equal(t, OutcomeCeilingReached, res.Outcome)
	require.True(t, res.Outcome.Successful())
	require.Equal(t, 2, res.Pages)
	require.Len(t, fetcher.requests, 2)
	require.Len(t, res.Snapshot.Servers, 2)
}

func TestControllerExhaustedBeforeCeiling(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		page(strp("p2"), server("a", 1, 2)),
		page(nil, server("b", 1, 2)),
	}}
	ctrl := newTestController(t, Config{MaxPages: 10}, fetcher, &recordingPauser{})

	res, err := ctrl.Run(context.Background(), "run-short")
	require.NoError(t, err)
	require.Equal(t, OutcomeListingExhausted, res.Outcome)
	require.Equal(t, 2, res.Pages)
}

func TestControllerEmptyCursorEndsListing(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{
		page(strp(""), server("a", 1, 2)),
	}}
	ctrl := newTestController(t, Config{}, fetcher, &recordingPauser{})

	res, err := ctrl.Run(context.Background(), "run-empty-cursor")
	require.NoError(t, err)
	require.Equal(t, OutcomeListingExhausted, res.Outcome)
	require.Len(t, fetcher.requests, 1)
}

func TestControllerArchivesEachPage(t *testing.T) {
	t.Parallel()

	first := page(strp("p2"), server("a", 1, 2))
	first.page.Body = []byte(`{"first":true}`)
	second := page(nil, server("b", 2, 2))
	second.page.Body = []byte(`{"second":true}`)
	fetcher := &scriptedFetcher{steps: []scriptedStep{first, statusErr(http.StatusServiceUnavailable), second}}

	archiver := &MockArchiver{}
	archiver.On("ArchivePage", mock.Anything, "run-archive", 1, []byte(`{"first":true}`)).Once()
	archiver.On("ArchivePage", mock.Anything, "run-archive", 2, []byte(`{"second":true}`)).Once()

	ctrl, err := NewController(
		Config{PlaceID: 1, PageLimit: 10},
		fetcher,
		NewLinearRetryPolicy(6, time.Millisecond, time.Millisecond),
		&recordingPauser{},
		archiver,
		system.Fixed(fixedNow),
		zap.NewNop(),
	)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), "run-archive")
	require.NoError(t, err)
	archiver.AssertExpectations(t)
}

func TestControllerCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{statusErr(http.StatusTooManyRequests)}}
	pauser := &recordingPauser{err: context.Canceled}
	ctrl := newTestController(t, Config{}, fetcher, pauser)

	res, err := ctrl.Run(context.Background(), "run-cancel")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, OutcomeCanceled, res.Outcome)
	require.Empty(t, res.Snapshot.Servers)
}

func TestControllerCanceledContextStopsImmediately(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &scriptedFetcher{steps: []scriptedStep{{err: context.Canceled}}}
	pauser := &recordingPauser{}
	ctrl := newTestController(t, Config{}, fetcher, pauser)

	res, err := ctrl.Run(ctx, "run-precanceled")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, OutcomeCanceled, res.Outcome)
	require.Empty(t, pauser.delays)
}

func TestNewControllerRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := NewController(Config{PageLimit: 10}, nil, nil, nil, nil, nil, nil)
	require.ErrorIs(t, err, ErrFetcherUnavailable)

	_, err = NewController(Config{}, &scriptedFetcher{}, nil, nil, nil, nil, nil)
	require.Error(t, err)

	_, err = NewController(Config{PageLimit: 10, MaxPages: -1}, &scriptedFetcher{}, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestNewControllerDefaultsSortOrder(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []scriptedStep{page(nil)}}
	ctrl, err := NewController(Config{PageLimit: 25, ExcludeFullGames: true}, fetcher, nil, &recordingPauser{}, nil, nil, nil)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), "run-sort")
	require.NoError(t, err)
	require.Equal(t, SortDesc, fetcher.requests[0].SortOrder)
	require.Equal(t, 25, fetcher.requests[0].Limit)
	require.True(t, fetcher.requests[0].ExcludeFullGames)
}
