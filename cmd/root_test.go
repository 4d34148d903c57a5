package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/app"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/config"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/crawler"
)

type fakeApp struct {
	report app.Report
	err    error
	runs   int
	closed bool
}

func (f *fakeApp) Run(context.Context) (app.Report, error) {
	f.runs++
	return f.report, f.err
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Close() { f.closed = true }

// withFakeApp swaps the factory for the duration of the test.
func withFakeApp(t *testing.T, fake *fakeApp, seen *config.Config) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		if seen != nil {
			*seen = cfg
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestFetchCommandSucceeds(t *testing.T) {
	fake := &fakeApp{report: app.Report{RunID: "run-1", Result: crawler.Result{Outcome: crawler.OutcomeCeilingReached}}}
	withFakeApp(t, fake, nil)

	require.NoError(t, execute("fetch"))
	assert.Equal(t, 1, fake.runs)
	assert.True(t, fake.closed)
}

func TestFetchCommandPropagatesRunFailure(t *testing.T) {
	fake := &fakeApp{
		report: app.Report{RunID: "run-2", Result: crawler.Result{Outcome: crawler.OutcomeBudgetExceeded}},
		err:    crawler.ErrBudgetExceeded,
	}
	withFakeApp(t, fake, nil)

	err := execute("fetch")
	require.ErrorIs(t, err, crawler.ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "run-2")
	assert.True(t, fake.closed)
}

func TestFlagsOverrideConfig(t *testing.T) {
	var seen config.Config
	withFakeApp(t, &fakeApp{}, &seen)

	require.NoError(t, execute("fetch", "--place-id", "7", "--max-pages", "0", "-o", "out.json"))
	assert.Equal(t, int64(7), seen.Target.PlaceID)
	assert.Equal(t, 0, seen.Crawl.MaxPages)
	assert.Equal(t, "out.json", seen.Output.SnapshotPath)
}

func TestInvalidFlagRejected(t *testing.T) {
	withFakeApp(t, &fakeApp{}, nil)

	err := execute("fetch", "--max-pages=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.max_pages")
}

func TestFactoryFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) {
		return nil, crawler.ErrFetcherUnavailable
	}
	t.Cleanup(func() { newApp = orig })

	err := execute("fetch")
	require.ErrorIs(t, err, crawler.ErrFetcherUnavailable)
}

func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
