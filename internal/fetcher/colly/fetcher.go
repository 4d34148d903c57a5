// Package collyfetcher implements crawler.PageFetcher for the public server
// listing using gocolly.
package collyfetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/crawler"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/telemetry"
)

// Default request settings.
const (
	DefaultBaseURL      = "https://games.roblox.com"
	DefaultTimeout      = 15 * time.Second
	DefaultPreviewBytes = 300
)

// Config controls collector behavior.
type Config struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	PreviewBytes int
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	base          *url.URL
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult is filled in by the collector callbacks.
type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. An unusable base URL means the listing cannot be
// reached at all and is reported as crawler.ErrFetcherUnavailable.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid base url %q", crawler.ErrFetcherUnavailable, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PreviewBytes <= 0 {
		cfg.PreviewBytes = DefaultPreviewBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	// Every attempt for a cursor hits the same URL.
	c.AllowURLRevisit = true
	// Non-2xx bodies are needed for diagnostics.
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		base:          base,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// FetchPage requests one listing page and decodes it.
func (f *Fetcher) FetchPage(ctx context.Context, req crawler.PageRequest) (page crawler.Page, err error) {
	if err := ctx.Err(); err != nil {
		return crawler.Page{}, fmt.Errorf("listing fetch canceled: %w", err)
	}
	target := f.pageURL(req)
	ctx, span := telemetry.StartFetch(ctx, target, req.Cursor != "")
	defer func() { telemetry.End(span, err) }()

	var result fetchResult
	collector := f.buildCollector(ctx, &result)

	start := time.Now()
	if err := f.runCollector(ctx, collector, target); err != nil {
		if ctx.Err() != nil {
			return crawler.Page{}, err
		}
		if result.status == 0 {
			return crawler.Page{}, &crawler.FetchError{Kind: crawler.FailureNetwork, Err: err}
		}
	}
	span.SetAttributes(semconv.HTTPStatusCode(result.status))
	f.logger.Debug("listing response",
		zap.Int("status", result.status),
		zap.Int("bytes", len(result.body)),
		zap.Duration("duration", time.Since(start)),
	)
	return f.decode(result)
}

func (f *Fetcher) decode(result fetchResult) (crawler.Page, error) {
	if result.err != nil {
		return crawler.Page{}, &crawler.FetchError{Kind: crawler.FailureNetwork, Err: result.err}
	}
	if result.status < 200 || result.status > 299 {
		return crawler.Page{}, &crawler.FetchError{
			Kind:       crawler.FailureStatus,
			StatusCode: result.status,
			Preview:    f.preview(result.body),
		}
	}

	var page crawler.Page
	if err := json.Unmarshal(result.body, &page); err != nil {
		return crawler.Page{}, &crawler.FetchError{
			Kind:       crawler.FailureMalformed,
			StatusCode: result.status,
			Preview:    f.preview(result.body),
			Err:        fmt.Errorf("%w: %v", crawler.ErrMalformedPage, err),
		}
	}
	page.Body = result.body
	return page, nil
}

func (f *Fetcher) pageURL(req crawler.PageRequest) string {
	u := *f.base
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/games/" + strconv.FormatInt(req.PlaceID, 10) + "/servers/Public"

	q := url.Values{}
	sortOrder := req.SortOrder
	if sortOrder == "" {
		sortOrder = crawler.SortDesc
	}
	q.Set("sortOrder", string(sortOrder))
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.ExcludeFullGames {
		q.Set("excludeFullGames", "true")
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) buildCollector(ctx context.Context, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.status = r.StatusCode
			result.body = append([]byte(nil), r.Body...)
			return
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("listing fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) preview(body []byte) string {
	if len(body) > f.cfg.PreviewBytes {
		body = body[:f.cfg.PreviewBytes]
	}
	return string(body)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
