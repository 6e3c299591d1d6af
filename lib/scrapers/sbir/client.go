package sbir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"sbirharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

// ErrMalformedResponse marks a body that could not be parsed as a page of
// awards. It is terminal, retrying will not make the body parseable.
var ErrMalformedResponse = fmt.Errorf("malformed awards response")

// MaxPageSize is the hard cap the source enforces on the rows parameter.
const MaxPageSize = 1000

type ClientOptions struct {
	BaseUrl   string
	UserAgent string
	// per-call timeout, defaults to 30s
	Timeout time.Duration
	// total attempts per page, defaults to 3
	MaxAttempts int
	// fixed delay between attempts, defaults to 5s
	RetryDelay time.Duration
	// politeness delay callers honor between consecutive fetches,
	// defaults to 1s
	RequestDelay time.Duration
}

// Client fetches award pages from the public API. Construct one per
// harvest/sync invocation and pass it down, there is no global session.
type Client struct {
	http *resty.Client
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second * 5
	}
	if opts.RequestDelay == 0 {
		opts.RequestDelay = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sbir-harvester/1.0 (+https://github.com/sbirharvest)"
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)
	telemetry.InstrumentResty(client, "scrapers/sbir/http")

	return &Client{
		http: client,
		opts: opts,
	}
}

// RequestDelay declares the minimum delay callers must leave between
// consecutive fetches, the source is serially rate limited.
func (c *Client) RequestDelay() time.Duration {
	return c.opts.RequestDelay
}

// Page is one normalized page of raw award payloads. NumFound is the total
// record count the source reported, or -1 when the response shape did not
// carry one.
type Page struct {
	Docs     []json.RawMessage
	NumFound int64
}

// FetchPage issues one GET for the page at offset. Transport failures and
// non-2xx statuses are retried with a fixed delay up to the attempt
// ceiling, then surfaced as a page-fetch failure. An unparseable body
// fails immediately without retry.
func (c *Client) FetchPage(ctx context.Context, offset, rows int) (Page, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			err := sleepContext(ctx, c.opts.RetryDelay)
			if err != nil {
				return Page{}, err
			}
		}

		slog.DebugContext(ctx, "fetching page",
			"offset", offset, "rows", rows, "attempt", attempt)

		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("start", strconv.Itoa(offset)).
			SetQueryParam("rows", strconv.Itoa(rows)).
			Get("")
		if err != nil {
			lastErr = err
			slog.WarnContext(ctx, "page request failed",
				"offset", offset, "attempt", attempt, "err", err)
			if ctx.Err() != nil {
				return Page{}, ctx.Err()
			}
			continue
		}
		if !res.IsSuccess() {
			lastErr = fmt.Errorf("unexpected status %s", res.Status())
			slog.WarnContext(ctx, "page request failed",
				"offset", offset, "attempt", attempt, "status", res.Status())
			continue
		}

		page, err := decodePage(res.Body())
		if err != nil {
			// not transient, do not burn retries on it
			return Page{}, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		return page, nil
	}

	return Page{}, fmt.Errorf(
		"fetch page at offset %d after %d attempts: %w",
		offset, c.opts.MaxAttempts, lastErr,
	)
}

// decodePage resolves the source's two response shapes, a bare array and an
// object wrapping a docs array, into one Page. Nothing downstream branches
// on response shape.
func decodePage(body []byte) (Page, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return Page{}, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	if trimmed[0] == '[' {
		var docs []json.RawMessage
		err := json.Unmarshal(trimmed, &docs)
		if err != nil {
			return Page{}, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
		}
		return Page{Docs: docs, NumFound: -1}, nil
	}

	var wrapped struct {
		Docs     []json.RawMessage `json:"docs"`
		NumFound int64             `json:"numFound"`
	}
	err := json.Unmarshal(trimmed, &wrapped)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	return Page{Docs: wrapped.Docs, NumFound: wrapped.NumFound}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
