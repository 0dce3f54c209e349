package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"dwpipe/internal/logger"
	"dwpipe/internal/metrics"
)

// timestampLayout renders UTC as e.g. 2025-03-01T10:04:05.123456+00:00.
const timestampLayout = "2006-01-02T15:04:05.000000-07:00"

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Options configures an Extractor. Zero values fall back to sane defaults.
type Options struct {
	Client         *http.Client
	Limiter        *rate.Limiter
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxPages stops the loop after this many pages; 0 means no limit.
	MaxPages int
	Logger   *slog.Logger
	Metrics  *metrics.Pipeline
	Now      func() time.Time
}

// Request carries the per-run inputs of an extraction.
type Request struct {
	Params url.Values
	LoadTo string
}

// Result summarizes a finished extraction.
type Result struct {
	Pages int
	Files []string
}

// Extractor runs the page loop for a single Source.
// It is safe for concurrent use when the configured client and limiter are.
type Extractor struct {
	source Source
	opts   Options
}

// New constructs an Extractor for src.
func New(src Source, opts Options) *Extractor {
	if opts.Client == nil {
		opts.Client = NewHTTPClient(30 * time.Second)
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Extractor{source: src, opts: opts}
}

// Source returns the endpoint description this extractor pulls from.
func (e *Extractor) Source() Source { return e.source }

// Run fetches pages until the API returns an empty body, the source reports
// the last page, or MaxPages is reached. Each non-empty page is written to
// req.LoadTo before pagination advances.
func (e *Extractor) Run(ctx context.Context, req Request) (Result, error) {
	var res Result
	if req.LoadTo == "" {
		return res, errors.New("extractor: load directory is required")
	}

	endpoint, err := e.resolveURL()
	if err != nil {
		return res, err
	}

	surname := Surname(e.source)
	log := e.opts.Logger.With("source", e.source.Name(), "surname", surname)

	pagination := url.Values{}
	for page := 1; e.opts.MaxPages <= 0 || page <= e.opts.MaxPages; page++ {
		data, err := e.fetch(ctx, endpoint, mergeParams(req.Params, pagination))
		if err != nil {
			return res, fmt.Errorf("fetch %s page %d: %w", surname, page, err)
		}
		if isEmpty(data) {
			log.Info("extract_empty_page", "page", page)
			break
		}

		file, err := e.writePage(req.LoadTo, surname, data, page)
		if err != nil {
			return res, err
		}
		res.Pages++
		res.Files = append(res.Files, file)
		e.opts.Metrics.PageWritten(e.source.Name(), surname)
		log.Info("extract_page_written", "page", page, "file", file)

		if e.source.IsLastPage(data) {
			break
		}
		pagination = e.source.NextPagination(data)
	}
	return res, nil
}

func (e *Extractor) resolveURL() (*url.URL, error) {
	base, err := url.Parse(e.source.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel, err := url.Parse(e.source.RelativeURL())
	if err != nil {
		return nil, fmt.Errorf("parse relative url: %w", err)
	}
	return base.ResolveReference(rel), nil
}

func (e *Extractor) fetch(ctx context.Context, endpoint *url.URL, params url.Values) (any, error) {
	u := *endpoint
	u.RawQuery = params.Encode()
	target := u.String()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.BackoffInitial
	b.MaxInterval = e.opts.BackoffMax

	operation := func() (any, error) {
		if err := e.opts.Limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return e.get(ctx, target)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.opts.Metrics.RequestRetried(e.source.Name())
			e.opts.Logger.Warn("extract_request_retry", "url", target, "error", err.Error(), "wait_ms", wait.Milliseconds())
		}),
	)
}

func (e *Extractor) get(ctx context.Context, target string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dwpipe-extractor/1.0")
	if hs, ok := e.source.(HeaderSource); ok {
		for k, vs := range hs.Headers() {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := e.opts.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs > 0 {
				return nil, fmt.Errorf("%w (%w)", serr, backoff.RetryAfter(secs))
			}
			return nil, serr
		case resp.StatusCode >= 500:
			return nil, serr
		default:
			return nil, backoff.Permanent(serr)
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var data any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return data, nil
}

func (e *Extractor) writePage(dir, surname string, data any, page int) (string, error) {
	name := fmt.Sprintf("%s_%s_%s_%03d.json",
		e.source.Name(), surname, e.opts.Now().UTC().Format(timestampLayout), page)
	path := filepath.Join(dir, name)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("encode page %d: %w", page, err)
	}
	out := asciiJSON(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("save page %d: %w", page, err)
	}
	return path, nil
}

// asciiJSON escapes every non-ASCII rune as \uXXXX (UTF-16 surrogate pairs
// above the BMP). Encoded JSON only carries such runes inside strings.
func asciiJSON(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, r := range string(b) {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		out = fmt.Appendf(out, "\\u%04x", r)
	}
	return out
}

// isEmpty mirrors JSON "falsiness": null, {}, [], "", false and 0 end the loop.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
