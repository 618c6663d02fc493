package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/downpour/internal/utils"
)

// FileInfo is the result of probing a URL before downloading it.
type FileInfo struct {
	ContentLength      int64 // -1 when the server does not disclose it
	AcceptRanges       bool
	ETag               string
	LastModified       string
	ContentType        string
	ContentDisposition string
	FinalURL           string
}

// DataSink receives each chunk of body data. Returning fewer bytes than
// len(data) aborts the transfer.
type DataSink func(data []byte) int

// ProgressFunc is advisory; it receives the cumulative byte count.
type ProgressFunc func(cumulative int64)

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Engine is a single in-flight synchronous HTTP client. One Engine
// serves one request at a time; each block owns its own Engine.
type Engine struct {
	cancelled atomic.Bool
	mu        sync.Mutex
	inflight  context.CancelFunc
}

func New() *Engine {
	return &Engine{}
}

// Cancel aborts any in-flight request and makes every subsequent call
// fail with a non-retryable cancelled error. Idempotent, safe from any
// goroutine.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
	e.mu.Lock()
	if e.inflight != nil {
		e.inflight()
	}
	e.mu.Unlock()
}

func (e *Engine) IsCancelled() bool {
	return e.cancelled.Load()
}

func (e *Engine) trackRequest(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	e.mu.Lock()
	e.inflight = cancel
	e.mu.Unlock()
	return ctx, cancel
}

// backoffWait sleeps between retry attempts, checking cancellation
// before and after the sleep.
func (e *Engine) backoffWait(attempt int) error {
	if e.cancelled.Load() {
		return newCancelledError()
	}
	idx := attempt - 1
	if idx >= len(retryBackoff) {
		idx = len(retryBackoff) - 1
	}
	time.Sleep(retryBackoff[idx])
	if e.cancelled.Load() {
		return newCancelledError()
	}
	return nil
}

// FetchInfo probes the URL with a HEAD request, falling back to a GET
// with an immediate body abort if the server answers 403 or 405.
func (e *Engine) FetchInfo(url string, cfg utils.HTTPClientConfig) (*FileInfo, error) {
	cfg.ApplyDefaults()
	if e.cancelled.Load() {
		return nil, newCancelledError()
	}
	info, err := e.probe(url, cfg, false)
	var httpErr *HTTPError
	if err != nil && errors.As(err, &httpErr) &&
		(httpErr.HTTPStatus == http.StatusForbidden || httpErr.HTTPStatus == http.StatusMethodNotAllowed) {
		log.Debug().Str("op", "engine").Msgf("HEAD returned %d for %s, falling back to GET", httpErr.HTTPStatus, url)
		info, err = e.probe(url, cfg, true)
	}
	return info, err
}

func (e *Engine) probe(url string, cfg utils.HTTPClientConfig, useGet bool) (*FileInfo, error) {
	client := utils.NewDownpourHTTPClient(cfg)
	maxAttempts := 1 + cfg.MaxRetries
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.backoffWait(attempt); err != nil {
				return nil, err
			}
		}
		info, err := e.probeOnce(url, cfg, client, useGet)
		if err == nil {
			return info, nil
		}
		lastErr = err
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable {
			return nil, err
		}
		log.Debug().Str("op", "engine").Err(err).Msgf("probe attempt %d/%d failed for %s", attempt+1, maxAttempts, url)
	}
	return nil, lastErr
}

func (e *Engine) probeOnce(url string, cfg utils.HTTPClientConfig, client *utils.DownpourHTTPClient, useGet bool) (*FileInfo, error) {
	method := "HEAD"
	if useGet {
		method = "GET"
	}
	ctx, cancel := e.trackRequest(context.Background(), utils.DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, &HTTPError{Message: fmt.Sprintf("error creating %s request: %v", method, err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		if e.cancelled.Load() {
			return nil, newCancelledError()
		}
		return nil, transportError(fmt.Sprintf("%s request failed", method), err)
	}
	defer resp.Body.Close()

	// For the GET fallback the body is abandoned on purpose; headers
	// and status are all that matter.
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode)
	}

	info := parseFileInfo(resp)
	return info, nil
}

func parseFileInfo(resp *http.Response) *FileInfo {
	info := &FileInfo{ContentLength: -1}
	if resp.ContentLength >= 0 {
		info.ContentLength = resp.ContentLength
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
			info.ContentLength = size
		}
	}
	if ar := resp.Header.Get("Accept-Ranges"); ar != "" && !strings.EqualFold(ar, "none") {
		info.AcceptRanges = true
	}
	info.ETag = resp.Header.Get("ETag")
	info.LastModified = resp.Header.Get("Last-Modified")
	info.ContentType = resp.Header.Get("Content-Type")
	info.ContentDisposition = resp.Header.Get("Content-Disposition")
	if resp.Request != nil && resp.Request.URL != nil {
		info.FinalURL = resp.Request.URL.String()
	}
	return info
}

// Download performs a (possibly ranged) GET and feeds the body through
// onData. rangeStart < 0 means no Range header; rangeEnd < 0 means an
// open-ended range. Retries transient failures per the engine policy.
func (e *Engine) Download(url string, rangeStart, rangeEnd int64, cfg utils.HTTPClientConfig, onData DataSink, onProgress ProgressFunc) error {
	cfg.ApplyDefaults()
	maxAttempts := 1 + cfg.MaxRetries
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if e.cancelled.Load() {
			return newCancelledError()
		}
		if attempt > 0 {
			if err := e.backoffWait(attempt); err != nil {
				return err
			}
		}
		err := e.downloadOnce(url, rangeStart, rangeEnd, cfg, onData, onProgress)
		if err == nil {
			return nil
		}
		lastErr = err
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable {
			return err
		}
		log.Debug().Str("op", "engine").Err(err).Msgf("download attempt %d/%d failed for %s", attempt+1, maxAttempts, url)
	}
	return lastErr
}

func (e *Engine) downloadOnce(url string, rangeStart, rangeEnd int64, cfg utils.HTTPClientConfig, onData DataSink, onProgress ProgressFunc) error {
	client := utils.NewDownpourHTTPClient(cfg)
	ctx, cancel := e.trackRequest(context.Background(), cfg.TransferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return &HTTPError{Message: fmt.Sprintf("error creating GET request: %v", err)}
	}
	if rangeStart >= 0 {
		if rangeEnd >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rangeStart, rangeEnd))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		if e.cancelled.Load() {
			return newCancelledError()
		}
		return transportError("download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode)
	}

	return e.copyBody(resp.Body, cfg, onData, onProgress)
}

// copyBody pumps the response body into the sink, watching the cancel
// flag and the low-speed abort window.
func (e *Engine) copyBody(body io.Reader, cfg utils.HTTPClientConfig, onData DataSink, onProgress ProgressFunc) error {
	buffer := make([]byte, utils.DefaultBufferSize)
	var cumulative int64
	windowStart := time.Now()
	var windowBytes int64

	for {
		if e.cancelled.Load() {
			return newCancelledError()
		}
		n, readErr := body.Read(buffer)
		if n > 0 {
			consumed := onData(buffer[:n])
			if consumed < n {
				if e.cancelled.Load() {
					return newCancelledError()
				}
				return &HTTPError{Message: "transfer aborted by data sink", TransportCode: TransportAborted, Retryable: false}
			}
			cumulative += int64(n)
			windowBytes += int64(n)
			if onProgress != nil {
				onProgress(cumulative)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			if e.cancelled.Load() {
				return newCancelledError()
			}
			return transportError("error reading response body", readErr)
		}
		if cfg.LowSpeedLimit > 0 && cfg.LowSpeedTime > 0 {
			elapsed := time.Since(windowStart)
			if elapsed >= cfg.LowSpeedTime {
				if float64(windowBytes)/elapsed.Seconds() < float64(cfg.LowSpeedLimit) {
					return &HTTPError{
						Message:       "transfer speed below limit, aborting",
						TransportCode: TransportTimeout,
						Retryable:     true,
					}
				}
				windowStart = time.Now()
				windowBytes = 0
			}
		}
	}
}
