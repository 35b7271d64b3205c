// Package httpclient is the request primitive everything else in the
// pipeline is built on: a single GET or HEAD whose response is streamed to
// the caller via events rather than buffered whole.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "easydl/1.0"
)

// NewTransport builds the transport every Client in the session shares.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		MaxConnsPerHost:       maxConnsPerHost,
	}
}

// NewClient builds the shared *http.Client. Redirects are never followed
// automatically: the redirect resolver walks 3xx chains itself via HEAD
// probes, so a Request must see the raw 3xx response rather than have the
// transport swallow it.
func NewClient() *http.Client {
	return &http.Client{
		Transport: NewTransport(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Options configures one Request: the caller-supplied method, headers,
// range and per-request timeout. Range is a byte range to overlay with a
// Range header; a nil Range means "the whole resource".
type Options struct {
	Method  string
	Headers map[string]string
	Timeout time.Duration
	Range   *ByteRange
}

// ByteRange is an inclusive byte range overlaid onto the request as a
// Range header.
type ByteRange struct {
	Lo, Hi int64
}

// Events is the callback sink a Request delivers its lifecycle to. Every
// field is optional; nil callbacks are simply skipped.
type Events struct {
	Ready func(statusCode int, headers http.Header)
	Data  func(chunk []byte)
	End   func()
	Close func()
	Error func(err error)
}

// Request is a single HTTP primitive: one address, one set of options, one
// set of event callbacks. It starts asynchronously on End or Pipe so the
// caller may attach callbacks first.
type Request struct {
	client *http.Client
	addr   string
	opts   Options
	events Events

	mu        sync.Mutex
	cancel    context.CancelFunc
	destroyed bool
	done      chan struct{}
}

// New creates a request against address, using client for transport reuse.
func New(client *http.Client, address string, opts Options, events Events) *Request {
	return &Request{
		client: client,
		addr:   address,
		opts:   opts,
		events: events,
		done:   make(chan struct{}),
	}
}

// End sends the request and discards the body after delivering Ready,
// End, and Close. Used for HEAD probes.
func (r *Request) End(ctx context.Context) {
	r.run(ctx, func(body []byte) {})
}

// Pipe sends the request and forwards every body chunk read into sink
// before invoking the Data callback, then End and Close.
func (r *Request) Pipe(ctx context.Context, sink func([]byte) (int, error)) {
	r.run(ctx, func(chunk []byte) {
		if _, err := sink(chunk); err != nil {
			r.emitError(errors.NewFilesystemError(r.addr, err))
		}
	})
}

func (r *Request) run(ctx context.Context, onChunk func([]byte)) {
	ctx, cancel := context.WithCancel(ctx)
	if r.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		cancel()
		return
	}
	r.cancel = cancel
	r.mu.Unlock()

	go r.do(ctx, onChunk)
}

func (r *Request) do(ctx context.Context, onChunk func([]byte)) {
	defer close(r.done)
	defer r.emitClose()

	method := r.opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := generateRequest(ctx, r.addr, method, r.opts.Headers)
	if err != nil {
		r.emitError(err)
		return
	}
	if rg := r.opts.Range; rg != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rg.Lo, rg.Hi))
	}

	logger.Debugf("%s %s", method, r.addr)

	resp, err := r.client.Do(req)
	if err != nil {
		if r.isDestroyed() {
			return
		}
		logger.Errorf("%s %s failed: %v", method, r.addr, err)
		r.emitError(errors.NewNetworkError(r.addr, err))
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if r.events.Ready != nil {
		r.events.Ready(status, resp.Header)
	}

	buf := make([]byte, 32*1024)
	for {
		if r.isDestroyed() {
			return
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
			if r.events.Data != nil {
				r.events.Data(chunk)
			}
		}
		if readErr != nil {
			if readErr.Error() != "EOF" {
				if !r.isDestroyed() {
					r.emitError(errors.NewNetworkError(r.addr, readErr))
				}
				return
			}
			break
		}
	}

	if r.events.End != nil {
		r.events.End()
	}
}

// Wait blocks until the request's body stream has closed, one way or
// another.
func (r *Request) Wait() {
	<-r.done
}

// Destroy aborts any in-flight socket and prevents further event
// delivery. Idempotent.
func (r *Request) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (r *Request) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

func (r *Request) emitError(err error) {
	if r.isDestroyed() {
		return
	}
	if r.events.Error != nil {
		r.events.Error(err)
	}
}

func (r *Request) emitClose() {
	if r.events.Close != nil {
		r.events.Close()
	}
}

func generateRequest(ctx context.Context, urlStr, method string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, http.NoBody)
	if err != nil {
		return nil, errors.NewInvalidDestinationError(urlStr, err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// AcceptsRanges reports whether headers advertise byte-range support.
func AcceptsRanges(headers http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(headers.Get("Accept-Ranges")), "bytes")
}

// ContentLength parses the Content-Length header, returning (-1, false) if
// absent or malformed.
func ContentLength(headers http.Header) (int64, bool) {
	v := headers.Get("Content-Length")
	if v == "" {
		return -1, false
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return -1, false
	}
	return n, true
}

