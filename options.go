package easydl

import (
	"time"

	"github.com/eth-stack/easydl/internal/destination"
)

const (
	defaultConnections     = 5
	defaultMaxRetry        = 3
	defaultRetryDelay      = 2000 * time.Millisecond
	defaultRetryBackoff    = 3000 * time.Millisecond
	defaultReportInterval  = 2500 * time.Millisecond
	defaultChunkSizeDiv    = 10
	defaultMaxChunkSize    = 10 * 1024 * 1024
)

// chunkSizePolicy is the tagged variant { Fixed(bytes) | Computed(fn) }
// the chunkSize option resolves to. It is implemented as an unexported
// interface with two private implementations rather than an exported sum
// type, the idiomatic Go substitute.
type chunkSizePolicy interface {
	resolve(totalSize int64) int64
}

type fixedChunkSize int64

func (f fixedChunkSize) resolve(int64) int64 { return int64(f) }

type computedChunkSize func(totalSize int64) int64

func (c computedChunkSize) resolve(totalSize int64) int64 { return c(totalSize) }

func defaultChunkSizePolicy() chunkSizePolicy {
	return computedChunkSize(func(totalSize int64) int64 {
		cs := totalSize / defaultChunkSizeDiv
		if cs > defaultMaxChunkSize {
			cs = defaultMaxChunkSize
		}
		return cs
	})
}

// Config is the immutable, per-session configuration produced by applying
// every Option to the defaults.
type Config struct {
	Connections    int
	ExistBehavior  destination.ExistBehavior
	FollowRedirect bool
	HTTPMethod     string
	HTTPHeaders    map[string]string
	HTTPTimeout    time.Duration
	ChunkSize      chunkSizePolicy
	MaxRetry       int
	RetryDelay     time.Duration
	RetryBackoff   time.Duration
	ReportInterval time.Duration
	RegistryPath   string
	observer       Observer
}

func defaultConfig() Config {
	return Config{
		Connections:    defaultConnections,
		ExistBehavior:  destination.NewFile,
		FollowRedirect: true,
		HTTPMethod:     "GET",
		ChunkSize:      defaultChunkSizePolicy(),
		MaxRetry:       defaultMaxRetry,
		RetryDelay:     defaultRetryDelay,
		RetryBackoff:   defaultRetryBackoff,
		ReportInterval: defaultReportInterval,
	}
}

// Option configures a Downloader at construction time.
type Option func(*Config)

// WithConnections sets the maximum number of concurrent chunk workers.
// Values ≤ 1 force single-request mode.
func WithConnections(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.Connections = n
	}
}

// WithExistBehavior sets the policy applied when the destination path
// already names a file.
func WithExistBehavior(b destination.ExistBehavior) Option {
	return func(c *Config) { c.ExistBehavior = b }
}

// WithFollowRedirect toggles whether the coordinator chases 3xx
// responses via the redirect resolver before committing to a plan.
func WithFollowRedirect(follow bool) Option {
	return func(c *Config) { c.FollowRedirect = follow }
}

// WithHTTPHeaders sets caller-supplied headers forwarded on every
// request.
func WithHTTPHeaders(headers map[string]string) Option {
	return func(c *Config) { c.HTTPHeaders = headers }
}

// WithHTTPTimeout sets a per-request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) { c.HTTPTimeout = d }
}

// WithChunkSize sets a fixed chunk size in bytes.
func WithChunkSize(bytes int64) Option {
	return func(c *Config) { c.ChunkSize = fixedChunkSize(bytes) }
}

// WithChunkSizeFunc sets a chunk size computed from the resource's total
// size.
func WithChunkSizeFunc(fn func(totalSize int64) int64) Option {
	return func(c *Config) { c.ChunkSize = computedChunkSize(fn) }
}

// WithMaxRetry sets how many attempts a chunk worker makes before a
// chunk failure is promoted to fatal.
func WithMaxRetry(n int) Option {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.MaxRetry = n
	}
}

// WithRetryDelay and WithRetryBackoff set the linear backoff schedule:
// the worker sleeps `delay + backoff*(attempt-1)` between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) { c.RetryDelay = d }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) { c.RetryBackoff = d }
}

// WithReportInterval sets the minimum interval between progress
// emissions.
func WithReportInterval(d time.Duration) Option {
	return func(c *Config) { c.ReportInterval = d }
}

// WithObserver attaches the event sink the Downloader reports its
// lifecycle to. Without one, events are computed but simply dropped.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.observer = o }
}

// WithSessionRegistry opts into the optional bbolt-backed probe-result
// cache at path. A session whose registry lookup misses (or that never
// calls this option) simply re-probes the network; the registry is never
// load-bearing for correctness.
func WithSessionRegistry(path string) Option {
	return func(c *Config) { c.RegistryPath = path }
}
