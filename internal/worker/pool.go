// Package worker runs the bounded-concurrency chunk workers: a LIFO job
// queue of pending ranges, a per-chunk retry loop over the HTTP
// primitive, and a handle table the coordinator can use to abort every
// live request on destroy.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eth-stack/easydl/internal/chunk"
	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/filesystem"
	"github.com/eth-stack/easydl/internal/httpclient"
	"github.com/eth-stack/easydl/internal/logger"
	"github.com/eth-stack/easydl/internal/progress"
	"github.com/eth-stack/easydl/internal/resume"
)

// Config is the per-session worker pool configuration.
type Config struct {
	Connections  int
	MaxRetry     int
	RetryDelay   time.Duration
	RetryBackoff time.Duration
	Dest         string
	FinalURL     string
	HTTPOptions  httpclient.Options
	Client       *http.Client
}

// Callbacks notifies the coordinator of worker pool events.
type Callbacks struct {
	OnRetry          func(id, attempt int, err error)
	OnChunkDone      func(id int)
	OnFatal          func(err error)
	OnSizeDiscovered func(size int64)
}

// Pool dispatches pending chunk ranges onto at most Connections concurrent
// chunk workers.
type Pool struct {
	cfg       Config
	fsys      filesystem.FileSystem
	reporter  *progress.Reporter
	callbacks Callbacks

	sem *semaphore.Weighted

	mu        sync.Mutex
	jobs      []job
	active    int
	destroyed bool
	handles   map[int]*httpclient.Request

	wg sync.WaitGroup
}

// job is one pending unit of work: a byte range, or (Whole) the entire
// resource in single-request mode.
type job struct {
	Range chunk.Range
	Whole bool
}

// New creates a pool. reporter may be nil to disable progress tracking.
func New(cfg Config, fsys filesystem.FileSystem, reporter *progress.Reporter, callbacks Callbacks) *Pool {
	if cfg.Connections <= 0 {
		cfg.Connections = 1
	}
	return &Pool{
		cfg:       cfg,
		fsys:      fsys,
		reporter:  reporter,
		callbacks: callbacks,
		sem:       semaphore.NewWeighted(int64(cfg.Connections)),
		handles:   make(map[int]*httpclient.Request),
	}
}

// Enqueue adds ranges to the LIFO job queue and attempts to dispatch
// immediately. Safe to call before Run.
func (p *Pool) Enqueue(ctx context.Context, ranges []chunk.Range) {
	jobs := make([]job, len(ranges))
	for i, r := range ranges {
		jobs[i] = job{Range: r}
	}

	p.mu.Lock()
	p.jobs = append(p.jobs, jobs...)
	p.wg.Add(len(jobs))
	p.mu.Unlock()

	p.dispatch(ctx)
}

// EnqueueSingle queues the one synthetic job used by single-request mode:
// the whole resource, fetched with no Range header.
func (p *Pool) EnqueueSingle(ctx context.Context) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job{Range: chunk.Range{ID: 0}, Whole: true})
	p.wg.Add(1)
	p.mu.Unlock()

	p.dispatch(ctx)
}

// Run blocks until every enqueued job has completed or the pool is
// destroyed.
func (p *Pool) Run(ctx context.Context) {
	p.wg.Wait()
}

// Destroy aborts every live request exactly once and prevents further
// dispatch. Idempotent.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	handles := make([]*httpclient.Request, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	pending := len(p.jobs)
	p.jobs = nil
	p.mu.Unlock()

	for _, h := range handles {
		h.Destroy()
	}
	for i := 0; i < pending; i++ {
		p.wg.Done()
	}
}

// dispatch pops jobs off the LIFO queue and starts a worker for each,
// bounded by the pool's weighted semaphore rather than a bare counter —
// the same primitive an errgroup-style fan-out would use to cap
// concurrency, here driven by hand since each job's retry loop runs for
// an arbitrary number of attempts rather than a single bounded call.
func (p *Pool) dispatch(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.destroyed || len(p.jobs) == 0 {
			p.mu.Unlock()
			return
		}
		if !p.sem.TryAcquire(1) {
			p.mu.Unlock()
			return
		}
		last := len(p.jobs) - 1
		j := p.jobs[last]
		p.jobs = p.jobs[:last]
		p.active++
		p.mu.Unlock()

		go p.runChunk(ctx, j)
	}
}

func (p *Pool) runChunk(ctx context.Context, j job) {
	r, whole := j.Range, j.Whole

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.sem.Release(1)
		p.wg.Done()
		p.dispatch(ctx)
	}()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.cfg.MaxRetry; attempt++ {
		if p.isDestroyed() {
			return
		}

		attempts = attempt
		err := p.attempt(ctx, r, whole)
		if err == nil {
			if p.reporter != nil {
				p.reporter.Flush(r.ID)
			}
			if p.callbacks.OnChunkDone != nil {
				p.callbacks.OnChunkDone(r.ID)
			}
			return
		}

		if p.isDestroyed() {
			return
		}

		lastErr = err
		if !errors.IsRetryable(err) {
			break
		}

		if p.callbacks.OnRetry != nil {
			p.callbacks.OnRetry(r.ID, attempt, err)
		}

		if attempt == p.cfg.MaxRetry {
			break
		}

		delay := p.cfg.RetryDelay + p.cfg.RetryBackoff*time.Duration(attempt-1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	if p.callbacks.OnFatal != nil {
		p.callbacks.OnFatal(errors.NewExhaustedError(p.cfg.FinalURL, attempts, lastErr))
	}
}

func (p *Pool) attempt(ctx context.Context, r chunk.Range, whole bool) error {
	partPath := resume.PartFile(p.cfg.Dest, r.ID)
	finalPath := resume.ChunkFile(p.cfg.Dest, r.ID)

	file, err := p.fsys.CreateFile(partPath)
	if err != nil {
		return errors.NewFilesystemError(partPath, err)
	}
	defer file.Close()

	opts := p.cfg.HTTPOptions
	opts.Method = http.MethodGet
	if !whole {
		opts.Range = &httpclient.ByteRange{Lo: r.Lo, Hi: r.Hi}
	}

	var attemptErr error
	var written int64

	req := httpclient.New(p.cfg.Client, p.cfg.FinalURL, opts, httpclient.Events{
		Ready: func(sc int, headers http.Header) {
			if sc != http.StatusOK && sc != http.StatusPartialContent {
				attemptErr = errors.NewBadStatusError(p.cfg.FinalURL, sc)
				return
			}
			if cl, ok := httpclient.ContentLength(headers); ok {
				if !whole && cl != r.Len() {
					attemptErr = errors.NewLengthMismatchError(p.cfg.FinalURL, r.Len(), cl)
					return
				}
				if whole && p.callbacks.OnSizeDiscovered != nil {
					p.callbacks.OnSizeDiscovered(cl)
				}
			}
			if !whole && sc != http.StatusPartialContent {
				attemptErr = errors.NewRangeNotHonoredError(p.cfg.FinalURL, sc)
			}
		},
		Error: func(err error) {
			if attemptErr == nil {
				attemptErr = err
			}
		},
	})

	p.registerHandle(r.ID, req)
	defer p.clearHandle(r.ID)

	req.Pipe(ctx, func(b []byte) (int, error) {
		n, err := file.Write(b)
		if n > 0 {
			written += int64(n)
			if p.reporter != nil {
				p.reporter.Observe(r.ID, int64(n))
			}
		}
		return n, err
	})
	req.Wait()

	if p.isDestroyed() {
		return errors.NewCancelledError(p.cfg.FinalURL, fmt.Errorf("session destroyed"))
	}

	if attemptErr != nil {
		return attemptErr
	}

	if err := file.Close(); err != nil {
		return errors.NewFilesystemError(partPath, err)
	}

	expected := r.Len()
	if !whole && written != expected {
		return errors.NewLengthMismatchError(p.cfg.FinalURL, expected, written)
	}

	if err := p.fsys.Rename(partPath, finalPath); err != nil {
		return errors.NewFilesystemError(finalPath, err)
	}

	logger.Debugf("chunk %d complete: %d bytes", r.ID, written)
	return nil
}

func (p *Pool) registerHandle(id int, req *httpclient.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[id] = req
}

func (p *Pool) clearHandle(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, id)
}

func (p *Pool) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Active returns the number of chunk workers currently running.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
