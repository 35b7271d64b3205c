package easydl

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/eth-stack/easydl/internal/assembler"
	"github.com/eth-stack/easydl/internal/chunk"
	"github.com/eth-stack/easydl/internal/destination"
	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/filesystem"
	"github.com/eth-stack/easydl/internal/httpclient"
	"github.com/eth-stack/easydl/internal/logger"
	"github.com/eth-stack/easydl/internal/progress"
	"github.com/eth-stack/easydl/internal/redirect"
	"github.com/eth-stack/easydl/internal/registry"
	"github.com/eth-stack/easydl/internal/resume"
	"github.com/eth-stack/easydl/internal/session"
	"github.com/eth-stack/easydl/internal/worker"
)

// Downloader coordinates a single (url, destination) download session.
// It owns the lifecycle (start/destroy) and is the only thing in the
// package that talks to every collaborator below it.
type Downloader struct {
	id  uuid.UUID
	url string
	dst string
	cfg Config

	fsys   filesystem.FileSystem
	client *http.Client
	reg    *registry.Registry

	mu          sync.Mutex
	state       session.State
	resolvedDst string
	plan        chunk.Plan
	parallel    bool
	resumable   bool
	totalChunks int
	downloaded  int
	states      []*chunk.State

	pool     *worker.Pool
	reporter *progress.Reporter

	closeOnce  sync.Once
	doneCh     chan struct{}
	ended      bool
	fatalErr   error
	metaCh     chan struct{}
	metaResult Metadata
	metaErr    error
}

// New constructs a Downloader for url, to be written to dst, configured
// by opts. It does not start the download; call Start, Metadata, or Wait.
func New(url, dst string, opts ...Option) (*Downloader, error) {
	if url == "" {
		return nil, errors.ErrInvalidURL
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Downloader{
		id:     uuid.New(),
		url:    url,
		dst:    dst,
		cfg:    cfg,
		fsys:   filesystem.NewOSFileSystem(),
		client: httpclient.NewClient(),
		doneCh: make(chan struct{}),
		metaCh: make(chan struct{}),
	}

	if cfg.RegistryPath != "" {
		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			logger.Warnf("session registry unavailable, continuing without it: %v", err)
		} else {
			d.reg = reg
		}
	}

	return d, nil
}

// Start is an idempotent entry point. A second call while already
// running is a silent no-op; a call after Destroy reports ErrDestroyed
// to the observer instead of starting anything.
func (d *Downloader) Start() {
	d.mu.Lock()
	switch d.state {
	case session.Fresh:
		d.state = session.Started
		d.mu.Unlock()
	case session.Destroyed:
		d.mu.Unlock()
		d.emitError(errors.ErrDestroyed)
		return
	default:
		d.mu.Unlock()
		return
	}

	go d.run()
}

func (d *Downloader) run() {
	ctx := context.Background()

	result, err := destination.Resolve(d.fsys, d.dst, d.cfg.ExistBehavior, func() string { return d.url })
	if err != nil {
		d.terminate(err, false)
		return
	}
	if result.Skip {
		d.terminate(nil, false)
		return
	}
	d.resolvedDst = result.Path

	opts := httpclient.Options{Headers: d.cfg.HTTPHeaders, Timeout: d.cfg.HTTPTimeout}

	var finalURL string
	var headers http.Header
	fromCache := false

	if d.reg != nil {
		if entry, lookupErr := d.reg.Lookup(d.url, d.resolvedDst); lookupErr == nil {
			finalURL, headers = entry.FinalURL, mapToHeaders(entry.Headers)
			fromCache = true
			logger.Debugf("session %s: reusing cached probe for %s", d.id, d.url)
		}
	}

	if !fromCache {
		if d.cfg.FollowRedirect {
			rr, err := redirect.Resolve(ctx, d.client, d.url, opts)
			if err != nil {
				d.terminate(err, false)
				return
			}
			finalURL, headers = rr.FinalURL, rr.Headers
		} else {
			finalURL = d.url
			headers, err = d.probeOnce(ctx, opts)
			if err != nil {
				d.terminate(err, false)
				return
			}
		}

		if d.reg != nil && headers != nil {
			if saveErr := d.reg.Save(d.url, d.resolvedDst, registry.Entry{
				FinalURL: finalURL,
				Headers:  registry.HeadersToMap(headers),
			}); saveErr != nil {
				logger.Warnf("session %s: failed to save probe to registry: %v", d.id, saveErr)
			}
		}
	}

	size, haveSize := int64(-1), false
	if headers != nil {
		size, haveSize = httpclient.ContentLength(headers)
	}
	acceptsRanges := headers != nil && httpclient.AcceptsRanges(headers)

	d.mu.Lock()
	d.parallel = d.cfg.Connections != 1 && haveSize && acceptsRanges
	d.resumable = d.parallel
	d.mu.Unlock()

	poolCfg := worker.Config{
		Connections:  d.cfg.Connections,
		MaxRetry:     d.cfg.MaxRetry,
		RetryDelay:   d.cfg.RetryDelay,
		RetryBackoff: d.cfg.RetryBackoff,
		Dest:         d.resolvedDst,
		FinalURL:     finalURL,
		HTTPOptions:  opts,
		Client:       d.client,
	}

	var resumeFlags []bool

	if d.parallel {
		plan, err := chunk.BuildPlan(size, d.cfg.Connections, d.cfg.ChunkSize.resolve(size))
		if err != nil {
			d.terminate(err, false)
			return
		}

		results, err := resume.Scan(d.fsys, d.resolvedDst, plan)
		if err != nil {
			d.terminate(err, false)
			return
		}

		d.mu.Lock()
		d.state = session.Ranging
		d.plan = plan
		d.totalChunks = len(plan.Ranges)
		states := make([]*chunk.State, len(plan.Ranges))
		resumeFlags = make([]bool, len(plan.Ranges))
		for i, r := range results {
			st := chunk.NewState(r.Range)
			if r.Complete {
				st.SetBytes(r.Range.Len())
				st.IsResume = true
				resumeFlags[i] = true
				d.downloaded++
			}
			states[i] = st
		}
		d.states = states
		d.mu.Unlock()

		d.reporter = progress.New(size, d.cfg.ReportInterval, states, d.emitProgress)

		pool := worker.New(poolCfg, d.fsys, d.reporter, worker.Callbacks{
			OnRetry:     d.onRetry,
			OnChunkDone: d.onChunkDone,
			OnFatal:     func(err error) { d.terminate(err, false) },
		})
		d.mu.Lock()
		d.pool = pool
		d.mu.Unlock()

		pending := resume.Pending(results)
		d.emitMetadata(finalURL, size, plan, resumeFlags, headers)

		if len(pending) == 0 {
			d.finishAssembly(ctx)
			return
		}

		d.mu.Lock()
		d.state = session.Downloading
		d.mu.Unlock()

		pool.Enqueue(ctx, pending)
		return
	}

	singleRange := chunk.Range{ID: 0, Hi: -1}
	if haveSize {
		singleRange.Hi = size - 1
	}

	d.mu.Lock()
	d.state = session.Single
	d.totalChunks = 1
	d.plan = chunk.Plan{TotalSize: size, Ranges: []chunk.Range{singleRange}}
	states := []*chunk.State{chunk.NewState(singleRange)}
	d.states = states
	resumeFlags = []bool{false}
	d.mu.Unlock()

	d.reporter = progress.New(size, d.cfg.ReportInterval, states, d.emitProgress)

	pool := worker.New(poolCfg, d.fsys, d.reporter, worker.Callbacks{
		OnRetry:     d.onRetry,
		OnChunkDone: d.onChunkDone,
		OnFatal:     func(err error) { d.terminate(err, false) },
		OnSizeDiscovered: func(discovered int64) {
			d.mu.Lock()
			d.plan.TotalSize = discovered
			d.plan.Ranges[0].Hi = discovered - 1
			d.mu.Unlock()
			states[0].SetTotalLen(discovered)
		},
	})
	d.mu.Lock()
	d.pool = pool
	d.mu.Unlock()

	d.emitMetadata(finalURL, size, d.plan, resumeFlags, headers)

	d.mu.Lock()
	d.state = session.Downloading
	d.mu.Unlock()

	pool.EnqueueSingle(ctx)
}

func (d *Downloader) probeOnce(ctx context.Context, opts httpclient.Options) (http.Header, error) {
	var status int
	var headers http.Header
	var probeErr error

	probeOpts := opts
	probeOpts.Method = http.MethodHead
	req := httpclient.New(d.client, d.url, probeOpts, httpclient.Events{
		Ready: func(sc int, h http.Header) { status, headers = sc, h },
		Error: func(err error) { probeErr = err },
	})
	req.End(ctx)
	req.Wait()

	if probeErr != nil {
		return nil, probeErr
	}
	if status != http.StatusOK && status != http.StatusPartialContent {
		return nil, errors.NewBadStatusError(d.url, status)
	}
	return headers, nil
}

func (d *Downloader) onRetry(id, attempt int, err error) {
	d.mu.Lock()
	observer := d.cfg.observer
	d.mu.Unlock()
	if observer != nil {
		observer.OnRetry(RetryEvent{ChunkID: id, Attempt: attempt, Err: err})
	}
}

func (d *Downloader) onChunkDone(id int) {
	d.mu.Lock()
	d.downloaded++
	done := d.downloaded >= d.totalChunks
	d.mu.Unlock()

	if done {
		d.finishAssembly(context.Background())
	}
}

func (d *Downloader) finishAssembly(ctx context.Context) {
	d.mu.Lock()
	d.state = session.Assembling
	plan := d.plan
	observer := d.cfg.observer
	d.mu.Unlock()

	err := assembleWithBuildEvents(ctx, d.fsys, d.resolvedDst, plan, observer)
	if err != nil {
		d.terminate(err, false)
		return
	}

	d.mu.Lock()
	d.state = session.Done
	d.mu.Unlock()
	d.terminate(nil, true)
}

func (d *Downloader) emitMetadata(finalURL string, size int64, plan chunk.Plan, resumeFlags []bool, headers http.Header) {
	d.mu.Lock()
	observer := d.cfg.observer
	states := d.states
	d.mu.Unlock()

	lengths := make([]int64, len(plan.Ranges))
	percentages := make([]float64, len(states))
	for i, r := range plan.Ranges {
		lengths[i] = r.Len()
	}
	for i, s := range states {
		percentages[i] = s.Percentage()
	}

	meta := Metadata{
		Size:          size,
		ChunkLengths:  lengths,
		IsResume:      resumeFlags,
		Percentage:    percentages,
		FinalAddress:  finalURL,
		Parallel:      d.parallel,
		Resumable:     d.resumable,
		Headers:       registry.HeadersToMap(headers),
		SavedFilePath: d.resolvedDst,
	}

	d.mu.Lock()
	d.metaResult = meta
	d.mu.Unlock()
	d.closeMetaOnce()

	if observer != nil {
		observer.OnMetadata(meta)
	}
}

func (d *Downloader) closeMetaOnce() {
	select {
	case <-d.metaCh:
	default:
		close(d.metaCh)
	}
}

func (d *Downloader) emitProgress(total progress.Total, details []progress.Detail) {
	d.mu.Lock()
	observer := d.cfg.observer
	d.mu.Unlock()
	if observer == nil {
		return
	}

	snap := ProgressSnapshot{
		Total: ChunkProgress{Bytes: total.Bytes, Percentage: total.Percentage, Speed: total.Speed},
	}
	for _, det := range details {
		snap.Details = append(snap.Details, ChunkProgress{ID: det.ID, Bytes: det.Bytes, Percentage: det.Percentage, Speed: det.Speed})
	}
	observer.OnProgress(snap)
}

func (d *Downloader) emitError(err error) {
	d.mu.Lock()
	observer := d.cfg.observer
	d.mu.Unlock()
	if observer != nil {
		observer.OnError(err)
	}
}

// terminate is the single path every session exit funnels through:
// optionally emit an error, optionally emit end, then emit close exactly
// once.
func (d *Downloader) terminate(err error, ended bool) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.state = session.Destroyed
		observer := d.cfg.observer
		pool := d.pool
		reg := d.reg
		d.fatalErr = err
		d.ended = ended
		d.mu.Unlock()

		if pool != nil {
			pool.Destroy()
		}

		if err != nil {
			logger.Errorf("session %s terminated with error: %v", d.id, err)
			if observer != nil {
				observer.OnError(err)
			}
		}
		if ended && observer != nil {
			observer.OnEnd()
		}
		if observer != nil {
			observer.OnClose()
		}

		d.mu.Lock()
		if d.metaErr == nil && err != nil {
			d.metaErr = err
		}
		d.mu.Unlock()
		d.closeMetaOnce()

		if reg != nil {
			reg.Close()
		}

		close(d.doneCh)
	})
}

// Destroy is a global kill switch: idempotent, aborts every live
// request, and emits close exactly once.
func (d *Downloader) Destroy() {
	d.terminate(nil, false)
}

// Metadata schedules Start (if not already running) and resolves on the
// first metadata emission or a fatal error.
func (d *Downloader) Metadata(ctx context.Context) (Metadata, error) {
	d.Start()

	select {
	case <-d.metaCh:
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metaResult, d.metaErr
}

// Wait schedules Start (if not already running) and resolves when the
// session closes, reporting whether End fired and any fatal error.
func (d *Downloader) Wait(ctx context.Context) (ended bool, err error) {
	d.Start()

	select {
	case <-d.doneCh:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended, d.fatalErr
}

func mapToHeaders(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// assembleWithBuildEvents wraps assembler.Assemble so the observer sees a
// BuildEvent per chunk without the assembler package knowing about
// Observer.
func assembleWithBuildEvents(ctx context.Context, fsys filesystem.FileSystem, dest string, plan chunk.Plan, observer Observer) error {
	return assembler.Assemble(ctx, fsys, dest, plan, func(pct float64) {
		if observer != nil {
			observer.OnBuild(BuildEvent{Percentage: pct})
		}
	})
}
