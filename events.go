package easydl

// Metadata is emitted once, after headers have been resolved and the
// download mode decided.
type Metadata struct {
	Size          int64
	ChunkLengths  []int64
	IsResume      []bool
	Percentage    []float64
	FinalAddress  string
	Parallel      bool
	Resumable     bool
	Headers       map[string]string
	SavedFilePath string
}

// ProgressSnapshot is one throttled progress emission: the aggregate
// total plus a per-chunk breakdown, in plan order.
type ProgressSnapshot struct {
	Total   ChunkProgress
	Details []ChunkProgress
}

// ChunkProgress is the (bytes, percentage, speed) triple reported for
// either a single chunk or the aggregate total.
type ChunkProgress struct {
	ID         int
	Bytes      int64
	Percentage float64
	Speed      int64
}

// RetryEvent is emitted once per failed chunk attempt whose error is
// retryable. A non-retryable failure ends the chunk's attempts without a
// RetryEvent and is reported through OnError instead.
type RetryEvent struct {
	ChunkID int
	Attempt int
	Err     error
}

// BuildEvent is emitted during assembly, after each chunk is copied into
// the output file.
type BuildEvent struct {
	Percentage float64
}

// Observer is the event sink a Downloader reports its lifecycle to.
// Every method has a no-op default via NopObserver, so callers only
// implement what they need.
type Observer interface {
	OnMetadata(Metadata)
	OnProgress(ProgressSnapshot)
	OnRetry(RetryEvent)
	OnBuild(BuildEvent)
	OnEnd()
	OnError(error)
	OnClose()
}

// NopObserver is an Observer whose methods all do nothing. Embed it to
// implement only the events you care about.
type NopObserver struct{}

func (NopObserver) OnMetadata(Metadata)         {}
func (NopObserver) OnProgress(ProgressSnapshot) {}
func (NopObserver) OnRetry(RetryEvent)          {}
func (NopObserver) OnBuild(BuildEvent)          {}
func (NopObserver) OnEnd()                      {}
func (NopObserver) OnError(error)               {}
func (NopObserver) OnClose()                    {}
