package easydl_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/eth-stack/easydl"
	"github.com/eth-stack/easydl/internal/resume"
)

// capturingObserver records every event delivered to it, guarded by mu so
// tests can inspect it once the session settles.
type capturingObserver struct {
	easydl.NopObserver

	mu        sync.Mutex
	metadata  []easydl.Metadata
	errors    []error
	endCount  int
	closeOnce sync.Once
	closeCh   chan struct{}
}

func newCapturingObserver() *capturingObserver {
	return &capturingObserver{closeCh: make(chan struct{})}
}

func (o *capturingObserver) OnMetadata(m easydl.Metadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metadata = append(o.metadata, m)
}

func (o *capturingObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, err)
}

func (o *capturingObserver) OnEnd() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endCount++
}

func (o *capturingObserver) OnClose() {
	o.closeOnce.Do(func() { close(o.closeCh) })
}

// rangeServer serves a fixed body over GET (with Range support) and HEAD,
// the shape every coordinator test below drives against.
func rangeServer(t *testing.T, body []byte, block func(lo int) bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")

		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}

		var lo, hi int
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &lo, &hi)

		if block != nil && block(lo) {
			<-r.Context().Done()
			return
		}

		slice := body[lo : hi+1]
		w.Header().Set("Content-Length", strconv.Itoa(len(slice)))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", lo, hi, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(slice)
	}))
}

func TestDownloaderParallelDownloadAssemblesFullContent(t *testing.T) {
	body := []byte("abcdefghij")
	srv := rangeServer(t, body, nil)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	obs := newCapturingObserver()

	dl, err := easydl.New(srv.URL+"/file", dest,
		easydl.WithConnections(2),
		easydl.WithChunkSize(5),
		easydl.WithObserver(obs),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ended, err := dl.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !ended {
		t.Fatalf("expected the session to end")
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading assembled file: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("assembled content = %q, want %q", got, body)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.metadata) != 1 {
		t.Fatalf("expected exactly one metadata emission, got %d", len(obs.metadata))
	}
	if !obs.metadata[0].Parallel {
		t.Errorf("expected parallel mode given two connections and range support")
	}
	if obs.endCount != 1 {
		t.Errorf("expected OnEnd exactly once, got %d", obs.endCount)
	}
	if len(obs.errors) != 0 {
		t.Errorf("expected no errors, got %v", obs.errors)
	}
}

func TestDownloaderResumesFromExistingChunkFile(t *testing.T) {
	body := []byte("abcdefghij")
	srv := rangeServer(t, body, nil)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	// Pre-seed chunk 0 as already complete, matching the [0,4] range a
	// {connections:2, chunkSize:5} plan over a 10-byte resource produces.
	if err := os.WriteFile(resume.ChunkFile(dest, 0), body[:5], 0o644); err != nil {
		t.Fatalf("seeding chunk file: %v", err)
	}

	obs := newCapturingObserver()
	dl, err := easydl.New(srv.URL+"/file", dest,
		easydl.WithConnections(2),
		easydl.WithChunkSize(5),
		easydl.WithObserver(obs),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ended, err := dl.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !ended {
		t.Fatalf("expected the session to end")
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading assembled file: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("assembled content = %q, want %q", got, body)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.metadata) != 1 {
		t.Fatalf("expected exactly one metadata emission, got %d", len(obs.metadata))
	}
	if len(obs.metadata[0].IsResume) < 1 || !obs.metadata[0].IsResume[0] {
		t.Errorf("expected chunk 0 to be reported as resumed, got %+v", obs.metadata[0].IsResume)
	}
}

func TestDownloaderDestroyMidFlightAbortsWithoutEnd(t *testing.T) {
	body := []byte("abcdefghij")
	srv := rangeServer(t, body, func(lo int) bool { return lo != 0 })
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	obs := newCapturingObserver()

	dl, err := easydl.New(srv.URL+"/file", dest,
		easydl.WithConnections(2),
		easydl.WithChunkSize(5),
		easydl.WithObserver(obs),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dl.Start()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(resume.ChunkFile(dest, 0)); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for chunk 0 to complete")
		}
		time.Sleep(10 * time.Millisecond)
	}

	dl.Destroy()

	select {
	case <-obs.closeCh:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for OnClose")
	}

	if _, err := os.Stat(resume.ChunkFile(dest, 0)); err != nil {
		t.Errorf("expected completed chunk 0 file to be retained: %v", err)
	}
	if _, err := os.Stat(dest); err == nil {
		t.Errorf("expected no assembled output file, destroy happened mid-flight")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.endCount != 0 {
		t.Errorf("expected OnEnd not to fire on a destroyed session, got %d calls", obs.endCount)
	}
}
