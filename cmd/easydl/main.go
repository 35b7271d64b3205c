package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/eth-stack/easydl"
	"github.com/eth-stack/easydl/internal/destination"
	"github.com/eth-stack/easydl/internal/logger"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	out := flag.String("out", "", "destination path or directory (default: current directory)")
	connections := flag.Int("connections", 5, "maximum concurrent chunk connections")
	maxRetry := flag.Int("retries", 3, "maximum attempts per chunk before giving up")
	overwrite := flag.Bool("overwrite", false, "overwrite the destination if it already exists")
	registryPath := flag.String("registry", "", "optional path to a probe-result cache database")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: easydl [flags] <url>")
		os.Exit(2)
	}
	url := flag.Arg(0)

	dest := *out
	if dest == "" {
		dest = "."
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %v", err)
	}
	configDir := filepath.Join(homeDir, ".easydl")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		log.Fatalf("error creating config directory: %v", err)
	}

	if err := logger.InitLogging(*debug, filepath.Join(configDir, "easydl.log")); err != nil {
		log.Fatalf("warning: failed to initialize logging: %v", err)
	}
	defer logger.Close()

	existBehavior := destination.NewFile
	if *overwrite {
		existBehavior = destination.Overwrite
	}

	opts := []easydl.Option{
		easydl.WithConnections(*connections),
		easydl.WithMaxRetry(*maxRetry),
		easydl.WithExistBehavior(existBehavior),
		easydl.WithObserver(&cliObserver{start: time.Now()}),
	}
	if *registryPath != "" {
		opts = append(opts, easydl.WithSessionRegistry(*registryPath))
	}

	dl, err := easydl.New(url, dest, opts...)
	if err != nil {
		log.Fatalf("error creating download: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted, aborting download")
		dl.Destroy()
		cancel()
	}()

	ended, err := dl.Wait(ctx)
	if err != nil {
		log.Fatalf("download failed: %v", err)
	}
	if !ended {
		log.Fatalf("download did not complete")
	}

	fmt.Println("done")
}

// cliObserver renders a single overwriting progress line, in the same
// spirit as a terminal progress bar, on stdout along with the metadata,
// assembly and completion lines; retries and errors go to stderr.
type cliObserver struct {
	easydl.NopObserver
	start    time.Time
	filename string
}

func (o *cliObserver) OnMetadata(m easydl.Metadata) {
	o.filename = filepath.Base(m.SavedFilePath)
	mode := "single connection"
	if m.Parallel {
		mode = fmt.Sprintf("%d chunks", len(m.ChunkLengths))
	}
	fmt.Printf("%s -> %s (%s, %s)\n", m.FinalAddress, m.SavedFilePath, formatBytes(m.Size), mode)
}

func (o *cliObserver) OnProgress(p easydl.ProgressSnapshot) {
	bar := progressBar(p.Total.Percentage, 30)
	fmt.Printf("\r%s %5.1f%%  %s/s  %s", bar, p.Total.Percentage, formatBytes(p.Total.Speed), o.filename)
}

func (o *cliObserver) OnRetry(r easydl.RetryEvent) {
	fmt.Fprintf(os.Stderr, "\nchunk %d attempt %d failed: %v\n", r.ChunkID, r.Attempt, r.Err)
}

func (o *cliObserver) OnBuild(b easydl.BuildEvent) {
	fmt.Printf("\rassembling  %5.1f%%", b.Percentage)
}

func (o *cliObserver) OnEnd() {
	fmt.Printf("\ncompleted in %s\n", time.Since(o.start).Round(time.Millisecond))
}

func (o *cliObserver) OnError(err error) {
	fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
}

func progressBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
