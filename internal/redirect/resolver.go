// Package redirect chases 3xx responses via HEAD probes to find the
// terminal URL a download should actually fetch from.
package redirect

import (
	"context"
	"net/http"

	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/httpclient"
)

// Result is the terminal URL a redirect chain settled on, and the
// response headers that came with it (nil if the chain ended on a
// non-2xx status after at least one hop).
type Result struct {
	FinalURL string
	Headers  http.Header
}

// Resolve issues HEAD probes starting at address, following 3xx Location
// headers, until it reaches a 200/206, a terminal non-2xx after at least
// one hop, or detects a cycle.
func Resolve(ctx context.Context, client *http.Client, address string, opts httpclient.Options) (Result, error) {
	visited := map[string]bool{}
	current := address
	hops := 0

	for {
		if visited[current] {
			return Result{}, errors.NewRedirectLoopError(current)
		}
		visited[current] = true

		status, headers, err := probe(ctx, client, current, opts)
		if err != nil {
			return Result{}, err
		}

		switch {
		case status == http.StatusOK || status == http.StatusPartialContent:
			return Result{FinalURL: current, Headers: headers}, nil

		case status >= 300 && status < 400:
			location := headers.Get("Location")
			if location == "" {
				return Result{}, errors.NewBadStatusError(current, status)
			}
			current = location
			hops++
			continue

		default:
			if hops > 0 {
				return Result{FinalURL: current, Headers: nil}, nil
			}
			return Result{}, errors.NewBadStatusError(current, status)
		}
	}
}

func probe(ctx context.Context, client *http.Client, address string, opts httpclient.Options) (int, http.Header, error) {
	var status int
	var headers http.Header
	var probeErr error

	probeOpts := opts
	probeOpts.Method = http.MethodHead

	req := httpclient.New(client, address, probeOpts, httpclient.Events{
		Ready: func(sc int, h http.Header) {
			status = sc
			headers = h
		},
		Error: func(err error) {
			probeErr = err
		},
	})
	req.End(ctx)
	req.Wait()

	if probeErr != nil {
		return 0, nil, probeErr
	}
	return status, headers, nil
}
