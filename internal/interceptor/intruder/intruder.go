package intruder

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/interceptor/upstream"
)

// maxResultBodyBytes bounds how much of a dispatched response body is read
// to compute ResponseLength; bodies are never retained beyond that.
const maxResultBodyBytes = 10 << 20

// Intruder generates an attack corpus from a template and dispatches it
// through an UpstreamPool with bounded concurrency, recording one Result per
// request.
type Intruder struct {
	resultsMu sync.RWMutex
	results   []Result

	running atomic.Bool
	stop    atomic.Bool
}

// New builds an idle Intruder.
func New() *Intruder {
	return &Intruder{}
}

// StartAttack generates the corpus for template/config and dispatches it
// against pool in the background, honoring config.Options.Concurrency and
// DelayMS. It errors (without starting) if an attack is already running:
// the running flag is a single atomic swap-and-check, never a silent
// replace of an in-flight attack.
func (in *Intruder) StartAttack(ctx context.Context, template string, config Config, pool *upstream.Pool) error {
	if !in.running.CompareAndSwap(false, true) {
		return errs.New(errs.KindProxyAlreadyRun, "attack already running", nil)
	}
	in.stop.Store(false)
	in.ClearResults()

	requests, err := GenerateRequests(template, config)
	if err != nil {
		in.running.Store(false)
		return err
	}

	concurrency := config.Options.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	delay := time.Duration(config.Options.DelayMS) * time.Millisecond
	sem := semaphore.NewWeighted(int64(concurrency))

	go func() {
		defer in.running.Store(false)
		var wg sync.WaitGroup
		for id, gen := range requests {
			if in.stop.Load() {
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			wg.Add(1)
			go func(id int, gen GeneratedRequest) {
				defer wg.Done()
				defer sem.Release(1)
				in.dispatch(ctx, id, gen, pool)
			}(id, gen)
		}
		wg.Wait()
	}()

	return nil
}

// dispatch parses gen.Template, sends it through pool, and records the
// outcome as a Result. Parse and transport failures are dropped, matching
// the reference's "log and move on" policy for per-request dispatch
// errors — a failed probe must never abort the rest of the attack.
func (in *Intruder) dispatch(ctx context.Context, id int, gen GeneratedRequest, pool *upstream.Pool) {
	req, err := parseRawRequest(ctx, gen.Template)
	if err != nil {
		return
	}
	if !req.URL.IsAbs() {
		host := req.Host
		if host == "" {
			host = req.Header.Get("Host")
		}
		if host == "" {
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = host
	}

	start := time.Now()
	resp, err := pool.Request(ctx, req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResultBodyBytes))

	in.addResult(Result{
		RequestID:      id,
		Payload:        gen.Payload,
		StatusCode:     resp.StatusCode,
		ResponseLength: len(body),
		DurationMS:     time.Since(start).Milliseconds(),
	})
}

// StopAttack requests that a running attack halt as soon as possible. The
// dispatcher polls the stop flag between requests, never mid-flight.
func (in *Intruder) StopAttack() {
	in.stop.Store(true)
}

// IsRunning reports whether an attack is currently in progress.
func (in *Intruder) IsRunning() bool {
	return in.running.Load()
}

func (in *Intruder) addResult(r Result) {
	in.resultsMu.Lock()
	in.results = append(in.results, r)
	in.resultsMu.Unlock()
}

// Results returns a copy of every result recorded so far.
func (in *Intruder) Results() []Result {
	in.resultsMu.RLock()
	defer in.resultsMu.RUnlock()
	out := make([]Result, len(in.results))
	copy(out, in.results)
	return out
}

// ClearResults discards all recorded results.
func (in *Intruder) ClearResults() {
	in.resultsMu.Lock()
	in.results = nil
	in.resultsMu.Unlock()
}
