package regexworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	// DefaultTimeout is the budget used when a call passes a zero timeout.
	DefaultTimeout = 2 * time.Second

	defaultQueueSize = 100
	defaultCacheSize = 512

	// grace is how long a caller waits past the budget before giving up on
	// the worker and reporting a timeout itself.
	grace = 500 * time.Millisecond
)

// request is a unit of work executed on the worker goroutine.
type request struct {
	fn      func(w *Worker) (any, error)
	started chan struct{}
	result  chan response
}

type response struct {
	value any
	err   error
}

// Worker serializes regex execution through a single goroutine.
//
// regexp2 programs carry per-call state (MatchTimeout, runner caches) and are
// only ever touched by the worker goroutine. Callers exchange plain Regex
// values and Results with it.
type Worker struct {
	queue   chan *request
	timeout time.Duration

	// owned by the worker goroutine
	programs  map[string]*regexp2.Regexp
	cacheSize int

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	executed atomic.Int64
	timeouts atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithTimeout sets the default budget for calls that pass a zero timeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithQueueSize sets how many requests may wait for the worker. Callers
// beyond that block until a slot frees up.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan *request, n)
		}
	}
}

// WithCacheSize bounds the number of compiled programs kept by the worker.
func WithCacheSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.cacheSize = n
		}
	}
}

// New creates and starts a Worker. Close must be called to release it.
func New(opts ...Option) *Worker {
	w := &Worker{
		queue:     make(chan *request, defaultQueueSize),
		timeout:   DefaultTimeout,
		programs:  make(map[string]*regexp2.Regexp),
		cacheSize: defaultCacheSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.run()
	return w
}

// Timeout returns the default budget.
func (w *Worker) Timeout() time.Duration {
	return w.timeout
}

// RunOne matches a single regex against text within timeout.
// A zero timeout uses the worker default.
func (w *Worker) RunOne(ctx context.Context, text string, re Regex, timeout time.Duration) (Result, error) {
	budget := w.budget(timeout)
	v, err := w.submit(ctx, budget, func(w *Worker) (any, error) {
		deadline := time.Now().Add(budget)
		return w.exec(text, runeOffsets(text), re.Normalize(), deadline, budget)
	})
	if err != nil {
		return Result{Regex: re}, err
	}
	return v.(Result), nil
}

// RunBatch matches every regex against text. All regexes share one budget;
// if it runs out the whole batch fails with a *TimeoutError.
func (w *Worker) RunBatch(ctx context.Context, text string, res []Regex, timeout time.Duration) ([]Result, error) {
	budget := w.budget(timeout)
	v, err := w.submit(ctx, budget, func(w *Worker) (any, error) {
		start := time.Now()
		deadline := start.Add(budget)
		offsets := runeOffsets(text)
		results := make([]Result, 0, len(res))
		for _, re := range res {
			r, err := w.exec(text, offsets, re.Normalize(), deadline, budget)
			if err != nil {
				var te *TimeoutError
				if errors.As(err, &te) {
					return nil, newTimeoutError(time.Since(start), budget)
				}
				return nil, err
			}
			results = append(results, r)
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Result), nil
}

// Close stops the worker. Queued requests fail with ErrWorkerClosed. Close
// waits for a running match to finish or exhaust its budget.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

// IsClosed returns true if the worker has been closed.
func (w *Worker) IsClosed() bool {
	return w.closed.Load()
}

// Stats reports how many regexes ran and how many of those timed out.
func (w *Worker) Stats() (executed, timeouts int64) {
	return w.executed.Load(), w.timeouts.Load()
}

func (w *Worker) budget(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return w.timeout
	}
	return timeout
}

// submit queues fn and waits for its result, the context, or the budget
// plus grace, whichever comes first.
func (w *Worker) submit(ctx context.Context, budget time.Duration, fn func(w *Worker) (any, error)) (any, error) {
	if w.closed.Load() {
		return nil, ErrWorkerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &request{
		fn:      fn,
		started: make(chan struct{}),
		result:  make(chan response, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrWorkerClosed
	case w.queue <- req:
	}

	// Queue time does not count against the budget.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrWorkerClosed
	case <-req.started:
	}

	start := time.Now()
	ceiling := time.NewTimer(budget + grace)
	defer ceiling.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrWorkerClosed
	case <-ceiling.C:
		w.timeouts.Add(1)
		return nil, newTimeoutError(time.Since(start), budget)
	case resp := <-req.result:
		return resp.value, resp.err
	}
}

// run processes requests until Close is called.
func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			w.drain()
			return
		case req := <-w.queue:
			close(req.started)
			value, err := w.call(req)
			req.result <- response{value: value, err: err}
		}
	}
}

// call runs a request with panic recovery.
func (w *Worker) call(req *request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = fmt.Errorf("regex worker panic: %w", v)
			default:
				err = fmt.Errorf("regex worker panic: %v", v)
			}
		}
	}()
	return req.fn(w)
}

// drain fails every queued request with ErrWorkerClosed.
func (w *Worker) drain() {
	for {
		select {
		case req := <-w.queue:
			req.result <- response{err: ErrWorkerClosed}
		default:
			return
		}
	}
}

// program returns the compiled form of re, compiling on first use.
func (w *Worker) program(re Regex) (*regexp2.Regexp, error) {
	key := re.String()
	if p, ok := w.programs[key]; ok {
		return p, nil
	}
	p, err := compile(re)
	if err != nil {
		return nil, err
	}
	if len(w.programs) >= w.cacheSize {
		w.programs = make(map[string]*regexp2.Regexp)
	}
	w.programs[key] = p
	return p, nil
}

// exec runs re over text until deadline. Runs on the worker goroutine only.
func (w *Worker) exec(text string, offsets []int, re Regex, deadline time.Time, budget time.Duration) (Result, error) {
	start := time.Now()
	result := Result{Regex: re, Ranges: []Range{}}

	prog, err := w.program(re)
	if err != nil {
		return result, err
	}
	w.executed.Add(1)

	timedOut := func() (Result, error) {
		w.timeouts.Add(1)
		return result, newTimeoutError(time.Since(start), budget)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return timedOut()
	}
	prog.MatchTimeout = remaining

	m, err := prog.FindStringMatch(text)
	for err == nil && m != nil {
		s, e := m.Index, m.Index+m.Length
		if s >= 0 && e < len(offsets) {
			result.Ranges = append(result.Ranges, Range{offsets[s], offsets[e]})
		}
		if !re.Global() {
			break
		}
		if time.Now().After(deadline) {
			return timedOut()
		}
		m, err = prog.FindNextMatch(m)
	}
	if err != nil {
		// regexp2 only fails at match time when MatchTimeout is exceeded.
		return timedOut()
	}

	result.ElapsedTimeMs = durationMs(time.Since(start))
	return result, nil
}
