// Package sender runs outbound Telegram calls on a bounded worker pool with
// retries, so slow or flaky API calls never block update handling.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/shopbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

type job struct {
	ctx    context.Context
	action string
	run    func() error
}

// Dispatcher executes outbound Telegram calls asynchronously with retries.
type Dispatcher struct {
	opts   Options
	jobs   chan job
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup
	errs   atomic.Uint64
}

// NewDispatcher starts a dispatcher with sane defaults if options are zeroed.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}

	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue schedules a call. It never blocks; a saturated queue returns
// ErrQueueFull so the caller can fall back to a synchronous send.
func (d *Dispatcher) Enqueue(ctx context.Context, action string, run func() error) error {
	if run == nil {
		return nil
	}
	if d.closed.Load() {
		return ErrQueueClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for in-flight ones to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.jobs)
	})
	d.wg.Wait()
}

// Errors reports the count of jobs that exhausted their retries.
func (d *Dispatcher) Errors() uint64 {
	return d.errs.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.execute(j)
	}
}

func (d *Dispatcher) execute(j job) {
	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = j.run()
		if err == nil {
			break
		}
		wait, retryable := retryDelay(err, d.opts.RetryBackoff)
		if !retryable || attempt >= d.opts.MaxRetries {
			break
		}
		select {
		case <-j.ctx.Done():
			err = j.ctx.Err()
		case <-time.After(wait):
			continue
		}
		break
	}

	if err != nil {
		d.errs.Add(1)
		logger.Warn(j.ctx, "tg.sender", "send.fail",
			slog.String("handler", j.action),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", scrubToken(err.Error())),
		)
		return
	}
	logger.Debug(j.ctx, "tg.sender", "send.ok",
		slog.String("handler", j.action),
		slog.Duration("duration", logger.Took(start)),
	)
}

// retryDelay classifies an error and picks the backoff. Flood-wait errors
// carry the wait hint Telegram sends back.
func retryDelay(err error, fallback time.Duration) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "retry after"):
		if secs := trailingInt(msg); secs > 0 {
			return time.Duration(secs) * time.Second, true
		}
		return fallback, true
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "bad gateway"):
		return fallback, true
	}
	return 0, false
}

func trailingInt(s string) int {
	fields := strings.Fields(s)
	for i := len(fields) - 1; i >= 0; i-- {
		if n, err := strconv.Atoi(strings.Trim(fields[i], ".,")); err == nil {
			return n
		}
	}
	return 0
}

// scrubToken removes bot tokens from error text before it reaches the logs.
func scrubToken(s string) string {
	return tokenRe.ReplaceAllString(s, "bot<redacted>")
}
