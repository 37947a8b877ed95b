package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Message is one outbound email.
type Message struct {
	Kind    string
	To      string
	Subject string
	Body    string
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("notify: dispatcher closed")

// Config tunes queueing, pacing and retries.
type Config struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SendTimeout    time.Duration
	// PerSecond caps deliveries across all workers. Zero disables pacing.
	PerSecond float64
	Burst     int
}

// Stats is a point-in-time view of dispatcher counters.
type Stats struct {
	Queued    uint64
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Dispatcher owns the worker pool.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	logger  *slog.Logger
	limiter *rate.Limiter

	ch   chan Message
	done chan struct{}
	wg   sync.WaitGroup
	// mu orders Enqueue sends before close(done), so workers drain every
	// accepted message.
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once

	queued    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return cfg
}

// New starts cfg.Workers goroutines. Close must be called to stop them.
func New(cfg Config, sender Sender, logger *slog.Logger) *Dispatcher {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		ch:     make(chan Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	if cfg.PerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue hands msg to the worker pool without blocking. It reports false when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return false
	}
	select {
	case d.ch <- msg:
		d.queued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("notify: queue full, message dropped", "kind", msg.Kind)
		return false
	}
}

// Send delivers msg synchronously with the same pacing and retry policy as queued
// messages. It returns the last delivery error.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if d == nil || d.closed.Load() {
		return ErrClosed
	}
	err := d.deliver(ctx, msg)
	if err != nil {
		d.failed.Add(1)
		return err
	}
	d.delivered.Add(1)
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.ch:
			d.process(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.process(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) process(msg Message) {
	if err := d.deliver(context.Background(), msg); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notify: delivery failed", "kind", msg.Kind, "error", err)
		return
	}
	d.delivered.Add(1)
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	backoff := d.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			backoff *= 2
			if backoff > d.cfg.MaxBackoff {
				backoff = d.cfg.MaxBackoff
			}
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		lastErr = d.sender.Send(sendCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("notify: %d attempts: %w", d.cfg.MaxRetries+1, lastErr)
}

// Close stops accepting messages and waits for queued ones to be attempted.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Queued:    d.queued.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
