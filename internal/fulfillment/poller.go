// Package fulfillment watches an ebook order until its download appears.
package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 40
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateFound     State = "found"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

var (
	// ErrOrderCancelled ends polling for an order that will never be fulfilled.
	ErrOrderCancelled = errors.New("order was cancelled")
	// ErrNotEbook is returned for orders that never get a download link.
	ErrNotEbook = errors.New("only ebook orders have a download")
)

var errTimedOut = errors.New("poll attempts exhausted")

// Source reads the current order status.
type Source interface {
	Order(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, orderID uuid.UUID) (*models.Order, error)

func (f SourceFunc) Order(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return f(ctx, orderID)
}

// Snapshot is the observable poller state.
type Snapshot struct {
	State       State
	Attempts    int
	Status      models.OrderStatus
	DownloadURL string
	LastError   error
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithOnChange registers a callback invoked after every state change. It runs
// on the polling goroutine.
func WithOnChange(fn func(Snapshot)) Option {
	return func(p *Poller) { p.onChange = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Poller) { p.log = log }
}

type Poller struct {
	source      Source
	orderID     uuid.UUID
	interval    time.Duration
	maxAttempts int
	onChange    func(Snapshot)
	log         *slog.Logger

	mu    sync.Mutex
	snap  Snapshot
	retry chan struct{}
}

func New(source Source, orderID uuid.UUID, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		orderID:     orderID,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		snap:        Snapshot{State: StateIdle},
		retry:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Retry resumes a timed out poller with a fresh attempt budget. It reports
// false when the poller is not waiting for a retry.
func (p *Poller) Retry() bool {
	if p.State().State != StateTimedOut {
		return false
	}
	select {
	case p.retry <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run polls until the download appears, the order is cancelled or ctx ends.
// Exhausting the attempts is not an error: Run parks in timed_out and waits
// for Retry. The order is read once up front so a ready, cancelled or printed
// order settles without waiting an interval.
func (p *Poller) Run(ctx context.Context) error {
	if done, err := p.precheck(ctx); done {
		return err
	}
	p.update(func(s *Snapshot) {
		s.State = StatePolling
		s.Attempts = 0
	})
	for {
		err := p.poll(ctx)
		if !errors.Is(err, errTimedOut) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.retry:
			p.update(func(s *Snapshot) {
				s.State = StatePolling
				s.Attempts = 0
				s.LastError = nil
			})
		}
	}
}

// precheck reads the order once before polling starts. It settles orders that
// are already downloadable, cancelled or not an ebook without waiting an
// interval. A failed read is left to the polling loop.
func (p *Poller) precheck(ctx context.Context) (bool, error) {
	order, err := p.source.Order(ctx, p.orderID)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return false, nil
	}
	if order == nil {
		return false, nil
	}
	var result error
	settled := true
	p.update(func(s *Snapshot) {
		s.Status = order.Status
		s.DownloadURL = order.DownloadURL
		switch {
		case order.DownloadURL != "":
			s.State = StateFound
		case order.Status == models.OrderCancelled:
			s.State = StateCancelled
			result = ErrOrderCancelled
		case order.OrderType != "" && order.OrderType != models.ProductEbook:
			result = ErrNotEbook
		default:
			settled = false
		}
	})
	return settled, result
}

func (p *Poller) poll(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		order, err := p.source.Order(ctx, p.orderID)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && p.log != nil {
			p.log.Warn("order status poll failed", "order_id", p.orderID, "err", err)
		}

		var result error
		p.update(func(s *Snapshot) {
			s.Attempts++
			s.LastError = err
			if order != nil {
				s.Status = order.Status
				s.DownloadURL = order.DownloadURL
			}
			switch {
			case order != nil && order.DownloadURL != "":
				s.State = StateFound
			case order != nil && order.Status == models.OrderCancelled:
				s.State = StateCancelled
				result = ErrOrderCancelled
			case s.Attempts >= p.maxAttempts:
				s.State = StateTimedOut
				result = errTimedOut
			}
		})
		if state := p.State().State; state != StatePolling {
			return result
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) update(fn func(*Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	snap := p.snap
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(snap)
	}
}
