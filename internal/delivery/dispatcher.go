// Package delivery sends rendered payloads to a printer through an ordered
// chain of methods, stopping at the first one that succeeds.
package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/adcondev/receipt-daemon/internal/render"
)

// DefaultTimeout bounds a method attempt when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Method is one way of getting bytes to a printer.
type Method interface {
	Name() string
	Deliver(ctx context.Context, printer string, data []byte) error
}

// Attempt is the outcome of one method in a dispatch.
type Attempt struct {
	Method   string        `json:"method"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the attempt delivered the payload.
func (a Attempt) Succeeded() bool { return a.Err == nil }

// Result is the outcome of a dispatch call.
type Result struct {
	Printer string
	// Method is the method that delivered the payload; empty on failure.
	Method   string
	Attempts []Attempt
	// err is set when dispatch stopped before any method ran.
	err error
}

// OK reports whether one of the methods succeeded.
func (r Result) OK() bool { return r.Method != "" }

// Err returns nil on success and an *AllMethodsFailedError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.err != nil {
		return fmt.Errorf("%w: %w", ErrAllMethodsFailed, r.err)
	}
	if len(r.Attempts) == 0 {
		return fmt.Errorf("%w: %w", ErrAllMethodsFailed, ErrNoMethods)
	}
	agg := &AllMethodsFailedError{Printer: r.Printer}
	for _, a := range r.Attempts {
		agg.Errors = append(agg.Errors, &MethodError{Method: a.Method, Printer: r.Printer, Err: a.Err})
	}
	return agg
}

// Dispatcher walks its method list in order. The list is fixed at
// construction and shared read-only between concurrent dispatches.
type Dispatcher struct {
	methods  []Method
	timeout  time.Duration
	timeouts map[string]time.Duration
	logger   *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-attempt timeout for every method.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithMethodTimeout overrides the timeout of one method.
func WithMethodTimeout(method string, d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeouts[method] = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(ds *Dispatcher) { ds.logger = l }
}

// NewDispatcher creates a dispatcher trying methods in the given order.
func NewDispatcher(methods []Method, opts ...Option) *Dispatcher {
	ds := &Dispatcher{
		methods:  append([]Method(nil), methods...),
		timeout:  DefaultTimeout,
		timeouts: make(map[string]time.Duration),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(ds)
	}
	return ds
}

// Methods lists the configured method names in order.
func (d *Dispatcher) Methods() []string {
	names := make([]string, len(d.methods))
	for i, m := range d.methods {
		names[i] = m.Name()
	}
	return names
}

// MaxLatency is the worst-case duration of one Dispatch call.
func (d *Dispatcher) MaxLatency() time.Duration {
	var total time.Duration
	for _, m := range d.methods {
		total += d.timeoutFor(m.Name())
	}
	return total
}

func (d *Dispatcher) timeoutFor(name string) time.Duration {
	if t, ok := d.timeouts[name]; ok {
		return t
	}
	return d.timeout
}

// Dispatch tries each method once, in order, until one delivers payload.
func (d *Dispatcher) Dispatch(ctx context.Context, printer string, payload *render.Payload) Result {
	res := Result{Printer: printer}
	if payload == nil {
		res.err = ErrNilPayload
		return res
	}
	data := payload.Bytes()

	for _, m := range d.methods {
		start := time.Now()
		err := d.attempt(ctx, m, printer, data).wait()
		a := Attempt{Method: m.Name(), Err: err, Duration: time.Since(start)}
		res.Attempts = append(res.Attempts, a)

		if err == nil {
			res.Method = a.Method
			d.logger.Info("payload delivered",
				zap.String("printer", printer),
				zap.String("method", a.Method),
				zap.Int("bytes", len(data)),
				zap.Duration("duration", a.Duration),
			)
			return res
		}
		d.logger.Warn("delivery method failed, trying next",
			zap.String("printer", printer),
			zap.String("method", a.Method),
			zap.Duration("duration", a.Duration),
			zap.Error(err),
		)
	}

	d.logger.Error("all delivery methods failed", zap.String("printer", printer), zap.Int("attempts", len(res.Attempts)))
	return res
}

// future resolves exactly once with the outcome of one attempt.
type future struct {
	done    <-chan error
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func (f future) wait() error {
	defer f.cancel()
	select {
	case err := <-f.done:
		return err
	case <-f.ctx.Done():
		return fmt.Errorf("timed out after %v: %w", f.timeout, f.ctx.Err())
	}
}

func (d *Dispatcher) attempt(ctx context.Context, m Method, printer string, data []byte) future {
	timeout := d.timeoutFor(m.Name())
	actx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in delivery method",
					zap.String("method", m.Name()),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- m.Deliver(actx, printer, data)
	}()

	return future{done: done, ctx: actx, cancel: cancel, timeout: timeout}
}
