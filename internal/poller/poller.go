// Package poller contiene el ciclo que reclama trabajos de la cola, los
// imprime y reporta su estado final.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adcondev/receipt-daemon/internal/delivery"
	pollererrors "github.com/adcondev/receipt-daemon/internal/poller/errors"
	"github.com/adcondev/receipt-daemon/internal/queue"
	"github.com/adcondev/receipt-daemon/internal/receipt"
	"github.com/adcondev/receipt-daemon/internal/render"
)

// ErrTickInProgress is returned by Tick while another tick is running.
var ErrTickInProgress = errors.New("poll tick already in progress")

// ErrNoPrinter is the failure of a job with no printer and no default.
var ErrNoPrinter = errors.New("no printer configured for job")

// Config holds poller configuration
type Config struct {
	Interval       time.Duration  // time between ticks
	Workers        int            // jobs processed concurrently within one batch
	DefaultPrinter string         // used when the job names none
	Profile        render.Profile // used when the job names no paper width
}

// Renderer produces printer payloads.
type Renderer interface {
	Render(t *receipt.Template, opts render.Options) (*render.Payload, error)
}

// Dispatcher delivers payloads.
type Dispatcher interface {
	Dispatch(ctx context.Context, printer string, payload *render.Payload) delivery.Result
}

// Outcome is the terminal result of one claimed job.
type Outcome struct {
	JobID    string
	Status   queue.Status
	Printer  string
	Method   string
	Message  string
	Err      error
	Duration time.Duration
	// Reported is false when the queue did not persist the terminal status.
	Reported bool
}

// Notifier receives job outcomes, e.g. to push them to a waiting client.
type Notifier interface {
	JobFinished(Outcome)
}

// Poller periodically drains a queue.
type Poller struct {
	queue    queue.Queue
	renderer Renderer
	dispatch Dispatcher
	notifier Notifier
	config   Config
	logger   *zap.Logger

	ticking  atomic.Bool
	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu           sync.Mutex
	isRunning    bool
	jobsClaimed  int64
	jobsDone     int64
	jobsFailed   int64
	claimErrors  int64
	reportErrors int64
	lastJobTime  time.Time
	lastTick     time.Time
}

// New creates a poller. notifier may be nil.
func New(q queue.Queue, r Renderer, d Dispatcher, notifier Notifier, config Config, logger *zap.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Profile.Columns == 0 {
		config.Profile = render.Profile58mm
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		queue:    q,
		renderer: r,
		dispatch: d,
		notifier: notifier,
		config:   config,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Start begins polling in the background
func (p *Poller) Start() {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("poller started",
		zap.Duration("interval", p.config.Interval),
		zap.Int("workers", p.config.Workers),
	)
}

// Stop stops taking ticks and waits for the current batch. Jobs abandoned by
// a process exit stay PRINTING in the queue.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	s := p.Stats()
	p.logger.Info("poller stopped",
		zap.Int64("completed", s.JobsCompleted),
		zap.Int64("failed", s.JobsFailed),
	)
}

// Wake requests a tick without waiting for the interval.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
			p.logger.Warn("poll tick failed", zap.Error(err))
		}
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// Tick fetches the pending jobs and processes them. It never overlaps itself.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.ticking.CompareAndSwap(false, true) {
		return ErrTickInProgress
	}
	defer p.ticking.Store(false)

	p.mu.Lock()
	p.lastTick = time.Now()
	p.mu.Unlock()

	jobs, err := p.queue.FetchPending(ctx)
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	p.logger.Debug("batch fetched", zap.Int("jobs", len(jobs)))

	if p.config.Workers == 1 {
		for _, job := range jobs {
			p.handle(ctx, job)
		}
		return nil
	}

	feed := make(chan queue.Job)
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range feed {
				p.handle(ctx, job)
			}
		}()
	}
	for _, job := range jobs {
		feed <- job
	}
	close(feed)
	wg.Wait()
	return nil
}

// handle claims, prints and reports one job.
func (p *Poller) handle(ctx context.Context, job queue.Job) {
	log := p.logger.With(zap.String("job_id", job.ID))

	if err := p.queue.MarkPrinting(ctx, job.ID); err != nil {
		p.count(func() { p.claimErrors++ })
		if errors.Is(err, queue.ErrAlreadyClaimed) {
			log.Debug("job claimed elsewhere")
		} else {
			log.Warn("claim failed, retrying next tick", zap.Error(err))
		}
		return
	}

	p.count(func() { p.jobsClaimed++ })

	start := time.Now()
	printer, res, err := p.execute(ctx, job)
	out := Outcome{
		JobID:    job.ID,
		Printer:  printer,
		Method:   res.Method,
		Duration: time.Since(start),
	}

	if err != nil {
		out.Status, out.Err = queue.StatusFailed, err
		out.Message = pollererrors.ExtractUserFriendlyError(err)
		log.Error("job failed", zap.Duration("duration", out.Duration), zap.Error(err))
		err = p.queue.MarkFailed(ctx, job.ID, out.Message+": "+err.Error())
	} else {
		out.Status = queue.StatusCompleted
		out.Message = fmt.Sprintf("Print completed in %v via %s", out.Duration.Round(time.Millisecond), res.Method)
		log.Info("job completed", zap.String("method", res.Method), zap.Duration("duration", out.Duration))
		err = p.queue.MarkCompleted(ctx, job.ID)
	}
	out.Reported = err == nil

	p.count(func() {
		if out.Status == queue.StatusFailed {
			p.jobsFailed++
		} else {
			p.jobsDone++
		}
		if !out.Reported {
			p.reportErrors++
		}
		p.lastJobTime = time.Now()
	})
	if !out.Reported {
		log.Error("terminal status not persisted, job stays PRINTING",
			zap.String("status", string(out.Status)),
			zap.Error(err),
		)
	}

	if p.notifier != nil {
		go p.notifier.JobFinished(out)
	}
}

// execute renders and dispatches a claimed job. Panics become errors.
func (p *Poller) execute(ctx context.Context, job queue.Job) (printer string, res delivery.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in execute: %v", r)
			p.logger.Error("panic in job",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	tmpl, err := receipt.Parse(job.Document)
	if err != nil {
		return "", res, err
	}
	kind, err := receipt.ParseKind(string(job.Kind))
	if err != nil {
		return "", res, err
	}
	prof := p.config.Profile
	if job.Paper != "" {
		if prof, err = render.ProfileByName(job.Paper); err != nil {
			return "", res, err
		}
		prof.NativeBitmap = p.config.Profile.NativeBitmap
	}

	printer = job.Printer
	if printer == "" {
		printer = p.config.DefaultPrinter
	}
	if printer == "" {
		return "", res, ErrNoPrinter
	}

	payload, err := p.renderer.Render(tmpl, render.Options{Profile: prof, Kind: kind})
	if err != nil {
		return printer, res, err
	}

	res = p.dispatch.Dispatch(ctx, printer, payload)
	return printer, res, res.Err()
}

func (p *Poller) count(f func()) {
	p.mu.Lock()
	f()
	p.mu.Unlock()
}

// Stats returns current poller statistics
func (p *Poller) Stats() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Statistics{
		IsRunning:     p.isRunning,
		JobsClaimed:   p.jobsClaimed,
		JobsCompleted: p.jobsDone,
		JobsFailed:    p.jobsFailed,
		ClaimErrors:   p.claimErrors,
		ReportErrors:  p.reportErrors,
		LastJobTime:   p.lastJobTime,
		LastTick:      p.lastTick,
	}
}

// Statistics holds poller runtime statistics
type Statistics struct {
	IsRunning     bool      `json:"is_running"`
	JobsClaimed   int64     `json:"jobs_claimed"`
	JobsCompleted int64     `json:"jobs_completed"`
	JobsFailed    int64     `json:"jobs_failed"`
	ClaimErrors   int64     `json:"claim_errors"`
	ReportErrors  int64     `json:"report_errors"`
	LastJobTime   time.Time `json:"last_job_time,omitempty"`
	LastTick      time.Time `json:"last_tick,omitempty"`
}
