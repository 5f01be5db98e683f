package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/metrics"
	"github.com/abhisek/bandscore/internal/telemetry"
)

// Handler processes one job.
type Handler func(ctx context.Context, j Job) error

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	// Backoff is the delay before the first retry. It doubles per attempt
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Worker consumes a Queue with a fixed pool of goroutines.
type Worker struct {
	queue    Queue
	cfg      WorkerConfig
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	handlers map[string]Handler
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	after    func(d time.Duration, f func()) *time.Timer

	mu     sync.Mutex
	parked map[*time.Timer]Job
}

// NewWorker creates a worker. m may be nil.
func NewWorker(q Queue, cfg WorkerConfig, log logrus.FieldLogger, m *metrics.Metrics) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{
		queue:    q,
		cfg:      cfg,
		log:      log.WithField("component", "worker"),
		metrics:  m,
		tracer:   telemetry.Tracer(),
		handlers: make(map[string]Handler),
		now:      time.Now,
		sleep:    sleepCtx,
		after:    time.AfterFunc,
		parked:   make(map[*time.Timer]Job),
	}
}

// Handle registers h for jobs named name. Call before Run.
func (w *Worker) Handle(name string, h Handler) {
	w.handlers[name] = h
}

// Run processes jobs until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("concurrency", w.cfg.Concurrency).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	w.unpark()

	w.log.Info("worker stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	for {
		j, err := w.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, ErrClosed), ctx.Err() != nil:
			return
		case err != nil:
			w.log.WithError(err).Error("dequeue failed")
			if w.sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		w.process(ctx, j)
	}
}

// process runs one job, re-enqueuing it with backoff on a transient failure.
func (w *Worker) process(ctx context.Context, j Job) {
	if wait := j.NotBefore.Sub(w.now()); wait > 0 {
		w.park(j, wait)
		return
	}

	log := w.log.WithFields(logrus.Fields{
		"job":        j.Name,
		"job_id":     j.ID,
		"session_id": j.SessionID,
		"attempt":    j.Attempt + 1,
	})

	h, ok := w.handlers[j.Name]
	if !ok {
		log.Error("no handler for job")
		w.metrics.Job(j.Name, "dropped", 0)
		return
	}

	started := w.now()
	w.metrics.InFlight(1)
	err := w.run(ctx, j, h)
	w.metrics.InFlight(-1)
	took := w.now().Sub(started)

	switch {
	case err == nil:
		log.WithField("duration", took.String()).Info("job done")
		w.metrics.Job(j.Name, "ok", took)
	case Permanent(err):
		log.WithError(err).Warn("job failed permanently")
		w.metrics.Job(j.Name, "failed", took)
	case j.Attempt+1 >= w.cfg.MaxAttempts:
		log.WithError(err).Error("job gave up after max attempts")
		w.metrics.Job(j.Name, "failed", took)
	default:
		j.Attempt++
		j.NotBefore = w.now().Add(w.backoff(j.Attempt))
		log.WithError(err).WithField("retry_at", j.NotBefore).Warn("job failed, retrying")
		w.metrics.Job(j.Name, "retry", took)
		w.requeue(j)
	}
}

func (w *Worker) run(ctx context.Context, j Job, h Handler) (err error) {
	ctx, span := w.tracer.Start(ctx, "jobs."+j.Name, trace.WithAttributes(
		attribute.String("job_id", j.ID),
		attribute.String("session_id", j.SessionID),
		attribute.Int("attempt", j.Attempt+1),
	))
	defer func() { telemetry.End(span, err) }()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, j)
}

// requeue puts j back without the run context, which may be cancelled.
func (w *Worker) requeue(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Enqueue(ctx, j); err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Error("failed to requeue job")
	}
}

// park holds a job that is not yet due and re-enqueues it once it is, so
// the goroutine can move on to the next job.
func (w *Worker) park(j Job, wait time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var t *time.Timer
	t = w.after(wait, func() {
		w.mu.Lock()
		_, ok := w.parked[t]
		delete(w.parked, t)
		w.mu.Unlock()
		if ok {
			w.requeue(j)
		}
	})
	w.parked[t] = j
	w.log.WithFields(logrus.Fields{"job_id": j.ID, "wait": wait.String()}).Debug("job not due, parked")
}

// unpark returns every parked job to the queue early. A job keeps its
// NotBefore, so the next worker parks it again.
func (w *Worker) unpark() {
	w.mu.Lock()
	var pending []Job
	for t, j := range w.parked {
		t.Stop()
		delete(w.parked, t)
		pending = append(pending, j)
	}
	w.mu.Unlock()

	for _, j := range pending {
		w.requeue(j)
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.Backoff
	for i := 1; i < attempt && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, w.cfg.MaxBackoff)
}

// Permanent reports whether retrying a job that failed with err is
// pointless.
func Permanent(err error) bool {
	return errors.Is(err, ielts.ErrNotFound) ||
		errors.Is(err, ielts.ErrInvalidState) ||
		errors.Is(err, ielts.ErrUnknownTestType) ||
		errors.Is(err, ielts.ErrValidation)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Analyser produces the analyses of a completed session.
type Analyser interface {
	Analyse(ctx context.Context, module ielts.Module, sessionID string) ([]ielts.Analysis, error)
}

// RegisterAnalysis wires every analysis job to a.
func RegisterAnalysis(w *Worker, a Analyser) {
	for name, m := range jobModules {
		w.Handle(name, func(ctx context.Context, j Job) error {
			_, err := a.Analyse(ctx, m, j.SessionID)
			return err
		})
	}
}
