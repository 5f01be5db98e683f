package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/metrics"
)

func TestAnalysisJob(t *testing.T) {
	for m, want := range map[ielts.Module]string{
		ielts.Listening: AnalyseListening,
		ielts.Reading:   AnalyseReading,
		ielts.Writing:   AnalyseWriting,
		ielts.Speaking:  AnalyseSpeaking,
	} {
		got, err := AnalysisJob(m)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := AnalysisJob("grammar")
	assert.ErrorIs(t, err, ielts.ErrUnknownTestType)
}

func TestClientDispatchAnalysis(t *testing.T) {
	q := NewMemoryQueue(4)
	c := NewClient(q)
	ctx := context.Background()

	require.NoError(t, c.DispatchAnalysis(ctx, ielts.Listening, "s1", "ru"))
	require.NoError(t, c.DispatchAnalysis(ctx, ielts.Writing, "s2", "ru"))
	assert.Equal(t, 2, q.Len())

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, AnalyseListening, j.Name)
	assert.Equal(t, "s1", j.SessionID)
	assert.Empty(t, j.Lang, "objective jobs carry no language")
	assert.NotEmpty(t, j.ID)
	assert.Zero(t, j.Attempt)

	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, AnalyseWriting, j.Name)
	assert.Equal(t, "ru", j.Lang)
}

func TestClientDispatchClosedQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())

	err := NewClient(q).DispatchAnalysis(context.Background(), ielts.Reading, "s1", "en")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryQueue(t *testing.T) {
	t.Run("fifo", func(t *testing.T) {
		q := NewMemoryQueue(3)
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, q.Enqueue(ctx, Job{ID: id}))
		}
		for _, id := range []string{"a", "b", "c"} {
			j, err := q.Dequeue(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, j.ID)
		}
	})

	t.Run("full buffer honours context", func(t *testing.T) {
		q := NewMemoryQueue(1)
		require.NoError(t, q.Enqueue(context.Background(), Job{ID: "a"}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, q.Enqueue(ctx, Job{ID: "b"}), context.DeadlineExceeded)
	})

	t.Run("close wakes dequeue", func(t *testing.T) {
		q := NewMemoryQueue(1)
		errc := make(chan error, 1)
		go func() {
			_, err := q.Dequeue(context.Background())
			errc <- err
		}()
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("dequeue did not return after close")
		}
	})
}

func newTestWorker(t *testing.T, q Queue, cfg WorkerConfig) (*Worker, *test.Hook, *metrics.Metrics) {
	t.Helper()
	log, hook := test.NewNullLogger()
	m := metrics.New()
	w := NewWorker(q, cfg, log, m)
	// Retries are immediate in tests.
	w.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	w.after = func(_ time.Duration, f func()) *time.Timer { return time.AfterFunc(0, f) }
	return w, hook, m
}

// runUntil runs w until done is closed, then stops it.
func runUntil(t *testing.T, w *Worker, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for jobs")
	}
	cancel()
	require.NoError(t, <-errc)
}

func TestWorkerProcessesJobs(t *testing.T) {
	q := NewMemoryQueue(16)
	w, hook, m := newTestWorker(t, q, WorkerConfig{Concurrency: 3, MaxAttempts: 1})

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	wg.Add(10)
	w.Handle("echo", func(_ context.Context, j Job) error {
		defer wg.Done()
		mu.Lock()
		seen[j.SessionID] = true
		mu.Unlock()
		return nil
	})
	for i := range 10 {
		require.NoError(t, q.Enqueue(context.Background(), Job{ID: string(rune('a' + i)), Name: "echo", SessionID: string(rune('a' + i))}))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	runUntil(t, w, done)

	assert.Len(t, seen, 10)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("echo", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.JobsInFlight))
	assert.Equal(t, "worker stopped", hook.LastEntry().Message)
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	q := NewMemoryQueue(4)
	w, _, m := newTestWorker(t, q, WorkerConfig{Concurrency: 1, MaxAttempts: 5, Backoff: time.Second})

	var calls atomic.Int32
	done := make(chan struct{})
	w.Handle("flaky", func(_ context.Context, j Job) error {
		n := calls.Add(1)
		assert.Equal(t, int(n), j.Attempt+1)
		if n < 3 {
			return errors.New("grader timeout")
		}
		close(done)
		return nil
	})
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j1", Name: "flaky"}))

	runUntil(t, w, done)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("flaky", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("flaky", "ok")))
}

func TestWorkerGivesUp(t *testing.T) {
	q := NewMemoryQueue(4)
	w, hook, m := newTestWorker(t, q, WorkerConfig{Concurrency: 1, MaxAttempts: 3})

	var calls atomic.Int32
	done := make(chan struct{})
	w.Handle("broken", func(context.Context, Job) error {
		if calls.Add(1) == 3 {
			defer close(done)
		}
		return errors.New("boom")
	})
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j1", Name: "broken"}))

	runUntil(t, w, done)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("broken", "failed")))

	var gaveUp bool
	for _, e := range hook.AllEntries() {
		if e.Message == "job gave up after max attempts" {
			gaveUp = true
			assert.Equal(t, logrus.ErrorLevel, e.Level)
		}
	}
	assert.True(t, gaveUp)
}

func TestWorkerPermanentFailures(t *testing.T) {
	for name, err := range map[string]error{
		"not found":  ielts.NotFound("session", "s1"),
		"state":      &ielts.StateError{Module: ielts.Listening, From: ielts.StatusCancelled, Event: ielts.EventSubmit},
		"validation": ielts.Invalid("user_answer", "empty"),
	} {
		t.Run(name, func(t *testing.T) {
			q := NewMemoryQueue(4)
			w, _, m := newTestWorker(t, q, WorkerConfig{Concurrency: 1, MaxAttempts: 5})

			var calls atomic.Int32
			done := make(chan struct{})
			w.Handle("job", func(context.Context, Job) error {
				calls.Add(1)
				close(done)
				return err
			})
			require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j1", Name: "job"}))

			runUntil(t, w, done)

			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, 0, q.Len())
			assert.Equal(t, 0.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("job", "retry")))
		})
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	q := NewMemoryQueue(4)
	w, _, m := newTestWorker(t, q, WorkerConfig{Concurrency: 1, MaxAttempts: 1})

	done := make(chan struct{})
	w.Handle("panics", func(context.Context, Job) error {
		close(done)
		panic("nil exam")
	})
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j1", Name: "panics"}))

	runUntil(t, w, done)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("panics", "failed")))
}

func TestWorkerDropsUnknownJobs(t *testing.T) {
	q := NewMemoryQueue(4)
	w, hook, m := newTestWorker(t, q, WorkerConfig{Concurrency: 1, MaxAttempts: 3})

	done := make(chan struct{})
	w.Handle("known", func(context.Context, Job) error { close(done); return nil })
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j1", Name: "mystery"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j2", Name: "known"}))

	runUntil(t, w, done)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("mystery", "dropped")))
	var logged bool
	for _, e := range hook.AllEntries() {
		logged = logged || e.Message == "no handler for job"
	}
	assert.True(t, logged)
}

func TestWorkerDelayedJobDoesNotBlockOthers(t *testing.T) {
	q := NewMemoryQueue(4)
	w, _, m := newTestWorker(t, q, WorkerConfig{Concurrency: 1, MaxAttempts: 1})
	w.after = time.AfterFunc

	var later atomic.Int32
	done := make(chan struct{})
	w.Handle("later", func(context.Context, Job) error { later.Add(1); return nil })
	w.Handle("now", func(context.Context, Job) error { close(done); return nil })

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{ID: "j1", Name: "later", NotBefore: time.Now().Add(time.Hour)}))
	require.NoError(t, q.Enqueue(ctx, Job{ID: "j2", Name: "now"}))

	runUntil(t, w, done)

	assert.Zero(t, later.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("now", "ok")))

	// The parked job goes back on the queue at shutdown.
	require.Equal(t, 1, q.Len())
	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", j.ID)
}

func TestWorkerBackoff(t *testing.T) {
	w := NewWorker(NewMemoryQueue(1), WorkerConfig{Backoff: 2 * time.Second, MaxBackoff: 10 * time.Second}, nil, nil)
	assert.Equal(t, 2*time.Second, w.backoff(1))
	assert.Equal(t, 4*time.Second, w.backoff(2))
	assert.Equal(t, 8*time.Second, w.backoff(3))
	assert.Equal(t, 10*time.Second, w.backoff(4))
	assert.Equal(t, 10*time.Second, w.backoff(9))
}

type fakeAnalyser struct {
	mu    sync.Mutex
	calls map[ielts.Module][]string
	done  chan struct{}
}

func (f *fakeAnalyser) Analyse(_ context.Context, m ielts.Module, sessionID string) ([]ielts.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[m] = append(f.calls[m], sessionID)
	if len(f.calls) == 4 {
		close(f.done)
	}
	return []ielts.Analysis{{Module: m, SessionID: sessionID}}, nil
}

func TestRegisterAnalysis(t *testing.T) {
	q := NewMemoryQueue(8)
	c := NewClient(q)
	w, _, _ := newTestWorker(t, q, WorkerConfig{Concurrency: 2, MaxAttempts: 1})
	a := &fakeAnalyser{calls: map[ielts.Module][]string{}, done: make(chan struct{})}
	RegisterAnalysis(w, a)

	ctx := context.Background()
	require.NoError(t, c.DispatchAnalysis(ctx, ielts.Listening, "l1", "en"))
	require.NoError(t, c.DispatchAnalysis(ctx, ielts.Reading, "r1", "en"))
	require.NoError(t, c.DispatchAnalysis(ctx, ielts.Writing, "w1", "en"))
	require.NoError(t, c.DispatchAnalysis(ctx, ielts.Speaking, "s1", "en"))

	runUntil(t, w, a.done)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, map[ielts.Module][]string{
		ielts.Listening: {"l1"},
		ielts.Reading:   {"r1"},
		ielts.Writing:   {"w1"},
		ielts.Speaking:  {"s1"},
	}, a.calls)
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(ielts.NotFound("exam", "e1")))
	assert.True(t, Permanent(ielts.ErrUnknownTestType))
	assert.False(t, Permanent(&ielts.ExternalError{Op: "grade", Err: errors.New("503")}))
	assert.False(t, Permanent(context.DeadlineExceeded))
}

// setupTestRedis connects to a local Redis or skips.
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	client.FlushDB(ctx)
	return client
}

func TestRedisQueue(t *testing.T) {
	client := setupTestRedis(t)
	q := NewRedisQueueWithClient(client, "bandscore:test:jobs")
	q.poll = 100 * time.Millisecond
	defer q.Close()
	ctx := context.Background()

	enq := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(ctx, Job{ID: "a", Name: AnalyseWriting, SessionID: "s1", Lang: "uz", Enqueued: enq}))
	require.NoError(t, q.Enqueue(ctx, Job{ID: "b", Name: AnalyseReading, SessionID: "s2", Attempt: 2}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Job{ID: "a", Name: AnalyseWriting, SessionID: "s1", Lang: "uz", Enqueued: enq}, j)

	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", j.ID)
	assert.Equal(t, 2, j.Attempt)

	short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
