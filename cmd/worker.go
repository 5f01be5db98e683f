package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abhisek/bandscore/internal/jobs"
	"github.com/abhisek/bandscore/internal/metrics"
	"github.com/abhisek/bandscore/internal/session"
	"github.com/abhisek/bandscore/internal/telemetry"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run analysis jobs and expire stale sessions",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().Duration("sweep-interval", time.Minute, "How often to expire stale sessions (0 disables)")
}

// runWorker consumes the job queue until interrupted.
func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	shutdown, err := telemetry.Setup(ctx, serviceName, e.cfg.Telemetry.Endpoint, e.cfg.Telemetry.SampleRatio)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			e.log.WithError(err).Warn("telemetry shutdown")
		}
	}()

	m := metrics.New()
	if e.cfg.MetricsAddr != "" {
		srv, errc := m.Serve(e.cfg.MetricsAddr)
		go func() {
			if err := <-errc; err != nil {
				e.log.WithError(err).Error("metrics listener failed")
			}
		}()
		defer srv.Close()
		e.log.WithField("addr", e.cfg.MetricsAddr).Info("serving metrics")
	}

	q, err := e.newQueue(ctx)
	if err != nil {
		return err
	}
	defer q.Close()
	if e.cfg.Queue.Backend != "redis" {
		e.log.Warn("memory queue only sees jobs enqueued by this process; set BANDSCORE_QUEUE_BACKEND=redis")
	}

	w := jobs.NewWorker(q, jobs.WorkerConfig{
		Concurrency: e.cfg.Worker.Concurrency,
		MaxAttempts: e.cfg.Worker.MaxAttempts,
		Backoff:     e.cfg.Worker.Backoff,
	}, e.log, m)
	jobs.RegisterAnalysis(w, e.newOrchestrator(ctx, m))

	interval, _ := cmd.Flags().GetDuration("sweep-interval")
	if interval > 0 {
		svc := session.NewService(e.store, jobs.NewClient(q), session.Options{Log: e.log, Metrics: m})
		go sweep(ctx, svc, e.cfg.Session.MaxDuration, interval, e.log)
	}

	return w.Run(ctx)
}

// sweep expires sessions older than maxAge every interval.
func sweep(ctx context.Context, svc *session.Service, maxAge, interval time.Duration, log logrus.FieldLogger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.ExpireStale(ctx, maxAge)
			if err != nil {
				log.WithError(err).Error("expiry sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("expired", n).Info("expired stale sessions")
			}
		}
	}
}
