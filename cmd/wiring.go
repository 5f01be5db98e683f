package cmd

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/bandscore/internal/analysis"
	"github.com/abhisek/bandscore/internal/grader"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/jobs"
	"github.com/abhisek/bandscore/internal/llm"
	"github.com/abhisek/bandscore/internal/metrics"
	"github.com/abhisek/bandscore/internal/session"
)

// newGrader builds the grader over the configured provider. Without a key
// it tries the vendors' standard variables, then falls back to a provider
// that always fails so subjective answers get fallback scores.
func (e *env) newGrader(ctx context.Context) *grader.Grader {
	cfg := e.cfg.LLM
	if err := cfg.Validate(); err != nil {
		if found, ok := llm.DiscoverConfig(); ok {
			e.log.WithField("provider", found.Provider).Info("using discovered grader credentials")
			cfg = found
		} else {
			e.log.WithError(err).Warn("grader not configured, subjective answers will use fallback scores")
			cfg.Provider = "mock"
		}
	}

	p, err := llm.NewProvider(ctx, cfg, e.store.Queries(), e.log)
	if err != nil {
		e.log.WithError(err).Warn("grader unavailable, subjective answers will use fallback scores")
		p = llm.NewMockProvider()
	}
	gcfg := grader.DefaultConfig()
	gcfg.Timeout = cfg.Timeout
	return grader.New(p, gcfg)
}

func (e *env) newOrchestrator(ctx context.Context, m *metrics.Metrics) *analysis.Orchestrator {
	return analysis.New(e.store, e.newGrader(ctx), analysis.Options{Log: e.log, Metrics: m})
}

// newQueue connects the configured queue backend.
func (e *env) newQueue(ctx context.Context) (jobs.Queue, error) {
	qc := e.cfg.Queue
	if qc.Backend == "redis" {
		return jobs.NewRedisQueue(ctx, jobs.RedisConfig{Addr: qc.RedisAddr, DB: qc.RedisDB, Key: qc.RedisKey})
	}
	return jobs.NewMemoryQueue(qc.Buffer), nil
}

// dispatcher returns the analysis dispatcher for one-shot commands. A
// redis queue hands the job to the worker. The memory queue dies with the
// process, so analysis then runs inline.
func (e *env) dispatcher(ctx context.Context) (session.Dispatcher, func(), error) {
	if e.cfg.Queue.Backend != "redis" {
		return &inlineDispatcher{orch: e.newOrchestrator(ctx, nil), log: e.log}, func() {}, nil
	}
	q, err := e.newQueue(ctx)
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewClient(q), func() { q.Close() }, nil
}

type inlineDispatcher struct {
	orch *analysis.Orchestrator
	log  logrus.FieldLogger
}

func (d *inlineDispatcher) DispatchAnalysis(ctx context.Context, m ielts.Module, sessionID, _ string) error {
	log := d.log.WithFields(logrus.Fields{"session_id": sessionID, "module": m})
	analyses, err := d.orch.Analyse(ctx, m, sessionID)
	if err != nil {
		log.WithError(err).Warn("inline analysis failed")
		return err
	}
	log.WithField("analyses", len(analyses)).Info("analysis ran inline, no worker queue configured")
	return nil
}
