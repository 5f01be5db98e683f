package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/bandscore/internal/store"
)

// CallRecorder persists grader calls. *store.Queries satisfies it.
type CallRecorder interface {
	RecordGraderCall(ctx context.Context, c *store.GraderCall) error
}

// LoggingProvider is a decorator that records every request and logs a
// one-line summary with token usage and estimated cost.
type LoggingProvider struct {
	inner    Provider
	provider string
	recorder CallRecorder
	log      logrus.FieldLogger
}

// WithLogging wraps a Provider with call recording. recorder may be nil.
func WithLogging(p Provider, providerName string, recorder CallRecorder, log logrus.FieldLogger) Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LoggingProvider{inner: p, provider: providerName, recorder: recorder, log: log}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	purpose := PurposeFrom(ctx)

	resp, err := l.inner.Generate(ctx, req)

	call := store.GraderCall{
		Provider:    l.provider,
		Model:       l.inner.ModelID(),
		Purpose:     purpose,
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: serializeRequest(req),
	}
	if resp != nil {
		call.InputTokens = resp.Usage.InputTokens
		call.OutputTokens = resp.Usage.OutputTokens
		if resp.Model != "" {
			call.Model = resp.Model
		}
		call.ResponseBody = string(resp.Content)
	}
	if err != nil {
		call.ErrorMessage = err.Error()
	}

	fields := logrus.Fields{
		"provider":      call.Provider,
		"model":         call.Model,
		"purpose":       call.Purpose,
		"input_tokens":  call.InputTokens,
		"output_tokens": call.OutputTokens,
		"latency_ms":    call.LatencyMs,
	}
	if c := LookupCost(call.Model); c != nil {
		fields["cost_usd"] = c.Cost(call.InputTokens, call.OutputTokens)
	}
	if err != nil {
		l.log.WithFields(fields).WithError(err).Warn("grader call failed")
	} else {
		l.log.WithFields(fields).Debug("grader call")
	}

	// Recording never fails the request.
	if l.recorder != nil {
		if recErr := l.recorder.RecordGraderCall(ctx, &call); recErr != nil {
			l.log.WithError(recErr).Warn("failed to record grader call")
		}
	}

	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// serializeRequest builds a readable representation of the request.
func serializeRequest(req Request) string {
	var b strings.Builder

	if req.System != "" {
		b.WriteString("[system]\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}

	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s]\n", m.Role)
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}

	if req.Schema != nil {
		if def, err := json.Marshal(req.Schema.Definition); err == nil {
			fmt.Fprintf(&b, "[schema: %s]\n", req.Schema.Name)
			b.Write(def)
			b.WriteString("\n")
		}
	}

	return b.String()
}
