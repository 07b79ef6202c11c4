// Package nlq answers natural language business questions by having an LLM
// write SQL and running it against the analytics database.
package nlq

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

// DefaultMaxAttempts bounds the translate and execute pipeline per question.
const DefaultMaxAttempts = 5

// Result is the answer to a natural language question.
type Result struct {
	NaturalLanguageQuery string      `json:"natural_language_query"`
	Title                *string     `json:"title"`
	Results              []SQLResult `json:"results"`
	TotalTimeMs          float64     `json:"total_time_ms"`
	GenerationTimeMs     float64     `json:"generation_time_ms"`
}

// Querier executes one SQL query.
type Querier interface {
	Execute(ctx context.Context, query string) (SQLResult, error)
}

// Planner turns a question into SQL.
type Planner interface {
	Translate(ctx context.Context, question string) (Plan, error)
}

// Agent runs the pipeline, retrying it as a whole when any step fails.
type Agent struct {
	planner     Planner
	querier     Querier
	units       *UnitAssigner
	maxAttempts int
	log         *logging.Logger
}

// NewAgent creates an agent. A non-positive maxAttempts selects
// DefaultMaxAttempts; a nil units assigner selects the default patterns.
func NewAgent(planner Planner, querier Querier, units *UnitAssigner, maxAttempts int, log *logging.Logger) *Agent {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if units == nil {
		units, _ = NewUnitAssigner(nil)
	}
	return &Agent{
		planner:     planner,
		querier:     querier,
		units:       units,
		maxAttempts: maxAttempts,
		log:         log.Sub("nlq"),
	}
}

// Compute answers question.
func (a *Agent) Compute(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		metrics.NLQRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempts < a.maxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++
		res, err := a.attempt(ctx, question)
		if err == nil {
			res.TotalTimeMs = millis(time.Since(start))
			metrics.NLQRequestsTotal.WithLabelValues("ok").Inc()
			metrics.NLQAttempts.Observe(float64(attempts))
			a.log.Info().
				Int("attempts", attempts).
				Int("queries", len(res.Results)).
				Float64("totalMs", res.TotalTimeMs).
				Msg("question answered")
			return res, nil
		}
		lastErr = err
		a.log.Warn().Err(err).Int("attempt", attempts).Msg("nlq attempt failed")
	}

	metrics.NLQRequestsTotal.WithLabelValues("error").Inc()
	metrics.NLQAttempts.Observe(float64(attempts))
	return nil, &ComputeError{Attempts: attempts, Err: lastErr}
}

func (a *Agent) attempt(ctx context.Context, question string) (*Result, error) {
	genStart := time.Now()
	plan, err := a.planner.Translate(ctx, question)
	if err != nil {
		return nil, err
	}
	generation := time.Since(genStart)

	results := make([]SQLResult, 0, len(plan.SQLQueries))
	for _, q := range plan.SQLQueries {
		r, err := a.querier.Execute(ctx, q)
		if err != nil {
			return nil, err
		}
		r.ColumnsUnits = a.units.Assign(r.Columns)
		results = append(results, r)
	}

	return &Result{
		NaturalLanguageQuery: question,
		Title:                plan.Title,
		Results:              results,
		GenerationTimeMs:     millis(generation),
	}, nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
