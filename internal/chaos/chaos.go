// Package chaos runs consistency experiments against a live deployment.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // share of listings touched, 0 to 1
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

// Action is a fault injection or recovery step.
type Action struct {
	Type       string
	Target     string
	Parameters map[string]any
	Execute    func(context.Context) error
}

// Assertion checks the last observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment run.
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

func (r *Result) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: component})
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer      trace.Tracer
	logger      *zap.Logger
	sampleEvery time.Duration
	pause       time.Duration
	experiments []Experiment
	results     []Result
	mu          sync.Mutex
}

// Option tunes an Engine.
type Option func(*Engine)

// WithSampling sets how often metrics are sampled while observing.
func WithSampling(every time.Duration) Option { return func(e *Engine) { e.sampleEvery = every } }

// WithPause sets the wait between game-day experiments.
func WithPause(d time.Duration) Option { return func(e *Engine) { e.pause = d } }

func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		tracer:      otel.Tracer("shelfshare/chaos"),
		logger:      logger,
		sampleEvery: time.Second,
		pause:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) RegisterExperiment(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// RunExperiment checks the steady state, injects the method's faults,
// samples the steady-state metrics for the experiment's duration, rolls
// back and evaluates the assertions.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		return result, fmt.Errorf("%s: %w", exp.Name, ErrSteadyStateInvalid)
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = e.assertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.sampleEvery)
	defer ticker.Stop()

	var violatedAt time.Time
	recovered := false
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
		}

		healthy := true
		for _, metric := range exp.SteadyState {
			value, err := metric.Query(ctx)
			if err != nil {
				result.recordError(metric.Name, err)
				continue
			}
			now := time.Now()
			result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})
			if !metric.Threshold.Holds(value) {
				healthy = false
				result.Violations = append(result.Violations, Violation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  now,
				})
			}
		}

		switch {
		case !healthy && violatedAt.IsZero():
			violatedAt = time.Now()
		case healthy && !violatedAt.IsZero() && !recovered:
			mttr := time.Since(violatedAt)
			result.MTTR = &mttr
			recovered = true
		}
	}
}

func (e *Engine) steadyState(ctx context.Context, metrics []Metric) []Violation {
	var violations []Violation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			e.logger.Warn("steady state query failed", zap.String("metric", metric.Name), zap.Error(err))
			value = -1
		}
		if err != nil || !metric.Threshold.Holds(value) {
			violations = append(violations, Violation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}

func (e *Engine) assertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Metric]
		if len(observations) == 0 {
			failed = append(failed, fmt.Sprintf("%s: no observations", a.Message))
			continue
		}
		if last := observations[len(observations)-1].Value; !a.Condition(last) {
			failed = append(failed, fmt.Sprintf("%s: last value %.2f", a.Message, last))
		}
	}
	return failed
}

// GameDay is a series of experiments run back to back.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []Experiment
	Participants []string
}

// ExecuteGameDay runs every scenario and reports how many did not hold.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (failed int, err error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.logger.Info("starting game day",
		zap.String("name", day.Name),
		zap.Time("date", day.Date),
		zap.Strings("participants", day.Participants),
		zap.Int("experiments", len(day.Scenarios)))

	for i, scenario := range day.Scenarios {
		if i > 0 {
			select {
			case <-ctx.Done():
				return failed, ctx.Err()
			case <-time.After(e.pause):
			}
		}
		e.logger.Info("running experiment",
			zap.Int("index", i+1),
			zap.String("name", scenario.Name),
			zap.String("hypothesis", scenario.Hypothesis))

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			e.logger.Error("experiment aborted", zap.String("name", scenario.Name), zap.Error(err))
			failed++
			continue
		}
		e.report(result)
		if !result.HypothesisHeld {
			failed++
		}
	}
	return failed, nil
}

func (e *Engine) report(result *Result) {
	fields := []zap.Field{
		zap.String("name", result.ExperimentName),
		zap.Bool("hypothesis_held", result.HypothesisHeld),
		zap.Int("violations", len(result.Violations)),
		zap.Int("errors", len(result.ErrorEvents)),
		zap.Duration("duration", result.Duration),
	}
	if result.MTTR != nil {
		fields = append(fields, zap.Duration("mttr", *result.MTTR))
	}
	if result.HypothesisHeld {
		e.logger.Info("hypothesis held", fields...)
		return
	}
	e.logger.Warn("hypothesis violated", append(fields, zap.Strings("failed_assertions", result.FailedAssertions))...)
}
