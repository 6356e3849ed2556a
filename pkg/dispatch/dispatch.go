// Package dispatch races every parser against every target and keeps the
// first successful extraction per target.
//
// Jobs are ordered so that parsers whose expected file name resembles the
// target's base name are tried first, run on a pool with one worker per
// parser, and consumed in completion order by a single collector. As soon as
// every target has a result the dispatcher returns: jobs not yet started are
// skipped and results that arrive later are released.
package dispatch

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
	"github.com/simvis/simvis/pkg/registry"
	"github.com/simvis/simvis/pkg/resilience"
)

const tracerName = "github.com/simvis/simvis/pkg/dispatch"

// Job outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeNoMatch = "no_match"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Recorder receives per-job measurements.
type Recorder interface {
	JobDone(parser, outcome string, attempts int, elapsed time.Duration)
}

// Progress is called by the collector after each finished job.
type Progress func(done, total int)

// Dispatcher runs extraction requests against a parser registry.
type Dispatcher struct {
	parsers  []core.Parser
	fs       core.FileSystem
	policy   resilience.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
	progress Progress
	guard    *resilience.Guard
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the retry policy of each job.
func WithPolicy(p resilience.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer used for request and job spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithRecorder sets the job metrics sink.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithProgress sets the progress callback.
func WithProgress(p Progress) Option {
	return func(d *Dispatcher) { d.progress = p }
}

// New creates a dispatcher over the registry's parsers.
func New(reg *registry.Registry, fs core.FileSystem, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		parsers: reg.Parsers(),
		fs:      fs,
		policy:  resilience.DefaultPolicy(),
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		guard:   resilience.NewGuard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.guard.OnPanic = func(name string, r interface{}) {
		d.logger.Error("parser panicked", "parser", name, "panic", r)
	}
	return d
}

// GuardStats reports how many plugin calls failed or panicked.
func (d *Dispatcher) GuardStats() resilience.GuardStats {
	return d.guard.Stats()
}

// Headers extracts the header of every target.
func (d *Dispatcher) Headers(ctx context.Context, req core.Request) ([]*core.Header, error) {
	return race(ctx, d, req, "header",
		func(ctx context.Context, p core.Parser, in core.Input) (*core.Header, error) {
			return p.ExtractHeader(ctx, in)
		},
		func(*core.Header) {})
}

// Tables extracts the data of every target.
func (d *Dispatcher) Tables(ctx context.Context, req core.Request) ([]*core.Table, error) {
	return race(ctx, d, req, "data",
		func(ctx context.Context, p core.Parser, in core.Input) (*core.Table, error) {
			return p.ExtractData(ctx, in)
		},
		func(t *core.Table) { t.Release() })
}

type job struct {
	parser core.Parser
	target int
	score  float64
}

// Similarity is the normalised Levenshtein similarity of two names in [0, 1].
func Similarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// plan builds every (parser, target) pair, most promising first.
func plan(parsers []core.Parser, targets []core.Target) []job {
	jobs := make([]job, 0, len(parsers)*len(targets))
	for _, p := range parsers {
		for i, t := range targets {
			score := Similarity(p.Descriptor().ExpectedFilename, path.Base(t.Path))
			jobs = append(jobs, job{parser: p, target: i, score: score})
		}
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].score > jobs[b].score })
	return jobs
}

type outcome[T any] struct {
	job      job
	value    T
	err      error
	status   string
	attempts int
}

var errSuperseded = stderrors.New("target already extracted by another parser")

func race[T any](
	ctx context.Context,
	d *Dispatcher,
	req core.Request,
	op string,
	extract func(context.Context, core.Parser, core.Input) (T, error),
	release func(T),
) ([]T, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(d.parsers) == 0 {
		return nil, errors.InvalidRequest("no parsers are registered")
	}

	ctx, span := d.tracer.Start(ctx, "dispatch."+op, trace.WithAttributes(
		attribute.Int("targets", len(req.Targets)),
		attribute.Int("parsers", len(d.parsers)),
		attribute.String("mode", req.Mode.String()),
	))
	defer span.End()

	start := time.Now()
	jobs := plan(d.parsers, req.Targets)
	total := len(jobs)

	claimed := make([]atomic.Bool, len(req.Targets))
	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	// Buffered so workers never block on a collector that has returned.
	results := make(chan outcome[T], total)

	go func() {
		var g errgroup.Group
		g.SetLimit(len(d.parsers))
		for _, j := range jobs {
			j := j
			if stopped() || ctx.Err() != nil {
				results <- outcome[T]{job: j, status: OutcomeSkipped}
				continue
			}
			g.Go(func() error {
				if stopped() || claimed[j.target].Load() {
					results <- outcome[T]{job: j, status: OutcomeSkipped}
					return nil
				}
				results <- runJob(ctx, d, req, op, j, claimed, extract)
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	values := make([]T, len(req.Targets))
	failures := make(map[int]*errors.TargetFailure)
	remaining := len(req.Targets)
	done := 0

	finish := func() {
		halt()
		// Late results belong to nobody.
		go func() {
			for o := range results {
				if o.status == OutcomeSuccess {
					release(o.value)
				}
			}
		}()
	}

	for remaining > 0 {
		var o outcome[T]
		var ok bool
		select {
		case <-ctx.Done():
			finish()
			releaseAll(values, claimed, release)
			span.SetStatus(codes.Error, ctx.Err().Error())
			return nil, ctx.Err()
		case o, ok = <-results:
		}
		if !ok {
			break
		}

		done++
		if d.progress != nil {
			d.progress(done, total)
		}

		idx := o.job.target
		switch o.status {
		case OutcomeSuccess:
			if claimed[idx].CompareAndSwap(false, true) {
				values[idx] = o.value
				remaining--
			} else {
				release(o.value)
			}
		case OutcomeNoMatch, OutcomeFailed:
			if claimed[idx].Load() {
				continue
			}
			f, ok := failures[idx]
			if !ok {
				t := req.Targets[idx]
				f = &errors.TargetFailure{Index: idx, Host: t.Host, Path: t.Path}
				failures[idx] = f
			}
			f.Add(o.job.parser.Descriptor().Name, o.err)
		}
	}

	if remaining == 0 {
		finish()
		d.logger.Debug("extraction finished", "operation", op, "targets", len(req.Targets),
			"jobs_consumed", done, "elapsed", time.Since(start))
		return values, nil
	}

	// Every job ran and some targets were never claimed.
	releaseAll(values, claimed, release)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	agg := &errors.AggregateError{Operation: op, Total: len(req.Targets)}
	for i := range req.Targets {
		if claimed[i].Load() {
			continue
		}
		f, ok := failures[i]
		if !ok {
			t := req.Targets[i]
			f = &errors.TargetFailure{Index: i, Host: t.Host, Path: t.Path}
		}
		agg.Failures = append(agg.Failures, *f)
	}
	d.logger.Warn("parsers were unable to extract all paths", "operation", op,
		"failed", len(agg.Failures), "targets", len(req.Targets))
	for _, f := range agg.Failures {
		for _, pe := range f.Errors {
			d.logger.Debug("target failure", "host", f.Host, "path", f.Path, "parser", pe.Parser, "error", pe.Err)
		}
	}
	span.SetStatus(codes.Error, "aggregate extraction failure")
	return nil, agg
}

func releaseAll[T any](values []T, claimed []atomic.Bool, release func(T)) {
	for i := range values {
		if claimed[i].Load() {
			release(values[i])
		}
	}
}

// runJob checks capability, then extracts under the retry policy.
func runJob[T any](
	ctx context.Context,
	d *Dispatcher,
	req core.Request,
	op string,
	j job,
	claimed []atomic.Bool,
	extract func(context.Context, core.Parser, core.Input) (T, error),
) outcome[T] {
	t := req.Targets[j.target]
	name := j.parser.Descriptor().Name
	log := d.logger.With("parser", name, "host", t.Host, "path", t.Path)
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.String("parser", name),
		attribute.String("host", t.Host),
		attribute.String("path", t.Path),
		attribute.String("operation", op),
	))
	defer span.End()

	in := core.Input{FS: d.fs, Target: t, Session: req.Session}

	var matched bool
	if err := d.guard.Do(name, func() error {
		matched = j.parser.CanHandle(ctx, in)
		return nil
	}); err != nil {
		matched = false
	}
	if !matched {
		span.SetAttributes(attribute.String("outcome", OutcomeNoMatch))
		d.record(j, OutcomeNoMatch, 0, time.Since(start))
		return outcome[T]{job: j, status: OutcomeNoMatch, err: errors.Unsupported(name, t.Path)}
	}

	log.Debug("trying parser", "operation", op)
	policy := d.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("extraction attempt failed", "attempt", attempt, "error", err, "wait", wait)
	}

	v, attempts, err := resilience.Retry(ctx, policy, func(attempt int) (T, error) {
		var v T
		if claimed[j.target].Load() {
			return v, resilience.Permanent(errSuperseded)
		}
		err := d.guard.Do(name, func() error {
			var err error
			v, err = extract(ctx, j.parser, in)
			return err
		})
		return v, err
	})

	elapsed := time.Since(start)
	switch {
	case err == nil:
		log.Debug("extracted", "operation", op, "attempt", attempts, "elapsed", elapsed)
		span.SetAttributes(attribute.String("outcome", OutcomeSuccess), attribute.Int("attempts", attempts))
		d.record(j, OutcomeSuccess, attempts, elapsed)
		return outcome[T]{job: j, value: v, status: OutcomeSuccess, attempts: attempts}
	case stderrors.Is(err, errSuperseded):
		d.record(j, OutcomeSkipped, attempts, elapsed)
		return outcome[T]{job: j, status: OutcomeSkipped, attempts: attempts}
	default:
		log.Warn("parser failed to extract", "operation", op, "attempt", attempts, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.record(j, OutcomeFailed, attempts, elapsed)
		return outcome[T]{job: j, status: OutcomeFailed, err: err, attempts: attempts}
	}
}

func (d *Dispatcher) record(j job, status string, attempts int, elapsed time.Duration) {
	if d.recorder != nil {
		d.recorder.JobDone(j.parser.Descriptor().Name, status, attempts, elapsed)
	}
}
