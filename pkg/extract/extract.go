// Package extract is the entry point of the engine: it dispatches a request
// to the parser registry and combines the per-target results.
package extract

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simvis/simvis/pkg/aggregate"
	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/dispatch"
	"github.com/simvis/simvis/pkg/errors"
)

// Observer receives one measurement per finished request.
type Observer interface {
	RequestDone(op string, elapsed time.Duration, err error)
}

// Extractor answers header, data and size requests.
type Extractor struct {
	dispatcher *dispatch.Dispatcher
	fs         core.FileSystem
	logger     *slog.Logger
	observer   Observer
}

// New creates an extractor. fs is used for size requests and must be the
// file system the dispatcher reads from.
func New(d *dispatch.Dispatcher, fs core.FileSystem, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{dispatcher: d, fs: fs, logger: logger}
}

// SetObserver installs the request metrics sink.
func (e *Extractor) SetObserver(o Observer) {
	e.observer = o
}

// NewSessionID returns a fresh session id for callers that have none.
func NewSessionID() string {
	return uuid.NewString()
}

func (e *Extractor) timed(op string, req core.Request) func(error) {
	start := time.Now()
	return func(err error) {
		elapsed := time.Since(start)
		e.logger.Debug("request finished",
			"operation", op,
			"targets", len(req.Targets),
			"mode", req.Mode.String(),
			"elapsed", elapsed,
			"ok", err == nil)
		if e.observer != nil {
			e.observer.RequestDone(op, elapsed, err)
		}
	}
}

// Header returns the combined header of every target in req.
func (e *Extractor) Header(ctx context.Context, req core.Request) (h *core.Header, err error) {
	defer func(done func(error)) { done(err) }(e.timed("header", req))

	headers, err := e.dispatcher.Headers(ctx, req)
	if err != nil {
		return nil, err
	}
	return aggregate.Headers(headers, req.Mode)
}

// Data returns the combined table of every target in req. The caller owns
// the result and must Release it.
func (e *Extractor) Data(ctx context.Context, req core.Request) (t *core.Table, err error) {
	defer func(done func(error)) { done(err) }(e.timed("data", req))

	tables, err := e.dispatcher.Tables(ctx, req)
	if err != nil {
		return nil, err
	}
	return aggregate.Tables(tables, req.Targets, req.Mode)
}

// Size returns the total size in bytes of every target. Targets on the same
// host are stat'ed one after another, hosts concurrently.
func (e *Extractor) Size(ctx context.Context, req core.Request) (total int64, err error) {
	defer func(done func(error)) { done(err) }(e.timed("size", req))

	if err := req.Validate(); err != nil {
		return 0, err
	}

	byHost := make(map[string][]core.Target)
	var hosts []string
	for _, t := range req.Targets {
		if _, ok := byHost[t.Host]; !ok {
			hosts = append(hosts, t.Host)
		}
		byHost[t.Host] = append(byHost[t.Host], t)
	}

	var sum atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		targets := byHost[host]
		g.Go(func() error {
			for _, t := range targets {
				n, err := e.fs.Stat(gctx, req.Session, t)
				if err != nil {
					if errors.GetCode(err) != errors.CodeUnknown {
						return err
					}
					return errors.TransientIO(err, t.Host, t.Path)
				}
				sum.Add(n)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return sum.Load(), nil
}
