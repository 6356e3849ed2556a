// Package fakes provides scriptable parser plugins for tests.
package fakes

import (
	"context"
	"regexp"
	"sync/atomic"

	"github.com/simvis/simvis/pkg/core"
)

// Parser is a core.Parser whose behaviour is set by function fields.
// Nil functions answer false or return empty results.
type Parser struct {
	Desc core.Descriptor

	CanHandleFunc func(ctx context.Context, in core.Input) bool
	HeaderFunc    func(ctx context.Context, in core.Input) (*core.Header, error)
	DataFunc      func(ctx context.Context, in core.Input) (*core.Table, error)

	checks  atomic.Int64
	headers atomic.Int64
	datas   atomic.Int64
}

// NewParser creates a fake named name that expects filename.
func NewParser(name, filename string) *Parser {
	return &Parser{Desc: core.Descriptor{
		Name:             name,
		Signature:        regexp.MustCompile(`^` + regexp.QuoteMeta(name)),
		ExpectedFilename: filename,
		DefaultAxes:      core.DefaultAxes(),
	}}
}

func (p *Parser) Descriptor() core.Descriptor { return p.Desc }

func (p *Parser) CanHandle(ctx context.Context, in core.Input) bool {
	p.checks.Add(1)
	if p.CanHandleFunc == nil {
		return false
	}
	return p.CanHandleFunc(ctx, in)
}

func (p *Parser) ExtractHeader(ctx context.Context, in core.Input) (*core.Header, error) {
	p.headers.Add(1)
	if p.HeaderFunc == nil {
		return core.NewHeader(nil, p.Desc.DefaultAxes), nil
	}
	return p.HeaderFunc(ctx, in)
}

func (p *Parser) ExtractData(ctx context.Context, in core.Input) (*core.Table, error) {
	p.datas.Add(1)
	if p.DataFunc == nil {
		return core.NewTableBuilder(nil).Build(), nil
	}
	return p.DataFunc(ctx, in)
}

// Checks returns how many capability checks ran.
func (p *Parser) Checks() int64 { return p.checks.Load() }

// Extractions returns how many header and data extractions ran.
func (p *Parser) Extractions() int64 { return p.headers.Load() + p.datas.Load() }

// Always answers true for every target.
func Always(context.Context, core.Input) bool { return true }

// PathIs answers true for targets with the given path.
func PathIs(path string) func(context.Context, core.Input) bool {
	return func(_ context.Context, in core.Input) bool { return in.Target.Path == path }
}

// Table builds a numeric table from column names and row-major values.
func Table(columns []string, rows ...[]float64) *core.Table {
	b := core.NewTableBuilder(columns)
	for _, r := range rows {
		b.AppendValues(r)
	}
	return b.Build()
}
