package parsers

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// Column naming modes of a TableSpec.
const (
	// ColumnsFromHeader takes column names from the line matching the signature.
	ColumnsFromHeader = "header"
	// ColumnsFromNames uses the fixed names of the spec.
	ColumnsFromNames = "names"
)

// TableSpec describes a whitespace separated numeric table. It is the
// in-code form of the YAML parser specs found in the plugin directory.
type TableSpec struct {
	Name             string     `yaml:"name"`
	Description      string     `yaml:"description"`
	ExpectedFilename string     `yaml:"expected_filename"`
	Signature        string     `yaml:"signature"`
	Columns          string     `yaml:"columns"`
	Strip            string     `yaml:"strip"`
	Names            []string   `yaml:"names"`
	MaxColumns       int        `yaml:"max_columns"`
	Comment          string     `yaml:"comment"`
	Axes             *core.Axes `yaml:"axes"`
}

// Table parses files described by a TableSpec.
type Table struct {
	Base
	spec    TableSpec
	strip   *regexp.Regexp
	comment string
}

// NewTable validates spec and builds the parser.
func NewTable(spec TableSpec, opts Options) (*Table, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("parser spec has no name")
	}
	if spec.Signature == "" {
		return nil, fmt.Errorf("parser spec %q has no signature", spec.Name)
	}
	sig, err := anchored(spec.Signature)
	if err != nil {
		return nil, fmt.Errorf("parser spec %q: bad signature: %w", spec.Name, err)
	}

	if spec.Columns == "" {
		spec.Columns = ColumnsFromHeader
	}
	switch spec.Columns {
	case ColumnsFromHeader:
	case ColumnsFromNames:
		if len(spec.Names) == 0 {
			return nil, fmt.Errorf("parser spec %q uses fixed names but lists none", spec.Name)
		}
	default:
		return nil, fmt.Errorf("parser spec %q: unknown columns mode %q", spec.Name, spec.Columns)
	}
	if spec.MaxColumns < 0 {
		return nil, fmt.Errorf("parser spec %q: negative max_columns", spec.Name)
	}

	var strip *regexp.Regexp
	if spec.Strip != "" {
		if strip, err = anchored(spec.Strip); err != nil {
			return nil, fmt.Errorf("parser spec %q: bad strip pattern: %w", spec.Name, err)
		}
	}

	comment := spec.Comment
	if comment == "" {
		comment = "#"
	}

	axes := core.DefaultAxes()
	if spec.Axes != nil {
		axes = spec.Axes.Clone()
	}

	desc := core.Descriptor{
		Name:             spec.Name,
		Description:      spec.Description,
		Signature:        sig,
		ExpectedFilename: spec.ExpectedFilename,
		DefaultAxes:      axes,
	}
	return &Table{Base: NewBase(desc, opts), spec: spec, strip: strip, comment: comment}, nil
}

// Spec returns the spec the parser was built from.
func (p *Table) Spec() TableSpec {
	return p.spec
}

// readColumns consumes the preamble and returns the column names.
// The handle is left at the first body line.
func (p *Table) readColumns(h *core.Handle, t core.Target) ([]string, error) {
	if p.spec.Columns == ColumnsFromNames {
		return p.limit(append([]string{}, p.spec.Names...)), nil
	}

	for i := 0; i < p.opts.ScanLines; i++ {
		line, err := readLine(h, t)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !p.desc.Signature.MatchString(line) {
			continue
		}

		if p.strip != nil {
			line = p.strip.ReplaceAllString(line, "")
		}
		cols := strings.Fields(line)
		if len(cols) == 0 {
			return nil, errors.Structural(p.desc.Name, h.Line(), "header line has no column names")
		}
		return p.limit(cols), nil
	}
	return nil, errors.Structural(p.desc.Name, h.Line(), "no header line within %d lines", p.opts.ScanLines)
}

func (p *Table) limit(cols []string) []string {
	if p.spec.MaxColumns > 0 && len(cols) > p.spec.MaxColumns {
		return cols[:p.spec.MaxColumns]
	}
	return cols
}

// ExtractHeader reads the column names from the preamble.
func (p *Table) ExtractHeader(ctx context.Context, in core.Input) (*core.Header, error) {
	h, release, err := p.openStream(ctx, in)
	if err != nil {
		return nil, err
	}
	defer release()

	cols, err := p.readColumns(h, in.Target)
	if err != nil {
		return nil, err
	}
	return core.NewHeader(core.UniqueNames(cols), p.desc.DefaultAxes), nil
}

// ExtractData parses a local copy of the file.
func (p *Table) ExtractData(ctx context.Context, in core.Input) (*core.Table, error) {
	h, release, err := p.openLocal(ctx, in)
	if err != nil {
		return nil, err
	}
	defer release()

	cols, err := p.readColumns(h, in.Target)
	if err != nil {
		return nil, err
	}

	b := core.NewTableBuilder(cols)
	for {
		if err := checkEvery(ctx, h.Line()); err != nil {
			b.Release()
			return nil, err
		}
		line, err := readLine(h, in.Target)
		if err == io.EOF {
			break
		}
		if err != nil {
			b.Release()
			return nil, err
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, p.comment) {
			continue
		}
		fields := strings.Fields(trimmed)
		if p.spec.MaxColumns == 0 && len(fields) > len(cols) {
			b.Release()
			return nil, errors.Structural(p.desc.Name, h.Line(),
				"expected %d fields, saw %d", len(cols), len(fields))
		}
		if b.AppendFields(fields) == 0 {
			b.Release()
			return nil, errors.Structural(p.desc.Name, h.Line(), "row has no numeric fields")
		}
	}
	return b.Build(), nil
}
