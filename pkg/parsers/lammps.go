package parsers

import (
	"context"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

const (
	lammpsName = "LAMMPS-MetaD"

	// Limits of the preamble search, in lines.
	lammpsRunWindow    = 500
	lammpsThermoWindow = 100
)

var (
	lammpsRun    = regexp.MustCompile(`(?i)^\s*run\s+\d+`)
	lammpsThermo = "Per MPI rank memory allocation"
	lammpsLoop   = "Loop time"
)

// LAMMPS extracts the thermo output of the first MD run in a LAMMPS log.
// Minimisations before the run are skipped; output of later runs is ignored.
type LAMMPS struct {
	Base
}

// NewLAMMPS returns the LAMMPS log parser.
func NewLAMMPS(opts Options) (*LAMMPS, error) {
	sig, err := anchored(`LAMMPS\s*\(\S*\s*\S*\s*\S*\)`)
	if err != nil {
		return nil, err
	}
	desc := core.Descriptor{
		Name: lammpsName,
		Description: "Thermo output of a LAMMPS log file. Only the first 'run' is extracted; " +
			"any number of minimisations may precede it. thermo_style must be custom and " +
			"thermo_modify cannot span lines.",
		Signature:        sig,
		ExpectedFilename: "log.lammps",
		DefaultAxes:      core.DefaultAxes(),
	}
	return &LAMMPS{Base: NewBase(desc, opts)}, nil
}

// thermoColumns advances h to the thermo header of the first run and returns it.
func (p *LAMMPS) thermoColumns(h *core.Handle, t core.Target) ([]string, error) {
	for n := 0; ; n++ {
		if n > lammpsRunWindow {
			return nil, errors.Structural(lammpsName, h.Line(), "could not find start of MD run within %d lines", lammpsRunWindow)
		}
		line, err := readLine(h, t)
		if err == io.EOF {
			return nil, errors.Structural(lammpsName, h.Line(), "could not find start of MD run")
		}
		if err != nil {
			return nil, err
		}
		if lammpsRun.MatchString(line) {
			break
		}
	}

	for n := 0; ; n++ {
		if n > lammpsThermoWindow {
			return nil, errors.Structural(lammpsName, h.Line(), "could not find start of thermo output within %d lines", lammpsThermoWindow)
		}
		line, err := readLine(h, t)
		if err == io.EOF {
			return nil, errors.Structural(lammpsName, h.Line(), "could not find start of thermo output")
		}
		if err != nil {
			return nil, err
		}
		if strings.Contains(line, lammpsThermo) {
			break
		}
	}

	line, err := readLine(h, t)
	if err == io.EOF {
		return nil, errors.Structural(lammpsName, h.Line(), "log ends before the thermo header")
	}
	if err != nil {
		return nil, err
	}
	cols := strings.Fields(line)
	if len(cols) == 0 {
		return nil, errors.Structural(lammpsName, h.Line(), "empty thermo header")
	}
	return cols, nil
}

// ExtractHeader returns the thermo column names.
func (p *LAMMPS) ExtractHeader(ctx context.Context, in core.Input) (*core.Header, error) {
	h, release, err := p.openStream(ctx, in)
	if err != nil {
		return nil, err
	}
	defer release()

	cols, err := p.thermoColumns(h, in.Target)
	if err != nil {
		return nil, err
	}
	return core.NewHeader(core.UniqueNames(cols), p.desc.DefaultAxes), nil
}

// ExtractData reads thermo rows until "Loop time". Rows whose field count
// differs from the header (warnings, interleaved output) are skipped and
// fields that are not numbers are null.
func (p *LAMMPS) ExtractData(ctx context.Context, in core.Input) (*core.Table, error) {
	h, release, err := p.openLocal(ctx, in)
	if err != nil {
		return nil, err
	}
	defer release()

	cols, err := p.thermoColumns(h, in.Target)
	if err != nil {
		return nil, err
	}

	b := core.NewTableBuilder(cols)
	row := make([]float64, len(cols))
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
		if strings.HasPrefix(strings.TrimSpace(line), lammpsLoop) {
			break
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) != len(cols) {
			continue
		}
		numeric := 0
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				v = math.NaN()
			} else if !math.IsNaN(v) {
				numeric++
			}
			row[i] = v
		}
		if numeric == 0 {
			continue
		}
		b.AppendValues(row)
	}
	return b.Build(), nil
}
