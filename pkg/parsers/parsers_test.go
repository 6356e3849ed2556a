package parsers

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
	"github.com/simvis/simvis/pkg/remote"
	"github.com/simvis/simvis/pkg/testing/generators"
)

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.TempDir = t.TempDir()
	return opts
}

func allParsers(t *testing.T, opts Options) []core.Parser {
	lmp, err := NewLAMMPS(opts)
	require.NoError(t, err)
	colvar, err := NewColvar(opts)
	require.NoError(t, err)
	lcurve, err := NewLcurve(opts)
	require.NoError(t, err)
	devi, err := NewModelDeviation(opts)
	require.NoError(t, err)
	return []core.Parser{lmp, colvar, lcurve, devi}
}

func input(fs core.FileSystem, path string) core.Input {
	return core.Input{FS: fs, Target: core.Target{Host: "kohn", Path: path}, Session: "test"}
}

func TestSignaturesAreDisjoint(t *testing.T) {
	g := generators.New(1)
	fs := remote.NewMemory()
	fs.Put("kohn", "/run/log.lammps", g.LAMMPS(3))
	fs.Put("kohn", "/run/COLVAR", g.Colvar(3))
	fs.Put("kohn", "/run/lcurve.out", g.Lcurve(3))
	fs.Put("kohn", "/run/model_devi.out", g.ModelDeviation(3))

	owner := map[string]string{
		"/run/log.lammps":     "LAMMPS-MetaD",
		"/run/COLVAR":         "Plumed-COLVAR",
		"/run/lcurve.out":     "DeepMD-lcurve",
		"/run/model_devi.out": "DeepMD-model_deviation",
	}

	ctx := context.Background()
	for _, p := range allParsers(t, testOptions(t)) {
		for path, name := range owner {
			want := p.Descriptor().Name == name
			assert.Equal(t, want, p.CanHandle(ctx, input(fs, path)), "%s on %s", p.Descriptor(), path)
		}
	}
}

func TestCanHandleOpenFailureIsFalse(t *testing.T) {
	p, err := NewColvar(testOptions(t))
	require.NoError(t, err)
	assert.False(t, p.CanHandle(context.Background(), input(remote.NewMemory(), "/missing/COLVAR")))
}

func TestCanHandleScanLimit(t *testing.T) {
	opts := testOptions(t)
	opts.ScanLines = 2
	p, err := NewColvar(opts)
	require.NoError(t, err)

	fs := remote.NewMemory()
	fs.Put("kohn", "/late", "junk\njunk\n#! FIELDS time d1\n0 1\n")
	assert.False(t, p.CanHandle(context.Background(), input(fs, "/late")))
}

func TestColvar(t *testing.T) {
	fs := remote.NewMemory()
	fs.Put("kohn", "/run/COLVAR", "#! FIELDS time d1 d2\n#! SET min_d1 0\n0.0 1.0 2.0\n1.0 1.5 2.5\n\n#! FIELDS time d1 d2\n2.0 1.7\n")

	opts := testOptions(t)
	p, err := NewColvar(opts)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := p.ExtractHeader(ctx, input(fs, "/run/COLVAR"))
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "d1", "d2"}, h.Columns)
	assert.Equal(t, core.DefaultAxes(), h.Axes)

	tbl, err := p.ExtractData(ctx, input(fs, "/run/COLVAR"))
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, h.Columns, tbl.Columns())
	assert.Equal(t, 3, tbl.NumRows())
	d2, err := tbl.Float64s("d2")
	require.NoError(t, err)
	assert.Equal(t, 2.5, d2[1])
	assert.True(t, math.IsNaN(d2[2]))

	entries, err := os.ReadDir(opts.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "local copy must be removed")
}

func TestColvarMalformedBody(t *testing.T) {
	fs := remote.NewMemory()
	fs.Put("kohn", "/bad/COLVAR", "#! FIELDS time d1\n0 1\n1 2 3\n")
	fs.Put("kohn", "/text/COLVAR", "#! FIELDS time d1\n0 1\nfoo bar\n")

	p, err := NewColvar(testOptions(t))
	require.NoError(t, err)

	_, err = p.ExtractData(context.Background(), input(fs, "/bad/COLVAR"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStructuralParse))
	assert.Contains(t, err.Error(), "line=3")

	_, err = p.ExtractData(context.Background(), input(fs, "/text/COLVAR"))
	assert.True(t, errors.IsCode(err, errors.CodeStructuralParse))
}

func TestLcurve(t *testing.T) {
	fs := remote.NewMemory()
	fs.Put("kohn", "/train/lcurve.out", generators.New(2).Lcurve(4))

	p, err := NewLcurve(testOptions(t))
	require.NoError(t, err)

	tbl, err := p.ExtractData(context.Background(), input(fs, "/train/lcurve.out"))
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, []string{"step", "rmse_val", "rmse_trn", "rmse_e_val", "rmse_e_trn", "rmse_f_val", "rmse_f_trn", "lr"}, tbl.Columns())
	assert.Equal(t, 4, tbl.NumRows())
	steps, err := tbl.Float64s("step")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 100, 200, 300}, steps)
}

func TestModelDeviationKeepsSevenColumns(t *testing.T) {
	fs := remote.NewMemory()
	fs.Put("kohn", "/md/model_devi.out", generators.New(3).ModelDeviation(5))

	p, err := NewModelDeviation(testOptions(t))
	require.NoError(t, err)
	ctx := context.Background()

	h, err := p.ExtractHeader(ctx, input(fs, "/md/model_devi.out"))
	require.NoError(t, err)
	assert.Len(t, h.Columns, 7)
	assert.NotContains(t, h.Columns, "devi_e")

	tbl, err := p.ExtractData(ctx, input(fs, "/md/model_devi.out"))
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, 7, tbl.NumCols())
	assert.Equal(t, 5, tbl.NumRows())
}

func TestLAMMPS(t *testing.T) {
	fs := remote.NewMemory()
	fs.Put("kohn", "/metad/log.lammps", generators.New(4).LAMMPS(5))
	fs.Put("kohn", "/odd/log.lammps", "LAMMPS (3 Mar 2020)\nrun 100\n"+
		"Per MPI rank memory allocation (min/avg/max) = 1 | 1 | 1 Mbytes\n"+
		"Step Temp PotEng Press\n"+
		"0 300 -100.5 1.0\n"+
		"WARNING: something odd here\n"+
		"100 301.2 -100.4\n"+
		"200 nan -100.3 abc\n"+
		"Loop time of 1.0 on 1 procs\n")

	p, err := NewLAMMPS(testOptions(t))
	require.NoError(t, err)
	ctx := context.Background()

	h, err := p.ExtractHeader(ctx, input(fs, "/metad/log.lammps"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Step", "Temp", "PotEng", "Press"}, h.Columns)

	tbl, err := p.ExtractData(ctx, input(fs, "/metad/log.lammps"))
	require.NoError(t, err)
	assert.Equal(t, 5, tbl.NumRows(), "minimisation and second run are ignored")
	tbl.Release()

	tbl, err = p.ExtractData(ctx, input(fs, "/odd/log.lammps"))
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, 2, tbl.NumRows())
	temp, err := tbl.Float64s("Temp")
	require.NoError(t, err)
	assert.Equal(t, 300.0, temp[0])
	assert.True(t, math.IsNaN(temp[1]))
}

func TestLAMMPSWithoutRun(t *testing.T) {
	fs := remote.NewMemory()
	fs.Put("kohn", "/log.lammps", "LAMMPS (29 Oct 2020)\nunits metal\n")

	p, err := NewLAMMPS(testOptions(t))
	require.NoError(t, err)
	_, err = p.ExtractHeader(context.Background(), input(fs, "/log.lammps"))
	assert.True(t, errors.IsCode(err, errors.CodeStructuralParse))
}

func TestHeaderAndDataShareOneHandle(t *testing.T) {
	g := generators.New(5)
	files := map[string]struct {
		content string
		rows    int
	}{
		"COLVAR":         {"#! FIELDS time d1\n0 1\n1 2\n", 2},
		"lcurve.out":     {g.Lcurve(4), 4},
		"model_devi.out": {g.ModelDeviation(3), 3},
		"log.lammps":     {g.LAMMPS(5), 5},
	}

	ctx := context.Background()
	opts := testOptions(t)
	for _, p := range allParsers(t, opts) {
		name := p.Descriptor().ExpectedFilename
		f := files[name]
		t.Run(p.Descriptor().Name, func(t *testing.T) {
			h := core.NewStringHandle(name, f.content)
			defer h.Close()
			in := core.Input{Target: core.Target{Path: name}, Handle: h}

			header, err := p.ExtractHeader(ctx, in)
			require.NoError(t, err)

			tbl, err := p.ExtractData(ctx, in)
			require.NoError(t, err)
			defer tbl.Release()
			assert.Equal(t, header.Columns, tbl.Columns())
			assert.Equal(t, f.rows, tbl.NumRows())
		})
	}

	entries, err := os.ReadDir(opts.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a caller's handle is never copied")
}

func TestExtractDataFromLocalFileHandle(t *testing.T) {
	p, err := NewColvar(testOptions(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "COLVAR")
	require.NoError(t, os.WriteFile(path, []byte("#! FIELDS time d1\n0 1\n1 2\n2 3\n"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	h := core.NewHandle(path, f)
	defer h.Close()

	in := core.Input{Target: core.Target{Path: path}, Handle: h}
	_, err = p.ExtractHeader(context.Background(), in)
	require.NoError(t, err)
	tbl, err := p.ExtractData(context.Background(), in)
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, 3, tbl.NumRows())
}

func TestExtractDataPropagatesIOErrors(t *testing.T) {
	p, err := NewColvar(testOptions(t))
	require.NoError(t, err)

	_, err = p.ExtractData(context.Background(), input(remote.NewMemory(), "/nope"))
	assert.True(t, errors.IsCode(err, errors.CodeTransientIO))
}

func TestDeclarativeSpec(t *testing.T) {
	dir := t.TempDir()
	spec := `name: Energy-trace
description: toy energy dump
expected_filename: energy.dat
signature: '@energy'
columns: names
names: [step, etot, epot]
comment: '@'
axes: {x: [0], y: [1, 2]}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "energy.yaml"), []byte(spec), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: [oops"), 0o644))

	paths, err := DiscoverSpecs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "broken.yml"), filepath.Join(dir, "energy.yaml")}, paths)

	_, err = LoadSpecFile(paths[0], testOptions(t))
	assert.Error(t, err)

	p, err := LoadSpecFile(paths[1], testOptions(t))
	require.NoError(t, err)
	assert.Equal(t, "Energy-trace", p.Descriptor().Name)
	assert.Equal(t, "energy.dat", p.Descriptor().ExpectedFilename)

	fs := remote.NewMemory()
	fs.Put("kohn", "/e/energy.dat", "@energy trace\n1 -5 -6\n2 -5.1 -6.2\n")
	ctx := context.Background()
	require.True(t, p.CanHandle(ctx, input(fs, "/e/energy.dat")))

	h, err := p.ExtractHeader(ctx, input(fs, "/e/energy.dat"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, h.Axes.Y)
	assert.Empty(t, h.Axes.Z)

	tbl, err := p.ExtractData(ctx, input(fs, "/e/energy.dat"))
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, []string{"step", "etot", "epot"}, tbl.Columns())
}

func TestSpecValidation(t *testing.T) {
	opts := testOptions(t)
	cases := map[string]TableSpec{
		"no name":       {Signature: "#"},
		"no signature":  {Name: "x"},
		"bad regexp":    {Name: "x", Signature: "("},
		"names missing": {Name: "x", Signature: "#", Columns: ColumnsFromNames},
		"bad mode":      {Name: "x", Signature: "#", Columns: "auto"},
		"negative max":  {Name: "x", Signature: "#", MaxColumns: -1},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(spec, opts)
			assert.Error(t, err)
		})
	}

	_, err := ParseSpec([]byte("name: x\nsignature: '#'\nunknown_key: 1\n"))
	assert.Error(t, err)

	paths, err := DiscoverSpecs(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}
