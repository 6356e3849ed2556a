package core

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simvis/simvis/pkg/errors"
)

func TestAxesClamp(t *testing.T) {
	a := DefaultAxes().Clamp(2)
	assert.Equal(t, []int{0}, a.X)
	assert.Equal(t, []int{1}, a.Y)
	assert.Empty(t, a.Z)
	assert.Equal(t, 0, a.PrimaryX())

	empty := Axes{}.Clamp(3)
	assert.Equal(t, -1, empty.PrimaryX())
}

func TestAxesCloneIsDeep(t *testing.T) {
	a := DefaultAxes()
	b := a.Clone()
	b.Y[0] = 7
	assert.Equal(t, 1, a.Y[0])
	assert.False(t, a.Equal(b))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Parallel")
	require.NoError(t, err)
	assert.Equal(t, ModeParallel, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, m)

	_, err = ParseMode("zip")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRequest))
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest([]string{"a", "b"}, []string{"/x/COLVAR", "/y/COLVAR"}, "s1", ModeMerge)
	require.NoError(t, err)
	assert.Len(t, req.Targets, 2)
	assert.Equal(t, []string{"a", "b"}, req.Hosts())
	assert.Equal(t, "merge[a:/x/COLVAR, b:/y/COLVAR]", req.String())

	_, err = NewRequest([]string{"a"}, []string{"/x", "/y"}, "s1", ModeMerge)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRequest))

	_, err = NewRequest(nil, nil, "s1", ModeMerge)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRequest))

	_, err = NewRequest([]string{"a"}, []string{""}, "s1", ModeMerge)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidRequest))
}

func TestTableBuilder(t *testing.T) {
	b := NewTableBuilder([]string{"step", "energy", "step"})
	assert.Equal(t, []string{"step", "energy", "step.1"}, b.Columns())

	assert.Equal(t, 3, b.AppendFields([]string{"1", "-3.5", "1"}))
	assert.Equal(t, 1, b.AppendFields([]string{"2", "n/a"}))
	b.AppendValues([]float64{3, math.NaN(), 3})

	tbl := b.Build()
	defer tbl.Release()

	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, 3, tbl.NumCols())

	energy, err := tbl.Float64s("energy")
	require.NoError(t, err)
	assert.Equal(t, -3.5, energy[0])
	assert.True(t, math.IsNaN(energy[1]))
	assert.True(t, math.IsNaN(energy[2]))

	steps, err := tbl.Strings("step")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, steps)

	_, err = tbl.Float64s("missing")
	assert.Error(t, err)
}

func TestHeaderEqual(t *testing.T) {
	a := NewHeader([]string{"time", "d1"}, DefaultAxes())
	b := NewHeader([]string{"time", "d1"}, DefaultAxes())
	c := NewHeader([]string{"time", "d2"}, DefaultAxes())

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Empty(t, a.Axes.Z)
}

func TestHandleReadLine(t *testing.T) {
	h := NewStringHandle("f", "a b\r\nc d\nlast")
	defer h.Close()

	var lines []string
	for {
		line, err := h.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"a b", "c d", "last"}, lines)
	assert.Equal(t, 3, h.Line())
}

func readAll(t *testing.T, h *Handle) []string {
	t.Helper()
	var lines []string
	for {
		line, err := h.ReadLine()
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestHandleRewindReplaysStream(t *testing.T) {
	h := NewStringHandle("COLVAR", "#! FIELDS time d1\n0 1\n1 2\n")
	defer h.Close()

	first, err := h.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "#! FIELDS time d1", first)

	require.NoError(t, h.Rewind())
	assert.Equal(t, 0, h.Line())
	assert.Equal(t, []string{"#! FIELDS time d1", "0 1", "1 2"}, readAll(t, h))

	require.NoError(t, h.Rewind())
	assert.Equal(t, []string{"#! FIELDS time d1", "0 1", "1 2"}, readAll(t, h))
	assert.Equal(t, 3, h.Line())
}

func TestHandleRewindSeeksFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lcurve.out")
	require.NoError(t, os.WriteFile(path, []byte("# step l2_tst\n1 0.5\n"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	h := NewHandle(path, f)
	defer h.Close()

	assert.Len(t, readAll(t, h), 2)
	require.NoError(t, h.Rewind())
	assert.Equal(t, []string{"# step l2_tst", "1 0.5"}, readAll(t, h))
}

func TestHandleRewindLimit(t *testing.T) {
	line := strings.Repeat("x", 1023) + "\n"
	h := NewStringHandle("big", strings.Repeat(line, MaxReplay/len(line)+2))
	defer h.Close()

	readAll(t, h)
	assert.ErrorIs(t, h.Rewind(), ErrNotRewindable)
}
