package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/simvis/simvis/pkg/testing/fakes"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.0B"},
		{5, "5.0B"},
		{1536, "1.5KiB"},
		{10 * 1024 * 1024, "10.0MiB"},
		{3 << 40, "3.0TiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanSize(tt.in))
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "250ms", Duration(250*time.Millisecond))
	assert.Equal(t, "1.5s", Duration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", Duration(125*time.Second))
}

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, []string{"name", "file"}, [][]string{
		{"Plumed-COLVAR", "COLVAR"},
		{"LAMMPS-MetaD", "log.lammps"},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "Plumed-COLVAR  COLVAR", lines[1])
	assert.Equal(t, "LAMMPS-MetaD   log.lammps", lines[2])
}

func TestPreviewTruncates(t *testing.T) {
	tbl := fakes.Table([]string{"step", "loss"}, []float64{0, 1}, []float64{1, 0.5}, []float64{2, 0.25})
	defer tbl.Release()

	var buf bytes.Buffer
	Preview(&buf, tbl, 2)
	out := buf.String()
	assert.Contains(t, out, "0.5")
	assert.NotContains(t, out, "0.25")
	assert.Contains(t, out, "1 more rows")
}

func TestMessages(t *testing.T) {
	var buf bytes.Buffer
	Success(&buf, "wrote %d rows", 3)
	Failure(&buf, errors.New("boom"))
	Field(&buf, "Size", "1.0KiB")
	assert.Contains(t, buf.String(), "wrote 3 rows")
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "1.0KiB")
}

func TestProgressUpdates(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "extracting")
	p.Update(1, 4)
	p.Update(4, 4)
	p.Finish()
	assert.NotNil(t, p.bar)
}
