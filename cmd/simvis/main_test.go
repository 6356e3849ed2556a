package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simvis/simvis/pkg/config"
	"github.com/simvis/simvis/pkg/testing/generators"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	l := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.True(t, l.Enabled(ctx, slog.LevelDebug))

	l = newLogger(config.LogConfig{Level: "warn"})
	assert.False(t, l.Enabled(ctx, slog.LevelInfo))
	assert.True(t, l.Enabled(ctx, slog.LevelWarn))
}

func TestParsersCommand(t *testing.T) {
	out, err := run(t, "parsers")
	require.NoError(t, err)
	for _, name := range []string{"LAMMPS-MetaD", "Plumed-COLVAR", "DeepMD-lcurve", "DeepMD-model_deviation"} {
		assert.Contains(t, out, name)
	}
}

func TestExtractWritesCSV(t *testing.T) {
	dir := t.TempDir()
	g := generators.New(11)
	for _, name := range []string{"r1", "r2"} {
		p := filepath.Join(dir, name, "COLVAR")
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(g.Colvar(4)), 0o644))
	}
	output := filepath.Join(dir, "out.csv")

	_, err := run(t, "extract", "--no-progress", "-o", output,
		filepath.Join(dir, "r1", "COLVAR"), filepath.Join(dir, "r2", "COLVAR"))
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "time,d1,d2,color", lines[0])
	assert.Len(t, lines, 9)
}

func TestHeaderRejectsUnknownMode(t *testing.T) {
	_, err := run(t, "header", "--mode", "sideways", "/tmp/COLVAR")
	assert.Error(t, err)
	modeFlag = "merge"
}
