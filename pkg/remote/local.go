package remote

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// Local reads targets from the machine the engine runs on.
type Local struct{}

// NewLocal returns the local backend.
func NewLocal() *Local {
	return &Local{}
}

// Open opens the file for reading.
func (l *Local) Open(ctx context.Context, _ string, t core.Target) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(expandHome(t.Path))
	if err != nil {
		return nil, errors.TransientIO(err, t.Host, t.Path)
	}
	return f, nil
}

// Stat returns the file size.
func (l *Local) Stat(ctx context.Context, _ string, t core.Target) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(expandHome(t.Path))
	if err != nil {
		return 0, errors.TransientIO(err, t.Host, t.Path)
	}
	return info.Size(), nil
}

// CopyToLocal copies the file into dir.
func (l *Local) CopyToLocal(ctx context.Context, session string, t core.Target, dir string) (string, error) {
	return copyToLocal(ctx, l, session, t, dir)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + p[1:]
		}
	}
	return p
}
