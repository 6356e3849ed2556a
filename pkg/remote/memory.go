package remote

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// Memory is an in-memory file system keyed by exact host and path.
// Faults can be queued per target to simulate flaky links.
type Memory struct {
	mu     sync.Mutex
	files  map[core.Target][]byte
	faults map[core.Target][]error
	opens  map[core.Target]int
}

// NewMemory creates an empty in-memory file system.
func NewMemory() *Memory {
	return &Memory{
		files:  make(map[core.Target][]byte),
		faults: make(map[core.Target][]error),
		opens:  make(map[core.Target]int),
	}
}

// Put stores content at host:path.
func (m *Memory) Put(host, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[core.Target{Host: host, Path: path}] = []byte(content)
}

// FailNext queues errors returned, one per call, by the next accesses to host:path.
func (m *Memory) FailNext(host, path string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := core.Target{Host: host, Path: path}
	m.faults[t] = append(m.faults[t], errs...)
}

// Opens returns how many times host:path was opened successfully.
func (m *Memory) Opens(host, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[core.Target{Host: host, Path: path}]
}

func (m *Memory) lookup(t core.Target) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.faults[t]; len(q) > 0 {
		m.faults[t] = q[1:]
		return nil, errors.TransientIO(q[0], t.Host, t.Path)
	}
	data, ok := m.files[t]
	if !ok {
		return nil, errors.TransientIO(os.ErrNotExist, t.Host, t.Path)
	}
	return data, nil
}

// Open returns a reader over the stored content.
func (m *Memory) Open(ctx context.Context, _ string, t core.Target) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := m.lookup(t)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.opens[t]++
	m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns the stored content length.
func (m *Memory) Stat(ctx context.Context, _ string, t core.Target) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := m.lookup(t)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// CopyToLocal writes the stored content into dir.
func (m *Memory) CopyToLocal(ctx context.Context, session string, t core.Target, dir string) (string, error) {
	return copyToLocal(ctx, m, session, t, dir)
}
