package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simvis/simvis/pkg/core"
	simerr "github.com/simvis/simvis/pkg/errors"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want core.Target
	}{
		{"/data/COLVAR", core.Target{Path: "/data/COLVAR"}},
		{"kohn:/scratch/run1/log.lammps", core.Target{Host: "kohn", Path: "/scratch/run1/log.lammps"}},
		{"me@kohn:run/COLVAR", core.Target{Host: "me@kohn", Path: "run/COLVAR"}},
		{"s3://sims/run1/lcurve.out", core.Target{Host: "s3://sims", Path: "run1/lcurve.out"}},
		{"./rel/path:with-colon", core.Target{Path: "./rel/path:with-colon"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTarget(tt.in))
		})
	}
}

func TestLocalBackend(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "COLVAR")
	require.NoError(t, os.WriteFile(src, []byte("#! FIELDS time d1\n0 1\n"), 0o644))

	ctx := context.Background()
	l := NewLocal()
	target := core.Target{Path: src}

	size, err := l.Stat(ctx, "s", target)
	require.NoError(t, err)
	assert.Equal(t, int64(22), size)

	rc, err := l.Open(ctx, "s", target)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#! FIELDS"))

	out := t.TempDir()
	copied, err := l.CopyToLocal(ctx, "s", target, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "COLVAR"), copied)

	_, err = l.Stat(ctx, "s", core.Target{Path: filepath.Join(dir, "missing")})
	assert.True(t, simerr.IsCode(err, simerr.CodeTransientIO))
}

func TestMemoryFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put("kohn", "/a/COLVAR", "abc")
	m.FailNext("kohn", "/a/COLVAR", errors.New("connection reset"))

	target := core.Target{Host: "kohn", Path: "/a/COLVAR"}
	_, err := m.Open(ctx, "s", target)
	require.Error(t, err)
	assert.True(t, simerr.IsCode(err, simerr.CodeTransientIO))
	assert.Contains(t, err.Error(), "connection reset")

	rc, err := m.Open(ctx, "s", target)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, 1, m.Opens("kohn", "/a/COLVAR"))

	size, err := m.Stat(ctx, "s", target)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	_, err = m.Stat(ctx, "s", core.Target{Host: "other", Path: "/a/COLVAR"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fakeObjects struct {
	objects map[string]string
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeObjects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()
	b := NewS3WithClient(S3Config{}, &fakeObjects{objects: map[string]string{
		"sims/run1/lcurve.out": "# step rmse_trn\n0 1.0\n",
	}})

	for _, target := range []core.Target{
		{Host: "s3://sims", Path: "run1/lcurve.out"},
		{Path: "s3://sims/run1/lcurve.out"},
	} {
		assert.True(t, IsS3(target))
		size, err := b.Stat(ctx, "s", target)
		require.NoError(t, err)
		assert.Equal(t, int64(22), size)

		dir := t.TempDir()
		path, err := b.CopyToLocal(ctx, "s", target, dir)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "# step rmse_trn\n0 1.0\n", string(data))
	}

	_, err := b.Open(ctx, "s", core.Target{Host: "s3://sims", Path: "nope"})
	assert.True(t, simerr.IsCode(err, simerr.CodeTransientIO))

	_, err = b.Stat(ctx, "s", core.Target{Host: "s3://", Path: ""})
	assert.Error(t, err)
}

func TestRouterIsLocal(t *testing.T) {
	r := NewRouter(DefaultConfig(), nil)
	assert.True(t, r.IsLocal(""))
	assert.True(t, r.IsLocal("LOCALHOST"))
	assert.False(t, r.IsLocal("kohn.example.org"))

	dir := t.TempDir()
	src := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(src, []byte("12345"), 0o644))
	size, err := r.Stat(context.Background(), "s", core.Target{Host: "localhost", Path: src})
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestSSHHostSplitting(t *testing.T) {
	s := NewSSH(SSHConfig{User: "sim", Port: 2222}, nil)

	user, addr := s.splitHost("kohn")
	assert.Equal(t, "sim", user)
	assert.Equal(t, "kohn:2222", addr)

	user, addr = s.splitHost("alice@kohn:22")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "kohn:22", addr)

	assert.Equal(t, `'/it'\''s here'`, shellQuote("/it's here"))
}

func TestSSHAgentConnectionIsClosed(t *testing.T) {
	dir, err := os.MkdirTemp("", "agent")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "a.sock")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()
	t.Setenv("SSH_AUTH_SOCK", sock)

	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := l.Accept(); err == nil {
			accepted <- c
		}
	}()

	s := NewSSH(SSHConfig{UseAgent: true, IdentityFile: filepath.Join(dir, "missing")}, nil)
	methods, done := s.authMethods()
	assert.Len(t, methods, 1)

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never saw a connection")
	}
	defer server.Close()

	done()
	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRouterRetriesS3Setup(t *testing.T) {
	r := NewRouter(DefaultConfig(), nil)
	calls := 0
	r.newS3 = func(_ context.Context, cfg S3Config) (*S3, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("no credentials yet")
		}
		return NewS3WithClient(cfg, &fakeObjects{objects: map[string]string{"sims/COLVAR": "#! FIELDS t\n"}}), nil
	}

	target := core.Target{Path: "s3://sims/COLVAR"}
	_, err := r.Stat(context.Background(), "s", target)
	require.Error(t, err)

	size, err := r.Stat(context.Background(), "s", target)
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)

	_, err = r.Stat(context.Background(), "s", target)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "client is kept once built")
}
