package remote

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/simvis/simvis/pkg/core"
)

// Config selects and configures the backends behind a Router.
type Config struct {
	SSH SSHConfig
	S3  S3Config
}

// DefaultConfig returns defaults for every backend.
func DefaultConfig() Config {
	return Config{SSH: DefaultSSHConfig()}
}

// Router implements core.FileSystem by forwarding each target to the backend
// its host names: local for "", "localhost" and this machine, S3 for
// "s3://bucket", SSH for anything else.
type Router struct {
	cfg    Config
	logger *slog.Logger

	local *Local
	ssh   *SSH

	s3Mu  sync.Mutex
	s3    *S3
	newS3 func(context.Context, S3Config) (*S3, error)

	hostname string
}

// NewRouter creates a router. The S3 client is created on first use; a
// failed attempt is retried by the next S3 request.
func NewRouter(cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	return &Router{
		cfg:      cfg,
		logger:   logger,
		local:    NewLocal(),
		ssh:      NewSSH(cfg.SSH, logger),
		newS3:    NewS3,
		hostname: hostname,
	}
}

// IsLocal reports whether host refers to the machine the engine runs on.
func (r *Router) IsLocal(host string) bool {
	switch strings.ToLower(host) {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return r.hostname != "" && strings.EqualFold(host, r.hostname)
}

func (r *Router) backend(ctx context.Context, t core.Target) (core.FileSystem, error) {
	switch {
	case IsS3(t):
		return r.s3Client(ctx)
	case r.IsLocal(t.Host):
		return r.local, nil
	default:
		return r.ssh, nil
	}
}

func (r *Router) s3Client(ctx context.Context) (*S3, error) {
	r.s3Mu.Lock()
	defer r.s3Mu.Unlock()
	if r.s3 != nil {
		return r.s3, nil
	}
	c, err := r.newS3(ctx, r.cfg.S3)
	if err != nil {
		return nil, err
	}
	r.s3 = c
	return c, nil
}

// Open opens t on its backend.
func (r *Router) Open(ctx context.Context, session string, t core.Target) (io.ReadCloser, error) {
	fs, err := r.backend(ctx, t)
	if err != nil {
		return nil, err
	}
	return fs.Open(ctx, session, t)
}

// Stat returns the size of t.
func (r *Router) Stat(ctx context.Context, session string, t core.Target) (int64, error) {
	fs, err := r.backend(ctx, t)
	if err != nil {
		return 0, err
	}
	return fs.Stat(ctx, session, t)
}

// CopyToLocal materialises t inside dir.
func (r *Router) CopyToLocal(ctx context.Context, session string, t core.Target, dir string) (string, error) {
	fs, err := r.backend(ctx, t)
	if err != nil {
		return "", err
	}
	return fs.CopyToLocal(ctx, session, t, dir)
}

// CloseSession releases connections held for session.
func (r *Router) CloseSession(session string) {
	r.ssh.CloseSession(session)
}

// Close releases every connection.
func (r *Router) Close() error {
	return r.ssh.Close()
}
