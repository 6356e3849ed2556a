// Package remote implements core.FileSystem for the places simulation output
// lives: the local disk, SSH hosts and S3 buckets, plus an in-memory backend
// for tests. Router picks the backend from the target host.
package remote

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/simvis/simvis/internal/pool"
	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// S3Scheme prefixes hosts and paths that name S3 objects.
const S3Scheme = "s3://"

// ParseTarget reads the command-line form of a target: "path", "host:path",
// "user@host:path" or "s3://bucket/key".
func ParseTarget(s string) core.Target {
	if strings.HasPrefix(s, S3Scheme) {
		rest := strings.TrimPrefix(s, S3Scheme)
		bucket, key, _ := strings.Cut(rest, "/")
		return core.Target{Host: S3Scheme + bucket, Path: key}
	}
	if i := strings.Index(s, ":"); i > 0 && !strings.ContainsAny(s[:i], `/\`) {
		return core.Target{Host: s[:i], Path: s[i+1:]}
	}
	return core.Target{Path: s}
}

// localName is where CopyToLocal places a copy of t inside dir.
func localName(dir string, t core.Target) string {
	base := path.Base(filepath.ToSlash(t.Path))
	if base == "." || base == "/" {
		base = "target"
	}
	return filepath.Join(dir, base)
}

// copyToLocal materialises t inside dir by streaming it through fs.Open.
func copyToLocal(ctx context.Context, fs core.FileSystem, session string, t core.Target, dir string) (string, error) {
	rc, err := fs.Open(ctx, session, t)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dst := localName(dir, t)
	if err := writeFile(dst, rc); err != nil {
		return "", errors.TransientIO(err, t.Host, t.Path)
	}
	return dst, nil
}

func writeFile(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := pool.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}
