// Package parsers holds the format plugins: a shared base with the default
// signature-scanning capability check, a configurable whitespace-table parser
// (also loadable from YAML specs), and the reference simulation formats.
package parsers

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// DefaultScanLines is how many leading lines CanHandle inspects.
const DefaultScanLines = 100

// Options are shared by every plugin instance.
type Options struct {
	// ScanLines bounds the capability check.
	ScanLines int

	// TempDir is where local copies are made; empty uses the system default.
	TempDir string

	Logger *slog.Logger
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{ScanLines: DefaultScanLines, Logger: slog.Default()}
}

func (o Options) withDefaults() Options {
	if o.ScanLines <= 0 {
		o.ScanLines = DefaultScanLines
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// anchored compiles pattern so it only matches at the start of a line.
func anchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)`)
}

// Base implements the parts of core.Parser every plugin shares.
// Plugins embed it and add ExtractHeader and ExtractData.
type Base struct {
	desc core.Descriptor
	opts Options
}

// NewBase creates a base for desc.
func NewBase(desc core.Descriptor, opts Options) Base {
	return Base{desc: desc, opts: opts.withDefaults()}
}

// Descriptor returns the plugin metadata.
func (b Base) Descriptor() core.Descriptor {
	return b.desc
}

// CanHandle scans the first lines of the target for the signature.
// Any failure to read means false.
func (b Base) CanHandle(ctx context.Context, in core.Input) bool {
	log := b.opts.Logger.With("parser", b.desc.Name, "host", in.Target.Host, "path", in.Target.Path)

	rc, err := in.FS.Open(ctx, in.Session, in.Target)
	if err != nil {
		log.Warn("capability check could not open file", "error", err)
		return false
	}
	h := core.NewHandle(in.Target.Path, rc)
	defer h.Close()

	for i := 0; i < b.opts.ScanLines; i++ {
		line, err := h.ReadLine()
		if err != nil {
			break
		}
		if b.desc.Signature.MatchString(line) {
			log.Debug("parser can handle file")
			return true
		}
	}
	log.Debug("parser cannot handle file")
	return false
}

// openStream returns a handle reading the target in place, for header-only
// work. The returned func releases it.
func (b Base) openStream(ctx context.Context, in core.Input) (*core.Handle, func(), error) {
	if in.Handle != nil {
		return rewound(in)
	}
	rc, err := in.FS.Open(ctx, in.Session, in.Target)
	if err != nil {
		return nil, nil, err
	}
	h := core.NewHandle(in.Target.Path, rc)
	return h, func() { h.Close() }, nil
}

// openLocal copies the target into a private temporary directory and opens
// the copy. The returned func closes it and removes the directory.
func (b Base) openLocal(ctx context.Context, in core.Input) (*core.Handle, func(), error) {
	if in.Handle != nil {
		return rewound(in)
	}

	dir, err := os.MkdirTemp(b.opts.TempDir, "simvis-*")
	if err != nil {
		return nil, nil, errors.TransientIO(err, "", b.opts.TempDir)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			b.opts.Logger.Warn("could not remove local copy", "path", dir, "error", err)
		}
	}

	local, err := in.FS.CopyToLocal(ctx, in.Session, in.Target, dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		cleanup()
		return nil, nil, errors.TransientIO(err, in.Target.Host, in.Target.Path)
	}
	h := core.NewHandle(in.Target.Path, f)
	return h, func() {
		h.Close()
		cleanup()
	}, nil
}

// rewound returns the caller's handle back at its first line. The caller keeps
// ownership, so the release func does nothing.
func rewound(in core.Input) (*core.Handle, func(), error) {
	if err := in.Handle.Rewind(); err != nil {
		return nil, nil, errors.TransientIO(err, in.Target.Host, in.Target.Path)
	}
	return in.Handle, func() {}, nil
}

// readLine reads the next line, turning read failures into I/O errors.
// It returns io.EOF unchanged.
func readLine(h *core.Handle, t core.Target) (string, error) {
	line, err := h.ReadLine()
	if err != nil && err != io.EOF {
		return "", errors.TransientIO(err, t.Host, t.Path)
	}
	return line, err
}

// checkEvery reports ctx cancellation once every few thousand lines.
func checkEvery(ctx context.Context, line int) error {
	if line%4096 == 0 {
		return ctx.Err()
	}
	return nil
}
