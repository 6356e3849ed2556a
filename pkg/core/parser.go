package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// MaxReplay bounds how much of a non-seekable stream a Handle keeps so it can
// be rewound.
const MaxReplay = 4 << 20

// ErrNotRewindable is returned by Rewind when the handle can no longer go back
// to the start of its content.
var ErrNotRewindable = errors.New("handle cannot be rewound")

// FileSystem is the remote file access capability the engine consumes.
// The session id is opaque here and lets implementations reuse connections.
type FileSystem interface {
	// Open returns a readable stream for the target.
	Open(ctx context.Context, session string, t Target) (io.ReadCloser, error)

	// Stat returns the size of the target in bytes.
	Stat(ctx context.Context, session string, t Target) (int64, error)

	// CopyToLocal materialises the target inside dir and returns the local path.
	CopyToLocal(ctx context.Context, session string, t Target, dir string) (string, error)
}

// Input carries the per-call parameters of a parser operation.
type Input struct {
	FS      FileSystem
	Target  Target
	Session string

	// Handle is an already-open file. When set, parsers rewind it and read
	// from it instead of opening the target, and leave closing it to the
	// caller.
	Handle *Handle
}

// Parser detects and extracts one file format. Implementations are stateless
// and shared by every concurrent job.
type Parser interface {
	Descriptor() Descriptor

	// CanHandle reports whether the target looks like this parser's format.
	// It never fails: problems reading the file mean false.
	CanHandle(ctx context.Context, in Input) bool

	// ExtractHeader parses column names and axis hints without reading the data body where possible.
	ExtractHeader(ctx context.Context, in Input) (*Header, error)

	// ExtractData parses the whole file; column order matches ExtractHeader.
	ExtractData(ctx context.Context, in Input) (*Table, error)
}

// Handle is an open file read line by line. Rewind goes back to the first
// line, so one open file can serve header and data extraction in turn.
// Seekable streams seek; other streams replay the lines consumed so far, up
// to MaxReplay bytes.
type Handle struct {
	name string
	src  io.Reader
	r    *bufio.Reader
	c    io.Closer
	line int
	read bool

	seeker   io.Seeker
	consumed bytes.Buffer
	overflow bool
}

const handleBufferSize = 64 * 1024

// NewHandle wraps an open stream.
func NewHandle(name string, rc io.ReadCloser) *Handle {
	h := &Handle{name: name, src: rc, r: bufio.NewReaderSize(rc, handleBufferSize), c: rc}
	if s, ok := rc.(io.Seeker); ok {
		h.seeker = s
	}
	return h
}

// NewStringHandle wraps in-memory content; mostly useful in tests.
func NewStringHandle(name, content string) *Handle {
	return NewHandle(name, io.NopCloser(strings.NewReader(content)))
}

// Name returns the path the handle was opened for.
func (h *Handle) Name() string {
	return h.name
}

// Line returns the number of lines consumed so far.
func (h *Handle) Line() int {
	return h.line
}

// ReadLine returns the next line without its line terminator.
// It returns io.EOF once the content is exhausted.
func (h *Handle) ReadLine() (string, error) {
	h.read = true
	s, err := h.r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	h.remember(s)
	h.line++
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimRight(s, "\r"), nil
}

func (h *Handle) remember(s string) {
	if h.seeker != nil || h.overflow {
		return
	}
	if h.consumed.Len()+len(s) > MaxReplay {
		h.overflow = true
		h.consumed = bytes.Buffer{}
		return
	}
	h.consumed.WriteString(s)
}

// Rewind positions the handle back at its first line.
func (h *Handle) Rewind() error {
	if !h.read {
		return nil
	}
	if h.seeker != nil {
		if _, err := h.seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		h.r.Reset(h.src)
		h.line, h.read = 0, false
		return nil
	}
	if h.overflow {
		return ErrNotRewindable
	}

	replay := bytes.NewReader(bytes.Clone(h.consumed.Bytes()))
	h.consumed.Reset()
	h.r = bufio.NewReaderSize(io.MultiReader(replay, h.r), handleBufferSize)
	h.line, h.read = 0, false
	return nil
}

// Close releases the underlying stream.
func (h *Handle) Close() error {
	if h.c == nil {
		return nil
	}
	return h.c.Close()
}
