package core

import (
	"fmt"
	"strings"

	"github.com/simvis/simvis/pkg/errors"
)

// Mode selects how results from several targets are combined.
type Mode uint8

const (
	// ModeMerge stacks rows of same-format files and tags each row with its origin.
	ModeMerge Mode = iota
	// ModeParallel aligns rows of different-format files and unions their columns.
	ModeParallel
)

func (m Mode) String() string {
	switch m {
	case ModeMerge:
		return "merge"
	case ModeParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merge", "":
		return ModeMerge, nil
	case "parallel":
		return ModeParallel, nil
	default:
		return ModeMerge, errors.InvalidRequest("unknown mode %q, expected merge or parallel", s)
	}
}

// Target identifies one file to extract.
type Target struct {
	Host string
	Path string
}

func (t Target) String() string {
	if t.Host == "" {
		return t.Path
	}
	return t.Host + ":" + t.Path
}

// Request is one extraction call: the targets, an opaque session id handed to
// the file-system layer for connection reuse, and the combination mode.
type Request struct {
	Targets []Target
	Session string
	Mode    Mode
}

// NewRequest pairs hosts and paths positionally.
func NewRequest(hosts, paths []string, session string, mode Mode) (Request, error) {
	if len(hosts) != len(paths) {
		return Request{}, errors.InvalidRequest("got %d hosts for %d paths", len(hosts), len(paths))
	}
	targets := make([]Target, len(paths))
	for i := range paths {
		targets[i] = Target{Host: hosts[i], Path: paths[i]}
	}
	req := Request{Targets: targets, Session: session, Mode: mode}
	return req, req.Validate()
}

// Validate rejects requests that cannot be dispatched.
func (r Request) Validate() error {
	if len(r.Targets) == 0 {
		return errors.InvalidRequest("request has no targets")
	}
	for i, t := range r.Targets {
		if t.Path == "" {
			return errors.InvalidRequest("target %d has an empty path", i)
		}
	}
	if r.Mode != ModeMerge && r.Mode != ModeParallel {
		return errors.InvalidRequest("unknown mode %d", r.Mode)
	}
	return nil
}

// Hosts returns the host of every target in order.
func (r Request) Hosts() []string {
	out := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		out[i] = t.Host
	}
	return out
}

// Paths returns the path of every target in order.
func (r Request) Paths() []string {
	out := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		out[i] = t.Path
	}
	return out
}

// String summarises the request for logs.
func (r Request) String() string {
	parts := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s[%s]", r.Mode, strings.Join(parts, ", "))
}
