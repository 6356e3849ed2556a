// Package registry loads parser plugins into an immutable, ordered list.
// There is no package-level registry: callers build one and pass it on.
package registry

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// Loader produces one parser. Name identifies the loader in diagnostics.
type Loader struct {
	Name string
	Load func() (core.Parser, error)
}

// Registry is the immutable set of loaded parsers, in load order.
type Registry struct {
	parsers []core.Parser
	byName  map[string]core.Parser
}

// Build runs every loader. A loader that fails or panics is logged and
// skipped; two parsers sharing a name is an error.
func Build(logger *slog.Logger, loaders ...Loader) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{byName: make(map[string]core.Parser, len(loaders))}
	for _, l := range loaders {
		p, err := load(l)
		var off *disabledError
		if stderrors.As(err, &off) {
			logger.Info("parser disabled", "parser", off.name)
			continue
		}
		if err != nil {
			logger.Warn("parser failed to load", "loader", l.Name, "error", err)
			continue
		}

		name := p.Descriptor().Name
		if prev, ok := r.byName[name]; ok {
			return nil, errors.Newf(errors.CodeDuplicateParser,
				"parser name %q registered twice", name).
				WithContext("loader", l.Name).
				WithContext("existing", prev.Descriptor().String())
		}
		r.byName[name] = p
		r.parsers = append(r.parsers, p)
		logger.Debug("parser loaded", "parser", name, "loader", l.Name)
	}
	return r, nil
}

// load calls l.Load, turning panics into load errors.
func load(l Loader) (p core.Parser, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf(errors.CodeLoadFailed, "loader panicked: %v", rec)
		}
	}()

	if l.Load == nil {
		return nil, errors.New(errors.CodeLoadFailed, "loader has no load function")
	}
	p, err = l.Load()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLoadFailed, "loader returned an error")
	}
	if p == nil {
		return nil, errors.New(errors.CodeLoadFailed, "loader returned no parser")
	}
	if p.Descriptor().Name == "" || p.Descriptor().Signature == nil {
		return nil, errors.New(errors.CodeLoadFailed, fmt.Sprintf("parser %T has an incomplete descriptor", p))
	}
	return p, nil
}

type disabledError struct {
	name string
}

func (e *disabledError) Error() string {
	return fmt.Sprintf("parser %q is disabled", e.name)
}

func errDisabled(name string) error {
	return &disabledError{name: name}
}

// Parsers returns the loaded parsers in load order.
func (r *Registry) Parsers() []core.Parser {
	return append([]core.Parser(nil), r.parsers...)
}

// Get returns a parser by name.
func (r *Registry) Get(name string) (core.Parser, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names returns the parser names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of parsers.
func (r *Registry) Len() int {
	return len(r.parsers)
}
