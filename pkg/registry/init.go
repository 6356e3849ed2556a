package registry

import (
	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/parsers"
)

// Builtin returns loaders for the statically linked reference parsers.
func Builtin(opts parsers.Options) []Loader {
	return []Loader{
		{Name: "builtin:lammps", Load: func() (core.Parser, error) { return parsers.NewLAMMPS(opts) }},
		{Name: "builtin:colvar", Load: func() (core.Parser, error) { return parsers.NewColvar(opts) }},
		{Name: "builtin:lcurve", Load: func() (core.Parser, error) { return parsers.NewLcurve(opts) }},
		{Name: "builtin:model_devi", Load: func() (core.Parser, error) { return parsers.NewModelDeviation(opts) }},
	}
}

// Declarative returns one loader per YAML parser spec in dir.
func Declarative(dir string, opts parsers.Options) ([]Loader, error) {
	paths, err := parsers.DiscoverSpecs(dir)
	if err != nil {
		return nil, err
	}
	loaders := make([]Loader, 0, len(paths))
	for _, path := range paths {
		path := path
		loaders = append(loaders, Loader{
			Name: "spec:" + path,
			Load: func() (core.Parser, error) { return parsers.LoadSpecFile(path, opts) },
		})
	}
	return loaders, nil
}

// Without drops the loaders whose parser names are listed in disabled.
// Names are only known after loading, so the filter wraps each loader.
func Without(loaders []Loader, disabled []string) []Loader {
	if len(disabled) == 0 {
		return loaders
	}
	skip := make(map[string]bool, len(disabled))
	for _, n := range disabled {
		skip[n] = true
	}

	out := make([]Loader, 0, len(loaders))
	for _, l := range loaders {
		l := l
		out = append(out, Loader{Name: l.Name, Load: func() (core.Parser, error) {
			p, err := l.Load()
			if err != nil || p == nil {
				return p, err
			}
			if skip[p.Descriptor().Name] {
				return nil, errDisabled(p.Descriptor().Name)
			}
			return p, nil
		}})
	}
	return out
}
