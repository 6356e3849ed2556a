// Package core provides the fundamental abstractions of the extraction engine:
// targets and requests, parser descriptors, tables and headers, and the
// parser and file-system contracts every other package builds on.
package core

import (
	"regexp"
	"slices"
)

// Axes suggests default column indices for the x, y, z and t plot axes.
// Only the first entry of X is authoritative; consumers ignore the rest.
type Axes struct {
	X []int `json:"x" yaml:"x"`
	Y []int `json:"y" yaml:"y"`
	Z []int `json:"z" yaml:"z"`
	T []int `json:"t" yaml:"t"`
}

// DefaultAxes is the suggestion used by parsers that know nothing better.
func DefaultAxes() Axes {
	return Axes{X: []int{0}, Y: []int{1}, Z: []int{2}, T: []int{0}}
}

// PrimaryX returns the authoritative x index, or -1 when none is suggested.
func (a Axes) PrimaryX() int {
	if len(a.X) == 0 {
		return -1
	}
	return a.X[0]
}

// Clone returns a deep copy.
func (a Axes) Clone() Axes {
	return Axes{
		X: cloneInts(a.X),
		Y: cloneInts(a.Y),
		Z: cloneInts(a.Z),
		T: cloneInts(a.T),
	}
}

// Clamp returns a copy without indices that are out of range for n columns.
func (a Axes) Clamp(n int) Axes {
	keep := func(idx []int) []int {
		out := make([]int, 0, len(idx))
		for _, i := range idx {
			if i >= 0 && i < n {
				out = append(out, i)
			}
		}
		return out
	}
	return Axes{X: keep(a.X), Y: keep(a.Y), Z: keep(a.Z), T: keep(a.T)}
}

// Equal reports whether two suggestions are identical.
func (a Axes) Equal(b Axes) bool {
	return slices.Equal(a.X, b.X) && slices.Equal(a.Y, b.Y) &&
		slices.Equal(a.Z, b.Z) && slices.Equal(a.T, b.T)
}

func cloneInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return append([]int{}, s...)
}

// Descriptor is the immutable metadata of one parser.
type Descriptor struct {
	// Name is the unique display name the parser is registered under.
	Name string

	Description string

	// Signature is matched against the first lines of a file.
	Signature *regexp.Regexp

	// ExpectedFilename is the canonical file name, used only to order attempts.
	ExpectedFilename string

	DefaultAxes Axes
}

// String returns the parser display form.
func (d Descriptor) String() string {
	return "<Parser " + d.Name + ">"
}
