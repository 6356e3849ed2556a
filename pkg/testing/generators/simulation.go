// Package generators produces synthetic simulation output files for tests.
package generators

import (
	"fmt"
	"math/rand"
	"strings"
)

// Generator writes deterministic sample files.
type Generator struct {
	rng *rand.Rand
}

// New creates a generator seeded with seed.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) value(scale float64) string {
	return fmt.Sprintf("%.6f", g.rng.Float64()*scale)
}

// Colvar returns a PLUMED COLVAR file with the given collective variables.
func (g *Generator) Colvar(rows int, cvs ...string) string {
	if len(cvs) == 0 {
		cvs = []string{"d1", "d2"}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#! FIELDS time %s\n", strings.Join(cvs, " "))
	sb.WriteString("#! SET min_d1 0\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, " %d.000000", i)
		for range cvs {
			sb.WriteString(" " + g.value(10))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Lcurve returns a DeePMD-kit learning curve in the rmse style.
func (g *Generator) Lcurve(rows int) string {
	var sb strings.Builder
	sb.WriteString("#  step      rmse_val    rmse_trn    rmse_e_val  rmse_e_trn  rmse_f_val  rmse_f_trn         lr\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%7d", i*100)
		for c := 0; c < 6; c++ {
			sb.WriteString("    " + g.value(1))
		}
		sb.WriteString("    1.0e-03\n")
	}
	return sb.String()
}

// ModelDeviation returns a DeePMD-kit model deviation file with the
// trailing devi_e column newer versions write.
func (g *Generator) ModelDeviation(rows int) string {
	var sb strings.Builder
	sb.WriteString("#       step         max_devi_v         min_devi_v         avg_devi_v         max_devi_f         min_devi_f         avg_devi_f             devi_e\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%12d", i*10)
		for c := 0; c < 7; c++ {
			sb.WriteString(" " + g.value(0.1))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// LAMMPS returns a log with a minimisation, one MD run of rows thermo lines
// and a trailing second run that parsers must ignore.
func (g *Generator) LAMMPS(rows int) string {
	var sb strings.Builder
	sb.WriteString("LAMMPS (29 Oct 2020)\n")
	sb.WriteString("units metal\nthermo_style custom step temp pe press\n")
	sb.WriteString("minimize 1.0e-6 1.0e-8 100 1000\n")
	sb.WriteString("Per MPI rank memory allocation (min/avg/max) = 3.1 | 3.1 | 3.1 Mbytes\n")
	sb.WriteString("Step Temp PotEng Press\n       0            0   -1000.0        0.0\n")
	sb.WriteString("Loop time of 0.01 on 1 procs for 10 steps with 64 atoms\n")
	sb.WriteString("run 1000\n")
	sb.WriteString("Per MPI rank memory allocation (min/avg/max) = 4.2 | 4.2 | 4.2 Mbytes\n")
	sb.WriteString("Step Temp PotEng Press\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%8d %s %s %s\n", i*100, g.value(600), "-"+g.value(1000), g.value(5))
	}
	sb.WriteString("Loop time of 12.3 on 1 procs for 1000 steps with 64 atoms\n")
	sb.WriteString("run 10\nPer MPI rank memory allocation (min/avg/max) = 4.2 | 4.2 | 4.2 Mbytes\n")
	sb.WriteString("Step Temp PotEng Press\n  99999 1 2 3\nLoop time of 0.1\n")
	return sb.String()
}
