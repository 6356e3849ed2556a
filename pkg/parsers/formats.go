package parsers

// Reference formats that are plain whitespace tables.
var (
	// ColvarSpec reads PLUMED COLVAR files.
	ColvarSpec = TableSpec{
		Name:             "Plumed-COLVAR",
		Description:      "PLUMED collective variable output. Column names come from the '#! FIELDS' line, other '#' lines are skipped.",
		ExpectedFilename: "COLVAR",
		Signature:        `(?i)#!\s*FIELDS\s*`,
		Strip:            `(?i)#!\s*FIELDS\s*`,
	}

	// LcurveSpec reads DeePMD-kit training curves.
	LcurveSpec = TableSpec{
		Name:             "DeepMD-lcurve",
		Description:      "DeePMD-kit learning curve (lcurve.out). Works for the l2_* and rmse_* header styles.",
		ExpectedFilename: "lcurve.out",
		Signature:        `(?i)#\s*(batch|step)\s+(l2|rmse)_`,
		Strip:            `#\s*`,
	}

	// ModelDeviationSpec reads DeePMD-kit model deviation files; only the
	// energy and force deviation columns are kept.
	ModelDeviationSpec = TableSpec{
		Name:             "DeepMD-model_deviation",
		Description:      "DeePMD-kit model deviation output. Only step and the six energy and force deviation columns are extracted.",
		ExpectedFilename: "model_devi.out",
		Signature:        `(?i)#\s*step\s+max_devi_[ev]\s+min_devi_[ev]\s+avg_devi_[ev]\s+max_devi_f\s+min_devi_f\s+avg_devi_f`,
		Strip:            `#\s*`,
		MaxColumns:       7,
	}
)

// NewColvar returns the PLUMED COLVAR parser.
func NewColvar(opts Options) (*Table, error) {
	return NewTable(ColvarSpec, opts)
}

// NewLcurve returns the DeePMD learning curve parser.
func NewLcurve(opts Options) (*Table, error) {
	return NewTable(LcurveSpec, opts)
}

// NewModelDeviation returns the DeePMD model deviation parser.
func NewModelDeviation(opts Options) (*Table, error) {
	return NewTable(ModelDeviationSpec, opts)
}
