package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_FormatsCodeContextAndCause(t *testing.T) {
	err := TransientIO(io.ErrUnexpectedEOF, "kohn", "/data/COLVAR")

	assert.Equal(t, "[E201] file access failed (host=kohn, path=/data/COLVAR): unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsCode(err, CodeTransientIO))
	assert.NotEmpty(t, err.StackTrace)
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", DifferentFileTypes("columns differ"))

	assert.ErrorIs(t, err, New(CodeDifferentFileTypes, ""))
	assert.NotErrorIs(t, err, New(CodeTransientIO, ""))
	assert.Equal(t, CodeDifferentFileTypes, GetCode(err))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("plain")))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeTransientIO, "x"))
	assert.Nil(t, Wrapf(nil, CodeTransientIO, "x %d", 1))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TransientIO(io.EOF, "h", "p")))
	assert.True(t, IsRetryable(Structural("p", 3, "bad row")))
	assert.True(t, IsRetryable(errors.New("unclassified")))
	assert.False(t, IsRetryable(DifferentFileTypes("x")))
	assert.False(t, IsRetryable(InvalidRequest("x")))
}

func TestTargetFailure_Dedup(t *testing.T) {
	var f TargetFailure
	f.Add("A", errors.New("boom"))
	f.Add("A", errors.New("boom"))
	f.Add("B", errors.New("boom"))
	f.Add("A", nil)

	assert.Len(t, f.Errors, 2)
	assert.False(t, f.Unsupported())
}

func TestAggregateError(t *testing.T) {
	agg := &AggregateError{
		Operation: "data",
		Total:     2,
		Failures: []TargetFailure{
			{Index: 0, Host: "kohn", Path: "/a/COLVAR", Errors: []ParserError{
				{Parser: "Plumed-COLVAR", Err: Structural("Plumed-COLVAR", 4, "too many fields")},
				{Parser: "LAMMPS-MetaD", Err: Unsupported("LAMMPS-MetaD", "/a/COLVAR")},
			}},
			{Index: 1, Host: "hydra", Path: "/b/unknown.txt", Errors: []ParserError{
				{Parser: "LAMMPS-MetaD", Err: Unsupported("LAMMPS-MetaD", "/b/unknown.txt")},
			}},
		},
	}

	var err error = agg
	require.True(t, IsCode(err, CodeAggregateFailure))
	assert.Equal(t, CodeAggregateFailure, GetCode(fmt.Errorf("wrapped: %w", err)))
	assert.ErrorIs(t, err, New(CodeStructuralParse, ""))

	msg := err.Error()
	assert.Contains(t, msg, "2/2 path(s)")
	assert.Contains(t, msg, "kohn@COLVAR")
	assert.Contains(t, msg, "too many fields")
	assert.Contains(t, msg, "hydra@unknown.txt: no parser recognised the file")
	assert.True(t, agg.Failures[1].Unsupported())
}

func TestMultiError(t *testing.T) {
	var m MultiError
	assert.NoError(t, m.Combined())

	m.Add(errors.New("one"))
	assert.EqualError(t, m.Combined(), "one")

	m.Add(nil)
	m.Add(errors.New("two"))
	assert.True(t, m.HasErrors())
	assert.Contains(t, m.Combined().Error(), "2 errors occurred")
}
