package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("genre", ErrCodeValidation, "unknown genre")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "genre", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "unknown genre", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("target_word_count", ErrCodeValidation, "very long target")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("theme", ErrCodeValidation, "err2")
	r2.AddWarning("setting", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("genre", ErrCodeValidation, "unknown genre")

	err := r.ToError()
	require.NotNil(t, err)

	fErr, ok := err.(*FablerError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, fErr.Code)
	assert.Equal(t, "unknown genre", fErr.Message)
	assert.Equal(t, 1, fErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	fErr, ok := err.(*FablerError)
	require.True(t, ok)
	assert.Contains(t, fErr.Message, "2 errors")
	assert.Equal(t, 2, fErr.Details["error_count"])
	assert.Equal(t, 1, fErr.Details["warning_count"])
}

func TestFablerError_Format(t *testing.T) {
	err := NewError(ErrCodeStepTimeout, "deadline exceeded").WithStep("content_generation")
	assert.Equal(t, "[STEP_TIMEOUT] step content_generation: deadline exceeded", err.Error())

	bare := NewErrorf(ErrCodeStore, "open %s", "runs.db")
	assert.Equal(t, "[STORE_ERROR] open runs.db", bare.Error())
}
