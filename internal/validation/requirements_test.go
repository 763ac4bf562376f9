package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

func validRequirements() *schema.Requirements {
	return &schema.Requirements{
		Title:           "The Glass Harbor",
		Genre:           schema.GenreMystery,
		TargetWordCount: 2000,
		Theme:           "trust and betrayal",
		Setting:         "a fog-bound fishing town in the 1950s",
		Characters:      []string{"Inspector Marlowe", "Edith Crane"},
	}
}

func TestRequirementsValidator_Valid(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(validRequirements()))
}

func TestRequirementsValidator_Nil(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	err = v.Validate(nil)
	require.Error(t, err)

	fErr, ok := err.(*schema.FablerError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, fErr.Code)
}

func TestRequirementsValidator_MissingGenre(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	req := validRequirements()
	req.Genre = ""

	err = v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
}

func TestRequirementsValidator_WordCountBounds(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	req := validRequirements()
	req.TargetWordCount = 10
	assert.Error(t, v.Validate(req), "below minimum")

	req.TargetWordCount = 300000
	assert.Error(t, v.Validate(req), "above maximum")
}

func TestRequirementsValidator_DuplicateCharacters(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	req := validRequirements()
	req.Characters = []string{"Ada", "ada"}

	err = v.Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate character")
}

func TestRequirementsValidator_LargeTargetIsWarningOnly(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	req := validRequirements()
	req.TargetWordCount = 60000
	assert.NoError(t, v.Validate(req), "warnings must not fail validation")
}

func TestRequirementsValidator_ValidateJSON(t *testing.T) {
	v, err := NewRequirementsValidator()
	require.NoError(t, err)

	req, err := v.ValidateJSON([]byte(`{"genre":"fantasy","target_word_count":1500,"theme":"found family"}`))
	require.NoError(t, err)
	assert.Equal(t, schema.GenreFantasy, req.Genre)
	assert.Equal(t, 1500, req.TargetWordCount)

	_, err = v.ValidateJSON([]byte(`{"genre":"fantasy","target_word_count":1500,"bogus":true}`))
	assert.Error(t, err, "unknown fields rejected")
}
