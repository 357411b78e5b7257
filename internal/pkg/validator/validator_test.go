package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Field: "mode", Message: "must be dry_run or live"},
		{Field: "as_of", Message: "invalid timestamp"},
	}

	assert.Equal(t, "mode: must be dry_run or live; as_of: invalid timestamp", errs.Error())
	assert.Equal(t, map[string]string{
		"mode":  "must be dry_run or live",
		"as_of": "invalid timestamp",
	}, errs.ToMap())
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty("   "))
	assert.False(t, IsEmpty("x"))
}

func TestIsValidDate(t *testing.T) {
	_, ok := IsValidDate("2025-08-06")
	assert.True(t, ok)

	_, ok = IsValidDate("06-08-2025")
	assert.False(t, ok)
}

func TestIsValidDateTime(t *testing.T) {
	_, ok := IsValidDateTime("2025-08-06T20:00:00+07:00")
	assert.True(t, ok)

	_, ok = IsValidDateTime("2025-08-06 20:00:00")
	assert.False(t, ok)
}

func TestIsInSlice(t *testing.T) {
	modes := []string{"dry_run", "live"}
	assert.True(t, IsInSlice("live", modes))
	assert.False(t, IsInSlice("replay", modes))
}
