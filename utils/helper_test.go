package utils

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneDigits(t *testing.T) {
	digits, err := PhoneDigits("98765 43210", "IN")
	require.NoError(t, err)
	assert.Equal(t, "919876543210", digits)

	digits, err = PhoneDigits("+91 98765-43210", "IN")
	require.NoError(t, err)
	assert.Equal(t, "919876543210", digits)

	_, err = PhoneDigits("12345", "IN")
	assert.Error(t, err)
	assert.Error(t, ValidatePhoneNumber("not a phone", "IN"))
}

func TestIsValidPincode(t *testing.T) {
	assert.True(t, IsValidPincode("560001"))
	assert.True(t, IsValidPincode(" 110011 "))
	assert.False(t, IsValidPincode("56001"))
	assert.False(t, IsValidPincode("56000a"))
	assert.False(t, IsValidPincode("5600011"))
}

func TestProcessValidationErrors(t *testing.T) {
	type draft struct {
		Name string `validate:"required"`
		Qty  int    `validate:"min=1"`
	}
	err := validator.New().Struct(draft{})
	fields := ProcessValidationErrors(err)
	assert.Equal(t, map[string]string{"Name": "required", "Qty": "min"}, fields)
}

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []string{"S", "M", "L"}, UniqueSlice([]string{"S", "M", "S", "L", "M"}))
}
