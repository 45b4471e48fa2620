package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
)

// TestNew verifies that New() returns a properly configured validator
func TestNew(t *testing.T) {
	v := New()
	require.NotNil(t, v, "New() should return a non-nil validator")
}

// TestNotblankValidator tests the custom notblank validation
func TestNotblankValidator(t *testing.T) {
	v := New()

	type TestStruct struct {
		Code string `validate:"notblank"`
	}

	testCases := []struct {
		name        string
		input       string
		expectError bool
		description string
	}{
		{
			name:        "valid_code",
			input:       "RWD-AAAA-BBBB",
			expectError: false,
			description: "Normal code should pass",
		},
		{
			name:        "valid_with_spaces",
			input:       "  RWD-AAAA-BBBB  ",
			expectError: false,
			description: "Code with leading/trailing spaces should pass (has content)",
		},
		{
			name:        "whitespace_only_spaces",
			input:       "   ",
			expectError: true,
			description: "Whitespace-only (spaces) should fail",
		},
		{
			name:        "whitespace_only_tabs",
			input:       "\t\t",
			expectError: true,
			description: "Whitespace-only (tabs) should fail",
		},
		{
			name:        "whitespace_mixed",
			input:       " \t\n ",
			expectError: true,
			description: "Mixed whitespace-only should fail",
		},
		{
			name:        "empty_string",
			input:       "",
			expectError: true,
			description: "Empty string should fail (TrimSpace returns empty)",
		},
		{
			name:        "single_char",
			input:       "a",
			expectError: false,
			description: "Single character should pass",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := TestStruct{Code: tc.input}
			err := v.Struct(ts)

			if tc.expectError {
				assert.Error(t, err, tc.description)
			} else {
				assert.NoError(t, err, tc.description)
			}
		})
	}
}

// TestRedeemRequestValidation tests the redemption request rules end to end
func TestRedeemRequestValidation(t *testing.T) {
	v := New()

	testCases := []struct {
		name        string
		code        string
		expectError bool
	}{
		{"valid", "RWD-AAAA-BBBB", false},
		{"empty", "", true},
		{"whitespace_only", "   ", true},
		{"at_max_length", strings.Repeat("A", 64), false},
		{"exceeds_max_length", strings.Repeat("A", 65), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := model.RedeemRewardRequest{RewardCode: tc.code}
			err := v.Struct(req)

			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestNotblankOnNonStringField tests that notblank handles non-string fields gracefully
func TestNotblankOnNonStringField(t *testing.T) {
	v := New()

	// notblank on int should pass (returns true for non-string types)
	type TestStructInt struct {
		Value int `validate:"notblank"`
	}

	ts := TestStructInt{Value: 0}
	err := v.Struct(ts)
	assert.NoError(t, err, "notblank should pass for non-string types")
}
