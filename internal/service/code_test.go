package service

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/swappo/pin-server-go/internal/errors"
)

func TestGeneratePinCode(t *testing.T) {
	t.Run("generates exactly 6 digits", func(t *testing.T) {
		pattern := regexp.MustCompile(`^[0-9]{6}$`)
		for i := 0; i < 100; i++ {
			code, err := GeneratePinCode()
			require.NoError(t, err)
			assert.True(t, pattern.MatchString(code), "code should be 6 digits, got: %s", code)
		}
	})

	t.Run("preserves leading zeros", func(t *testing.T) {
		// With 1000 draws the odds of never seeing a code below 100000 are
		// astronomically small, but the test only asserts length anyway.
		for i := 0; i < 1000; i++ {
			code, err := GeneratePinCode()
			require.NoError(t, err)
			assert.Len(t, code, 6)
		}
	})
}

func TestNormalizePinCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare code", "482917", "482917", false},
		{"display format with space", "482 917", "482917", false},
		{"surrounding whitespace", "  482917  ", "482917", false},
		{"tabs and newlines", "\t482\n917 ", "482917", false},
		{"leading zeros", "000042", "000042", false},
		{"too short", "48291", "", true},
		{"too long", "4829171", "", true},
		{"letters", "48291a", "", true},
		{"empty", "", "", true},
		{"only spaces", "      ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePinCode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPinCode(t *testing.T) {
	t.Run("inserts space after third digit", func(t *testing.T) {
		assert.Equal(t, "482 917", FormatPinCode("482917"))
		assert.Equal(t, "000 042", FormatPinCode("000042"))
	})

	t.Run("leaves malformed values alone", func(t *testing.T) {
		assert.Equal(t, "48291", FormatPinCode("48291"))
		assert.Equal(t, "", FormatPinCode(""))
	})

	t.Run("round-trips through normalization", func(t *testing.T) {
		code, err := NormalizePinCode(FormatPinCode("482917"))
		require.NoError(t, err)
		assert.Equal(t, "482917", code)
	})
}
