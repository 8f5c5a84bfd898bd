package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	apperrors "github.com/swappo/pin-server-go/internal/errors"
)

const pinCodeDigits = 6

var pinCodeSpace = big.NewInt(1_000_000)

// GeneratePinCode draws a fresh 6-digit code uniformly from 000000-999999,
// leading zeros preserved.
func GeneratePinCode() (string, error) {
	n, err := rand.Int(rand.Reader, pinCodeSpace)
	if err != nil {
		return "", fmt.Errorf("generate pin code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NormalizePinCode strips embedded whitespace from a submitted code and
// requires exactly 6 digits to remain. Anything else is INVALID_FORMAT,
// rejected before the verification gate ever sees it.
func NormalizePinCode(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}

	code := b.String()
	if len(code) != pinCodeDigits {
		return "", apperrors.InvalidFormat("PIN must be 6 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", apperrors.InvalidFormat("PIN must be 6 digits")
		}
	}
	return code, nil
}

// FormatPinCode renders a code for display, inserting a space after the
// third digit ("482917" -> "482 917"). Display only: the stored and
// transmitted value is always the bare 6-digit string.
func FormatPinCode(code string) string {
	if len(code) != pinCodeDigits {
		return code
	}
	return code[:3] + " " + code[3:]
}
