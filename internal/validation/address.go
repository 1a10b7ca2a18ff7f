package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidWalletAddress  = errors.New("invalid wallet address format")
	ErrWalletAddressTooShort = errors.New("wallet address too short")
	ErrWalletAddressTooLong  = errors.New("wallet address too long")
	ErrInvalidCharacters     = errors.New("wallet address contains invalid characters")
	ErrSQLInjectionDetected  = errors.New("invalid characters detected in input")
)

var (
	transparentAddressRegex = regexp.MustCompile(`^R[1-9A-HJ-NP-Za-km-z]{33}$`)
	identityAddressRegex    = regexp.MustCompile(`^i[1-9A-HJ-NP-Za-km-z]{33}$`)
)

// ValidateTransparentAddress validates a Verus-family transparent (R-prefixed,
// base58check, P2PKH/P2SH) address. It only checks shape; it does not verify
// the base58check checksum.
func ValidateTransparentAddress(address string) error {
	address = strings.TrimSpace(address)

	if len(address) == 0 {
		return ErrInvalidWalletAddress
	}
	if containsSQLInjection(address) {
		return ErrSQLInjectionDetected
	}
	if len(address) < 34 {
		return ErrWalletAddressTooShort
	}
	if len(address) > 34 {
		return ErrWalletAddressTooLong
	}
	if !transparentAddressRegex.MatchString(address) {
		return ErrInvalidCharacters
	}
	return nil
}

// ValidateIdentityAddress validates a Verus-family identity (i-prefixed,
// base58check) address such as a VerusID's i-address.
func ValidateIdentityAddress(address string) error {
	address = strings.TrimSpace(address)

	if len(address) == 0 {
		return ErrInvalidWalletAddress
	}
	if containsSQLInjection(address) {
		return ErrSQLInjectionDetected
	}
	if len(address) < 34 {
		return ErrWalletAddressTooShort
	}
	if len(address) > 34 {
		return ErrWalletAddressTooLong
	}
	if !identityAddressRegex.MatchString(address) {
		return ErrInvalidCharacters
	}
	return nil
}

// ValidateCurrencyAddress accepts either a transparent or an identity address,
// the two forms a pool_address config value may take.
func ValidateCurrencyAddress(address string) error {
	if err := ValidateTransparentAddress(address); err == nil {
		return nil
	}
	return ValidateIdentityAddress(address)
}

// containsSQLInjection is a defense-in-depth check for values that end up
// embedded in log lines and webhook payloads, not a substitute for
// parameterized queries.
func containsSQLInjection(input string) bool {
	lowered := strings.ToLower(input)

	patterns := []string{
		"'", "\"", ";", "--", "/*", "*/",
		"union", "select", "insert", "update", "delete", "drop",
		"exec", "execute", "xp_", "sp_",
	}

	for _, pattern := range patterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}

	return false
}

// SanitizeInput removes null bytes and control characters from input.
// Use this for fields that don't have a strict format requirement, such as
// a chain name arriving on an API path parameter.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)

	var result strings.Builder
	for _, r := range input {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}

	return result.String()
}
