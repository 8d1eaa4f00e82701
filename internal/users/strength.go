package users

import "unicode"

// PasswordStrength is a coarse rating used for warnings, not enforcement.
type PasswordStrength string

const (
	StrengthVeryWeak PasswordStrength = "very weak"
	StrengthWeak     PasswordStrength = "weak"
	StrengthModerate PasswordStrength = "moderate"
	StrengthStrong   PasswordStrength = "strong"
)

// RatePassword scores by length and character class variety.
func RatePassword(password string) PasswordStrength {
	if len(password) < 8 {
		return StrengthVeryWeak
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, has := range []bool{lower, upper, digit, symbol} {
		if has {
			classes++
		}
	}

	switch {
	case len(password) >= 12 && classes >= 3:
		return StrengthStrong
	case len(password) >= 10 && classes >= 2, classes >= 3:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}
