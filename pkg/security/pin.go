// Package security analyzes PIN quality before enrollment. The session
// layer rate-limits guessing; this catches the PINs an attacker tries
// first.
package security

import "strings"

// Strength is the assessed quality of a PIN.
type Strength int

const (
	// StrengthWeak means the PIN should be rejected.
	StrengthWeak Strength = iota
	// StrengthFair is acceptable with a warning.
	StrengthFair
	// StrengthGood needs no comment.
	StrengthGood
	// StrengthStrong is a long or mixed-character PIN.
	StrengthStrong
)

func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "Weak"
	case StrengthFair:
		return "Fair"
	case StrengthGood:
		return "Good"
	case StrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// commonPINs are the digit PINs that dominate breach corpora.
var commonPINs = map[string]bool{
	"1234": true, "0000": true, "1111": true, "1212": true,
	"7777": true, "4321": true, "2000": true, "6969": true,
	"123456": true, "111111": true, "000000": true, "654321": true,
	"121212": true,
}

// Result describes a PIN assessment.
type Result struct {
	Strength Strength
	Warnings []string
}

// CheckPIN assesses a candidate PIN. Weak results carry at least one
// warning naming the problem.
func CheckPIN(pin string) Result {
	var warnings []string

	if len(pin) < 4 {
		return Result{StrengthWeak, []string{"PIN must be at least 4 characters"}}
	}
	if commonPINs[pin] {
		return Result{StrengthWeak, []string{"PIN is on the most-common list"}}
	}
	if allSame(pin) {
		return Result{StrengthWeak, []string{"PIN repeats a single character"}}
	}
	if sequential(pin) {
		return Result{StrengthWeak, []string{"PIN is a sequential run"}}
	}

	digits := strings.Trim(pin, "0123456789") == ""
	switch {
	case len(pin) >= 10, len(pin) >= 8 && !digits:
		return Result{StrengthStrong, warnings}
	case len(pin) >= 6:
		return Result{StrengthGood, warnings}
	default:
		warnings = append(warnings, "short PINs rely entirely on the unlock rate limit")
		return Result{StrengthFair, warnings}
	}
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// sequential reports a strictly ascending or descending character run,
// like 1234 or 9876.
func sequential(s string) bool {
	asc, desc := true, true
	for i := 1; i < len(s); i++ {
		if s[i] != s[i-1]+1 {
			asc = false
		}
		if s[i] != s[i-1]-1 {
			desc = false
		}
	}
	return asc || desc
}
