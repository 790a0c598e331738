// Package units converts between lamports and SOL. Storage and the wire carry
// integer lamports only; SOL is for display and CLI input.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const LamportsPerSol uint64 = 1_000_000_000

// LamportsToSol is for display only.
func LamportsToSol(lamports uint64) float64 {
	return float64(lamports) / float64(LamportsPerSol)
}

// FormatSol renders lamports as a decimal SOL string without float rounding.
func FormatSol(lamports uint64) string {
	whole := lamports / LamportsPerSol
	frac := lamports % LamportsPerSol
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	s := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return strconv.FormatUint(whole, 10) + "." + s
}

// ParseSol parses a decimal SOL amount such as "1.5" into lamports.
func ParseSol(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 9 {
		return 0, fmt.Errorf("amount %q has more than 9 decimal places", s)
	}
	var w uint64
	if whole != "" {
		var err error
		w, err = strconv.ParseUint(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	var f uint64
	if frac != "" {
		frac += strings.Repeat("0", 9-len(frac))
		var err error
		f, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	if w > (math.MaxUint64-f)/LamportsPerSol {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return w*LamportsPerSol + f, nil
}
