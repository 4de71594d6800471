package core

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a base 10 integer of arbitrary size.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseNonNegativeAmount is ParseAmount restricted to values >= 0.
func ParseNonNegativeAmount(s string) (*big.Int, error) {
	v, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// FormatAmount renders v in base 10, treating nil as zero.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
