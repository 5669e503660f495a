package model

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money is an amount in integer minor currency units. Floating point never
// touches monetary values.
type Money int64

// String returns the plain integer representation.
func (m Money) String() string {
	return strconv.FormatInt(int64(m), 10)
}

// Format renders the amount with locale-aware digit grouping.
func (m Money) Format(tag language.Tag) string {
	return message.NewPrinter(tag).Sprintf("%d", int64(m))
}

// MinMoney returns the smaller of a and b.
func MinMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// MaxMoney returns the larger of a and b.
func MaxMoney(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}
