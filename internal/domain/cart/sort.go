package cart

import (
	"math/big"
	"slices"
	"strings"
)

// CompareIDs orders product ids by their base-10 numeric value, at any length.
// Ids that are not integers sort after every numeric id, lexicographically
// among themselves.
func CompareIDs(a, b string) int {
	na, okA := numericID(a)
	nb, okB := numericID(b)
	switch {
	case okA && okB:
		return na.Cmp(nb)
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

func numericID(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

// SortByNumericID stable-sorts lines by CompareIDs on their id
func SortByNumericID(items []LineItem) {
	slices.SortStableFunc(items, func(a, b LineItem) int {
		return CompareIDs(a.ID, b.ID)
	})
}
