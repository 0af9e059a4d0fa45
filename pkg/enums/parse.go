package enums

import (
	"fmt"
	"slices"
)

func oneOf[T ~string](valid []T, v T) bool {
	return slices.Contains(valid, v)
}

func parse[T ~string](kind string, valid []T, value string) (T, error) {
	if v := T(value); oneOf(valid, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
