package control

import (
	"fmt"
	"strconv"
)

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse int %q: %w", raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("value %d must not be negative", n)
	}
	return n, nil
}
