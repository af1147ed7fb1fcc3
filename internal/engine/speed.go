package engine

import (
	"fmt"
	"math"
	"strconv"
)

// NormalizeSpeedLimit converts a user-facing limit such as "500K" or
// "1.5M" into the kilobyte form the engine accepts. Megabyte values
// are multiplied by 1024 and relabeled as kilobytes; the numeric part
// is rounded to an integer. "0" means unlimited and passes through.
func NormalizeSpeedLimit(limit string) (string, error) {
	if limit == "" || limit == "0" {
		return "0", nil
	}
	if len(limit) < 2 {
		return "", fmt.Errorf("invalid speed limit %q", limit)
	}
	unit := limit[len(limit)-1]
	number, err := strconv.ParseFloat(limit[:len(limit)-1], 64)
	if err != nil {
		return "", fmt.Errorf("invalid speed limit %q: %w", limit, err)
	}
	if number < 0 {
		return "", fmt.Errorf("invalid speed limit %q", limit)
	}
	if unit != 'K' {
		number *= 1024
	}
	return strconv.FormatInt(int64(math.Round(number)), 10) + "K", nil
}
