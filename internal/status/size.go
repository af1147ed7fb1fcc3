package status

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Kind selects the unit anchor for HumanReadableSize. Sizes start
// scaling at KiB while transfer rates are reported from KiB/s up, so
// rates round one unit earlier.
type Kind int

const (
	KindSize Kind = iota
	KindSpeed
)

var sizeLabels = [...]string{"KiB", "MiB", "GiB", "TiB"}

// HumanReadableSize renders a byte count with base-1024 units, picking
// the largest unit where the scaled value stays at or above one. Values
// under 1 KiB come back as plain bytes. Once the unit passes the
// anchor for the given kind, the value is rounded to two decimals.
func HumanReadableSize(size float64, kind Kind) string {
	if size < 1024 {
		return formatScaled(size) + " B"
	}
	i := -1
	for size >= 1024 {
		i++
		size /= 1024
	}
	j := 1
	if kind == KindSpeed {
		j = 0
	}
	if i > j {
		size = math.Round(size*100) / 100
	}
	return formatScaled(size) + " " + sizeLabels[i]
}

func formatScaled(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ToBytes is the inverse of HumanReadableSize: it parses a rendered
// size (or rate, with its "/s" suffix) back into bytes.
func ToBytes(s string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimSuffix(s, "/s"))
}
