package wire

import (
	"math"
	"strconv"
)

// Fixed is a signed 24.8 fixed-point number as carried on the wire:
// a 32 bit integer holding the value multiplied by 256.
type Fixed int32

func FixedFromInt(v int32) Fixed {
	return Fixed(v << 8)
}

func FixedFromFloat(v float64) Fixed {
	return Fixed(int32(math.Round(v * 256)))
}

func (f Fixed) Int() int32 {
	return int32(f) >> 8
}

// Float converts exactly; every Fixed value is representable in a
// float64 and Float followed by FixedFromFloat round-trips without
// drift.
func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func (f Fixed) String() string {
	return strconv.FormatFloat(f.Float(), 'f', -1, 64)
}
