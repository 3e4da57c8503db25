package zcl

// typeRange is an open interval of type ids: lo < id < hi.
type typeRange struct{ lo, hi uint8 }

var (
	// general data, logical, bitmap, enum, string, ordered sequence,
	// collection, identifier and miscellaneous types
	discreteRanges = []typeRange{{0x07, 0x20}, {0x2f, 0x38}, {0x3f, 0xe0}, {0xe7, 0xff}}
	// unsigned, signed, float and time types
	analogRanges = []typeRange{{0x1f, 0x30}, {0x37, 0x40}, {0xdf, 0xe8}}
)

func inRanges(t DataType, ranges []typeRange) bool {
	for _, r := range ranges {
		if uint8(t) > r.lo && uint8(t) < r.hi {
			return true
		}
	}
	return false
}

// IsAnalog reports whether values of t are compared against a reportable change.
func IsAnalog(t DataType) bool { return inRanges(t, analogRanges) }

// IsDiscrete reports whether t is a discrete type.
func IsDiscrete(t DataType) bool { return inRanges(t, discreteRanges) }
