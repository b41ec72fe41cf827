package z80

import "strings"

// Z80 flag bit positions in the F register.
const (
	FlagC uint8 = 0x01 // Carry
	FlagN uint8 = 0x02 // Subtract
	FlagP uint8 = 0x04 // Parity/Overflow
	FlagV       = FlagP // Overflow (same bit as Parity)
	FlagH uint8 = 0x10 // Half-carry
	FlagZ uint8 = 0x40 // Zero
	FlagS uint8 = 0x80 // Sign
)

// FlagSet is a bitmask over the flag constants above.
type FlagSet uint8

// AllFlags is the set of every documented flag.
const AllFlags = FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagN | FlagC)

// Has reports whether f contains flag bit b.
func (f FlagSet) Has(b uint8) bool { return uint8(f)&b != 0 }

// String renders the set as "S Z H P/V N C" subset, for diagnostics.
func (f FlagSet) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, e := range []struct {
		bit  uint8
		name string
	}{
		{FlagS, "S"}, {FlagZ, "Z"}, {FlagH, "H"},
		{FlagP, "P/V"}, {FlagN, "N"}, {FlagC, "C"},
	} {
		if f.Has(e.bit) {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, " ")
}
