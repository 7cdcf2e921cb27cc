package crush

import (
	"fmt"
	"math/bits"
)

// =============================================================================
// BitPlane Type
// =============================================================================

// BitPlane is one plane of a bit-sliced ternary grain: a packed bit array
// where bit p lives at byte p/8, bit offset p%8 (little-endian within the
// byte). A grain carries two planes — plus and minus — so every position
// encodes one of three states with two independent, branch-free bit tests.
type BitPlane []byte

// NewBitPlane creates a zeroed plane covering numBits positions.
// Returns nil if numBits is not positive.
func NewBitPlane(numBits int) BitPlane {
	if numBits <= 0 {
		return nil
	}
	return make(BitPlane, (numBits+7)/8)
}

// Bit returns the bit at the given position.
// Out-of-range positions read as false.
func (p BitPlane) Bit(pos int) bool {
	if pos < 0 || pos >= len(p)*8 {
		return false
	}
	return p[pos/8]&(1<<(pos%8)) != 0
}

// SetBit sets or clears the bit at the given position.
// Out-of-range positions are ignored.
func (p BitPlane) SetBit(pos int, value bool) {
	if pos < 0 || pos >= len(p)*8 {
		return
	}
	if value {
		p[pos/8] |= 1 << (pos % 8)
	} else {
		p[pos/8] &^= 1 << (pos % 8)
	}
}

// PopCount returns the number of set bits in the plane.
func (p BitPlane) PopCount() int {
	count := 0
	for _, b := range p {
		count += bits.OnesCount8(b)
	}
	return count
}

// Equal returns true if both planes have identical bytes.
func (p BitPlane) Equal(other BitPlane) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the plane.
func (p BitPlane) Clone() BitPlane {
	if p == nil {
		return nil
	}
	clone := make(BitPlane, len(p))
	copy(clone, p)
	return clone
}

// String returns a short debugging representation.
func (p BitPlane) String() string {
	if p == nil {
		return "BitPlane(nil)"
	}
	if len(p) <= 4 {
		return fmt.Sprintf("BitPlane[%d]{%02x}", len(p), []byte(p))
	}
	return fmt.Sprintf("BitPlane[%d]{%02x%02x...%02x%02x}",
		len(p), p[0], p[1], p[len(p)-2], p[len(p)-1])
}

// HammingDistance returns popcount(a XOR b): the number of positions where
// the two planes differ. Unlike a grain's InternalHamming metric, this is a
// literal Hamming distance, usable for inter-grain comparison.
func HammingDistance(a, b BitPlane) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d bytes", ErrPlaneLengthMismatch, len(a), len(b))
	}
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist, nil
}
