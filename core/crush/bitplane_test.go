package crush

import (
	"errors"
	"testing"
)

// =============================================================================
// TestBitPlane - Test BitPlane type
// =============================================================================

func TestNewBitPlane(t *testing.T) {
	tests := []struct {
		name          string
		numBits       int
		expectedBytes int
		expectedNil   bool
	}{
		{"8 bits one byte", 8, 1, false},
		{"256 bits", 256, 32, false},
		{"9 bits rounds up", 9, 2, false},
		{"1 bit", 1, 1, false},
		{"zero bits", 0, 0, true},
		{"negative bits", -4, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plane := NewBitPlane(tt.numBits)
			if tt.expectedNil {
				if plane != nil {
					t.Errorf("expected nil plane for numBits=%d, got %v", tt.numBits, plane)
				}
				return
			}
			if plane == nil {
				t.Fatalf("expected non-nil plane for numBits=%d", tt.numBits)
			}
			if len(plane) != tt.expectedBytes {
				t.Errorf("expected %d bytes for numBits=%d, got %d", tt.expectedBytes, tt.numBits, len(plane))
			}
		})
	}
}

func TestBitPlane_SetBitGetBit(t *testing.T) {
	plane := NewBitPlane(64)

	for i := 0; i < 64; i++ {
		if plane.Bit(i) {
			t.Errorf("bit %d should initially be false", i)
		}
	}

	positions := []int{0, 7, 8, 13, 31, 63}
	for _, pos := range positions {
		plane.SetBit(pos, true)
	}
	for _, pos := range positions {
		if !plane.Bit(pos) {
			t.Errorf("bit %d should be set", pos)
		}
	}
	if got := plane.PopCount(); got != len(positions) {
		t.Errorf("PopCount() = %d, want %d", got, len(positions))
	}

	plane.SetBit(13, false)
	if plane.Bit(13) {
		t.Error("bit 13 should be cleared")
	}
	if got := plane.PopCount(); got != len(positions)-1 {
		t.Errorf("PopCount() after clear = %d, want %d", got, len(positions)-1)
	}
}

func TestBitPlane_OutOfRange(t *testing.T) {
	plane := NewBitPlane(16)

	// Out-of-range access must not panic and reads as false.
	plane.SetBit(-1, true)
	plane.SetBit(16, true)
	plane.SetBit(1000, true)

	if plane.Bit(-1) || plane.Bit(16) || plane.Bit(1000) {
		t.Error("out-of-range bits should read as false")
	}
	if got := plane.PopCount(); got != 0 {
		t.Errorf("PopCount() = %d, want 0 after out-of-range writes", got)
	}
}

func TestBitPlane_Equal(t *testing.T) {
	a := NewBitPlane(32)
	b := NewBitPlane(32)
	c := NewBitPlane(64)

	if !a.Equal(b) {
		t.Error("fresh planes of equal size should be equal")
	}
	if a.Equal(c) {
		t.Error("planes of different sizes should not be equal")
	}

	a.SetBit(5, true)
	if a.Equal(b) {
		t.Error("planes with different bits should not be equal")
	}
	b.SetBit(5, true)
	if !a.Equal(b) {
		t.Error("planes with identical bits should be equal")
	}
}

func TestBitPlane_Clone(t *testing.T) {
	original := NewBitPlane(32)
	original.SetBit(3, true)
	original.SetBit(17, true)

	clone := original.Clone()
	if !clone.Equal(original) {
		t.Error("clone should equal original")
	}

	clone.SetBit(3, false)
	if !original.Bit(3) {
		t.Error("mutating clone should not affect original")
	}

	var nilPlane BitPlane
	if nilPlane.Clone() != nil {
		t.Error("cloning nil plane should return nil")
	}
}

// =============================================================================
// TestHammingDistance - inter-plane distance
// =============================================================================

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		setA     []int
		setB     []int
		expected int
	}{
		{"identical empty", nil, nil, 0},
		{"identical bits", []int{1, 9, 30}, []int{1, 9, 30}, 0},
		{"disjoint bits", []int{0, 1}, []int{2, 3}, 4},
		{"partial overlap", []int{0, 1, 2}, []int{2, 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewBitPlane(32)
			b := NewBitPlane(32)
			for _, pos := range tt.setA {
				a.SetBit(pos, true)
			}
			for _, pos := range tt.setB {
				b.SetBit(pos, true)
			}

			dist, err := HammingDistance(a, b)
			if err != nil {
				t.Fatalf("HammingDistance() error = %v", err)
			}
			if dist != tt.expected {
				t.Errorf("HammingDistance() = %d, want %d", dist, tt.expected)
			}
		})
	}
}

func TestHammingDistance_LengthMismatch(t *testing.T) {
	a := NewBitPlane(32)
	b := NewBitPlane(64)

	_, err := HammingDistance(a, b)
	if err == nil {
		t.Fatal("expected error for mismatched plane lengths")
	}
	if !errors.Is(err, ErrPlaneLengthMismatch) {
		t.Errorf("expected ErrPlaneLengthMismatch, got %v", err)
	}
}
