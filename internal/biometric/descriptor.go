// Package biometric holds the face descriptor type and the distance-based
// matcher used to decide whether two descriptors belong to the same person.
package biometric

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DefaultDimension is the output size of the dlib ResNet face model.
const DefaultDimension = 128

var (
	// ErrInvalidShape reports a descriptor whose length does not match the
	// configured dimensionality or which carries non-finite values.
	ErrInvalidShape = errors.New("invalid descriptor shape")
	// ErrDimensionMismatch reports two descriptors of different length.
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
)

// Descriptor is a fixed-length face embedding. Values are opaque.
// Construct it with New so that the length is validated once at the boundary.
type Descriptor []float32

// New validates values against dim and returns a private copy.
func New(values []float32, dim int) (Descriptor, error) {
	if dim <= 0 || len(values) != dim {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInvalidShape, len(values), dim)
	}
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: value %d is not finite", ErrInvalidShape, i)
		}
	}
	d := make(Descriptor, len(values))
	copy(d, values)
	return d, nil
}

// Dim returns the number of components.
func (d Descriptor) Dim() int {
	return len(d)
}

// Equal reports whether both descriptors hold the same values bit for bit.
func (d Descriptor) Equal(other Descriptor) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if math.Float32bits(d[i]) != math.Float32bits(other[i]) {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the descriptor as little-endian float32 values.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}
	buf.Grow(len(d) * 4)
	if err := binary.Write(&buf, binary.LittleEndian, []float32(d)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode restores a descriptor written by MarshalBinary and checks it against dim.
func Decode(b []byte, dim int) (Descriptor, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 values", ErrInvalidShape, len(b))
	}
	values := make([]float32, len(b)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return New(values, dim)
}
