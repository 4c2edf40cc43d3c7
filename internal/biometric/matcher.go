package biometric

import (
	"fmt"

	"github.com/coder/hnsw"
)

// DefaultThreshold is the distance under which two dlib descriptors are
// considered the same person.
const DefaultThreshold = 0.6

// Decision is the outcome of comparing a distance against a threshold.
type Decision struct {
	Distance  float64
	Threshold float64
	Accepted  bool
}

// Distance returns the Euclidean distance between a and b.
// It never assumes the caller validated the inputs.
func Distance(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty descriptor", ErrDimensionMismatch)
	}
	return float64(hnsw.EuclideanDistance(a, b)), nil
}

// Decide accepts strictly below the threshold; a distance equal to it is rejected.
func Decide(distance, threshold float64) Decision {
	return Decision{
		Distance:  distance,
		Threshold: threshold,
		Accepted:  distance < threshold,
	}
}

// Matcher compares a candidate against a reference using one global threshold.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a matcher, substituting DefaultThreshold for non-positive values.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

// Match computes the distance between reference and candidate and applies the threshold.
func (m Matcher) Match(reference, candidate Descriptor) (Decision, error) {
	d, err := Distance(reference, candidate)
	if err != nil {
		return Decision{}, err
	}
	return Decide(d, m.Threshold), nil
}
