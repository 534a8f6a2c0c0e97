package distance

import (
	"fmt"
	"sort"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/internal/math32"
)

// Func computes a distance between two equal-length vectors.
// Implementations are stateless and safe for concurrent use.
type Func func(a, b []float32) float32

// ErrUnknownMeasure indicates a distance measure name not present in the
// registry. It satisfies errors.Is(err, core.ErrInvalidArgument).
type ErrUnknownMeasure struct {
	Name string
}

func (e *ErrUnknownMeasure) Error() string {
	return fmt.Sprintf("invalid distance_measure: %q", e.Name)
}

func (e *ErrUnknownMeasure) Unwrap() error { return core.ErrInvalidArgument }

// registry maps stable measure names to their implementations.
// The names match the serialized configuration surface and must not change.
var registry = map[string]Func{
	"DotProductDistance":          DotProduct,
	"BinaryDotProductDistance":    BinaryDotProduct,
	"AbsDotProductDistance":       AbsDotProduct,
	"L2Distance":                  L2,
	"SquaredL2Distance":           SquaredL2,
	"NegatedSquaredL2Distance":    NegatedSquaredL2,
	"L1Distance":                  L1,
	"CosineDistance":              Cosine,
	"BinaryCosineDistance":        BinaryCosine,
	"GeneralJaccardDistance":      GeneralJaccard,
	"BinaryJaccardDistance":       BinaryJaccard,
	"LimitedInnerProductDistance": LimitedInnerProduct,
	"GeneralHammingDistance":      GeneralHamming,
	"BinaryHammingDistance":       BinaryHamming,
	"NonzeroIntersectDistance":    NonzeroIntersect,
}

// ByName returns the distance measure registered under name.
// An empty or unrecognized name is an invalid-argument error.
func ByName(name string) (Func, error) {
	if name == "" {
		return nil, core.InvalidArgumentf("empty distance measure name, must specify distance_measure")
	}
	f, ok := registry[name]
	if !ok {
		return nil, &ErrUnknownMeasure{Name: name}
	}
	return f, nil
}

// Names returns all registered measure names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute applies f to a and b after validating that their lengths match.
func Compute(f Func, a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, core.InvalidArgumentf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	return f(a, b), nil
}

// DotProduct returns the negated dot product, so that larger inner products
// rank as smaller distances.
func DotProduct(a, b []float32) float32 {
	return -math32.Dot(a, b)
}

// AbsDotProduct returns the negated absolute dot product.
func AbsDotProduct(a, b []float32) float32 {
	d := math32.Dot(a, b)
	if d < 0 {
		d = -d
	}
	return -d
}

// BinaryDotProduct treats vectors as binary (nonzero = 1) and returns the
// negated count of positions that are nonzero in both.
func BinaryDotProduct(a, b []float32) float32 {
	var both int
	for i := range a {
		if a[i] != 0 && b[i] != 0 {
			both++
		}
	}
	return -float32(both)
}

// L2 returns the Euclidean distance.
func L2(a, b []float32) float32 {
	return math32.Sqrt(math32.SquaredL2(a, b))
}

// SquaredL2 returns the squared Euclidean distance.
func SquaredL2(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// NegatedSquaredL2 returns the negated squared Euclidean distance.
// Used where larger values must mean closer (similarity-style consumers).
func NegatedSquaredL2(a, b []float32) float32 {
	return -math32.SquaredL2(a, b)
}

// L1 returns the Manhattan distance.
func L1(a, b []float32) float32 {
	return math32.L1(a, b)
}

// Cosine returns 1 - clamp(dot(a,b)/(|a|*|b|), -1, 1).
// If either vector has zero norm the distance is 1 (the maximum for
// orthogonal vectors) rather than dividing by zero.
func Cosine(a, b []float32) float32 {
	normA := math32.Norm(a)
	normB := math32.Norm(b)
	if normA == 0 || normB == 0 {
		return 1.0
	}
	cos := math32.Dot(a, b) / (normA * normB)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

// BinaryCosine is the cosine distance over binary supports:
// 1 - |A∩B| / sqrt(|A|*|B|), where A and B are the nonzero index sets.
func BinaryCosine(a, b []float32) float32 {
	var nA, nB, both int
	for i := range a {
		aSet := a[i] != 0
		bSet := b[i] != 0
		if aSet {
			nA++
		}
		if bSet {
			nB++
		}
		if aSet && bSet {
			both++
		}
	}
	if nA == 0 || nB == 0 {
		return 1.0
	}
	return 1 - float32(both)/math32.Sqrt(float32(nA)*float32(nB))
}

// GeneralJaccard returns 1 - sum(min(a,b)) / sum(max(a,b)).
// Defined for componentwise non-negative vectors; two all-zero vectors are
// identical and have distance 0.
func GeneralJaccard(a, b []float32) float32 {
	var num, den float32
	for i := range a {
		if a[i] < b[i] {
			num += a[i]
			den += b[i]
		} else {
			num += b[i]
			den += a[i]
		}
	}
	if den == 0 {
		return 0
	}
	return 1 - num/den
}

// BinaryJaccard returns 1 - |A∩B| / |A∪B| over nonzero supports.
// Two empty supports are identical and have distance 0.
func BinaryJaccard(a, b []float32) float32 {
	var union, both int
	for i := range a {
		aSet := a[i] != 0
		bSet := b[i] != 0
		if aSet || bSet {
			union++
		}
		if aSet && bSet {
			both++
		}
	}
	if union == 0 {
		return 0
	}
	return 1 - float32(both)/float32(union)
}

// LimitedInnerProduct returns -dot(a,b) / max(|a|, |b|).
// Scaling the inner product by the larger norm bounds the score for
// maximum-inner-product search over datasets with uneven norms.
// Zero-norm inputs have distance 0.
func LimitedInnerProduct(a, b []float32) float32 {
	normA := math32.Norm(a)
	normB := math32.Norm(b)
	denom := normA
	if normB > denom {
		denom = normB
	}
	if denom == 0 {
		return 0
	}
	return -math32.Dot(a, b) / denom
}

// GeneralHamming returns the count of positions where a and b differ.
func GeneralHamming(a, b []float32) float32 {
	var diff int
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	return float32(diff)
}

// BinaryHamming returns the count of positions whose nonzero-ness differs.
func BinaryHamming(a, b []float32) float32 {
	var diff int
	for i := range a {
		if (a[i] != 0) != (b[i] != 0) {
			diff++
		}
	}
	return float32(diff)
}

// NonzeroIntersect returns the negated count of positions that are nonzero
// in both vectors. Like the dot-product family it is a similarity, negated
// so ascending order ranks best-first.
func NonzeroIntersect(a, b []float32) float32 {
	var both int
	for i := range a {
		if a[i] != 0 && b[i] != 0 {
			both++
		}
	}
	return -float32(both)
}
