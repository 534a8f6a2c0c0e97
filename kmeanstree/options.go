package kmeanstree

import (
	"github.com/hupe1980/scanngo/core"
)

// PartitioningType selects the geometry the tree is trained in.
type PartitioningType int

const (
	// GenericPartitioning clusters under squared Euclidean distance.
	GenericPartitioning PartitioningType = iota

	// SphericalPartitioning clusters under negated dot product with centers
	// renormalized to unit length each round. Intended for dot-product and
	// cosine measures over (approximately) unit-norm data.
	SphericalPartitioning
)

// SpillingType controls whether points replicate into extra nearby leaves.
type SpillingType int

const (
	// NoSpilling assigns every point to exactly one leaf per level.
	NoSpilling SpillingType = iota

	// MultiplicativeSpilling also assigns a point to centers whose distance
	// is within PerNodeSpillingFactor times the nearest distance.
	MultiplicativeSpilling

	// AdditiveSpilling also assigns a point to centers whose distance is
	// within nearest distance plus PerNodeSpillingFactor.
	AdditiveSpilling

	// FixedNumberOfSpills assigns every point to its 1+MaxSpillCenters
	// nearest centers unconditionally.
	FixedNumberOfSpills
)

// BalancingType controls leaf-size enforcement after Lloyd refinement.
type BalancingType int

const (
	// UnbalancedPartitioning keeps the raw Lloyd assignment.
	UnbalancedPartitioning BalancingType = iota

	// GreedyBalancedPartitioning moves boundary points between over-full
	// and under-full clusters until sizes fit [MinClusterSize, MaxLeafSize]
	// or no improving move exists.
	GreedyBalancedPartitioning

	// UnbalancedFloat32Partitioning is UnbalancedPartitioning with all
	// accumulation kept in float32.
	UnbalancedFloat32Partitioning
)

// ReassignmentType controls how an emptied cluster gets a new center.
type ReassignmentType int

const (
	// RandomReassignment seeds the empty cluster with a random point.
	RandomReassignment ReassignmentType = iota

	// PCASplitting splits the largest cluster along its principal
	// direction, giving one half to the empty cluster.
	PCASplitting
)

// CenterInitializationType selects the initial center sampling policy.
type CenterInitializationType int

const (
	// KMeansPlusPlusInitialization uses farthest-weighted sampling.
	KMeansPlusPlusInitialization CenterInitializationType = iota

	// RandomInitialization samples k distinct points uniformly.
	RandomInitialization
)

// TrainingOptions is the declarative training contract. It is a pure value
// object; Validate is called at the start of Train.
type TrainingOptions struct {
	PartitioningType         PartitioningType
	MaxNumLevels             int
	MaxLeafSize              int
	SpillingType             SpillingType
	PerNodeSpillingFactor    float32
	MaxSpillCenters          int
	MaxIterations            int
	ConvergenceEpsilon       float32
	MinClusterSize           int
	Seed                     int64
	BalancingType            BalancingType
	ReassignmentType         ReassignmentType
	CenterInitializationType CenterInitializationType
}

// DefaultTrainingOptions returns the options used when a caller has no
// opinion: a two-level generic tree without spilling.
func DefaultTrainingOptions() TrainingOptions {
	return TrainingOptions{
		PartitioningType:         GenericPartitioning,
		MaxNumLevels:             2,
		MaxLeafSize:              256,
		SpillingType:             NoSpilling,
		PerNodeSpillingFactor:    1.0,
		MaxSpillCenters:          2,
		MaxIterations:            10,
		ConvergenceEpsilon:       1e-5,
		MinClusterSize:           1,
		Seed:                     42,
		BalancingType:            UnbalancedPartitioning,
		ReassignmentType:         RandomReassignment,
		CenterInitializationType: KMeansPlusPlusInitialization,
	}
}

// Validate checks the option combination at construction time.
func (o TrainingOptions) Validate() error {
	if o.MaxLeafSize <= 0 {
		return core.InvalidArgumentf("max leaf size must be > 0, got %d", o.MaxLeafSize)
	}
	if o.MinClusterSize < 0 {
		return core.InvalidArgumentf("min cluster size must be >= 0, got %d", o.MinClusterSize)
	}
	if o.MinClusterSize > o.MaxLeafSize {
		return core.InvalidArgumentf("min cluster size %d exceeds max leaf size %d", o.MinClusterSize, o.MaxLeafSize)
	}
	if o.MaxNumLevels <= 0 {
		return core.InvalidArgumentf("max num levels must be > 0, got %d", o.MaxNumLevels)
	}
	if o.MaxIterations <= 0 {
		return core.InvalidArgumentf("max iterations must be > 0, got %d", o.MaxIterations)
	}
	if o.ConvergenceEpsilon < 0 {
		return core.InvalidArgumentf("convergence epsilon must be >= 0, got %v", o.ConvergenceEpsilon)
	}
	if o.MaxSpillCenters < 0 {
		return core.InvalidArgumentf("max spill centers must be >= 0, got %d", o.MaxSpillCenters)
	}

	switch o.SpillingType {
	case MultiplicativeSpilling:
		if o.PerNodeSpillingFactor < 1 {
			return core.InvalidArgumentf("multiplicative spilling factor must be >= 1, got %v", o.PerNodeSpillingFactor)
		}
	case AdditiveSpilling:
		if o.PerNodeSpillingFactor < 0 {
			return core.InvalidArgumentf("additive spilling factor must be >= 0, got %v", o.PerNodeSpillingFactor)
		}
	}

	return nil
}
