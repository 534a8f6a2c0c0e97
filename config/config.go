// Package config loads the declarative search-engine configuration from
// file and environment and maps it onto the typed option structs the
// training and retrieval packages consume.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/distance"
	"github.com/hupe1980/scanngo/kmeanstree"
	"github.com/hupe1980/scanngo/retrieval"
)

// EnvPrefix is the environment-variable prefix (e.g. SCANN_DISTANCE_MEASURE).
const EnvPrefix = "SCANN"

// Config is the full declarative configuration surface.
type Config struct {
	DistanceMeasure string             `mapstructure:"distance_measure"`
	Partitioning    PartitioningConfig `mapstructure:"partitioning"`
	Projection      ProjectionConfig   `mapstructure:"projection"`
	Retrieval       RetrievalConfig    `mapstructure:"retrieval"`
}

// PartitioningConfig mirrors kmeanstree.TrainingOptions with string-typed
// policy names.
type PartitioningConfig struct {
	Type                  string  `mapstructure:"type"`
	MaxNumLevels          int     `mapstructure:"max_num_levels"`
	MaxLeafSize           int     `mapstructure:"max_leaf_size"`
	SpillingType          string  `mapstructure:"spilling_type"`
	PerNodeSpillingFactor float32 `mapstructure:"per_node_spilling_factor"`
	MaxSpillCenters       int     `mapstructure:"max_spill_centers"`
	MaxIterations         int     `mapstructure:"max_iterations"`
	ConvergenceEpsilon    float32 `mapstructure:"convergence_epsilon"`
	MinClusterSize        int     `mapstructure:"min_cluster_size"`
	Seed                  int64   `mapstructure:"seed"`
	BalancingType         string  `mapstructure:"balancing_type"`
	ReassignmentType      string  `mapstructure:"reassignment_type"`
	CenterInitialization  string  `mapstructure:"center_initialization"`
}

// ProjectionConfig selects the optional dimensionality reduction applied
// before partitioner training.
type ProjectionConfig struct {
	Type          string  `mapstructure:"type"` // none, pca, random_orthogonal
	ProjectedDims int     `mapstructure:"projected_dims"`
	Significance  float32 `mapstructure:"significance"`
	Truncation    float32 `mapstructure:"truncation"`
	Seed          int64   `mapstructure:"seed"`
}

// RetrievalConfig tunes query-time behavior.
type RetrievalConfig struct {
	NProbe             int `mapstructure:"nprobe"`
	NumNeighbors       int `mapstructure:"num_neighbors"`
	EmbeddingCacheSize int `mapstructure:"embedding_cache_size"`
}

// Load reads the configuration from the given file (optional; pass "" for
// defaults plus environment only). Environment variables use the SCANN_
// prefix with underscores, e.g. SCANN_PARTITIONING_MAX_LEAF_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := kmeanstree.DefaultTrainingOptions()
	ret := retrieval.DefaultOptions()

	v.SetDefault("distance_measure", "SquaredL2Distance")

	v.SetDefault("partitioning.type", "generic")
	v.SetDefault("partitioning.max_num_levels", def.MaxNumLevels)
	v.SetDefault("partitioning.max_leaf_size", def.MaxLeafSize)
	v.SetDefault("partitioning.spilling_type", "none")
	v.SetDefault("partitioning.per_node_spilling_factor", def.PerNodeSpillingFactor)
	v.SetDefault("partitioning.max_spill_centers", def.MaxSpillCenters)
	v.SetDefault("partitioning.max_iterations", def.MaxIterations)
	v.SetDefault("partitioning.convergence_epsilon", def.ConvergenceEpsilon)
	v.SetDefault("partitioning.min_cluster_size", def.MinClusterSize)
	v.SetDefault("partitioning.seed", def.Seed)
	v.SetDefault("partitioning.balancing_type", "unbalanced")
	v.SetDefault("partitioning.reassignment_type", "random")
	v.SetDefault("partitioning.center_initialization", "kmeans_plus_plus")

	v.SetDefault("projection.type", "none")
	v.SetDefault("projection.projected_dims", 0)
	v.SetDefault("projection.significance", 1.0)
	v.SetDefault("projection.truncation", 0.0)
	v.SetDefault("projection.seed", def.Seed)

	v.SetDefault("retrieval.nprobe", ret.NProbe)
	v.SetDefault("retrieval.num_neighbors", ret.NumNeighbors)
	v.SetDefault("retrieval.embedding_cache_size", ret.EmbeddingCacheSize)
}

// Validate checks enum names and delegates range checks to the option
// structs the config maps onto.
func (c *Config) Validate() error {
	if _, err := distance.ByName(c.DistanceMeasure); err != nil {
		return err
	}

	switch c.Projection.Type {
	case "none", "pca", "random_orthogonal":
	default:
		return core.InvalidArgumentf("unknown projection type %q", c.Projection.Type)
	}
	if c.Projection.Type != "none" && c.Projection.ProjectedDims <= 0 {
		return core.InvalidArgumentf("projection requires projected_dims > 0, got %d", c.Projection.ProjectedDims)
	}

	opts, err := c.TrainingOptions()
	if err != nil {
		return err
	}
	return opts.Validate()
}

// TrainingOptions maps the partitioning section onto the typed options.
func (c *Config) TrainingOptions() (kmeanstree.TrainingOptions, error) {
	p := c.Partitioning
	opts := kmeanstree.TrainingOptions{
		MaxNumLevels:          p.MaxNumLevels,
		MaxLeafSize:           p.MaxLeafSize,
		PerNodeSpillingFactor: p.PerNodeSpillingFactor,
		MaxSpillCenters:       p.MaxSpillCenters,
		MaxIterations:         p.MaxIterations,
		ConvergenceEpsilon:    p.ConvergenceEpsilon,
		MinClusterSize:        p.MinClusterSize,
		Seed:                  p.Seed,
	}

	switch p.Type {
	case "generic":
		opts.PartitioningType = kmeanstree.GenericPartitioning
	case "spherical":
		opts.PartitioningType = kmeanstree.SphericalPartitioning
	default:
		return opts, core.InvalidArgumentf("unknown partitioning type %q", p.Type)
	}

	switch p.SpillingType {
	case "none":
		opts.SpillingType = kmeanstree.NoSpilling
	case "multiplicative":
		opts.SpillingType = kmeanstree.MultiplicativeSpilling
	case "additive":
		opts.SpillingType = kmeanstree.AdditiveSpilling
	case "fixed":
		opts.SpillingType = kmeanstree.FixedNumberOfSpills
	default:
		return opts, core.InvalidArgumentf("unknown spilling type %q", p.SpillingType)
	}

	switch p.BalancingType {
	case "unbalanced":
		opts.BalancingType = kmeanstree.UnbalancedPartitioning
	case "greedy":
		opts.BalancingType = kmeanstree.GreedyBalancedPartitioning
	case "unbalanced_float32":
		opts.BalancingType = kmeanstree.UnbalancedFloat32Partitioning
	default:
		return opts, core.InvalidArgumentf("unknown balancing type %q", p.BalancingType)
	}

	switch p.ReassignmentType {
	case "random":
		opts.ReassignmentType = kmeanstree.RandomReassignment
	case "pca_splitting":
		opts.ReassignmentType = kmeanstree.PCASplitting
	default:
		return opts, core.InvalidArgumentf("unknown reassignment type %q", p.ReassignmentType)
	}

	switch p.CenterInitialization {
	case "kmeans_plus_plus":
		opts.CenterInitializationType = kmeanstree.KMeansPlusPlusInitialization
	case "random":
		opts.CenterInitializationType = kmeanstree.RandomInitialization
	default:
		return opts, core.InvalidArgumentf("unknown center initialization %q", p.CenterInitialization)
	}

	return opts, nil
}

// RetrievalOptions maps the retrieval section onto retrieval.Options.
func (c *Config) RetrievalOptions() func(o *retrieval.Options) {
	return func(o *retrieval.Options) {
		o.NProbe = c.Retrieval.NProbe
		o.NumNeighbors = c.Retrieval.NumNeighbors
		o.EmbeddingCacheSize = c.Retrieval.EmbeddingCacheSize
	}
}
