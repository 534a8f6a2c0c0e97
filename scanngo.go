package scanngo

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/scanngo/assets"
	"github.com/hupe1980/scanngo/blobstore"
	"github.com/hupe1980/scanngo/codec"
	"github.com/hupe1980/scanngo/config"
	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/dataset"
	"github.com/hupe1980/scanngo/kmeanstree"
	"github.com/hupe1980/scanngo/projection"
	"github.com/hupe1980/scanngo/resource"
	"github.com/hupe1980/scanngo/retrieval"
)

// PartitionerFilename is the serialized partitioner artifact name.
const PartitionerFilename = "serialized_partitioner.pb"

// ProjectionFilename is the serialized projection artifact name.
const ProjectionFilename = "serialized_projection.pb"

// ScaNN is a searcher over one immutable dataset. Queries are safe for
// concurrent use; training publishes its result with an atomic swap, so
// in-flight queries keep the partitioner they started with.
type ScaNN struct {
	ds      *dataset.DenseDataset[float32]
	engine  *retrieval.Engine
	codec   codec.Codec
	metrics MetricsCollector
	logger  *Logger
	ctrl    *resource.Controller

	mu   sync.Mutex // guards tree/proj bookkeeping for SaveArtifacts
	tree *kmeanstree.Tree
	proj projection.Projection
}

// New creates a searcher over the dataset with the named distance measure.
// Until TrainPartitioner or LoadPartitioner is called every query runs as
// exact brute force.
func New(ds *dataset.DenseDataset[float32], measureName string, optFns ...Option) (*ScaNN, error) {
	opts := applyOptions(optFns)

	engine, err := retrieval.New(ds, measureName, opts.engineOptFns...)
	if err != nil {
		return nil, err
	}

	return &ScaNN{
		ds:      ds,
		engine:  engine,
		codec:   opts.codec,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
		ctrl:    opts.controller,
	}, nil
}

// NewFromConfig creates a searcher configured from a loaded Config. The
// config's retrieval section is applied before any explicit options.
func NewFromConfig(ds *dataset.DenseDataset[float32], cfg *config.Config, optFns ...Option) (*ScaNN, error) {
	if cfg == nil {
		return nil, core.InvalidArgumentf("config must not be nil")
	}
	optFns = append([]Option{WithEngineOptions(cfg.RetrievalOptions())}, optFns...)
	return New(ds, cfg.DistanceMeasure, optFns...)
}

// MeasureName returns the distance measure the searcher scores with.
func (s *ScaNN) MeasureName() string { return s.engine.MeasureName() }

// TrainPartitioner trains a k-means tree over the dataset and installs it.
// When proj is non-nil the tree is trained in the projected space and
// queries are projected before descending it. Training holds one background
// worker slot when a resource controller is configured.
func (s *ScaNN) TrainPartitioner(ctx context.Context, opts kmeanstree.TrainingOptions, proj projection.Projection) error {
	start := time.Now()

	err := s.trainPartitioner(ctx, opts, proj)

	s.metrics.RecordTrain(time.Since(start), err)
	if err != nil {
		s.logger.LogTrain(ctx, s.ds.Size(), 0, 0, err)
		return err
	}

	s.mu.Lock()
	tree := s.tree
	s.mu.Unlock()
	s.logger.LogTrain(ctx, s.ds.Size(), tree.NumLeaves(), tree.NumLevels(), nil)
	return nil
}

func (s *ScaNN) trainPartitioner(ctx context.Context, opts kmeanstree.TrainingOptions, proj projection.Projection) error {
	if err := s.ctrl.AcquireBackground(ctx); err != nil {
		return err
	}
	defer s.ctrl.ReleaseBackground()

	trainDS := s.ds
	if proj != nil {
		var err error
		trainDS, err = projectDataset(s.ds, proj)
		if err != nil {
			return err
		}
	}

	tree, err := kmeanstree.Train(ctx, trainDS, s.engine.MeasureName(), opts)
	if err != nil {
		return err
	}

	return s.install(tree, proj)
}

// TrainPartitionerFromConfig builds the projection and training options the
// config describes and trains with them.
func (s *ScaNN) TrainPartitionerFromConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return core.InvalidArgumentf("config must not be nil")
	}

	opts, err := cfg.TrainingOptions()
	if err != nil {
		return err
	}

	proj, err := s.buildProjection(cfg.Projection)
	if err != nil {
		return err
	}

	return s.TrainPartitioner(ctx, opts, proj)
}

func (s *ScaNN) buildProjection(cfg config.ProjectionConfig) (projection.Projection, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "pca":
		p, err := projection.NewPCA(s.ds.Dimensionality(), cfg.ProjectedDims)
		if err != nil {
			return nil, err
		}
		if (cfg.Significance > 0 && cfg.Significance < 1) || cfg.Truncation > 0 {
			err = p.FitWithThresholds(s.ds, cfg.Significance, cfg.Truncation, true)
		} else {
			err = p.Fit(s.ds, true)
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	case "random_orthogonal":
		return projection.NewRandomOrthogonal(s.ds.Dimensionality(), cfg.ProjectedDims, cfg.Seed)
	default:
		return nil, core.InvalidArgumentf("unknown projection type %q", cfg.Type)
	}
}

// LoadPartitioner installs a previously saved partitioner tree. proj must
// be the projection the tree was trained with, or nil.
func (s *ScaNN) LoadPartitioner(filename string, proj projection.Projection) error {
	tree, err := kmeanstree.Load(filename)
	if err != nil {
		return err
	}
	return s.install(tree, proj)
}

// ClearPartitioner returns the searcher to exact brute force.
func (s *ScaNN) ClearPartitioner() {
	_ = s.engine.SetPartitioner(nil, nil)

	s.mu.Lock()
	s.tree, s.proj = nil, nil
	s.mu.Unlock()
}

func (s *ScaNN) install(tree *kmeanstree.Tree, proj projection.Projection) error {
	if err := s.engine.SetPartitioner(tree, proj); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree, s.proj = tree, proj
	s.mu.Unlock()
	return nil
}

// Search returns the k nearest neighbors of the query, nearest first.
func (s *ScaNN) Search(ctx context.Context, query []float32, k int) ([]retrieval.Neighbor, error) {
	start := time.Now()
	neighbors, err := s.engine.Search(ctx, query, k)
	s.metrics.RecordSearch(k, time.Since(start), err)
	s.logger.LogSearch(ctx, k, len(neighbors), err)
	return neighbors, err
}

// RetrieveChunks splits the token sequence into fixed-size chunks and
// returns, per chunk, the stored token sequences of its nearest neighbors.
func (s *ScaNN) RetrieveChunks(ctx context.Context, tokens []uint32, chunkSize int) ([][][]uint32, error) {
	start := time.Now()
	chunks, err := s.engine.RetrieveChunks(ctx, tokens, chunkSize)
	s.metrics.RecordRetrieveChunks(len(chunks), time.Since(start), err)
	s.logger.LogRetrieveChunks(ctx, len(tokens), len(chunks), err)
	return chunks, err
}

// SaveArtifacts writes the trained partitioner (and a fitted PCA
// projection, when set) into dir and returns the manifest written next to
// them. Fails if no partitioner is installed.
func (s *ScaNN) SaveArtifacts(ctx context.Context, dir string) (*assets.Manifest, error) {
	s.mu.Lock()
	tree, proj := s.tree, s.proj
	s.mu.Unlock()

	if tree == nil {
		err := core.FailedPreconditionf("no trained partitioner to save")
		s.logger.LogSaveArtifacts(ctx, dir, 0, err)
		return nil, err
	}

	manifest, err := s.saveArtifacts(dir, tree, proj)
	if err != nil {
		s.logger.LogSaveArtifacts(ctx, dir, 0, err)
		return nil, err
	}

	s.logger.LogSaveArtifacts(ctx, dir, len(manifest.Assets), nil)
	return manifest, nil
}

func (s *ScaNN) saveArtifacts(dir string, tree *kmeanstree.Tree, proj projection.Projection) (*assets.Manifest, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	if err := tree.Save(filepath.Join(dir, PartitionerFilename)); err != nil {
		return nil, err
	}

	// Only PCA carries fitted state; a random orthogonal projection is
	// reconstructed from its seed.
	if p, ok := proj.(*projection.PCA); ok {
		if err := p.Save(filepath.Join(dir, ProjectionFilename)); err != nil {
			return nil, err
		}
	}

	return assets.Populate(dir, s.codec)
}

// UploadArtifacts publishes every manifest artifact plus the manifest
// itself to the blob store, throttled by the resource controller.
func (s *ScaNN) UploadArtifacts(ctx context.Context, store blobstore.Store, manifest *assets.Manifest) error {
	start := time.Now()
	err := assets.Upload(ctx, store, manifest, s.ctrl, s.codec)
	s.metrics.RecordUpload(time.Since(start), err)

	numAssets := 0
	if manifest != nil {
		numAssets = len(manifest.Assets)
	}
	s.logger.LogUpload(ctx, numAssets, err)
	return err
}

func projectDataset(ds *dataset.DenseDataset[float32], proj projection.Projection) (*dataset.DenseDataset[float32], error) {
	if proj.InputDims() != ds.Dimensionality() {
		return nil, core.InvalidArgumentf("projection input dims %d, dataset has %d", proj.InputDims(), ds.Dimensionality())
	}

	out, err := dataset.NewDenseDataset[float32](proj.ProjectedDims())
	if err != nil {
		return nil, err
	}
	out.Reserve(ds.Size())

	for i := 0; i < ds.Size(); i++ {
		projected, err := proj.Project(ds.Row(i))
		if err != nil {
			return nil, err
		}
		if err := out.Append(projected); err != nil {
			return nil, err
		}
	}
	return out, nil
}
