// Package assets tracks the trained artifacts an index directory holds and
// publishes them to a blob store.
//
// An artifact directory is self-describing: Populate scans it for the known
// artifact filenames and writes a scann_assets.json manifest next to them.
// Consumers (serving jobs, sync tooling) read only the manifest.
package assets

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hupe1980/scanngo/blobstore"
	"github.com/hupe1980/scanngo/codec"
	"github.com/hupe1980/scanngo/core"
	"github.com/hupe1980/scanngo/resource"
)

// AssetType identifies what an artifact file contains.
type AssetType string

const (
	AssetAHCodebook       AssetType = "AH_CODEBOOK"
	AssetPartitioner      AssetType = "PARTITIONER"
	AssetProjection       AssetType = "PROJECTION"
	AssetDatapointToToken AssetType = "DATAPOINT_TO_TOKEN"
	AssetHashedDataset    AssetType = "HASHED_DATASET"
	AssetInt8Dataset      AssetType = "INT8_DATASET"
	AssetInt8Multipliers  AssetType = "INT8_MULTIPLIERS"
	AssetNorms            AssetType = "DP_NORMS"
	AssetDataset          AssetType = "DATASET"
)

// ManifestFilename is the manifest written next to the artifacts.
const ManifestFilename = "scann_assets.json"

// knownFiles maps the artifact filenames an index directory may hold to
// their asset type, in stable manifest order.
var knownFiles = []struct {
	name string
	typ  AssetType
}{
	{"ah_codebook.pb", AssetAHCodebook},
	{"serialized_partitioner.pb", AssetPartitioner},
	{"serialized_projection.pb", AssetProjection},
	{"datapoint_to_token.npy", AssetDatapointToToken},
	{"hashed_dataset.npy", AssetHashedDataset},
	{"int8_dataset.npy", AssetInt8Dataset},
	{"int8_multipliers.npy", AssetInt8Multipliers},
	{"dp_norms.npy", AssetNorms},
	{"dataset.npy", AssetDataset},
}

// Asset is one (path, type) manifest entry.
type Asset struct {
	Path string    `json:"path"`
	Type AssetType `json:"type"`
}

// Manifest lists the artifacts present in one index directory.
type Manifest struct {
	Assets []Asset `json:"assets"`
}

// Populate scans dir for known artifact files, writes the manifest into dir
// and returns it. Only files that actually exist are listed. A nil codec
// falls back to codec.Default.
func Populate(dir string, c codec.Codec) (*Manifest, error) {
	if c == nil {
		c = codec.Default
	}

	manifest := &Manifest{}
	for _, kf := range knownFiles {
		p := filepath.Join(dir, kf.name)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		manifest.Assets = append(manifest.Assets, Asset{Path: p, Type: kf.typ})
	}

	data, err := c.Marshal(manifest)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), data, 0644); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Load reads a manifest previously written by Populate.
func Load(dir string, c codec.Codec) (*Manifest, error) {
	if c == nil {
		c = codec.Default
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{}
	if err := c.Unmarshal(data, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Upload publishes every manifest artifact plus the manifest itself to the
// store, keyed by base filename. The transfer holds one background slot and
// is throttled by the controller's IO budget; ctrl may be nil.
func Upload(ctx context.Context, store blobstore.Store, manifest *Manifest, ctrl *resource.Controller, c codec.Codec) error {
	if manifest == nil {
		return core.InvalidArgumentf("manifest must not be nil")
	}
	if c == nil {
		c = codec.Default
	}

	if err := ctrl.AcquireBackground(ctx); err != nil {
		return err
	}
	defer ctrl.ReleaseBackground()

	for _, asset := range manifest.Assets {
		data, err := os.ReadFile(asset.Path)
		if err != nil {
			return err
		}
		if err := ctrl.AcquireIO(ctx, len(data)); err != nil {
			return err
		}
		if err := store.Put(ctx, filepath.Base(asset.Path), data); err != nil {
			return err
		}
	}

	data, err := c.Marshal(manifest)
	if err != nil {
		return err
	}
	if err := ctrl.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	return store.Put(ctx, ManifestFilename, data)
}
