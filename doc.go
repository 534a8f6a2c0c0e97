// Package scanngo provides single-machine approximate nearest neighbor
// search over dense float32 vectors.
//
// The search pipeline follows the partition-then-rescore design:
//
//   - A hierarchical k-means tree splits the dataset into leaves. Training
//     supports balanced partitioning, spilling (assigning a point to several
//     nearby leaves) and an optional linear projection into a lower
//     dimensional space.
//   - At query time the tree routes the query to its nProbe nearest leaves,
//     candidates from those leaves are merged and re-scored against the
//     original vectors, and the exact top-k among them is returned.
//
// Without a trained partitioner every query falls back to exact brute
// force, which is also the reference the approximate path is measured
// against.
//
// # Quick start
//
//	ds, _ := dataset.FromRows(rows, 128)
//	db, err := scanngo.New(ds, "SquaredL2Distance",
//	    scanngo.WithNProbe(4),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	opts := kmeanstree.DefaultTrainingOptions()
//	opts.MaxLeafSize = 100
//	if err := db.TrainPartitioner(ctx, opts, nil); err != nil {
//	    panic(err)
//	}
//
//	neighbors, err := db.Search(ctx, query, 10)
//
// # Artifacts
//
// SaveArtifacts writes the trained partitioner (and a fitted PCA
// projection, when one is set) into a directory together with a
// scann_assets.json manifest, and UploadArtifacts publishes the manifest
// contents to a blob store (local, in-memory, S3 or MinIO).
//
// Distance measures are selected by their stable registry name, see the
// distance package for the full list.
package scanngo
