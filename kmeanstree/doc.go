// Package kmeanstree trains and queries the hierarchical k-means tree used
// as the coarse partitioner for approximate search.
//
// Training builds a fresh tree from a dataset and a TrainingOptions value;
// it never mutates a previously trained tree, so callers publish the result
// with an atomic swap. The tree is an arena of nodes addressed by index,
// with all centers in one flat slice and leaf membership in roaring
// bitmaps. Under spilling a point may belong to several leaves.
package kmeanstree
