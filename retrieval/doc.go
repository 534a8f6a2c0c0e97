// Package retrieval orchestrates query-time search: candidate generation
// through a trained partitioner (or brute force over the whole dataset) and
// exact re-scoring under the configured distance measure.
//
// Partitioned search is approximate. Recall depends on how many leaves are
// probed and on the spilling factor used at training time; the contract is
// "contains the true top-k with high but not guaranteed probability". Brute
// force is the exact baseline and the fallback while no partitioner is set.
//
// The higher-level RetrieveChunks entry serves a RETRO-style consumer: it
// windows a token sequence into fixed-size chunks, embeds each chunk and
// returns the stored neighbor token sequences of the nearest datapoints.
package retrieval
