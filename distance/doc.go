// Package distance provides the named distance measures used for scoring
// vectors against queries.
//
// Every measure is a pure function over two equal-length float32 vectors.
// The convention throughout is that smaller values mean more similar:
// measures that are natively similarities (dot product and its variants)
// are negated so that ascending sort order always ranks best-first.
//
// Measures are looked up by their stable registry name (for example
// "SquaredL2Distance" or "CosineDistance"); ByName is the only dynamic
// entry point, per-variant functions are exported for direct use.
package distance
