// Package aggregate owns Layer 5 of the field engine: the groupby-sum that
// folds per-anchor contributions into one value per aggregation id, and the
// merge of per-level results into a single feature per sample.
//
// Dependency rule: aggregate may depend on geom and parallel only.
package aggregate
