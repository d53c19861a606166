// Package monitor renders offline diagnostics of a field: PNG heat maps of
// coverage-grid slices (gonum/plot) and an HTML occupancy report
// (go-echarts). Output is for inspection only; nothing in the engine reads
// it back.
//
// Dependency rule: monitor may import engine and lower field layers.
package monitor
