// Package find implements watershed-style peak finding on 2D and 3D scalar
// grids: local-maximum detection with plateau resolution, histogram-ordered
// region growing, saddle discovery between adjacent regions, criteria-driven
// peak merging, sub-pixel localization and label-mask rendering.
//
// # Pipeline
//
// FindPeaks runs the full pipeline. The staged Pipeline type exposes each
// pass (Init, Search, Merge, Localize, Render) separately so callers can
// inspect or re-run later stages without repeating earlier ones; Clone copies
// only the buffers a stage mutates, sharing the image read-only.
//
// Every pass is a total function of the previous pass's state and runs
// single-threaded; independent images may be processed concurrently by
// independent Finder values. Cancellation is cooperative: the context is
// polled between intensity levels and between peaks, never mid-level, so a
// cancelled call returns ctx.Err() and no partially grown state.
//
// # State
//
// Working state is three parallel per-pixel buffers (the read-only sample
// values, one status-flag byte and one peak id per pixel) plus per-peak
// records and saddle adjacency lists. Merges never delete records
// mid-pass: absorbed peaks are tagged removed and filtered at phase
// boundaries, with a dense id renumbering at the end.
package find
