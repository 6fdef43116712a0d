// Package pipeline wires the coordinate table, the archive stream and a sink
// into one run.
//
// A run is strictly sequential:
//
//	table -> index -> archives -> pages -> snippets -> batches -> sink
//
// Only one decoded page and one batch of snippets are alive at a time. When a
// manifest is configured, every batch the sink accepts is recorded before the
// next batch is produced, and a run summary is stored when the run ends.
package pipeline
