// Package sink stores batches of snippets, either as files in a nested
// directory tree (Directory) or as entries of one output tar archive
// (Archive).
//
// Both sinks isolate failures per item: a snippet that cannot be encoded or
// written is reported as *errs.WriteError through the configured handler and
// the rest of the batch is still written. Rewriting the same batches produces
// the same output.
package sink
