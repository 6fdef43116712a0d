// Package snippets crops indexed regions out of archive pages and groups the
// results into bounded batches.
//
// The pipeline is pull-based: Stream.Next asks the current Iterator for the
// next snippet, the Iterator crops one region of the current page, and when a
// page is exhausted the Stream asks the archive.Reader for the next page.
// Nothing is read or cropped ahead of demand.
//
// Snippet files are named {archive}_{image}_{region}.{ext}, where archive and
// image are the identifiers without their extensions, and live under
// {archive}/{image}/ relative to the sink root.
package snippets
