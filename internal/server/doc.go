// Package server implements an MCP (Model Context Protocol) server that exposes
// the snippet pipeline as tools.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Coordinate Table:
//   - regions_validate: Check columns and count indexed/skipped rows
//   - regions_lookup: List the regions of one page
//
// Snippet Extraction:
//   - snippets_extract: Run the full pipeline to a directory or tar archive
//   - snippet_crop: Crop one region and return it inline as base64 PNG
//   - regions_preview: Write overlay proof pages
//
// Annotation Conversion:
//   - labelme_convert: LabelMe JSON to coordinate table
//
// Manifest:
//   - manifest_runs: List recorded runs
//
// # Index Caching
//
// Region indexes used by regions_lookup and snippet_crop are cached by table
// path and rebuilt when the file changes.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// Recoverable problems (skipped rows, regions, pages or writes) do not fail a
// tool; up to 50 of them are listed in the result.
package server
