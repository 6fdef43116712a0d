// Package regions loads the coordinate table and indexes its regions.
//
// The coordinate table is a tab-separated file (or any Table built in memory)
// with at least these columns:
//
//	reel_filename  image_filename  snip_name  x1 y1 x2 y2 x3 y3 x4 y4
//
// Each row names one quadrilateral region on one page image inside one tar
// archive ("reel"). BuildIndex converts each row to the axis-aligned
// BoundingBox enclosing its four corners and files it under
// (archive, image) for constant-time lookup while archives are streamed.
//
// # Skipped Rows
//
// A row with a missing, NaN or non-numeric required field is skipped and
// reported as *errs.RowError; processing continues. Duplicate region names on
// one image are kept in table order and reported, since they produce the same
// output name.
//
// # Immutability
//
// An Index is never modified after BuildIndex returns, so one index can be
// shared by any number of archive passes.
package regions
