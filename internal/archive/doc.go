// Package archive streams page images out of tar archives.
//
// An archive ("reel") is a .tar, .tar.gz or .tgz file whose members are page
// images. Reader makes one forward pass over the members and never seeks, so
// archives can be arbitrarily large: only the current member is held in
// memory. For each regular member with regions in the index it decodes the
// image and returns a Page carrying the page's regions.
//
// Errors that concern a whole archive (bad extension, missing file, corrupt
// header or entry stream) are returned as *errs.InvalidArchiveError. A member
// that cannot be decoded is reported as *errs.DecodeError through the
// configured handler and skipped.
package archive
