package snippets

import (
	"path"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/regions"
)

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

// ArchiveStem is the archive identifier without its archive extension.
func ArchiveStem(archiveID string) string {
	return unsafeChars.Replace(regions.ArchiveStem(archiveID))
}

// ImageStem is the image identifier without its extension. Member paths are
// flattened so the stem is a single path element.
func ImageStem(imageID string) string {
	return unsafeChars.Replace(regions.Stem(imageID))
}

// Name builds the snippet file name
// {archive-stem}_{image-stem}_{region}.{ext}.
func Name(archiveID, imageID, region, ext string) string {
	return ArchiveStem(archiveID) + "_" + ImageStem(imageID) + "_" + unsafeChars.Replace(region) + "." + ext
}

// Dir is the slash-separated directory a snippet is written under:
// {archive-stem}/{image-stem}.
func Dir(archiveID, imageID string) string {
	return path.Join(ArchiveStem(archiveID), ImageStem(imageID))
}
