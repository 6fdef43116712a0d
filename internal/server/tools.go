package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func tableProp() map[string]interface{} {
	return stringProp("Absolute path to the coordinate table (.tsv, or .csv)")
}

func archivesProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "Absolute paths of the input .tar, .tar.gz or .tgz archives, processed in order",
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Coordinate Table
		{
			Name:        "regions_validate",
			Description: "Read a coordinate table, check its required columns and report how many rows were indexed or skipped, per archive.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"table": tableProp(),
				},
				"required": []string{"table"},
			},
		},
		{
			Name:        "regions_lookup",
			Description: "List the regions a coordinate table defines for one page image, with their bounding boxes.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"table":   tableProp(),
					"archive": stringProp("Archive file name as written in the table (e.g. reel_01.tar)"),
					"image":   stringProp("Image name as written in the table (e.g. 0001.jpg)"),
				},
				"required": []string{"table", "archive", "image"},
			},
		},

		// Snippet Extraction
		{
			Name:        "snippets_extract",
			Description: "Crop every region of every indexed page out of the archives and write the snippets to a directory tree or a single tar archive. Returns the run summary.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"table":    tableProp(),
					"archives": archivesProp(),
					"out":      stringProp("Absolute path of the output directory"),
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"dir", "tar"},
						"description": "dir writes one file per snippet; tar writes one archive for the run. Default dir",
						"default":     "dir",
					},
					"output_name": stringProp("Output archive name in tar mode. Default {first archive}_snippets.tar"),
					"gzip": map[string]interface{}{
						"type":        "boolean",
						"description": "Compress the default output archive (.tar.gz)",
					},
					"batch_size": map[string]interface{}{
						"type":        "integer",
						"description": "Snippets per batch. Default 10000",
						"default":     10000,
					},
					"format": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"png", "jpg", "tif", "bmp", "gif"},
						"description": "Snippet encoding. Default png",
						"default":     "png",
					},
					"pad": map[string]interface{}{
						"type":        "number",
						"description": "Grow every region by this many pixels on each side",
					},
					"grayscale": map[string]interface{}{
						"type":        "boolean",
						"description": "Convert snippets to grayscale",
					},
					"threshold": map[string]interface{}{
						"type":        "integer",
						"description": "Binarise snippets at this luminance (1-255)",
					},
					"manifest": stringProp("Optional path of a manifest database recording every written snippet"),
				},
				"required": []string{"table", "archives", "out"},
			},
		},
		{
			Name:        "snippet_crop",
			Description: "Crop one named region of one page inside an archive and return it as base64-encoded PNG. Use this to inspect a region before a full run.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"table":   tableProp(),
					"archive": stringProp("Absolute path of the archive holding the page"),
					"image":   stringProp("Image name as written in the table"),
					"region":  stringProp("Region name as written in the table"),
					"pad": map[string]interface{}{
						"type":        "number",
						"description": "Grow the region by this many pixels on each side",
					},
				},
				"required": []string{"table", "archive", "image", "region"},
			},
		},
		{
			Name:        "regions_preview",
			Description: "Write one PNG per indexed page with every region outlined and labelled, to check a table against its scans.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"table":    tableProp(),
					"archives": archivesProp(),
					"out":      stringProp("Absolute path of the directory for proof images"),
				},
				"required": []string{"table", "archives", "out"},
			},
		},

		// Annotation Conversion
		{
			Name:        "labelme_convert",
			Description: "Convert a LabelMe polygon annotation file into a coordinate table (.tsv). Shapes without exactly four points are skipped.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":  stringProp("Absolute path of the LabelMe .json file"),
					"out":   stringProp("Absolute path of an existing output directory"),
					"reel":  stringProp("Archive file name to write in the reel_filename column"),
					"image": stringProp("Image name for the image_filename column. Default: the file's imagePath"),
				},
				"required": []string{"path", "out", "reel"},
			},
		},

		// Manifest
		{
			Name:        "manifest_runs",
			Description: "List the runs recorded in a manifest database and the number of snippets it holds.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": stringProp("Absolute path of the manifest database"),
				},
				"required": []string{"path"},
			},
		},
	}
}
