package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/labelme"
	"github.com/ironsheep/snippet-tools/internal/manifest"
	"github.com/ironsheep/snippet-tools/internal/pipeline"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

// maxReported caps the problems echoed back in one tool result.
const maxReported = 50

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "snippets_extract").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Warn("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Coordinate Table
	case "regions_validate":
		return s.handleRegionsValidate(args)
	case "regions_lookup":
		return s.handleRegionsLookup(args)

	// Snippet Extraction
	case "snippets_extract":
		return s.handleSnippetsExtract(ctx, args)
	case "snippet_crop":
		return s.handleSnippetCrop(ctx, args)
	case "regions_preview":
		return s.handleRegionsPreview(ctx, args)

	// Annotation Conversion
	case "labelme_convert":
		return s.handleLabelmeConvert(args)

	// Manifest
	case "manifest_runs":
		return s.handleManifestRuns(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// collector gathers recoverable errors for a tool result.
type collector struct {
	total    int
	messages []string
}

func (c *collector) handle(err error) {
	c.total++
	if len(c.messages) < maxReported {
		c.messages = append(c.messages, err.Error())
	}
}

func (c *collector) last() string {
	if len(c.messages) == 0 {
		return "unknown error"
	}
	return c.messages[len(c.messages)-1]
}

// === Coordinate Table Handlers ===

type regionsValidateArgs struct {
	Table string `json:"table"`
}

type archiveSummary struct {
	Archive string `json:"archive"`
	Images  int    `json:"images"`
}

type regionsValidateResult struct {
	Valid    bool             `json:"valid"`
	Missing  []string         `json:"missing_columns,omitempty"`
	Stats    *regions.Stats   `json:"stats,omitempty"`
	Archives []archiveSummary `json:"archives,omitempty"`
	Problems []string         `json:"problems,omitempty"`
}

func (s *Server) handleRegionsValidate(args json.RawMessage) (interface{}, error) {
	var a regionsValidateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	table, err := regions.ReadTableFile(a.Table)
	if err != nil {
		return nil, err
	}
	if missing := regions.MissingColumns(table); len(missing) > 0 {
		return &regionsValidateResult{Valid: false, Missing: missing}, nil
	}

	var problems collector
	ix, err := regions.BuildIndex(table, regions.WithErrorHandler(problems.handle), regions.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	stats := ix.Stats()
	result := &regionsValidateResult{Valid: true, Stats: &stats, Problems: problems.messages}
	for _, name := range ix.Archives() {
		result.Archives = append(result.Archives, archiveSummary{Archive: name, Images: len(ix.Images(name))})
	}
	return result, nil
}

type regionsLookupArgs struct {
	Table   string `json:"table"`
	Archive string `json:"archive"`
	Image   string `json:"image"`
}

type regionsLookupResult struct {
	Archive string           `json:"archive"`
	Image   string           `json:"image"`
	Regions []regions.Region `json:"regions"`
}

func (s *Server) handleRegionsLookup(args json.RawMessage) (interface{}, error) {
	var a regionsLookupArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	ix, err := s.tables.Load(a.Table, s.logger)
	if err != nil {
		return nil, err
	}
	key, regs, ok := ix.Resolve(a.Archive, a.Image)
	if !ok {
		return nil, fmt.Errorf("no regions for image %s in archive %s", a.Image, a.Archive)
	}
	return &regionsLookupResult{Archive: a.Archive, Image: key, Regions: regs}, nil
}

// === Snippet Extraction Handlers ===

type snippetsExtractArgs struct {
	Table      string   `json:"table"`
	Archives   []string `json:"archives"`
	Out        string   `json:"out"`
	Mode       string   `json:"mode"`
	OutputName string   `json:"output_name"`
	Gzip       bool     `json:"gzip"`
	BatchSize  int      `json:"batch_size"`
	Format     string   `json:"format"`
	Pad        float64  `json:"pad"`
	Grayscale  bool     `json:"grayscale"`
	Threshold  int      `json:"threshold"`
	Manifest   string   `json:"manifest"`
}

type snippetsExtractResult struct {
	*pipeline.Summary
	Problems      []string `json:"problems,omitempty"`
	ProblemsTotal int      `json:"problems_total"`
}

func (s *Server) handleSnippetsExtract(ctx context.Context, args json.RawMessage) (interface{}, error) {
	a := snippetsExtractArgs{Mode: string(pipeline.ModeDirectory)}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	var problems collector
	cfg := pipeline.DefaultConfig()
	cfg.Table = a.Table
	cfg.Archives = a.Archives
	cfg.Out = a.Out
	cfg.Mode = pipeline.Mode(a.Mode)
	cfg.OutputName = a.OutputName
	cfg.Gzip = a.Gzip
	if a.BatchSize != 0 {
		cfg.BatchSize = a.BatchSize
	}
	if a.Format != "" {
		cfg.Format = a.Format
	}
	cfg.Pad = a.Pad
	cfg.Adjust = imaging.Adjustments{Grayscale: a.Grayscale, Threshold: a.Threshold}
	cfg.Manifest = a.Manifest
	cfg.Logger = s.logger
	cfg.OnError = problems.handle

	summary, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &snippetsExtractResult{Summary: summary, Problems: problems.messages, ProblemsTotal: problems.total}, nil
}

type snippetCropArgs struct {
	Table   string  `json:"table"`
	Archive string  `json:"archive"`
	Image   string  `json:"image"`
	Region  string  `json:"region"`
	Pad     float64 `json:"pad"`
}

// SnippetResult is a single cropped region returned inline.
type SnippetResult struct {
	Name        string              `json:"name"`
	Box         regions.BoundingBox `json:"box"`
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	ImageBase64 string              `json:"image_base64"`
	MimeType    string              `json:"mime_type"`
}

func (s *Server) handleSnippetCrop(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a snippetCropArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	ix, err := s.tables.Load(a.Table, s.logger)
	if err != nil {
		return nil, err
	}
	key, regs, ok := ix.Resolve(archive.ID(a.Archive), a.Image)
	if !ok {
		return nil, fmt.Errorf("no regions for image %s in archive %s", a.Image, archive.ID(a.Archive))
	}
	var region *regions.Region
	for i := range regs {
		if regs[i].Name == a.Region {
			region = &regs[i]
		}
	}
	if region == nil {
		return nil, fmt.Errorf("region %q not defined for image %s", a.Region, key)
	}

	var problems collector
	r, err := archive.Open(a.Archive, ix, archive.ReaderOptions{OnError: problems.handle, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := r.Next()
		if errors.Is(err, io.EOF) {
			if problems.total > 0 {
				return nil, fmt.Errorf("image %s could not be read: %s", key, problems.last())
			}
			return nil, fmt.Errorf("image %s not found in %s", key, a.Archive)
		}
		if err != nil {
			return nil, err
		}
		if page.ImageID != key {
			continue
		}

		page.Regions = []regions.Region{*region}
		x, err := snippets.NewExtractor(snippets.ExtractorOptions{Pad: a.Pad, OnError: problems.handle, Logger: s.logger})
		if err != nil {
			return nil, err
		}
		sn, ok := x.Extract(page).Next()
		if !ok {
			return nil, fmt.Errorf("region %q could not be cropped: %s", a.Region, problems.last())
		}
		enc, err := imaging.NewEncoder(imaging.PNG, 0)
		if err != nil {
			return nil, err
		}
		data, err := enc.EncodeBytes(sn.Image)
		if err != nil {
			return nil, err
		}
		b := sn.Image.Bounds()
		return &SnippetResult{
			Name:        sn.Name,
			Box:         region.Box,
			Width:       b.Dx(),
			Height:      b.Dy(),
			ImageBase64: base64.StdEncoding.EncodeToString(data),
			MimeType:    "image/png",
		}, nil
	}
}

type regionsPreviewArgs struct {
	Table    string   `json:"table"`
	Archives []string `json:"archives"`
	Out      string   `json:"out"`
}

type regionsPreviewResult struct {
	Pages    int      `json:"pages"`
	Out      string   `json:"out"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) handleRegionsPreview(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a regionsPreviewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	var problems collector
	n, err := pipeline.Preview(ctx, pipeline.Config{
		Table:    a.Table,
		Archives: a.Archives,
		Out:      a.Out,
		Logger:   s.logger,
		OnError:  problems.handle,
	})
	if err != nil {
		return nil, err
	}
	return &regionsPreviewResult{Pages: n, Out: a.Out, Problems: problems.messages}, nil
}

// === Annotation Conversion Handlers ===

type labelmeConvertArgs struct {
	Path  string `json:"path"`
	Out   string `json:"out"`
	Reel  string `json:"reel"`
	Image string `json:"image"`
}

type labelmeConvertResult struct {
	Output   string   `json:"output"`
	Rows     int      `json:"rows"`
	Skipped  int      `json:"skipped"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) handleLabelmeConvert(args json.RawMessage) (interface{}, error) {
	var a labelmeConvertArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Reel == "" {
		return nil, &errs.ConfigurationError{Field: "reel", Reason: "no archive name given"}
	}
	var problems collector
	out, n, err := labelme.ConvertFile(a.Path, a.Out, a.Reel, a.Image, problems.handle)
	if err != nil {
		return nil, err
	}
	return &labelmeConvertResult{Output: out, Rows: n, Skipped: problems.total, Problems: problems.messages}, nil
}

// === Manifest Handlers ===

type manifestRunsArgs struct {
	Path string `json:"path"`
}

type manifestRunsResult struct {
	Snippets int             `json:"snippets"`
	Runs     []*manifest.Run `json:"runs"`
}

func (s *Server) handleManifestRuns(args json.RawMessage) (interface{}, error) {
	var a manifestRunsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if _, err := os.Stat(a.Path); err != nil {
		return nil, fmt.Errorf("manifest not found: %s", a.Path)
	}
	store, err := manifest.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	n, err := store.Count()
	if err != nil {
		return nil, err
	}
	runs, err := store.Runs()
	if err != nil {
		return nil, err
	}
	return &manifestRunsResult{Snippets: n, Runs: runs}, nil
}
