package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"

	"github.com/ironsheep/stackalign/internal/calibrate"
	"github.com/ironsheep/stackalign/internal/equation"
	"github.com/ironsheep/stackalign/internal/layout"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/score"
	"github.com/ironsheep/stackalign/internal/segment"
	"github.com/ironsheep/stackalign/internal/spacing"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "equation_parse", "calibrate_steps").
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
		s.log.Warn("tool failed", "tool", params.Name, "error", err)
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
	// Equation model
	case "equation_parse":
		return s.handleEquationParse(args)
	case "equation_target":
		return s.handleEquationTarget(args)

	// Layout and rendering
	case "layout_initial":
		return s.handleLayoutInitial(args)
	case "layout_render":
		return s.handleLayoutRender(ctx, args)

	// Calibration
	case "calibrate_steps":
		return s.handleCalibrateSteps(ctx, args)

	// Image measurement
	case "image_text_rows":
		return s.handleImageTextRows(args)
	case "image_content_blocks":
		return s.handleImageContentBlocks(args)
	case "image_alignment_score":
		return s.handleImageAlignmentScore(args)

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
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(args, v)
}

// === Equation Handlers ===

type equationParseArgs struct {
	Equation string `json:"equation"`
}

type equationParseResult struct {
	Equation equation.Equation          `json:"equation"`
	Terms    map[equation.TermID]string `json:"terms"`
}

func (s *Server) handleEquationParse(args json.RawMessage) (interface{}, error) {
	var a equationParseArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	eq, err := equation.ParseEquation(a.Equation)
	if err != nil {
		return nil, err
	}
	terms := map[equation.TermID]string{
		equation.Term1: eq.Term(equation.Term1),
		equation.Term3: eq.Term(equation.Term3),
	}
	if eq.HasSecondTerm() {
		terms[equation.Term2] = eq.Term(equation.Term2)
	}
	return &equationParseResult{Equation: eq, Terms: terms}, nil
}

type equationTargetArgs struct {
	Equation  string `json:"equation"`
	Operation string `json:"operation"`
}

type equationTargetResult struct {
	equation.Target
	TermText  string             `json:"termText"`
	Operation equation.Operation `json:"operation"`
}

func (s *Server) handleEquationTarget(args json.RawMessage) (interface{}, error) {
	var a equationTargetArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	eq, err := equation.ParseEquation(a.Equation)
	if err != nil {
		return nil, err
	}
	op, err := equation.ParseOperation(a.Operation)
	if err != nil {
		return nil, err
	}
	resolver := &equation.Resolver{Log: s.log}
	t := resolver.Resolve(eq, op)
	return &equationTargetResult{Target: t, TermText: eq.Term(t.Term), Operation: op}, nil
}

// === Layout Handlers ===

type layoutInitialArgs struct {
	From      string `json:"from"`
	Operation string `json:"operation"`
	To        string `json:"to"`
}

type layoutInitialResult struct {
	Target  equation.Target `json:"target"`
	Spacing spacing.State   `json:"spacing"`
	Layout  string          `json:"layout"`
}

func (s *Server) handleLayoutInitial(args json.RawMessage) (interface{}, error) {
	var a layoutInitialArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	step, err := parseSingleStep(a.From, a.Operation, a.To)
	if err != nil {
		return nil, err
	}
	target := equation.IdentifyOperationTarget(step.From, step.Operation)
	state := spacing.CalculateInitialSpacing(step.From, step.To, step.Operation)
	return &layoutInitialResult{
		Target:  target,
		Spacing: state,
		Layout:  layout.Generate(step.From, step.To, step.Operation, state, target),
	}, nil
}

func parseSingleStep(from, op, to string) (equation.Step, error) {
	seq := equation.ParseSequence(from + ";" + op + ";" + to)
	if len(seq.Skipped) > 0 {
		return equation.Step{}, fmt.Errorf("%s", seq.Skipped[0].Reason)
	}
	if len(seq.Steps) != 1 {
		return equation.Step{}, fmt.Errorf("expected equation, operation, equation")
	}
	return seq.Steps[0], nil
}

type layoutRenderArgs struct {
	Layout string `json:"layout"`
	// Crop trims the image to its ink plus Padding pixels.
	Crop    bool `json:"crop"`
	Padding int  `json:"padding"`
}

func (s *Server) handleLayoutRender(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a layoutRenderArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	img, err := s.renderer.Render(ctx, a.Layout)
	if err != nil {
		return nil, err
	}
	if a.Crop {
		if a.Padding == 0 {
			a.Padding = 8
		}
		cropped, err := raster.CropToContent(img, s.inkThreshold, a.Padding)
		if err != nil {
			return nil, err
		}
		return raster.EncodePNG(cropped)
	}
	return raster.EncodePNG(img)
}

// === Calibration Handlers ===

type calibrateStepsArgs struct {
	ID    string `json:"id"`
	Input string `json:"input"`
	// History includes every iteration in the response.
	History bool `json:"history"`
}

type calibrateStepsResult struct {
	Record   *calibrate.Record    `json:"record"`
	Outcomes []*calibrate.Outcome `json:"outcomes"`
}

func (s *Server) handleCalibrateSteps(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a calibrateStepsArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Input == "" {
		return nil, fmt.Errorf("input is required")
	}

	sess, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(sess)

	rec, err := s.batch.Process(ctx, sess, calibrate.Problem{ID: a.ID, Input: a.Input})
	if err != nil {
		return nil, err
	}
	outcomes := rec.Outcomes
	if !a.History {
		outcomes = make([]*calibrate.Outcome, len(rec.Outcomes))
		for i, o := range rec.Outcomes {
			trimmed := *o
			trimmed.History = nil
			outcomes[i] = &trimmed
		}
	}
	return &calibrateStepsResult{Record: rec, Outcomes: outcomes}, nil
}

// === Image Measurement Handlers ===

type imageArgs struct {
	Path string `json:"path"`
	// InkThreshold overrides the server's luminance threshold when set.
	InkThreshold int `json:"ink_threshold"`
	// Reload drops the cached copy so a re-rendered file is read again.
	Reload bool `json:"reload"`
}

// loadImage reads path through the cache, evicting it first on reload.
func (s *Server) loadImage(path string, reload bool) (image.Image, error) {
	if reload {
		s.cache.Evict(path)
	}
	return s.cache.Load(path)
}

func (s *Server) loadMask(a imageArgs) (*raster.InkMask, error) {
	img, err := s.loadImage(a.Path, a.Reload)
	if err != nil {
		return nil, err
	}
	threshold := s.inkThreshold
	if a.InkThreshold > 0 && a.InkThreshold < 256 {
		threshold = uint8(a.InkThreshold)
	}
	return raster.NewInkMask(img, threshold), nil
}

type textRowInfo struct {
	Top    int  `json:"top"`
	Bottom int  `json:"bottom"`
	Height int  `json:"height"`
	Rule   bool `json:"rule"`
}

type textRowsResult struct {
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Rows       []textRowInfo `json:"rows"`
	Qualifying int           `json:"qualifying"`
}

func (s *Server) handleImageTextRows(args json.RawMessage) (interface{}, error) {
	var a imageArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	mask, err := s.loadMask(a)
	if err != nil {
		return nil, err
	}

	raw := segment.FindTextRows(mask)
	res := &textRowsResult{Width: mask.Width(), Height: mask.Height(), Rows: make([]textRowInfo, 0, len(raw))}
	for _, r := range raw {
		res.Rows = append(res.Rows, textRowInfo{Top: r.Top, Bottom: r.Bottom, Height: r.Height(), Rule: r.IsRule()})
	}
	res.Qualifying = len(segment.Qualifying(raw))
	return res, nil
}

type contentBlocksArgs struct {
	imageArgs
	// Row selects one qualifying row by index; negative means all.
	Row *int `json:"row"`
}

type rowBlocks struct {
	Row    segment.TextRow        `json:"row"`
	Blocks []segment.ContentBlock `json:"blocks"`
	Gaps   segment.GapStats       `json:"gaps"`
}

func (s *Server) handleImageContentBlocks(args json.RawMessage) (interface{}, error) {
	var a contentBlocksArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	mask, err := s.loadMask(a.imageArgs)
	if err != nil {
		return nil, err
	}

	rows := segment.Qualifying(segment.FindTextRows(mask))
	if a.Row != nil && *a.Row >= 0 {
		if *a.Row >= len(rows) {
			return nil, fmt.Errorf("row %d out of range, image has %d text rows", *a.Row, len(rows))
		}
		rows = rows[*a.Row : *a.Row+1]
	}

	out := make([]rowBlocks, 0, len(rows))
	for _, r := range rows {
		blocks, stats := segment.DetectBlocks(mask, r, mask.Width())
		out = append(out, rowBlocks{Row: r, Blocks: blocks, Gaps: stats})
	}
	return map[string]interface{}{"rows": out}, nil
}

type alignmentScoreArgs struct {
	Path           string `json:"path"`
	Target         string `json:"target"`
	Multiplicative bool   `json:"multiplicative"`
	Reload         bool   `json:"reload"`
}

func (s *Server) handleImageAlignmentScore(args json.RawMessage) (interface{}, error) {
	var a alignmentScoreArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	target := equation.TermID(a.Target)
	switch target {
	case "":
		target = equation.Term2
	case equation.Term1, equation.Term2:
	default:
		return nil, fmt.Errorf("target must be term1 or term2, got %q", a.Target)
	}

	img, err := s.loadImage(a.Path, a.Reload)
	if err != nil {
		return nil, err
	}
	r := s.scorer.Measure(img, score.Query{StepID: a.Path, Target: target, Multiplicative: a.Multiplicative})
	return r, nil
}
