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

func reloadProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": "Re-read the file instead of using the cached copy. Default false",
		"default":     false,
	}
}

func pathSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"path": stringProp("Absolute path to the image file"),
		"ink_threshold": map[string]interface{}{
			"type":        "integer",
			"description": "Luminance below which a pixel counts as ink (1-255). Default 128",
			"default":     128,
		},
		"reload": reloadProp(),
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   append([]string{"path"}, required...),
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Equation Model
		{
			Name:        "equation_parse",
			Description: "Split an equation 'lhs=rhs' into leftMain, leftOp, leftSecond and right, and list its logical terms (term1, term2, term3).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"equation": stringProp("Equation with exactly one '=', e.g. 100x-2500=7500"),
				},
				"required": []string{"equation"},
			},
		},
		{
			Name:        "equation_target",
			Description: "Resolve which left-hand term an operation step cancels. Additive steps match the literal against term1 then term2; multiplicative steps match term1's coefficient.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"equation":  stringProp("Equation the operation is applied to"),
					"operation": stringProp("Operation such as -4, +15, ×3 or ÷2"),
				},
				"required": []string{"equation", "operation"},
			},
		},

		// Layout
		{
			Name:        "layout_initial",
			Description: "Generate the uncalibrated layout for one step, with the initial spacing guess and the resolved target term.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"from":      stringProp("Equation before the operation"),
					"operation": stringProp("Operation applied to both sides"),
					"to":        stringProp("Equation after the operation"),
				},
				"required": []string{"from", "operation", "to"},
			},
		},
		{
			Name:        "layout_render",
			Description: "Render layout markup and return it as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"layout": stringProp("Array markup as produced by layout_initial or calibrate_steps"),
					"crop": map[string]interface{}{
						"type":        "boolean",
						"description": "Trim the image to its ink. Default false",
						"default":     false,
					},
					"padding": map[string]interface{}{
						"type":        "integer",
						"description": "Padding in pixels kept around the ink when cropping. Default 8",
						"default":     8,
					},
				},
				"required": []string{"layout"},
			},
		},

		// Calibration
		{
			Name:        "calibrate_steps",
			Description: "Calibrate every step of a sequence 'eq; op; eq; op; eq'. Each step is rendered, measured and adjusted until it converges, gets stuck or runs out of iterations. Every outcome is flagged for visual confirmation.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"input": stringProp("Semicolon-separated equations and operations, e.g. '2x+4=10; -4; 2x=6; ÷2; x=3'"),
					"id":    stringProp("Problem id used for step ids and audit folders. Generated when omitted"),
					"history": map[string]interface{}{
						"type":        "boolean",
						"description": "Include every iteration's layout and score. Default false",
						"default":     false,
					},
				},
				"required": []string{"input"},
			},
		},

		// Image Measurement
		{
			Name:        "image_text_rows",
			Description: "Find the horizontal ink bands of an image. Bands shorter than 6px are reported as rule lines and excluded from the qualifying count.",
			InputSchema: pathSchema(nil),
		},
		{
			Name:        "image_content_blocks",
			Description: "Segment text rows into content blocks using a gap threshold derived from each row's own gap distribution.",
			InputSchema: pathSchema(map[string]interface{}{
				"row": map[string]interface{}{
					"type":        "integer",
					"description": "Index of a qualifying text row. Omit for all rows",
				},
			}),
		},
		{
			Name:        "image_alignment_score",
			Description: "Score a rendered equation/operation/result image: misalignment in pixels of the operation and result against their reference columns.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": stringProp("Absolute path to the image file"),
					"target": map[string]interface{}{
						"type":        "string",
						"description": "Term the operation sits under",
						"enum":        []string{"term1", "term2"},
						"default":     "term2",
					},
					"multiplicative": map[string]interface{}{
						"type":        "boolean",
						"description": "Compare centers (division/multiplication) instead of right edges",
						"default":     false,
					},
					"reload": reloadProp(),
				},
				"required": []string{"path"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
