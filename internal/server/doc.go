// Package server implements the MCP (Model Context Protocol) server for the
// stacked-equation calibration engine.
//
// The server exposes the engine's building blocks as tools so a client can
// parse steps, render layouts, measure images and run full calibrations.
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
// Equation model:
//   - equation_parse: Split an equation into its logical terms
//   - equation_target: Resolve which term an operation cancels
//
// Layout and rendering:
//   - layout_initial: Uncalibrated layout with the initial spacing guess
//   - layout_render: Render array markup to a base64 PNG
//
// Calibration:
//   - calibrate_steps: Run the calibration loop over a step sequence
//
// Image measurement:
//   - image_text_rows: Horizontal ink bands, rules flagged
//   - image_content_blocks: Per-row content blocks and gap statistics
//   - image_alignment_score: Misalignment of a rendered stack
//
// # Image Caching
//
// Images passed to the image_* tools are cached by path for the lifetime of
// the server process. Calibration renders never touch the cache.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string, including the engine error code when one applies
//
// # Usage
//
// The server is started by the serve command of the stackalign binary:
//
//	srv, err := server.New(cfg, version, log)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server
