package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ironsheep/stackalign/internal/calibrate"
	"github.com/ironsheep/stackalign/internal/config"
	"github.com/ironsheep/stackalign/internal/logging"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/render"
	"github.com/ironsheep/stackalign/internal/score"
)

// ServerName is reported in the initialize handshake.
const ServerName = "stackalign"

// Server handles MCP protocol communication
type Server struct {
	cache        *raster.ImageCache
	pool         *render.Pool
	renderer     *render.ArrayRenderer
	scorer       *score.Scorer
	batch        *calibrate.Batch
	inkThreshold uint8
	log          *logging.Logger
	version      string
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPNotification represents an outgoing notification (no ID)
type MCPNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// New creates a server whose calibration tools render with an ArrayRenderer
// built from cfg.
func New(cfg *config.Config, version string, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Discard()
	}
	opts := render.OptionsFromConfig(cfg)
	renderer, err := render.NewArrayRenderer(opts)
	if err != nil {
		return nil, err
	}
	pool, err := render.NewPool(cfg.Sessions, cfg.SettleDelay, func(int) (render.Renderer, error) {
		return render.NewArrayRenderer(opts)
	})
	if err != nil {
		return nil, err
	}

	scorer := score.NewScorer(opts.InkThreshold, log.With("score"))
	batch := calibrate.NewBatch(pool, scorer, calibrate.OptionsFromConfig(cfg), log.With("calibrate"))
	batch.AuditDir = cfg.AuditDir

	return &Server{
		cache:        raster.NewImageCache(),
		pool:         pool,
		renderer:     renderer,
		scorer:       scorer,
		batch:        batch,
		inkThreshold: opts.InkThreshold,
		log:          log,
		version:      version,
	}, nil
}

// Run serves MCP over stdin and stdout.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from r and writes responses to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("failed to parse request", "error", err)
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.log.Error("failed to encode response", "error", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    ServerName,
				"version": s.version,
			},
		},
	}
}
