// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes QR generation and history tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/qrhub/internal/content"
	"github.com/starford/qrhub/internal/encoder"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/validate"
	"github.com/starford/qrhub/internal/workflow"
)

// Server wraps the MCP server with QR hub tools.
type Server struct {
	mcp *server.MCPServer
	wf  *workflow.Workflow
}

// New creates a new MCP server with all tools registered.
func New(wf *workflow.Workflow, version string) *Server {
	s := &Server{wf: wf}

	s.mcp = server.NewMCPServer(
		"QR Tools Hub",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	kinds := make([]string, 0, len(models.Kinds()))
	for _, k := range models.Kinds() {
		kinds = append(kinds, k.String())
	}

	s.mcp.AddTool(mcp.NewTool("generate_qr",
		mcp.WithDescription("Generate a QR code and add it to history. "+
			"Read the "+KindsURI+" resource for the fields of each kind."),
		mcp.WithString("kind", mcp.Required(), mcp.Enum(kinds...), mcp.Description("QR kind")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field values keyed by field name, all strings")),
	), s.generateQR)

	s.mcp.AddTool(mcp.NewTool("format_payload",
		mcp.WithDescription("Return the payload and label that generate_qr would encode, without encoding or saving."),
		mcp.WithString("kind", mcp.Required(), mcp.Enum(kinds...), mcp.Description("QR kind")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field values keyed by field name, all strings")),
	), s.formatPayload)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List generated QR codes, newest first. Images are omitted."),
	), s.listHistory)

	s.mcp.AddTool(mcp.NewTool("export_history",
		mcp.WithDescription("Return the full history as the JSON dump used for export and import."),
	), s.exportHistory)

	s.mcp.AddTool(mcp.NewTool("clear_history",
		mcp.WithDescription("Delete every history record."),
	), s.clearHistory)

	s.mcp.AddResource(
		mcp.NewResource(KindsURI, "QR Kinds",
			mcp.WithResourceDescription("Supported QR kinds, their fields and example payloads."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readKindsResource,
	)

	return s
}

// Serve runs the stdio transport over in and out until ctx is cancelled or
// in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// kindAndFields reads the "kind" and "fields" arguments.
func kindAndFields(req mcp.CallToolRequest) (models.Kind, models.Fields, error) {
	raw, err := req.RequireString("kind")
	if err != nil {
		return "", nil, err
	}
	kind, err := models.ParseKind(raw)
	if err != nil {
		return "", nil, err
	}

	obj, ok := req.GetArguments()["fields"].(map[string]any)
	if !ok {
		return "", nil, errors.New("fields must be an object")
	}
	fields := make(models.Fields, len(obj))
	for name, v := range obj {
		str, ok := v.(string)
		if !ok {
			return "", nil, fmt.Errorf("field %q must be a string", name)
		}
		fields[name] = str
	}
	return kind, fields, nil
}

func (s *Server) generateQR(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, fields, err := kindAndFields(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := s.wf.Submit(ctx, kind, fields)
	if err != nil {
		var formErr *workflow.FormError
		if errors.As(err, &formErr) {
			return mcp.NewToolResultError(formatFieldErrors(formErr.Fields)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	summary := fmt.Sprintf("id: %s\nkind: %s\nlabel: %s\nfilename: %s",
		d.RecordID, d.Kind, d.Label, d.Filename())
	b64 := strings.TrimPrefix(d.DataURL, encoder.DataURLPrefix)
	return mcp.NewToolResultImage(summary, b64, "image/png"), nil
}

func (s *Server) formatPayload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, fields, err := kindAndFields(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := validate.Check(kind, fields); err != nil {
		return mcp.NewToolResultError(formatFieldErrors(validate.Messages(err))), nil
	}
	out, _ := json.MarshalIndent(map[string]string{
		"payload": content.Payload(kind, fields),
		"label":   content.Label(kind, fields),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records := s.wf.History()
	if len(records) == 0 {
		return mcp.NewToolResultText("history is empty"), nil
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%d\t%s", r.ID, r.Kind, r.Timestamp, r.Content))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) exportHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := s.wf.ExportHistory()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) clearHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := len(s.wf.History())
	if err := s.wf.ClearHistory(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cleared %d record(s)", n)), nil
}

func (s *Server) readKindsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      KindsURI,
			MIMEType: "text/markdown",
			Text:     KindsContract(),
		},
	}, nil
}

func formatFieldErrors(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, name+": "+fields[name])
	}
	return "form is not ready: " + strings.Join(msgs, "; ")
}
