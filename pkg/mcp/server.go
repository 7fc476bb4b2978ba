package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ElishaAz/VR-Navigation/pkg/client"
)

// Server adapts vrnav-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"vrnav",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// vrnav://maps
	s.mcpServer.AddResource(mcp.NewResource(
		"vrnav://maps",
		"Stored Maps",
		mcp.WithResourceDescription("Maps available for touring, by name and version"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadMaps)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"list_maps",
		mcp.WithDescription("List the maps that can be toured."),
	), s.handleListMaps)

	s.mcpServer.AddTool(mcp.NewTool(
		"start_tour",
		mcp.WithDescription("Open a tour session at a map's start point. Returns the session id and the visible transitions."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Map name")),
		mcp.WithNumber("version", mcp.Required(), mcp.Description("Map version")),
		mcp.WithString("policy", mcp.Description("Cache policy: eager-all, preload-current, load-on-hover, load-on-hover-keep, on-demand or no-cache")),
	), s.handleStartTour)

	s.mcpServer.AddTool(mcp.NewTool(
		"goto_location",
		mcp.WithDescription("Move a tour session to another location."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session returned by start_tour")),
		mcp.WithNumber("location_id", mcp.Required(), mcp.Description("Destination location id")),
	), s.handleGoTo)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"vrnav-guide",
		mcp.WithPromptDescription("Explains maps, locations and transitions so the model can guide a tour"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadMaps(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	maps, err := s.apiClient.ListMaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch maps: %w", err)
	}

	data, err := json.MarshalIndent(maps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal maps: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleListMaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maps, err := s.apiClient.ListMaps(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(maps) == 0 {
		return mcp.NewToolResultText("No maps are stored."), nil
	}

	var b strings.Builder
	for _, m := range maps {
		fmt.Fprintf(&b, "%s v%g\n", m.Name, m.Version)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleStartTour(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := client.StartOptions{
		Name:    mcp.ParseString(request, "name", ""),
		Version: mcp.ParseFloat64(request, "version", 0),
		Policy:  mcp.ParseString(request, "policy", ""),
	}
	if opts.Name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	sess, err := s.apiClient.StartSession(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(describe(sess)), nil
}

func (s *Server) handleGoTo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "session_id", "")
	location := int(mcp.ParseFloat64(request, "location_id", -1))
	if id == "" || location < 0 {
		return mcp.NewToolResultError("session_id and location_id are required"), nil
	}

	sess, err := s.apiClient.GoTo(ctx, id, location)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(describe(sess)), nil
}

// describe renders a session as the text a model reads back.
func describe(sess client.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", sess.SessionID)
	fmt.Fprintf(&b, "Map: %s v%g (policy %s)\n", sess.Map.Name, sess.Map.Version, sess.State.Policy)
	fmt.Fprintf(&b, "Location: %d (%s)\n", sess.State.Current.ID, sess.State.Current.Path)
	if sess.State.Terminal {
		b.WriteString("This is an end point of the tour.\n")
	}
	for _, t := range sess.ActiveTexts {
		fmt.Fprintf(&b, "Text: %s\n", t.Text)
	}
	if len(sess.State.Transitions) == 0 {
		b.WriteString("No transitions.\n")
	}
	for _, t := range sess.State.Transitions {
		fmt.Fprintf(&b, "Transition: to %d at azimuth %g\n", t.To, t.Azimuth)
	}
	return b.String()
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "vrnav-guide" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are guiding a visitor through a virtual tour made of 360-degree photos.

Concepts:
- Map: a named, versioned tour. Use 'list_maps' to see what is available.
- Location: one photo sphere, identified by an integer id.
- Transition: a hotspot leading from the current location to another, placed at an azimuth in degrees.
- End point: a location where the tour may finish.

Start with 'start_tour', then move with 'goto_location' using the ids listed as transitions.
Describe the texts shown at each location to the visitor.
`

	return mcp.NewGetPromptResult(
		"vrnav-guide",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
