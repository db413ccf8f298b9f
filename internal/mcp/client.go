// Package mcp connects to external MCP tool servers and exposes their tools
// through the engine's tool registry. Remote tools are always treated as
// exec-class: the selector does not know them, so they fail safe to
// sandbox placement with gating.
package mcp

import (
	"context"
	"fmt"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/tools"
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Client wraps one MCP server session.
type Client struct {
	config  ServerConfig
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// NewClient creates a client for the given server config.
func NewClient(config ServerConfig) *Client {
	return &Client{config: config}
}

// Connect launches the server over stdio and performs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	impl := &mcpsdk.Implementation{
		Name:    "steward",
		Version: "0.1.0",
	}
	c.client = mcpsdk.NewClient(impl, nil)

	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	session, err := c.client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("mcp connect to %s: %w", c.config.Name, err)
	}
	c.session = session
	return nil
}

// RegisterTools lists the server's tools and registers each with the
// registry under a server-qualified name.
func (c *Client) RegisterTools(ctx context.Context, registry *tools.Registry) (int, error) {
	if c.session == nil {
		return 0, fmt.Errorf("mcp client %s not connected", c.config.Name)
	}

	count := 0
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return count, fmt.Errorf("mcp list tools on %s: %w", c.config.Name, err)
		}
		qualified := c.config.Name + "__" + tool.Name
		def := backend.ToolDefinition{
			Name:        qualified,
			Description: tool.Description,
			InputSchema: map[string]any{"type": "object"},
		}
		registry.Register(def, &remoteTool{client: c, name: tool.Name})
		count++
	}
	return count, nil
}

// Close shuts the session down.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %s on %s: %w", name, c.config.Name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s returned error", name)
	}

	var text string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	return text, nil
}

// remoteTool adapts one MCP tool to the registry's Executor. The call runs
// on the remote server regardless of placement; placement only drove the
// gating handshake that preceded it.
type remoteTool struct {
	client *Client
	name   string
}

func (t *remoteTool) Execute(ctx context.Context, input map[string]any, _ tools.Placement) (string, error) {
	return t.client.call(ctx, t.name, input)
}
