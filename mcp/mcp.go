// Package mcp exposes the tools of a Model Context Protocol server as a taskcore.ToolSet.
package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	DefaultClientName    = "taskcore"
	DefaultClientVersion = "0.1.0"
)

// mcpClient is the subset of client.Client used by Client.
type mcpClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Client is a taskcore.ToolSet backed by one MCP server. The connection is established on first use.
type Client struct {
	// stdio server
	path    string
	args    []string
	envVars []string

	// SSE server
	baseURL string
	headers map[string]string

	name    string
	version string

	newClient func() (mcpClient, error)

	client     mcpClient
	initResult *mcp.InitializeResult
	mutex      sync.Mutex
}

var _ taskcore.ToolSet = (*Client)(nil)

// StdioOption configures a client for a local server executable.
type StdioOption func(*Client)

// WithEnvVars appends environment variables ("KEY=value") for the server process.
func WithEnvVars(envVars []string) StdioOption {
	return func(c *Client) {
		c.envVars = append(c.envVars, envVars...)
	}
}

func WithStdioClientInfo(name, version string) StdioOption {
	return func(c *Client) {
		c.name, c.version = name, version
	}
}

// SSEOption configures a client for a remote server over HTTP SSE.
type SSEOption func(*Client)

// WithHeaders replaces the HTTP headers sent to the server.
func WithHeaders(headers map[string]string) SSEOption {
	return func(c *Client) {
		c.headers = headers
	}
}

func WithSSEClientInfo(name, version string) SSEOption {
	return func(c *Client) {
		c.name, c.version = name, version
	}
}

// NewStdio creates a client that runs path with args and talks to it over stdio.
func NewStdio(path string, args []string, options ...StdioOption) *Client {
	c := &Client{
		path:    path,
		args:    args,
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, opt := range options {
		opt(c)
	}
	c.newClient = func() (mcpClient, error) {
		return client.NewClient(transport.NewStdio(c.path, c.envVars, c.args...)), nil
	}
	return c
}

// NewSSE creates a client for the server at baseURL.
func NewSSE(baseURL string, options ...SSEOption) *Client {
	c := &Client{
		baseURL: baseURL,
		headers: map[string]string{},
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, opt := range options {
		opt(c)
	}
	c.newClient = func() (mcpClient, error) {
		tp, err := transport.NewSSE(c.baseURL, transport.WithHeaders(c.headers))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create SSE transport", goerr.V("url", c.baseURL))
		}
		return client.NewClient(tp), nil
	}
	return c
}

func (c *Client) start(ctx context.Context) (mcpClient, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.initResult != nil {
		return c.client, nil
	}

	cl, err := c.newClient()
	if err != nil {
		return nil, err
	}
	if err := cl.Start(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to start MCP client", goerr.V("path", c.path), goerr.V("url", c.baseURL))
	}

	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: c.name, Version: c.version}

	resp, err := cl.Initialize(ctx, req)
	if err != nil {
		_ = cl.Close()
		return nil, goerr.Wrap(err, "failed to initialize MCP client", goerr.V("path", c.path), goerr.V("url", c.baseURL))
	}

	ctxlog.From(ctx).Debug("MCP client initialized",
		"server", resp.ServerInfo.Name,
		"server_version", resp.ServerInfo.Version,
		"protocol", resp.ProtocolVersion,
	)
	c.client, c.initResult = cl, resp
	return cl, nil
}

// Specs implements taskcore.ToolSet. The server's input schema of each tool is kept as is.
func (c *Client) Specs(ctx context.Context) ([]*taskcore.ToolSpec, error) {
	cl, err := c.start(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list MCP tools")
	}

	specs := make([]*taskcore.ToolSpec, 0, len(resp.Tools))
	names := make([]string, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		spec, err := toolToSpec(tool)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
		names = append(names, tool.Name)
	}

	ctxlog.From(ctx).Debug("found MCP tools", "names", names)
	return specs, nil
}

// Run implements taskcore.ToolSet. A tool-level error reported by the server becomes a result with
// success false rather than a Go error, so that the runner retries it like any other tool failure.
func (c *Client) Run(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	cl, err := c.start(ctx)
	if err != nil {
		return nil, err
	}

	ctxlog.From(ctx).Debug("call MCP tool", "name", name, "args", args)

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := cl.CallTool(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call MCP tool", goerr.V("name", name))
	}

	return contentToResult(resp.Content, resp.IsError), nil
}

// Close stops the server connection. The client reconnects on next use.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.client == nil {
		return nil
	}
	cl := c.client
	c.client, c.initResult = nil, nil
	if err := cl.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	return nil
}

func toolToSpec(tool mcp.Tool) (*taskcore.ToolSpec, error) {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema", goerr.V("tool", tool.Name))
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema", goerr.V("tool", tool.Name))
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}

	return &taskcore.ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}, nil
}

func textOf(content mcp.Content) (string, bool) {
	switch v := content.(type) {
	case mcp.TextContent:
		return v.Text, true
	case *mcp.TextContent:
		return v.Text, true
	}
	return "", false
}

// contentToResult maps the text contents of a tool result to a result object. A single JSON object is
// used as the result; other text goes under "result". Non text contents are ignored.
func contentToResult(contents []mcp.Content, isError bool) map[string]any {
	var texts []string
	for _, content := range contents {
		if text, ok := textOf(content); ok {
			texts = append(texts, text)
		}
	}

	result := map[string]any{}
	if len(texts) == 1 {
		var v any
		if err := json.Unmarshal([]byte(texts[0]), &v); err == nil {
			if obj, ok := v.(map[string]any); ok {
				result = obj
			} else {
				result["result"] = v
			}
		} else {
			result["result"] = texts[0]
		}
	} else if len(texts) > 1 {
		result["result"] = strings.Join(texts, "\n")
	}

	if isError {
		result["success"] = false
		if _, ok := result["error"]; !ok {
			result["error"] = strings.Join(texts, "\n")
		}
	} else if _, ok := result["success"]; !ok {
		result["success"] = true
	}
	return result
}
