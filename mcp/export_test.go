package mcp

type MCPClient = mcpClient

var ContentToResult = contentToResult

// NewWithClient creates a Client connecting through cl.
func NewWithClient(cl MCPClient) *Client {
	return &Client{
		name:      DefaultClientName,
		version:   DefaultClientVersion,
		newClient: func() (mcpClient, error) { return cl, nil },
	}
}
