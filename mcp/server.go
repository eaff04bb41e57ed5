// Package mcp exposes paid fetching as a Model Context Protocol tool, so an
// agent host can give its model the ability to buy access to 402-gated
// resources through a single tool call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	xhttp "github.com/solventlabs/x402pay/http"
)

// ToolName is the name the fetch tool is registered under.
const ToolName = "fetch_with_payment"

// NewServer builds an MCP server with the fetch tool registered against the
// given fetcher.
func NewServer(name, version string, fetcher *xhttp.Fetcher) *server.MCPServer {
	srv := server.NewMCPServer(name, version)
	srv.AddTool(FetchTool(), FetchHandler(fetcher))
	return srv
}

// ServeStdio runs the server over stdin/stdout until the host disconnects.
func ServeStdio(name, version string, fetcher *xhttp.Fetcher) error {
	return server.ServeStdio(NewServer(name, version, fetcher))
}

// FetchTool describes the fetch_with_payment tool schema.
func FetchTool() mcp.Tool {
	return mcp.NewTool(
		ToolName,
		mcp.WithDescription("Fetch a URL, automatically paying an x402 challenge if the server requires payment. Returns the payment outcome as JSON."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Target URL")),
		mcp.WithString("method", mcp.Description("HTTP method, default GET")),
		mcp.WithString("body", mcp.Description("Request body")),
		mcp.WithObject("headers", mcp.Description("Extra request headers, string values")),
	)
}

// FetchHandler adapts a Fetcher to the MCP tool handler signature. Payment
// failures are reported inside the result payload, not as tool errors, so
// the model can read the reason and decide what to do next.
func FetchHandler(fetcher *xhttp.Fetcher) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		url, _ := args["url"].(string)
		if url == "" {
			return mcp.NewToolResultError("url is required"), nil
		}

		fetchReq := xhttp.Request{URL: url, Method: http.MethodGet}
		if method, ok := args["method"].(string); ok && method != "" {
			fetchReq.Method = method
		}
		if body, ok := args["body"].(string); ok && body != "" {
			fetchReq.Body = []byte(body)
		}
		if headers, ok := args["headers"].(map[string]interface{}); ok {
			fetchReq.Header = make(http.Header, len(headers))
			for key, value := range headers {
				if s, ok := value.(string); ok {
					fetchReq.Header.Set(key, s)
				}
			}
		}

		outcome := fetcher.Fetch(ctx, fetchReq)

		result, err := json.Marshal(outcome)
		if err != nil {
			return nil, fmt.Errorf("marshal outcome: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	}
}
