// Package mcp exposes the aggregation tools over the Model Context Protocol
// against a fixed set of transactions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"aiquery/internal/core"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/tools"
)

const summaryURI = "aiquery://transactions/summary"

// Summary describes the loaded transactions without exposing them.
type Summary struct {
	Transactions int     `json:"transactions"`
	Balance      *string `json:"balance,omitempty"`
}

// Server wraps the tool catalog and exposes it as an MCP server.
type Server struct {
	catalog      *tools.Catalog
	transactions []core.Transaction
	logger       *log.Logger
	metrics      *metrics.Metrics
	mcpServer    *server.MCPServer
}

// NewServer creates an MCP server over txs. logger and m may be nil.
func NewServer(catalog *tools.Catalog, txs []core.Transaction, version string, logger *log.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Server{
		catalog:      catalog,
		transactions: txs,
		logger:       logger.WithComponent(log.ComponentMCP),
		metrics:      m,
		mcpServer:    server.NewMCPServer("aiquery", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	for _, def := range s.catalog.Definitions() {
		opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
		for _, p := range def.Params {
			popts := []mcp.PropertyOption{mcp.Description(p.Description)}
			switch p.Type {
			case tools.TypeNumber:
				opts = append(opts, mcp.WithNumber(p.Name, append(popts, mcp.Min(0))...))
			default:
				if len(p.Enum) > 0 {
					popts = append(popts, mcp.Enum(p.Enum...))
				}
				opts = append(opts, mcp.WithString(p.Name, popts...))
			}
		}
		s.mcpServer.AddTool(mcp.NewTool(def.Name, opts...), s.handleTool)
	}
}

func (s *Server) handleTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	call := core.ToolCall{
		ID:   uuid.NewString(),
		Name: request.Params.Name,
		Args: request.GetArguments(),
	}

	res := s.catalog.Execute(ctx, call, s.transactions)
	s.metrics.ObserveToolCall(call.Name, res.Err)

	if res.Err != nil {
		s.logger.WarnContext(ctx, "Tool call failed",
			log.FieldTool, call.Name,
			log.FieldError, res.Err)
		return mcp.NewToolResultError(res.Err.Error()), nil
	}

	s.logger.InfoContext(ctx, "Tool call completed",
		log.FieldTool, call.Name,
		log.FieldTransactions, len(s.transactions))

	return mcp.NewToolResultText(tools.FormatContent(res.Reduction, res.Value)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(summaryURI, "Transactions summary",
		mcp.WithResourceDescription("Number of loaded transactions and the current balance."),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.Summary())
		if err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      summaryURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// Summary reports the transaction count and current balance.
func (s *Server) Summary() Summary {
	sum := Summary{Transactions: len(s.transactions)}
	if balance, ok := core.CurrentBalance(s.transactions); ok {
		formatted := core.FormatNGN(balance)
		sum.Balance = &formatted
	}
	return sum
}

// LoadTransactions reads a JSON array of wire transactions, or a request body
// with a "transactions" field, and validates every record.
func LoadTransactions(path string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transactions file: %w", err)
	}
	defer f.Close()
	return ReadTransactions(f)
}

// ReadTransactions is LoadTransactions over a reader.
func ReadTransactions(r io.Reader) ([]core.Transaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapper struct {
			Transactions []json.RawMessage `json:"transactions"`
		}
		if werr := json.Unmarshal(data, &wrapper); werr != nil || wrapper.Transactions == nil {
			return nil, fmt.Errorf("transactions file must hold a JSON array or an object with a transactions list: %w", err)
		}
		items = wrapper.Transactions
	}

	txs := make([]core.Transaction, 0, len(items))
	for i, item := range items {
		tx, verr := core.ParseTransaction(item)
		if verr != nil {
			verr.Field = fmt.Sprintf("transactions[%d].%s", i, verr.Field)
			return nil, verr
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
