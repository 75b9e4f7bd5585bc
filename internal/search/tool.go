package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rigmate/rigmate/internal/engine"
	"github.com/rigmate/rigmate/internal/faults"
)

// ToolName is the function-calling name the engine sees.
const ToolName = "pc_parts_search"

const toolDescription = "Search the web for current PC component information, " +
	"pricing, availability, reviews, and compatibility. Use for any question " +
	"that needs up-to-date hardware data."

var toolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query, e.g. 'RTX 4070 price 2025'"
		}
	},
	"required": ["query"]
}`)

// toolAdapter exposes a Gateway as an engine tool.
type toolAdapter struct {
	gateway *Gateway
}

// Tool returns the engine-facing adapter for this gateway.
func (g *Gateway) Tool() engine.Tool {
	return &toolAdapter{gateway: g}
}

func (a *toolAdapter) Name() string            { return ToolName }
func (a *toolAdapter) Description() string     { return toolDescription }
func (a *toolAdapter) Schema() json.RawMessage { return toolSchema }

// Execute implements the engine tool contract. Results are rendered as
// numbered text blocks for the model to read.
func (a *toolAdapter) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", faults.Wrap(faults.KindValidation, "search input", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return "", faults.New(faults.KindValidation, "search query is empty")
	}

	results, err := a.gateway.Search(ctx, input.Query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found. Try a different search query.", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Body != "" {
			fmt.Fprintf(&b, "   %s\n", r.Body)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   Source: %s\n", r.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
