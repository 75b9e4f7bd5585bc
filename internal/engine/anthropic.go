package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/pkg/models"
)

// AnthropicConfig configures the Claude-backed engine.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string
	// BaseURL overrides the default API base URL.
	BaseURL string
	// Model is the model id. Default: claude-sonnet-4-20250514.
	Model string
	// MaxTokens bounds the generated answer. Default: 4096.
	MaxTokens int
	// MaxIterations bounds the tool-use loop. Default: 10.
	MaxIterations int
}

// AnthropicEngine runs queries against Claude with streaming and tool use.
// Each Invoke drives a complete agentic loop: stream the model's turn, execute
// any requested tools, feed results back, and repeat until the model produces
// a final answer or the iteration ceiling is hit.
//
// Safe for concurrent use; each Invoke owns its own stream and message state.
type AnthropicEngine struct {
	client        anthropic.Client
	model         string
	maxTokens     int
	maxIterations int
	system        string
	tools         []Tool
}

// NewAnthropicEngine creates an engine with the given configuration and tools.
func NewAnthropicEngine(config AnthropicConfig, tools ...Tool) (*AnthropicEngine, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 10
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicEngine{
		client:        anthropic.NewClient(opts...),
		model:         config.Model,
		maxTokens:     config.MaxTokens,
		maxIterations: config.MaxIterations,
		system:        SystemPrompt(),
		tools:         tools,
	}, nil
}

// pendingToolCall is a tool invocation assembled from streaming deltas.
type pendingToolCall struct {
	id    string
	name  string
	input string
}

// Invoke implements Engine.
func (e *AnthropicEngine) Invoke(ctx context.Context, history []models.Turn, query string, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if err := sink.Emit(ctx, Event{Type: EventStart}); err != nil {
		return nil, err
	}

	messages := convertTurns(history)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(query)))

	tools, err := e.convertTools()
	if err != nil {
		return nil, faults.Wrap(faults.KindAgent, "tool schema", err)
	}

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(e.model),
			Messages:  messages,
			MaxTokens: int64(e.maxTokens),
			System:    []anthropic.TextBlockParam{{Type: "text", Text: e.system}},
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		stream := e.client.Messages.NewStreaming(ctx, params)
		text, calls, err := e.consumeStream(ctx, stream, sink)
		if err != nil {
			return nil, err
		}

		if len(calls) == 0 {
			if err := sink.Emit(ctx, Event{Type: EventFinish, Text: text}); err != nil {
				return nil, err
			}
			return &Result{Output: text}, nil
		}

		// The model wants tools. Record its turn, run the tools, and hand
		// the results back for the next iteration.
		var assistant []anthropic.ContentBlockParamUnion
		if text != "" {
			assistant = append(assistant, anthropic.NewTextBlock(text))
		}
		var results []anthropic.ContentBlockParamUnion
		for _, call := range calls {
			var input map[string]any
			if err := json.Unmarshal([]byte(call.input), &input); err != nil {
				return nil, faults.Wrap(faults.KindAgent, "malformed tool input", err)
			}
			assistant = append(assistant, anthropic.NewToolUseBlock(call.id, input, call.name))

			output, isErr, err := e.runTool(ctx, call, sink)
			if err != nil {
				return nil, err
			}
			results = append(results, anthropic.NewToolResultBlock(call.id, output, isErr))
		}
		messages = append(messages, anthropic.NewAssistantMessage(assistant...))
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	return nil, faults.Newf(faults.KindAgent, "no final answer after %d iterations", e.maxIterations)
}

// consumeStream drains one model turn, emitting token events as text arrives
// and assembling any tool calls from input deltas.
func (e *AnthropicEngine) consumeStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], sink EventSink) (string, []pendingToolCall, error) {
	var text strings.Builder
	var calls []pendingToolCall
	var current *pendingToolCall
	var currentInput strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				current = &pendingToolCall{id: use.ID, name: use.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					if err := sink.Emit(ctx, Event{Type: EventToken, Text: delta.Text}); err != nil {
						return "", nil, err
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if current != nil {
				current.input = currentInput.String()
				if current.input == "" {
					current.input = "{}"
				}
				calls = append(calls, *current)
				current = nil
			}

		case "message_stop":
			return text.String(), calls, nil

		case "error":
			return "", nil, faults.Wrap(faults.KindAgent, "anthropic stream error", errors.New(event.Type))
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, faults.Wrap(faults.KindAgent, "anthropic stream", err)
	}
	return text.String(), calls, nil
}

// runTool executes one requested tool call with lifecycle events. Tool
// failures are reported to the model as error results, not raised, so the
// model can recover; only sink failures abort.
func (e *AnthropicEngine) runTool(ctx context.Context, call pendingToolCall, sink EventSink) (output string, isErr bool, err error) {
	tool := e.findTool(call.name)
	if tool == nil {
		if err := sink.Emit(ctx, Event{Type: EventToolError, Tool: call.name, Text: "unknown tool"}); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("unknown tool %q", call.name), true, nil
	}

	if err := sink.Emit(ctx, Event{Type: EventToolStart, Tool: call.name, Text: toolInputSummary(call.input)}); err != nil {
		return "", false, err
	}

	result, execErr := tool.Execute(ctx, json.RawMessage(call.input))
	if execErr != nil {
		if err := sink.Emit(ctx, Event{Type: EventToolError, Tool: call.name, Text: execErr.Error()}); err != nil {
			return "", false, err
		}
		return execErr.Error(), true, nil
	}

	if err := sink.Emit(ctx, Event{Type: EventToolEnd, Tool: call.name}); err != nil {
		return "", false, err
	}
	return result, false, nil
}

func (e *AnthropicEngine) findTool(name string) Tool {
	for _, t := range e.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (e *AnthropicEngine) convertTools() ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range e.tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		out = append(out, param)
	}
	return out, nil
}

// convertTurns maps conversation memory onto Anthropic message params.
func convertTurns(history []models.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		if turn.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// toolInputSummary extracts a readable one-liner from a tool's JSON input for
// progress reporting.
func toolInputSummary(input string) string {
	var fields map[string]any
	if err := json.Unmarshal([]byte(input), &fields); err == nil {
		if q, ok := fields["query"].(string); ok && q != "" {
			return q
		}
	}
	return input
}
