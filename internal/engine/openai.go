package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rigmate/rigmate/internal/faults"
	"github.com/rigmate/rigmate/pkg/models"
)

// OpenAIConfig configures the GPT-backed engine.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string
	// Model is the model id. Default: gpt-4o.
	Model string
	// MaxIterations bounds the tool-use loop. Default: 10.
	MaxIterations int
}

// OpenAIEngine runs queries against GPT models with streaming and function
// calling. It mirrors AnthropicEngine's loop so the two are interchangeable
// behind the Engine interface.
type OpenAIEngine struct {
	client        *openai.Client
	model         string
	maxIterations int
	system        string
	tools         []Tool
}

// NewOpenAIEngine creates an engine with the given configuration and tools.
func NewOpenAIEngine(config OpenAIConfig, tools ...Tool) (*OpenAIEngine, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4o
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 10
	}
	return &OpenAIEngine{
		client:        openai.NewClient(config.APIKey),
		model:         config.Model,
		maxIterations: config.MaxIterations,
		system:        SystemPrompt(),
		tools:         tools,
	}, nil
}

// Invoke implements Engine.
func (e *OpenAIEngine) Invoke(ctx context.Context, history []models.Turn, query string, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if err := sink.Emit(ctx, Event{Type: EventStart}); err != nil {
		return nil, err
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: e.system},
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		req := openai.ChatCompletionRequest{
			Model:    e.model,
			Messages: messages,
			Tools:    e.convertTools(),
		}

		stream, err := e.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, faults.Wrap(faults.KindAgent, "openai request", err)
		}

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

		assistant := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: text,
		}
		for _, call := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:   call.id,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.name,
					Arguments: call.input,
				},
			})
		}
		messages = append(messages, assistant)

		for _, call := range calls {
			output, _, err := e.runTool(ctx, call, sink)
			if err != nil {
				return nil, err
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.id,
			})
		}
	}

	return nil, faults.Newf(faults.KindAgent, "no final answer after %d iterations", e.maxIterations)
}

// consumeStream drains one model turn, emitting token events and accumulating
// function-call argument fragments across chunks.
func (e *OpenAIEngine) consumeStream(ctx context.Context, stream *openai.ChatCompletionStream, sink EventSink) (string, []pendingToolCall, error) {
	defer stream.Close()

	var text strings.Builder
	pending := map[int]*pendingToolCall{}
	order := []int{}

	collect := func() []pendingToolCall {
		out := make([]pendingToolCall, 0, len(order))
		for _, i := range order {
			if c := pending[i]; c.id != "" && c.name != "" {
				if c.input == "" {
					c.input = "{}"
				}
				out = append(out, *c)
			}
		}
		return out
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return text.String(), collect(), nil
			}
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			return "", nil, faults.Wrap(faults.KindAgent, "openai stream", err)
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := sink.Emit(ctx, Event{Type: EventToken, Text: delta.Content}); err != nil {
				return "", nil, err
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &pendingToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				pending[index].id = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].name = tc.Function.Name
			}
			pending[index].input += tc.Function.Arguments
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			return text.String(), collect(), nil
		}
		if response.Choices[0].FinishReason == openai.FinishReasonStop {
			return text.String(), collect(), nil
		}
	}
}

// runTool mirrors the Anthropic engine's tool execution semantics.
func (e *OpenAIEngine) runTool(ctx context.Context, call pendingToolCall, sink EventSink) (output string, isErr bool, err error) {
	var tool Tool
	for _, t := range e.tools {
		if t.Name() == call.name {
			tool = t
			break
		}
	}
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

func (e *OpenAIEngine) convertTools() []openai.Tool {
	out := make([]openai.Tool, 0, len(e.tools))
	for _, tool := range e.tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	return out
}
