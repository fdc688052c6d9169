// Package anthropic provides a structured transport implementation for the
// Anthropic Messages API. Structured output is obtained by declaring a single
// tool whose input schema is the requested output schema and forcing the
// model to call it; the tool_use input block is then decoded as the answer.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/transport"
)

// Options configures the Anthropic transport adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Transport wraps the Anthropic Messages API behind the generic
// transport.Transport interface.
type Transport struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic transport using the official client.
func New(optFns ...func(o *Options)) *Transport {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)
	return &Transport{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic transport from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Transport {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Transport{client: client, opts: opts}
}

// Request implements transport.Transport.
func (t *Transport) Request(ctx context.Context, turns []conversation.Turn, schema transport.Schema, out any) error {
	params := anthropic.MessageNewParams{
		Model:       t.opts.Model,
		Messages:    buildMessages(turns),
		MaxTokens:   t.opts.MaxTokens,
		Temperature: anthropic.Float(t.opts.Temperature),
		Tools:       []anthropic.ToolUnionParam{buildOutputTool(schema)},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: schema.Name},
		},
	}
	if system := extractSystem(turns); len(system) > 0 {
		params.System = system
	}

	resp, err := t.client.Messages.New(ctx, params)
	if err != nil {
		return &transport.TransportError{Provider: "anthropic", Message: err.Error()}
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		toolBlock := block.AsToolUse()
		raw, mErr := json.Marshal(toolBlock.Input)
		if mErr != nil {
			return &transport.SchemaError{Schema: schema.Name, Message: mErr.Error()}
		}
		return transport.Decode(schema, string(raw), out)
	}
	return &transport.SchemaError{Schema: schema.Name, Message: "response contained no tool_use block"}
}

// buildOutputTool declares the output schema as a forced tool.
func buildOutputTool(schema transport.Schema) anthropic.ToolUnionParam {
	inputSchema := anthropic.ToolInputSchemaParam{
		Type: constant.Object("object"),
	}
	if properties, ok := schema.Definition["properties"]; ok {
		inputSchema.Properties = properties
	}
	if required, ok := schema.Definition["required"].([]string); ok {
		inputSchema.Required = required
	}
	return anthropic.ToolUnionParamOfTool(inputSchema, schema.Name)
}

// buildMessages converts exchange turns to Anthropic message format.
// System turns are handled separately via the System field.
func buildMessages(turns []conversation.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			continue
		case conversation.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	return messages
}

// extractSystem collects system turns into system blocks.
func extractSystem(turns []conversation.Turn) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, turn := range turns {
		if turn.Role == conversation.RoleSystem && turn.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: turn.Content})
		}
	}
	return blocks
}
