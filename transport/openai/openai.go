// Package openai provides a structured transport implementation backed by
// the OpenAI Chat Completions API. Because the request shape is the standard
// chat-completions contract, the same adapter also serves OpenAI-compatible
// gateways such as OpenRouter via the BaseURL option.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/transport"
)

// Options configure the OpenAI transport adapter.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Transport wraps the OpenAI Chat Completions API behind the generic
// transport.Transport interface, using JSON-schema response formats for
// structured output.
type Transport struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI transport using the official client.
func New(optFns ...func(o *Options)) *Transport {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
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
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)
	return &Transport{client: &client, opts: opts}
}

// NewFromClient creates a new OpenAI transport from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Transport {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
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
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(turns),
		Model:               t.opts.Model,
		Temperature:         openai.Float(t.opts.Temperature),
		MaxCompletionTokens: openai.Int(t.opts.MaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schema.Name,
					Strict: openai.Bool(true),
					Schema: schema.Definition,
				},
			},
		},
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return &transport.TransportError{Provider: "openai", Message: err.Error()}
	}
	if len(resp.Choices) == 0 {
		return &transport.SchemaError{Schema: schema.Name, Message: "response contained no choices"}
	}
	return transport.Decode(schema, resp.Choices[0].Message.Content, out)
}

// buildMessages converts exchange turns to OpenAI chat messages.
func buildMessages(turns []conversation.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}
