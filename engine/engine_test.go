package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/postpilot/capability"
	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/plan"
	"github.com/hupe1980/postpilot/transport"
)

func opening() []conversation.Turn {
	return conversation.BuildPostConversation("persona", "guide", "no posts")
}

func emptyPlan() map[string]any {
	return map[string]any{"reasoning": "nothing needed", "steps": []any{}}
}

func searchPlan(query string) map[string]any {
	return map[string]any{
		"reasoning": "look it up first",
		"steps": []any{
			map[string]any{"tool": capability.WebSearchName, "params": map[string]any{"query": query}},
		},
	}
}

func registryWith(t *testing.T, fns map[string]capability.Func) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	for name, fn := range fns {
		require.NoError(t, reg.Register(capability.Descriptor{Name: name}, fn))
	}
	return reg
}

func TestRun_EmptyPlan(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": "hello world"})

	loop := New(mock, capability.NewRegistry())

	res, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "hello world", res.Artifact.Text)
	assert.Nil(t, res.Artifact.Media)
	assert.Empty(t, res.Plan.Steps)
	assert.Equal(t, "nothing needed", res.Reasoning)

	// Plan request, then final request.
	require.Len(t, mock.Requests, 2)
	assert.Equal(t, "agent_plan", mock.Requests[0].Schema)
	assert.Equal(t, "final_text", mock.Requests[1].Schema)
}

func TestRun_ExecutesStepsInOrder(t *testing.T) {
	var calls []string
	reg := registryWith(t, map[string]capability.Func{
		capability.WebSearchName: func(ctx context.Context, params map[string]string) (capability.Result, error) {
			calls = append(calls, params["query"])
			return capability.TextResult{Content: "findings for " + params["query"], SourceCount: 1}, nil
		},
	})

	mock := transport.NewMock().
		Enqueue(map[string]any{
			"reasoning": "two searches",
			"steps": []any{
				map[string]any{"tool": capability.WebSearchName, "params": map[string]any{"query": "first"}},
				map[string]any{"tool": capability.WebSearchName, "params": map[string]any{"query": "second"}},
			},
		}).
		Enqueue(map[string]any{"text": "done"})

	loop := New(mock, reg)

	res, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, "done", res.Artifact.Text)

	// The final request replays the full exchange: opening turns, the raw
	// plan as an assistant turn, one user turn per step result, and the
	// final instruction.
	final := mock.Requests[1].Turns
	require.Len(t, final, 6)
	assert.Equal(t, conversation.RoleAssistant, final[2].Role)
	assert.Contains(t, final[2].Content, "two searches")
	assert.Equal(t, "Tool result (web_search):\nContent: findings for first\nSources found: 1", final[3].Content)
	assert.Equal(t, "Tool result (web_search):\nContent: findings for second\nSources found: 1", final[4].Content)
	assert.Contains(t, final[5].Content, "Now write your final post text")
}

func TestRun_CapturesMedia(t *testing.T) {
	reg := registryWith(t, map[string]capability.Func{
		capability.GenerateImageName: func(ctx context.Context, params map[string]string) (capability.Result, error) {
			return capability.MediaResult{Bytes: []byte{9, 9}}, nil
		},
	})

	mock := transport.NewMock().
		Enqueue(map[string]any{
			"reasoning": "make a picture",
			"steps": []any{
				map[string]any{"tool": capability.GenerateImageName, "params": map[string]any{"prompt": "p"}},
			},
		}).
		Enqueue(map[string]any{"text": "look at this"})

	loop := New(mock, reg)

	res, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, res.Artifact.Media)
}

func TestRun_CapabilityFailureDegrades(t *testing.T) {
	reg := registryWith(t, map[string]capability.Func{
		capability.WebSearchName: func(ctx context.Context, params map[string]string) (capability.Result, error) {
			return nil, errors.New("rate limited")
		},
	})

	mock := transport.NewMock().
		Enqueue(searchPlan("q")).
		Enqueue(map[string]any{"text": "managed anyway"})

	loop := New(mock, reg)

	res, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)
	assert.Equal(t, "managed anyway", res.Artifact.Text)

	// The failure is folded into the conversation, not escalated.
	final := mock.Requests[1].Turns
	assert.Equal(t, "Tool result (web_search): Error - rate limited", final[3].Content)
}

func TestRun_InvalidPlanFails(t *testing.T) {
	mock := transport.NewMock().Enqueue(searchPlan("q"))
	loop := New(mock, capability.NewRegistry())

	_, err := loop.Run(context.Background(), opening())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StateValidating, runErr.State)

	var vErr *plan.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, plan.CodeUnknownCapability, vErr.Code)

	// No final request after a rejected plan.
	assert.Len(t, mock.Requests, 1)
}

func TestRun_MalformedPlanOutput(t *testing.T) {
	mock := transport.NewMock().Enqueue("this is not json")
	loop := New(mock, capability.NewRegistry())

	_, err := loop.Run(context.Background(), opening())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedModelOutput)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StateAwaitingPlan, runErr.State)
}

func TestRun_TransportFailure(t *testing.T) {
	mock := transport.NewMock().EnqueueError(&transport.TransportError{Provider: "mock", Message: "boom"})
	loop := New(mock, capability.NewRegistry())

	_, err := loop.Run(context.Background(), opening())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedModelOutput)
}

func TestRun_TruncatesFinalText(t *testing.T) {
	long := strings.Repeat("x", 500)
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": long})

	loop := New(mock, capability.NewRegistry())

	res, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)
	assert.Len(t, []rune(res.Artifact.Text), DefaultCharLimit)
	assert.True(t, strings.HasSuffix(res.Artifact.Text, Ellipsis))
}

func TestRun_LogsRuneCount(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": "日本語のポスト"}) // 7 runes, 21 bytes

	var buf bytes.Buffer
	loop := New(mock, capability.NewRegistry(), func(o *Options) {
		o.Logger = logging.New(&logging.Config{Level: logging.LogLevelInfo, Format: "json", Output: &buf})
	})

	_, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)

	var completed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "run completed" {
			completed = rec
		}
	}
	require.NotNil(t, completed)
	assert.EqualValues(t, 7, completed["chars"])
}

func TestRun_EmptyTextIsNotAnError(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": "   "})

	loop := New(mock, capability.NewRegistry())

	res, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)
	assert.Empty(t, res.Artifact.Text)
}

func TestRun_CustomFinalInstruction(t *testing.T) {
	mock := transport.NewMock().
		Enqueue(emptyPlan()).
		Enqueue(map[string]any{"text": "reply"})

	loop := New(mock, capability.NewRegistry(), func(o *Options) {
		o.FinalInstruction = "Write the reply now."
	})

	_, err := loop.Run(context.Background(), opening())
	require.NoError(t, err)

	final := mock.Requests[1].Turns
	assert.Equal(t, "Write the reply now.", final[len(final)-1].Content)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 280))
	assert.Equal(t, strings.Repeat("a", 280), Truncate(strings.Repeat("a", 280), 280))

	out := Truncate(strings.Repeat("a", 281), 280)
	assert.Len(t, []rune(out), 280)
	assert.Equal(t, strings.Repeat("a", 277)+"...", out)

	// Rune-aware: multibyte characters are never split.
	wide := strings.Repeat("日", 300)
	out = Truncate(wide, 280)
	assert.Len(t, []rune(out), 280)
	assert.True(t, strings.HasSuffix(out, Ellipsis))
}
