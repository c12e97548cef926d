package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/llm"
)

func newTestRefiner(t *testing.T, handler http.HandlerFunc) *Refiner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clientCfg := openai.DefaultConfig("test-key")
	clientCfg.BaseURL = srv.URL + "/v1"
	return NewWithClient(openai.NewClientWithConfig(clientCfg), Config{Temperature: 0.4})
}

func chatResponse(toolArgs string) string {
	resp := map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []any{map[string]any{
					"id":       "call_1",
					"type":     "function",
					"function": map[string]any{"name": toolName, "arguments": toolArgs},
				}},
			},
		}},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

// TestRefine tests the request shape and the decoding of tool call arguments.
func TestRefine(t *testing.T) {
	var got openai.ChatCompletionRequest

	r := newTestRefiner(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/chat/completions", req.URL.Path)
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`{"category":"Dining","payee":"Sukiya","description":"Beef bowl"}`)))
	})

	ref, err := r.Refine(context.Background(), llm.Request{
		Text:       "768 yen at Sukiya",
		Categories: []string{"Dining", "Groceries"},
		Payees:     []string{"Sukiya"},
		Today:      time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, &llm.Refinement{Category: "Dining", Payee: "Sukiya", Description: "Beef bowl"}, ref)

	assert.Equal(t, openai.GPT4oMini, got.Model)
	assert.InDelta(t, 0.4, got.Temperature, 1e-6)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, toolName, got.Tools[0].Function.Name)
}

func TestRefine_ProviderError(t *testing.T) {
	r := newTestRefiner(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "boom"}}`))
	})

	_, err := r.Refine(context.Background(), llm.Request{Text: "x"})
	require.Error(t, err)
	assert.True(t, api.IsProvider(err))
}

func TestRefine_BadArguments(t *testing.T) {
	r := newTestRefiner(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`{"category": `)))
	})

	_, err := r.Refine(context.Background(), llm.Request{Text: "x"})
	assert.True(t, api.IsProvider(err))
}

func TestTool(t *testing.T) {
	tool := Tool([]string{"Dining"}, nil)
	params := tool.Function.Parameters.(jsonschema.Definition)
	assert.Equal(t, []string{"Dining"}, params.Properties["category"].Enum)
	assert.Nil(t, params.Properties["payee"].Enum)
}
