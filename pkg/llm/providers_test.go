package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var retrieveTool = ToolSpec{
	Name:        "retrieve_docs",
	Description: "Search the knowledge base.",
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	},
}

func toolConversation() []Message {
	return []Message{
		{Role: RoleUser, Content: "When do doors open?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "retrieve_docs", Arguments: json.RawMessage(`{"query":"doors"}`)},
			{ID: "call_2", Name: "retrieve_docs", Arguments: json.RawMessage(`{"query":"venue"}`)},
		}},
		{Role: RoleTool, ToolCallID: "call_1", ToolName: "retrieve_docs", Content: "[1] Doors open at 9am."},
		{Role: RoleTool, ToolCallID: "call_2", ToolName: "retrieve_docs", Content: "No passages found."},
	}
}

func TestOpenAIProviderCall(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_9",
						"type": "function",
						"function": {"name": "final_answer", "arguments": "{\"text\":\"Doors open at 9am.\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("sk-test", "", server.URL+"/")
	resp, err := p.Call(context.Background(), Request{
		System:   "You answer event questions.",
		Messages: toolConversation(),
		Tools:    []ToolSpec{retrieveTool},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "final_answer", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"text":"Doors open at 9am."}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, Usage{InputTokens: 42, OutputTokens: 7}, resp.Usage)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 5)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assistant := messages[2].(map[string]interface{})
	assert.Len(t, assistant["tool_calls"], 2)
	tool := messages[3].(map[string]interface{})
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Len(t, captured["tools"], 1)
}

func TestOpenAIProviderHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", server.URL+"/")
	_, err := p.Call(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestAnthropicProviderCall(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "retrieve_docs", "input": {"query": "parking"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 20, "output_tokens": 9}
		}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider("sk-ant-test", "", server.URL)
	resp, err := p.Call(context.Background(), Request{
		System:   "You answer event questions.",
		Messages: toolConversation(),
		Tools:    []ToolSpec{retrieveTool},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"parking"}`, string(resp.ToolCalls[0].Arguments))

	// Two tool results travel together in one user message.
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 3)
	last := messages[2].(map[string]interface{})
	assert.Equal(t, "user", last["role"])
	assert.Len(t, last["content"], 2)
}

func TestAnthropicMessagesMergesToolResults(t *testing.T) {
	out := anthropicMessages(toolConversation())
	require.Len(t, out, 3)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	assert.Len(t, out[1].Content, 2)
	require.Len(t, out[2].Content, 2)
	assert.NotNil(t, out[2].Content[0].OfToolResult)
	assert.NotNil(t, out[2].Content[1].OfToolResult)
}

func TestGeminiContents(t *testing.T) {
	contents, err := geminiContents(toolConversation())
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "retrieve_docs", contents[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, "doors", contents[1].Parts[0].FunctionCall.Args["query"])

	assert.Equal(t, "user", contents[2].Role)
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "retrieve_docs", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "[1] Doors open at 9am.", contents[2].Parts[0].FunctionResponse.Response["output"])

	_, err = geminiContents([]Message{{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "x", Arguments: json.RawMessage("{")}}}})
	assert.Error(t, err)
}

func TestGeminiTools(t *testing.T) {
	tools := geminiTools([]ToolSpec{retrieveTool})
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "retrieve_docs", tools[0].FunctionDeclarations[0].Name)
	assert.Equal(t, retrieveTool.Schema, tools[0].FunctionDeclarations[0].ParametersJsonSchema)
}

func TestSchemaRequired(t *testing.T) {
	assert.Equal(t, []string{"query"}, schemaRequired(retrieveTool.Schema))
	assert.Equal(t, []string{"a"}, schemaRequired(map[string]interface{}{"required": []interface{}{"a", 3}}))
	assert.Nil(t, schemaRequired(map[string]interface{}{}))
}
