package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, "required", req.ToolChoice)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "function", req.Tools[0].Type)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"c1","function":{"name":"classify_intent","arguments":"{\"intent\":\"view_cart\",\"confidence\":0.9}"}}]}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-test")
	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "show my cart"}},
		[]ToolDefinition{{Name: "classify_intent"}}, &SamplingOptions{Temperature: 0})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "view_cart", resp.ToolCalls[0].Arguments["intent"])
	assert.Equal(t, 0.9, resp.ToolCalls[0].Arguments["confidence"])
}

func TestOpenAIChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "status", status: http.StatusInternalServerError, body: `{}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "malformed arguments", status: http.StatusOK, body: `{"choices":[{"message":{"tool_calls":[{"function":{"name":"x","arguments":"{not json"}}]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIClient(srv.URL, "", "m").Chat(context.Background(), nil, nil, nil)
			assert.Error(t, err)
		})
	}
}
