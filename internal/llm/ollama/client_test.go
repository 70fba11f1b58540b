package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{Endpoint: srv.URL + "/", Model: "llama3.1"}, logger.NewTestLogger())
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3.1", req.Model)
		assert.Equal(t, "json", req.Format)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		fmt.Fprint(w, `{"model":"llama3.1","message":{"role":"assistant","content":"{\"ok\":true}"},"done":true,"prompt_eval_count":12,"eval_count":4}`)
	})

	res, err := c.Generate(context.Background(), []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.GenerateOptions{JSON: true, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, res.Content)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, res.Usage)
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Gu"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ten Tag"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":3,"eval_count":2}`)
	})

	var deltas []string
	res, err := c.GenerateStream(context.Background(), []llm.ChatMessage{{Role: llm.RoleUser, Content: "hallo"}}, llm.GenerateOptions{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gu", "ten Tag"}, deltas)
	assert.Equal(t, "Guten Tag", res.Content)
	assert.Equal(t, 5, res.Usage.TotalTokens)
}

func TestErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"llama3.1\" not found, try pulling it first"}`)
	})

	_, err := c.Generate(context.Background(), []llm.ChatMessage{{Role: llm.RoleUser, Content: "x"}}, llm.GenerateOptions{})
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)
	assert.Contains(t, perr.Message, "not found")
	assert.Equal(t, llm.ErrorHard, c.ClassifyError(err))
}
