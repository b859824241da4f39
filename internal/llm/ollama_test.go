package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"m","response":"partial answer","done":true,"done_reason":"length","prompt_eval_count":12}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL), WithModel("m"))
	completion, err := c.Generate(context.Background(), "prompt", GenerateOptions{MaxTokens: 16, NumCtx: 4096})
	require.NoError(t, err)
	assert.Equal(t, "partial answer", completion.Text)
	assert.True(t, completion.Truncated)
	assert.Equal(t, 12, completion.PromptTokens)

	assert.Equal(t, "m", got.Model)
	assert.False(t, got.Stream)
	assert.EqualValues(t, 16, got.Options["num_predict"])
	assert.EqualValues(t, 0, got.Options["temperature"])
	assert.EqualValues(t, 4096, got.Options["num_ctx"])
}

func TestOllamaClient_InputTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"input length exceeds maximum context length"}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), "prompt", GenerateOptions{})
	assert.ErrorIs(t, err, ErrInputTooLarge)

	_, err = c.GenerateStream(context.Background(), "prompt", GenerateOptions{})
	assert.ErrorIs(t, err, ErrInputTooLarge)
}

func TestOllamaClient_Unavailable(t *testing.T) {
	c := NewOllamaClient(WithBaseURL("http://127.0.0.1:1"))
	_, err := c.Generate(context.Background(), "prompt", GenerateOptions{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaClient_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hel","done":false}`)
		fmt.Fprintln(w, `{"response":"lo","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true,"done_reason":"stop"}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL))
	chunks, err := c.GenerateStream(context.Background(), "prompt", GenerateOptions{})
	require.NoError(t, err)

	var text string
	var last StreamChunk
	for chunk := range chunks {
		require.NoError(t, chunk.Error)
		text += chunk.Token
		last = chunk
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, last.Done)
	assert.False(t, last.Truncated)
}

func TestOllamaClient_GenerateStreamCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"tok","done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewOllamaClient(WithBaseURL(srv.URL))
	chunks, err := c.GenerateStream(ctx, "prompt", GenerateOptions{})
	require.NoError(t, err)

	first := <-chunks
	assert.Equal(t, "tok", first.Token)
	cancel()

	select {
	case chunk, ok := <-chunks:
		if ok {
			assert.False(t, chunk.Done && chunk.Error == nil, "no successful completion after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}
