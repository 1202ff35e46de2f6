package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(url)
	require.NoError(t, err)
	client.chatTimeout = 50 * time.Millisecond
	client.retryPause = 5 * time.Millisecond
	client.overloadPause = 5 * time.Millisecond
	return client
}

func writeJson(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeReply(w http.ResponseWriter, content string) {
	writeJson(w, map[string]any{
		"message": map[string]string{"content": content},
	})
}

func TestNewClientRejectsMalformedBaseURL(t *testing.T) {
	for _, url := range []string{"", "localhost:11434/api", "ftp://host/api"} {
		_, err := NewClient(url)
		assert.Error(t, err, "url %q should be rejected", url)
	}

	_, err := NewClient("http://localhost:11434/api")
	assert.NoError(t, err)
	_, err = NewClient("https://example.com/api")
	assert.NoError(t, err)
}

func TestChatSendsExpectedPayload(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeReply(w, "hi there")
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	reply, err := client.Chat(context.Background(), "demo-model", []ChatMessage{
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	assert.Equal(t, "demo-model", got["model"])
	assert.Equal(t, false, got["stream"])
	options := got["options"].(map[string]any)
	assert.Equal(t, 0.7, options["temperature"])
	assert.Equal(t, 0.9, options["top_p"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].(map[string]any)["content"])
}

func TestChatRetriesTimeoutsThreeTimes(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	_, err := client.Chat(context.Background(), "demo-model", []ChatMessage{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
	assert.ErrorContains(t, err, "timed out after 3 attempts")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestChatSucceedsAfterTimeouts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			time.Sleep(200 * time.Millisecond)
			return
		}
		writeReply(w, "made it")
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	reply, err := client.Chat(context.Background(), "demo-model", []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "made it", reply)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestChatRidesOutOverload(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 4 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeReply(w, "back up")
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	reply, err := client.Chat(context.Background(), "demo-model", []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "back up", reply)
	assert.Equal(t, int32(5), attempts.Load())
}

func TestChatOverloadRetryStopsWhenContextExpires(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Chat(ctx, "demo-model", []ChatMessage{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestChatPropagatesOtherHTTPErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	_, err := client.Chat(context.Background(), "demo-model", []ChatMessage{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestChatMissingContentReturnsPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, map[string]any{"message": map[string]string{}})
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	reply, err := client.Chat(context.Background(), "demo-model", []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, NoResponsePlaceholder, reply)
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tags", r.URL.Path)
		writeJson(w, map[string]any{
			"models": []map[string]string{{"name": "deepseek-r1:1.5b"}, {"name": "qwen:1.8b"}},
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek-r1:1.5b", "qwen:1.8b"}, models)
}

func TestListModelsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	client := testClient(t, server.URL)

	_, err := client.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	// Unreachable backend is also a service-unavailable condition, not an
	// empty list.
	server.Close()
	_, err = client.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestValidateModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/show", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["name"] == "demo-model" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	client := testClient(t, server.URL)

	assert.True(t, client.ValidateModel(context.Background(), "demo-model"))
	assert.False(t, client.ValidateModel(context.Background(), "missing-model"))

	// Fail closed when the registry is unreachable.
	server.Close()
	assert.False(t, client.ValidateModel(context.Background(), "demo-model"))
}
