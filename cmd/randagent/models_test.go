package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
)

func TestListOpenRouterModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":"z-ai/paid","context_length":8192,"pricing":{"prompt":"0.000001","completion":"0.000002"}},
			{"id":"meta/llama:free","context_length":131072,"pricing":{"prompt":"0","completion":"0"}}
		]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, listOpenRouterModels(context.Background(), &out, srv.URL+"/api/v1", false))
	assert.Contains(t, out.String(), "meta/llama:free")
	assert.Contains(t, out.String(), "z-ai/paid")
	assert.Contains(t, out.String(), "2 of 2 models")

	out.Reset()
	require.NoError(t, listOpenRouterModels(context.Background(), &out, srv.URL+"/api/v1", true))
	assert.Contains(t, out.String(), "meta/llama:free")
	assert.NotContains(t, out.String(), "z-ai/paid")
	assert.Contains(t, out.String(), "1 of 2 models")
}

func TestListOllamaModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","modified_at":"2024-05-01T10:00:00Z","size":4661224676}]}`))
	})
	srv := httptest.NewServer(mux)

	var out bytes.Buffer
	require.NoError(t, listOllamaModels(context.Background(), &out, srv.URL))
	assert.Contains(t, out.String(), "llama3:latest")
	assert.Contains(t, out.String(), "4.3 GB")
	assert.Contains(t, out.String(), "2024-05-01")

	srv.Close()
	assert.ErrorContains(t, listOllamaModels(context.Background(), &bytes.Buffer{}, srv.URL), "not reachable")
}

func TestOllamaBaseURL(t *testing.T) {
	agents := []domain.AgentConfig{
		{ID: 1, Provider: "groq", APIBaseURL: "https://example.com"},
		{ID: 2, Provider: "Ollama"},
		{ID: 3, Provider: "ollama", APIBaseURL: "http://gpu-box:11434"},
	}
	assert.Equal(t, "http://gpu-box:11434", ollamaBaseURL(agents))
	assert.Empty(t, ollamaBaseURL(agents[:2]))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2*1024*1024))
}
