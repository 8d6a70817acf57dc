package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/menta2k/capturegate/pkg/modeljson"
)

func newServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if len(req.Messages) != 1 {
			t.Errorf("Expected 1 message, got %d", len(req.Messages))
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func reply(content any) map[string]any {
	return map[string]any{
		"id":    "1",
		"model": "m",
		"choices": []any{
			map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestDetectFacesStringContent(t *testing.T) {
	srv := newServer(t, http.StatusOK, reply(`{"faces":[{"box":{"x":0.1,"y":0.1,"w":0.4,"h":0.5},"confidence":0.7},]}`))
	defer srv.Close()

	c, _ := NewClient(srv.URL + "/")
	result, err := c.DetectFaces(context.Background(), "m", "p", "aW1n")
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(result.Faces) != 1 || result.Faces[0].Confidence != 0.7 {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestDetectFacesContentParts(t *testing.T) {
	parts := []any{map[string]any{"type": "text", "text": `{"faces":[]}`}}
	srv := newServer(t, http.StatusOK, reply(parts))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	result, err := c.DetectFaces(context.Background(), "m", "p", "")
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(result.Faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(result.Faces))
	}
}

func TestDetectFacesProseReply(t *testing.T) {
	srv := newServer(t, http.StatusOK, reply("There is one person in the picture."))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	result, err := c.DetectFaces(context.Background(), "m", "p", "")
	if !errors.Is(err, modeljson.ErrUnparseableReply) {
		t.Fatalf("Expected ErrUnparseableReply, got %v", err)
	}
	if result == nil || len(result.Faces) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

func TestServerError(t *testing.T) {
	srv := newServer(t, http.StatusInternalServerError, map[string]string{"error": "model not loaded"})
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.SimpleQuery(context.Background(), "m", "p", "")
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Expected status 500 error, got %v", err)
	}
}

func TestNewClientDefaultURL(t *testing.T) {
	c, err := NewClient("")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("Expected default URL, got %s", c.baseURL)
	}
}

func TestMimeType(t *testing.T) {
	if got := mimeType("iVBORw0KGgoAAAANSUhEUg"); got != "image/png" {
		t.Errorf("Expected image/png, got %s", got)
	}
	if got := mimeType("/9j/4AAQSkZJRg"); got != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", got)
	}
}
