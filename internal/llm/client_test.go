package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cvforge/internal/config"
	"cvforge/internal/errs"
)

const validContentJSON = `{
	"firstname": "Ana",
	"lastname": "García",
	"email": "ana@example.com",
	"phone": "+34 600 000 000",
	"address": "Madrid, España",
	"summary": "Backend developer con 6 años de experiencia.",
	"experiences": [
		{"title": "Backend Developer", "company": "Acme", "date": "2020-2024", "description": "APIs en Go"},
		{"title": "SRE", "company": "Beta", "date": "2018-2020", "description": "Infra"}
	],
	"education": [
		{"degree": "Ingeniería Informática", "institution": "UCM", "date": "2014-2018", "description": ""}
	],
	"skills": [
		{"category": "dev-skill", "skill_list": "Go, PostgreSQL"},
		{"category": "extra", "skill_list": "Inglés"},
		{"category": "experience", "skill_list": "Liderazgo"}
	],
	"chat_response": "CV generado."
}`

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "claude-haiku-4-5",
		MaxTokens:      1000,
		TimeoutSeconds: 5,
	}
}

func messagesBody(text string) string {
	body, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return string(body)
}

func TestGenerateCVContentSuccess(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Errorf("missing anthropic version header")
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected request messages: %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[0].Content, "RESPONDE ÚNICAMENTE") {
			t.Errorf("schema instructions not appended to prompt")
		}
		w.Write([]byte(messagesBody(validContentJSON)))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	content, err := client.GenerateCVContent(context.Background(), "genera un cv")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if content.Firstname != "Ana" || content.Lastname != "García" {
		t.Fatalf("unexpected content: %+v", content)
	}
	if len(content.Experiences) != 2 || len(content.Skills) != 3 {
		t.Fatalf("unexpected collection sizes: %+v", content)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
}

func TestGenerateCVContentStripsCodeFences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(messagesBody("```json\n" + validContentJSON + "\n```")))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	content, err := client.GenerateCVContent(context.Background(), "genera un cv")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if content.Email != "ana@example.com" {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestGenerateCVContentSchemaFailureNoRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(messagesBody(`{"firstname": "Ana"}`)))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	_, err := client.GenerateCVContent(context.Background(), "genera un cv")
	if err == nil {
		t.Fatalf("expected schema validation error")
	}
	if !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("error %v does not wrap ErrGeneration", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("schema failure must not retry, got %d requests", got)
	}
}

func TestCompleteRetriesTransientOnce(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		w.Write([]byte(messagesBody("hola")))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	text, err := client.Complete(context.Background(), "di hola")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "hola" {
		t.Fatalf("unexpected text: %q", text)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 2 requests (1 retry), got %d", got)
	}
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	_, err := client.Complete(context.Background(), "di hola")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("error %v does not wrap ErrGeneration", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("4xx must not retry, got %d requests", got)
	}
}

func TestCompleteGivesUpAfterSecondTransientFailure(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	_, err := client.Complete(context.Background(), "di hola")
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", got)
	}
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://localhost:0")
	cfg.APIKey = ""
	client := NewClient(cfg, nil)
	_, err := client.Complete(context.Background(), "di hola")
	if err == nil || !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("expected generation error for missing key, got %v", err)
	}
}
