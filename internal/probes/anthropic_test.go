package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelwatch/modelwatch/pkg/models"
)

func fixedChallenge() models.Challenge {
	return models.Challenge{
		Prompt:         "37 + 8 = ?",
		ExpectedAnswer: "45",
	}
}

func newAnthropicTestProber(t *testing.T) *AnthropicProber {
	t.Helper()
	logger := testLogger(t)
	p := NewAnthropicProber(NewClientCache(), testPinger(logger), logger)
	p.generate = fixedChallenge
	return p
}

func anthropicConfig(endpoint string) models.ProviderConfig {
	return models.ProviderConfig{
		ID:       "claude-test",
		Name:     "Claude Test",
		Type:     models.ProtocolAnthropic,
		Model:    "claude-3-5-haiku",
		Endpoint: endpoint,
		APIKey:   "test-key",
	}
}

func writeTextDelta(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]interface{}{
		"type": "content_block_delta",
		"delta": map[string]string{
			"type": "text_delta",
			"text": text,
		},
	})
	fmt.Fprintf(w, "event: content_block_delta\ndata: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestAnthropicRunCheckOperationalShortCircuits(t *testing.T) {
	handlerDone := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)

		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body["stream"] != true {
			t.Errorf("expected streaming request")
		}
		if body["max_tokens"] != float64(16) {
			t.Errorf("expected max_tokens 16, got %v", body["max_tokens"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		writeTextDelta(t, w, "Let me think... ")
		writeTextDelta(t, w, "45.")

		// Keep streaming open; a short-circuiting client must not wait
		// for stream end.
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
			t.Error("client never disconnected after validation")
		}
	}))
	defer server.Close()

	prober := newAnthropicTestProber(t)

	start := time.Now()
	result := prober.RunCheck(context.Background(), anthropicConfig(server.URL))

	if time.Since(start) > 5*time.Second {
		t.Fatal("check did not short-circuit after the answer arrived")
	}
	if result.Status != models.StatusOperational {
		t.Fatalf("expected operational, got %s (%s)", result.Status, result.Message)
	}
	if result.LatencyMs == nil {
		t.Fatal("expected measured latency")
	}
	if result.PingLatencyMs == nil {
		t.Error("expected ping latency against local server")
	}
	if result.ID != "claude-test" || result.Type != models.ProtocolAnthropic {
		t.Errorf("result identity fields wrong: %+v", result)
	}

	<-handlerDone
}

func TestAnthropicRunCheckValidationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeTextDelta(t, w, "I would rather not do arithmetic today.")
	}))
	defer server.Close()

	prober := newAnthropicTestProber(t)
	result := prober.RunCheck(context.Background(), anthropicConfig(server.URL))

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "expected 45") {
		t.Errorf("message should name the expected answer, got %q", result.Message)
	}
	if !strings.Contains(result.Message, "rather not") {
		t.Errorf("message should include the actual reply, got %q", result.Message)
	}
	if result.LatencyMs == nil {
		t.Error("validation failure still measures latency")
	}
}

func TestAnthropicRunCheckEmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	prober := newAnthropicTestProber(t)
	result := prober.RunCheck(context.Background(), anthropicConfig(server.URL))

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "got: (empty)") {
		t.Errorf("message should show the (empty) placeholder, got %q", result.Message)
	}
}

func TestAnthropicRunCheckTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	prober := newAnthropicTestProber(t)
	config := anthropicConfig(server.URL)
	config.Timeout = models.Duration(200 * time.Millisecond)

	result := prober.RunCheck(context.Background(), config)

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed on timeout, got %s", result.Status)
	}
	if result.Message != "request timed out" {
		t.Errorf("expected timeout message, got %q", result.Message)
	}
	if result.LatencyMs != nil {
		t.Error("timed-out check must not report a latency")
	}
}

func TestAnthropicRunCheckHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	prober := newAnthropicTestProber(t)
	result := prober.RunCheck(context.Background(), anthropicConfig(server.URL))

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "HTTP 401") || !strings.Contains(result.Message, "invalid x-api-key") {
		t.Errorf("expected extracted API error, got %q", result.Message)
	}
	if result.LatencyMs != nil {
		t.Error("HTTP error must not report a latency")
	}
}

func TestAnthropicMetadataMergedIntoRequest(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		writeTextDelta(t, w, "45")
	}))
	defer server.Close()

	prober := newAnthropicTestProber(t)
	config := anthropicConfig(server.URL)
	config.Metadata = map[string]interface{}{
		"max_tokens": 32,
		"thinking":   map[string]interface{}{"type": "disabled"},
	}

	result := prober.RunCheck(context.Background(), config)
	if result.Status != models.StatusOperational {
		t.Fatalf("expected operational, got %s (%s)", result.Status, result.Message)
	}

	if gotBody["max_tokens"] != float64(32) {
		t.Errorf("metadata should override max_tokens, got %v", gotBody["max_tokens"])
	}
	if _, ok := gotBody["thinking"]; !ok {
		t.Error("metadata keys should be merged into the request body")
	}
}
