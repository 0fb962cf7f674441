package probes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelwatch/modelwatch/internal/challenge"
	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/pkg/models"
)

const (
	anthropicDefaultBase = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
	anthropicBudget      = 45 * time.Second
	anthropicMaxTokens   = 16
)

// AnthropicProber checks providers speaking the native streaming message
// API. It sends an arithmetic challenge and verifies the streamed answer,
// so a passing check proves the model ran inference, not just that the
// endpoint accepted the request.
type AnthropicProber struct {
	cache    *ClientCache
	pinger   *PingProber
	logger   *logging.Logger
	generate func() models.Challenge
}

// NewAnthropicProber creates a prober for the native message protocol
func NewAnthropicProber(cache *ClientCache, pinger *PingProber, logger *logging.Logger) *AnthropicProber {
	return &AnthropicProber{
		cache:    cache,
		pinger:   pinger,
		logger:   logger.WithComponent(logging.ComponentProbe),
		generate: challenge.Generate,
	}
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// RunCheck performs one verified health check. The ping probe runs
// concurrently with the model call and is always awaited before the
// result is returned, on every exit path.
func (a *AnthropicProber) RunCheck(ctx context.Context, config models.ProviderConfig) models.CheckResult {
	baseURL := deriveBaseURL(config.Endpoint, anthropicDefaultBase)
	endpoint := baseURL + "/v1/messages"
	result := newResult(config, endpoint)

	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(config, anthropicBudget))
	defer cancel()

	pingCh := make(chan *int64, 1)
	go func() {
		pingCh <- a.pinger.Measure(ctx, endpoint)
	}()

	ch := a.generate()
	start := time.Now()

	text, verified, err := a.streamChallenge(ctx, config, baseURL, endpoint, ch)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case err != nil && isAbortError(err):
		result.Status = models.StatusFailed
		result.Message = timeoutMessage
	case err != nil:
		result.Status = models.StatusFailed
		result.Message = truncateForDisplay(err.Error())
	case !verified:
		result.Status = models.StatusFailed
		result.LatencyMs = &elapsed
		actual := truncateForDisplay(text)
		if actual == "" {
			actual = "(empty)"
		}
		result.Message = fmt.Sprintf("expected %s, got: %s", ch.ExpectedAnswer, actual)
	default:
		result.LatencyMs = &elapsed
		result.Status = classifyLatency(elapsed)
		if result.Status == models.StatusDegraded {
			result.Message = fmt.Sprintf("verified but slow: %.1fs", float64(elapsed)/1000)
		} else {
			result.Message = "challenge verified"
		}
	}

	result.PingLatencyMs = <-pingCh

	a.logger.ProbeCheck(config.ID, string(config.Type), config.GroupName,
		string(result.Status), result.LatencyMs, result.Message)
	return result
}

// streamChallenge opens the streaming request and accumulates text deltas
// until the challenge validates or the stream ends. Returns the text seen
// so far, whether it validated, and any transport-level error.
func (a *AnthropicProber) streamChallenge(ctx context.Context, config models.ProviderConfig, baseURL, endpoint string, ch models.Challenge) (string, bool, error) {
	body := map[string]interface{}{
		"model":      config.Model,
		"max_tokens": anthropicMaxTokens,
		"stream":     true,
		"messages": []map[string]string{
			{"role": "user", "content": ch.Prompt},
		},
	}
	// Provider metadata overrides the defaults above
	for k, v := range config.Metadata {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}

	client := a.cache.Get(baseURL, config.APIKey, config.Headers)
	resp, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, errors.New(extractAPIError(resp.StatusCode, raw))
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := sseData(scanner.Text())
		if !ok || data == "" || data == "[DONE]" {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" {
			continue
		}

		accumulated.WriteString(event.Delta.Text)
		if challenge.Validate(accumulated.String(), ch.ExpectedAnswer) {
			// Short-circuit: stop consuming the stream as soon as the
			// answer is seen.
			return accumulated.String(), true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return accumulated.String(), false, err
	}

	return accumulated.String(), false, nil
}
