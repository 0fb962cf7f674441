package probes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/pkg/models"
)

const (
	openaiDefaultBase = "https://generativelanguage.googleapis.com/v1beta/openai"
	openaiBudget      = 15 * time.Second
	openaiProbePrompt = "hi"
)

// OpenAIProber checks providers speaking the OpenAI-compatible streaming
// chat-completions API. It is a liveness probe only: a single 1-token
// request with temperature 0, no challenge verification.
type OpenAIProber struct {
	cache  *ClientCache
	pinger *PingProber
	logger *logging.Logger
}

// NewOpenAIProber creates a prober for OpenAI-compatible endpoints
func NewOpenAIProber(cache *ClientCache, pinger *PingProber, logger *logging.Logger) *OpenAIProber {
	return &OpenAIProber{
		cache:  cache,
		pinger: pinger,
		logger: logger.WithComponent(logging.ComponentProbe),
	}
}

// RunCheck performs one liveness check, joining the concurrent ping
// measurement before returning.
func (o *OpenAIProber) RunCheck(ctx context.Context, config models.ProviderConfig) models.CheckResult {
	baseURL := deriveBaseURL(config.Endpoint, openaiDefaultBase)
	endpoint := baseURL + "/chat/completions"
	result := newResult(config, endpoint)

	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(config, openaiBudget))
	defer cancel()

	pingCh := make(chan *int64, 1)
	go func() {
		pingCh <- o.pinger.Measure(ctx, endpoint)
	}()

	start := time.Now()
	err := o.streamProbe(ctx, config, baseURL, endpoint)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case err != nil && isAbortError(err):
		result.Status = models.StatusFailed
		result.Message = timeoutMessage
	case err != nil:
		result.Status = models.StatusFailed
		result.Message = truncateForDisplay(err.Error())
	default:
		result.LatencyMs = &elapsed
		result.Status = classifyLatency(elapsed)
		result.Message = "endpoint responsive"
	}

	result.PingLatencyMs = <-pingCh

	o.logger.ProbeCheck(config.ID, string(config.Type), config.GroupName,
		string(result.Status), result.LatencyMs, result.Message)
	return result
}

// streamProbe sends the minimal streaming request and returns once the
// first stream chunk arrives. A 200 with no chunks at all counts as dead.
func (o *OpenAIProber) streamProbe(ctx context.Context, config models.ProviderConfig, baseURL, endpoint string) error {
	body := map[string]interface{}{
		"model":       config.Model,
		"max_tokens":  1,
		"temperature": 0,
		"stream":      true,
		"messages": []map[string]string{
			{"role": "user", "content": openaiProbePrompt},
		},
	}
	for k, v := range config.Metadata {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+config.APIKey)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}

	client := o.cache.Get(baseURL, config.APIKey, config.Headers)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New(extractAPIError(resp.StatusCode, raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if data, ok := sseData(scanner.Text()); ok && data != "" && data != "[DONE]" {
			// First content chunk is enough; liveness confirmed.
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return errors.New("stream ended without any data")
}
