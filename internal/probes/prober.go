// Package probes implements the per-protocol health-check clients that
// verify AI-model endpoints are alive and actually running inference.
package probes

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/pkg/models"
)

// DegradedThresholdMs separates operational from degraded responses.
// A verified check slower than this is still up, just slow.
const DegradedThresholdMs = 6000

const (
	userAgent         = "modelwatch/0.1.0"
	maxMessagePreview = 100
)

// Prober runs one health check against a provider endpoint. Implementations
// never return an error; every failure mode is folded into the result.
type Prober interface {
	RunCheck(ctx context.Context, config models.ProviderConfig) models.CheckResult
}

// Registry maps protocol families to their probe clients
type Registry struct {
	probers map[models.ProtocolType]Prober
}

// NewRegistry wires up one prober per supported protocol, all sharing the
// same client cache and ping prober.
func NewRegistry(cache *ClientCache, pinger *PingProber, logger *logging.Logger) *Registry {
	return &Registry{
		probers: map[models.ProtocolType]Prober{
			models.ProtocolAnthropic: NewAnthropicProber(cache, pinger, logger),
			models.ProtocolOpenAI:    NewOpenAIProber(cache, pinger, logger),
		},
	}
}

// NewRegistryWith builds a registry from an explicit prober map
func NewRegistryWith(probers map[models.ProtocolType]Prober) *Registry {
	return &Registry{probers: probers}
}

// For returns the prober for the given protocol family
func (r *Registry) For(protocol models.ProtocolType) (Prober, bool) {
	p, ok := r.probers[protocol]
	return p, ok
}

// newResult seeds a CheckResult with the provider's identity fields.
// Status, latency, and message are filled in by the caller.
func newResult(config models.ProviderConfig, endpoint string) models.CheckResult {
	return models.CheckResult{
		ID:        config.ID,
		Name:      config.Name,
		Type:      config.Type,
		Endpoint:  endpoint,
		Model:     config.Model,
		CheckedAt: time.Now().UTC(),
		GroupName: config.GroupName,
	}
}

// classifyLatency maps a verified check's elapsed time onto a status
func classifyLatency(latencyMs int64) models.HealthStatus {
	if latencyMs > DegradedThresholdMs {
		return models.StatusDegraded
	}
	return models.StatusOperational
}

// truncateForDisplay caps a message at maxMessagePreview characters
func truncateForDisplay(s string) string {
	if len(s) <= maxMessagePreview {
		return s
	}
	return s[:maxMessagePreview] + "..."
}

// knownPathSuffixes are API-call paths that may appear in a configured
// endpoint; stripping them yields the base URL used for client caching.
var knownPathSuffixes = []string{
	"/v1/messages",
	"/v1/chat/completions",
	"/chat/completions",
}

// deriveBaseURL normalizes an endpoint down to scheme://host[/prefix],
// dropping query, fragment, known call paths, and trailing slashes.
// An empty or unparseable endpoint yields the protocol default.
func deriveBaseURL(endpoint, defaultBase string) string {
	if endpoint == "" {
		return defaultBase
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return defaultBase
	}
	u.RawQuery = ""
	u.Fragment = ""

	path := u.Path
	for _, suffix := range knownPathSuffixes {
		if strings.HasSuffix(path, suffix) {
			path = strings.TrimSuffix(path, suffix)
			break
		}
	}
	u.Path = strings.TrimSuffix(path, "/")

	return u.String()
}

// sseData extracts the payload of one server-sent-events line.
// Returns false for blank lines, comments, and non-data fields.
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

// effectiveTimeout picks the per-check deadline: the configured timeout
// when present, otherwise the protocol default.
func effectiveTimeout(config models.ProviderConfig, defaultBudget time.Duration) time.Duration {
	if d := config.Timeout.ToDuration(); d > 0 {
		return d
	}
	return defaultBudget
}
