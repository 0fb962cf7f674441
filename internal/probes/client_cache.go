package probes

import (
	"crypto/tls"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ClientCache maps a (base URL, credential, headers) triple to a reusable
// HTTP client so connection pools survive across polling cycles. Entries
// live for the process lifetime; the key space is bounded by the number
// of configured providers.
type ClientCache struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClientCache creates an empty client cache
func NewClientCache() *ClientCache {
	return &ClientCache{
		clients: make(map[string]*http.Client),
	}
}

// Get returns the cached client for the composite key, creating it on
// first use. Per-request deadlines come from the caller's context, so
// the client itself carries no timeout.
func (c *ClientCache) Get(baseURL, apiKey string, headers map[string]string) *http.Client {
	key := cacheKey(baseURL, apiKey, headers)

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:    &tls.Config{InsecureSkipVerify: false},
			MaxIdleConns:       10,
			IdleConnTimeout:    30 * time.Second,
			DisableCompression: false,
			DisableKeepAlives:  false,
		},
	}
	c.clients[key] = client
	return client
}

// Reset drops all cached clients. Used on configuration reload.
func (c *ClientCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[string]*http.Client)
}

// Len reports the number of distinct cached clients
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// cacheKey builds a stable composite key. Headers are serialized in
// sorted order so map iteration order cannot split the cache.
func cacheKey(baseURL, apiKey string, headers map[string]string) string {
	var b strings.Builder
	b.WriteString(baseURL)
	b.WriteString("::")
	b.WriteString(apiKey)
	b.WriteString("::")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(headers[k])
		b.WriteString(";")
	}

	return b.String()
}
