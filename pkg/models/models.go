// Package models defines core data structures for provider configurations,
// check results, and dashboard telemetry shared across the application.
package models

import (
	"time"
)

// ProtocolType identifies the wire protocol family a provider speaks
type ProtocolType string

const (
	ProtocolAnthropic ProtocolType = "anthropic"
	ProtocolOpenAI    ProtocolType = "openai"
)

// HealthStatus represents the outcome classification of a single check
type HealthStatus string

const (
	StatusOperational      HealthStatus = "operational"
	StatusDegraded         HealthStatus = "degraded"
	StatusFailed           HealthStatus = "failed"
	StatusValidationFailed HealthStatus = "validation_failed"
	StatusMaintenance      HealthStatus = "maintenance"
	StatusError            HealthStatus = "error"
)

// Period is a trend/availability reporting window
type Period string

const (
	Period7d  Period = "7d"
	Period15d Period = "15d"
	Period30d Period = "30d"
)

// Interval returns the window as a SQL interval text ("7 days" etc.).
// Unknown periods fall back to 7 days.
func (p Period) Interval() string {
	switch p {
	case Period15d:
		return "15 days"
	case Period30d:
		return "30 days"
	default:
		return "7 days"
	}
}

// Days returns the window length in days
func (p Period) Days() int {
	switch p {
	case Period15d:
		return 15
	case Period30d:
		return 30
	default:
		return 7
	}
}

// ProviderConfig describes a single AI-model endpoint to check.
// Immutable during one check; reloaded between polling cycles.
type ProviderConfig struct {
	ID          string                 `yaml:"id" json:"id" mapstructure:"id"`
	Name        string                 `yaml:"name" json:"name" mapstructure:"name"`
	Type        ProtocolType           `yaml:"type" json:"type" mapstructure:"type"`
	Model       string                 `yaml:"model" json:"model" mapstructure:"model"`
	Endpoint    string                 `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
	APIKey      string                 `yaml:"apiKey" json:"-" mapstructure:"apiKey"`
	Headers     map[string]string      `yaml:"headers,omitempty" json:"headers,omitempty" mapstructure:"headers"`
	Metadata    map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty" mapstructure:"metadata"`
	Timeout     Duration               `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`
	Enabled     *bool                  `yaml:"enabled,omitempty" json:"enabled,omitempty" mapstructure:"enabled"`
	Maintenance bool                   `yaml:"maintenance,omitempty" json:"maintenance,omitempty" mapstructure:"maintenance"`
	GroupName   string                 `yaml:"group,omitempty" json:"group,omitempty" mapstructure:"group"`
}

// IsEnabled reports whether the provider should be checked.
// Providers default to enabled when the flag is absent.
func (p *ProviderConfig) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// Challenge is a one-shot arithmetic verification question.
// Created fresh per check; never persisted.
type Challenge struct {
	Prompt         string
	ExpectedAnswer string
}

// CheckResult is the immutable outcome of one provider check
type CheckResult struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Type          ProtocolType `json:"type"`
	Endpoint      string       `json:"endpoint"`
	Model         string       `json:"model"`
	Status        HealthStatus `json:"status"`
	LatencyMs     *int64       `json:"latency_ms"`
	PingLatencyMs *int64       `json:"ping_latency_ms"`
	CheckedAt     time.Time    `json:"checked_at"`
	Message       string       `json:"message"`
	GroupName     string       `json:"group_name,omitempty"`
}

// HistorySnapshot maps provider id to its retained results, newest first,
// capped per provider by the snapshot store.
type HistorySnapshot map[string][]CheckResult

// TrendDataPoint is one downsampled point of a provider's latency/status series
type TrendDataPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	LatencyMs *int64       `json:"latency_ms"`
	Status    HealthStatus `json:"status"`
}

// TrendDataMap maps provider id to its trend series, ascending by timestamp
type TrendDataMap map[string][]TrendDataPoint

// AvailabilityStat summarizes check outcomes for one provider over one period
type AvailabilityStat struct {
	Period           Period   `json:"period"`
	TotalChecks      int64    `json:"total_checks"`
	OperationalCount int64    `json:"operational_count"`
	AvailabilityPct  *float64 `json:"availability_pct"`
}

// AvailabilityStatsMap maps provider id to its per-period availability stats
type AvailabilityStatsMap map[string][]AvailabilityStat
