package model

import (
	"time"
)

// ServiceType identifies the billable service behind a spending entry.
type ServiceType string

const (
	ServiceEmbedding ServiceType = "embedding"
	ServiceLLM       ServiceType = "llm"
)

// TokenUsage holds token counts for one billable call.
// For LLM entries Total == Input + Output; for embedding entries Total == Input.
type TokenUsage struct {
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`
	Total  int `json:"total"`
}

// SpendingEntry is one billable token-consuming event attached to a
// conversation. The spending ledger is append-only.
type SpendingEntry struct {
	Service   ServiceType `json:"service"`
	Model     string      `json:"model"`
	Tokens    TokenUsage  `json:"tokens"`
	CostUSD   float64     `json:"cost_usd,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DailyTokenUsage is the derived usage for the current UTC day.
type DailyTokenUsage struct {
	Date       string    `json:"date"`
	TokensUsed int       `json:"tokens_used"`
	ResetAt    time.Time `json:"reset_at"`
}

// TokenLimitCheckResult is a point-in-time allow/deny decision. It is
// recomputed on every request and never persisted.
type TokenLimitCheckResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Message   string    `json:"message,omitempty"`
}

// UsageStats is the display-oriented view of a user's daily usage.
type UsageStats struct {
	Limit      int       `json:"limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	Percentage float64   `json:"percentage"`
	ResetAt    time.Time `json:"reset_at"`
}

// UsageSnapshot is emitted inline in the event stream after each turn.
type UsageSnapshot struct {
	TokensUsed     int       `json:"tokens_used"`
	CostUSD        float64   `json:"cost_usd"`
	DailyLimit     int       `json:"daily_limit"`
	DailyUsed      int       `json:"daily_used"`
	DailyRemaining int       `json:"daily_remaining"`
	ResetAt        time.Time `json:"reset_at"`
}
