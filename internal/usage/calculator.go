// Package usage implements token accounting: per-call spending entries, cost
// estimation, and daily quota enforcement.
package usage

import (
	"fmt"
	"time"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// pricing holds per-token USD rates. Embedding models carry input pricing
// only; LLMs carry both directions.
type pricing struct {
	input  float64
	output float64
}

var pricingTable = map[string]pricing{
	"text-embedding-3-large": {input: 0.00013 / 1000},
	"text-embedding-3-small": {input: 0.00002 / 1000},
	"gpt-4o-mini":            {input: 0.15 / 1_000_000, output: 0.60 / 1_000_000},
	"gpt-4o":                 {input: 2.50 / 1_000_000, output: 10.0 / 1_000_000},
}

// CalculateCost returns the USD cost for a token usage on a model. Unknown
// models cost zero.
func CalculateCost(model string, tokens model.TokenUsage) float64 {
	p, ok := pricingTable[model]
	if !ok {
		return 0
	}

	if p.output > 0 {
		return float64(tokens.Input)*p.input + float64(tokens.Output)*p.output
	}
	return float64(tokens.Total) * p.input
}

// NewEmbeddingSpending creates a ledger entry for one embedding call.
// Embedding entries satisfy tokens.total == tokens.input.
func NewEmbeddingSpending(modelName string, tokens int, at time.Time) model.SpendingEntry {
	usage := model.TokenUsage{Input: tokens, Total: tokens}
	return model.SpendingEntry{
		Service:   model.ServiceEmbedding,
		Model:     modelName,
		Tokens:    usage,
		CostUSD:   CalculateCost(modelName, usage),
		Timestamp: at,
	}
}

// NewLLMSpending creates a ledger entry for one LLM call.
// LLM entries satisfy tokens.total == tokens.input + tokens.output.
func NewLLMSpending(modelName string, inputTokens, outputTokens int, at time.Time) model.SpendingEntry {
	usage := model.TokenUsage{
		Input:  inputTokens,
		Output: outputTokens,
		Total:  inputTokens + outputTokens,
	}
	return model.SpendingEntry{
		Service:   model.ServiceLLM,
		Model:     modelName,
		Tokens:    usage,
		CostUSD:   CalculateCost(modelName, usage),
		Timestamp: at,
	}
}

// TotalTokens sums tokens.total across a spending ledger.
func TotalTokens(entries []model.SpendingEntry) int {
	total := 0
	for _, e := range entries {
		total += e.Tokens.Total
	}
	return total
}

// TotalCost sums cost_usd across a spending ledger.
func TotalCost(entries []model.SpendingEntry) float64 {
	total := 0.0
	for _, e := range entries {
		total += e.CostUSD
	}
	return total
}

// Breakdown aggregates a ledger by service.
type Breakdown struct {
	EmbeddingTokens int
	EmbeddingCost   float64
	LLMTokens       int
	LLMCost         float64
	TotalTokens     int
	TotalCost       float64
}

// SpendingBreakdown splits ledger totals by service.
func SpendingBreakdown(entries []model.SpendingEntry) Breakdown {
	var b Breakdown
	for _, e := range entries {
		switch e.Service {
		case model.ServiceEmbedding:
			b.EmbeddingTokens += e.Tokens.Total
			b.EmbeddingCost += e.CostUSD
		case model.ServiceLLM:
			b.LLMTokens += e.Tokens.Total
			b.LLMCost += e.CostUSD
		}
		b.TotalTokens += e.Tokens.Total
		b.TotalCost += e.CostUSD
	}
	return b
}

// EstimateTokens approximates the token count of a text, at roughly four
// characters per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// FormatCost renders a USD amount with precision suited to its magnitude.
func FormatCost(cost float64) string {
	switch {
	case cost < 0.01:
		return fmt.Sprintf("$%.6f", cost)
	case cost < 1:
		return fmt.Sprintf("$%.4f", cost)
	default:
		return fmt.Sprintf("$%.2f", cost)
	}
}
