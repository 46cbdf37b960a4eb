package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

func TestCalculateCost(t *testing.T) {
	t.Run("llm prices both directions", func(t *testing.T) {
		cost := CalculateCost("gpt-4o-mini", model.TokenUsage{Input: 1_000_000, Output: 1_000_000, Total: 2_000_000})
		assert.InDelta(t, 0.75, cost, 1e-9)
	})

	t.Run("embedding prices by total", func(t *testing.T) {
		cost := CalculateCost("text-embedding-3-large", model.TokenUsage{Input: 1000, Total: 1000})
		assert.InDelta(t, 0.00013, cost, 1e-9)
	})

	t.Run("unknown model is free", func(t *testing.T) {
		assert.Zero(t, CalculateCost("some-future-model", model.TokenUsage{Total: 5000}))
	})
}

func TestSpendingEntryInvariants(t *testing.T) {
	now := time.Now()

	embedding := NewEmbeddingSpending("text-embedding-3-large", 300, now)
	assert.Equal(t, model.ServiceEmbedding, embedding.Service)
	assert.Equal(t, embedding.Tokens.Input, embedding.Tokens.Total)

	llm := NewLLMSpending("gpt-4o-mini", 200, 150, now)
	assert.Equal(t, model.ServiceLLM, llm.Service)
	assert.Equal(t, llm.Tokens.Input+llm.Tokens.Output, llm.Tokens.Total)
	assert.Equal(t, 350, llm.Tokens.Total)
}

func TestTotalTokens(t *testing.T) {
	now := time.Now()
	entries := []model.SpendingEntry{
		NewEmbeddingSpending("text-embedding-3-large", 120, now),
		NewLLMSpending("gpt-4o-mini", 500, 380, now),
		NewLLMSpending("gpt-4o-mini", 10, 0, now),
	}

	sum := 0
	for _, e := range entries {
		sum += e.Tokens.Total
	}
	assert.Equal(t, sum, TotalTokens(entries))
	assert.Equal(t, 1010, TotalTokens(entries))
}

func TestSpendingBreakdown(t *testing.T) {
	now := time.Now()
	entries := []model.SpendingEntry{
		NewEmbeddingSpending("text-embedding-3-large", 100, now),
		NewLLMSpending("gpt-4o-mini", 400, 200, now),
	}

	b := SpendingBreakdown(entries)
	assert.Equal(t, 100, b.EmbeddingTokens)
	assert.Equal(t, 600, b.LLMTokens)
	assert.Equal(t, 700, b.TotalTokens)
	assert.InDelta(t, TotalCost(entries), b.TotalCost, 1e-9)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 3, EstimateTokens("hello, world"))
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.000130", FormatCost(0.00013))
	assert.Equal(t, "$0.5000", FormatCost(0.5))
	assert.Equal(t, "$12.35", FormatCost(12.345))
}
