package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// fakeLedger is an in-memory LedgerStore. Any of its error fields makes the
// corresponding lookup fail.
type fakeLedger struct {
	user    *model.User
	subs    []model.Subscription
	entries []model.SpendingEntry

	userErr     error
	subsErr     error
	spendingErr error
}

func (f *fakeLedger) GetUser(_ context.Context, _ string) (*model.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

func (f *fakeLedger) ListSubscriptions(_ context.Context, _ string) ([]model.Subscription, error) {
	if f.subsErr != nil {
		return nil, f.subsErr
	}
	return f.subs, nil
}

func (f *fakeLedger) ListSpending(_ context.Context, _ string) ([]model.SpendingEntry, error) {
	if f.spendingErr != nil {
		return nil, f.spendingErr
	}
	return f.entries, nil
}

func todayEntry(total int) model.SpendingEntry {
	return model.SpendingEntry{
		Service:   model.ServiceLLM,
		Model:     "gpt-4o-mini",
		Tokens:    model.TokenUsage{Input: total / 2, Output: total - total/2, Total: total},
		Timestamp: time.Now().UTC(),
	}
}

func yesterdayEntry(total int) model.SpendingEntry {
	return model.SpendingEntry{
		Service:   model.ServiceLLM,
		Model:     "gpt-4o-mini",
		Tokens:    model.TokenUsage{Total: total},
		Timestamp: time.Now().UTC().Add(-25 * time.Hour),
	}
}

func TestDailyLimitResolutionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("manual override wins", func(t *testing.T) {
		ledger := &fakeLedger{
			user: &model.User{ID: "u1", AccountClass: model.AccountPro, DailyTokenLimit: 42},
			subs: []model.Subscription{{
				Status: model.SubscriptionActive,
				Items:  []model.SubscriptionItem{{ProductMetadata: map[string]string{"daily_token_limit": "9999"}}},
			}},
		}
		l := NewLimiter(ledger, nil)
		assert.Equal(t, 42, l.DailyLimit(ctx, "u1"))
	})

	t.Run("subscription metadata beats class default", func(t *testing.T) {
		ledger := &fakeLedger{
			user: &model.User{ID: "u1", AccountClass: model.AccountFree},
			subs: []model.Subscription{{
				Status: model.SubscriptionActive,
				Items:  []model.SubscriptionItem{{ProductMetadata: map[string]string{"daily_token_limit": "7500"}}},
			}},
		}
		l := NewLimiter(ledger, nil)
		assert.Equal(t, 7500, l.DailyLimit(ctx, "u1"))
	})

	t.Run("trialing subscription is entitled", func(t *testing.T) {
		ledger := &fakeLedger{
			user: &model.User{ID: "u1", AccountClass: model.AccountFree},
			subs: []model.Subscription{{
				Status: model.SubscriptionTrialing,
				Items:  []model.SubscriptionItem{{ProductMetadata: map[string]string{"daily_token_limit": "3000"}}},
			}},
		}
		l := NewLimiter(ledger, nil)
		assert.Equal(t, 3000, l.DailyLimit(ctx, "u1"))
	})

	t.Run("canceled subscription is skipped", func(t *testing.T) {
		ledger := &fakeLedger{
			user: &model.User{ID: "u1", AccountClass: model.AccountBasic},
			subs: []model.Subscription{{
				Status: model.SubscriptionCanceled,
				Items:  []model.SubscriptionItem{{ProductMetadata: map[string]string{"daily_token_limit": "3000"}}},
			}},
		}
		l := NewLimiter(ledger, nil)
		assert.Equal(t, 5000, l.DailyLimit(ctx, "u1"))
	})

	t.Run("invalid metadata falls through to class default", func(t *testing.T) {
		ledger := &fakeLedger{
			user: &model.User{ID: "u1", AccountClass: model.AccountEnterprise},
			subs: []model.Subscription{{
				Status: model.SubscriptionActive,
				Items:  []model.SubscriptionItem{{ProductMetadata: map[string]string{"daily_token_limit": "not-a-number"}}},
			}},
		}
		l := NewLimiter(ledger, nil)
		assert.Equal(t, 100000, l.DailyLimit(ctx, "u1"))
	})

	t.Run("class defaults", func(t *testing.T) {
		for class, want := range map[model.AccountClass]int{
			model.AccountFree:       1000,
			model.AccountBasic:      5000,
			model.AccountPro:        20000,
			model.AccountEnterprise: 100000,
		} {
			ledger := &fakeLedger{user: &model.User{ID: "u1", AccountClass: class}}
			l := NewLimiter(ledger, nil)
			assert.Equal(t, want, l.DailyLimit(ctx, "u1"), "class %s", class)
		}
	})
}

func TestDailyLimitFailsOpen(t *testing.T) {
	ledger := &fakeLedger{userErr: errors.New("database down")}
	l := NewLimiter(ledger, nil)

	// Lookup failure degrades to the free tier, never errors.
	assert.Equal(t, 1000, l.DailyLimit(context.Background(), "u1"))
}

func TestCurrentDailyUsageSumsOnlyToday(t *testing.T) {
	ledger := &fakeLedger{
		user: &model.User{ID: "u1", AccountClass: model.AccountFree},
		entries: []model.SpendingEntry{
			todayEntry(100),
			todayEntry(250),
			yesterdayEntry(9000),
		},
	}
	l := NewLimiter(ledger, nil)

	usage := l.CurrentDailyUsage(context.Background(), "u1")
	assert.Equal(t, 350, usage.TokensUsed)
	assert.True(t, usage.ResetAt.After(time.Now().UTC()))
}

func TestCurrentDailyUsageFailsOpen(t *testing.T) {
	ledger := &fakeLedger{spendingErr: errors.New("database down")}
	l := NewLimiter(ledger, nil)

	usage := l.CurrentDailyUsage(context.Background(), "u1")
	assert.Equal(t, 0, usage.TokensUsed)
}

func TestCheckTokenLimitMonotonicity(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{
		user:    &model.User{ID: "u1", AccountClass: model.AccountFree},
		entries: []model.SpendingEntry{todayEntry(950)},
	}
	l := NewLimiter(ledger, nil)

	t.Run("within limit allowed", func(t *testing.T) {
		result := l.CheckTokenLimit(ctx, "u1", 50)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1000, result.Limit)
		assert.Equal(t, 950, result.Used)
		assert.Equal(t, 50, result.Remaining)
		assert.Empty(t, result.Message)
	})

	t.Run("over limit denied", func(t *testing.T) {
		result := l.CheckTokenLimit(ctx, "u1", 100)
		assert.False(t, result.Allowed)
		assert.Equal(t, 50, result.Remaining)
		assert.Contains(t, result.Message, "Daily token limit exceeded")
	})

	t.Run("remaining never negative", func(t *testing.T) {
		ledger.entries = []model.SpendingEntry{todayEntry(1500)}
		result := l.CheckTokenLimit(ctx, "u1", 1)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Remaining)
	})
}

func TestCheckTokenLimitFailsClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("user lookup failure", func(t *testing.T) {
		ledger := &fakeLedger{userErr: errors.New("database down")}
		l := NewLimiter(ledger, nil)

		result := l.CheckTokenLimit(ctx, "u1", 1)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Limit)
		assert.Equal(t, "Error checking token limit", result.Message)
	})

	t.Run("ledger failure", func(t *testing.T) {
		ledger := &fakeLedger{
			user:        &model.User{ID: "u1", AccountClass: model.AccountPro},
			spendingErr: errors.New("database down"),
		}
		l := NewLimiter(ledger, nil)

		result := l.CheckTokenLimit(ctx, "u1", 1)
		assert.False(t, result.Allowed)
	})
}

func TestUsageStatsPercentageClamped(t *testing.T) {
	ledger := &fakeLedger{
		user:    &model.User{ID: "u1", AccountClass: model.AccountFree},
		entries: []model.SpendingEntry{todayEntry(2500)},
	}
	l := NewLimiter(ledger, nil)

	stats := l.UsageStats(context.Background(), "u1")
	assert.Equal(t, 100.0, stats.Percentage)
	assert.Equal(t, 0, stats.Remaining)
	assert.Equal(t, 2500, stats.Used)
}

func TestLedgerSumMatchesDailyUsage(t *testing.T) {
	entries := []model.SpendingEntry{todayEntry(120), todayEntry(80), todayEntry(300)}

	ledger := &fakeLedger{
		user:    &model.User{ID: "u1", AccountClass: model.AccountFree},
		entries: entries,
	}
	l := NewLimiter(ledger, nil)

	// When every entry is from today, the ledger sum and the daily usage
	// figure must agree exactly.
	usage := l.CurrentDailyUsage(context.Background(), "u1")
	require.Equal(t, TotalTokens(entries), usage.TokensUsed)
}

func TestResetTimes(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), StartOfDayUTC(at))
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), NextResetTime(at))
}
