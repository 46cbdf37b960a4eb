package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/internal/model"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// productLimitKey is the product metadata key carrying a per-day token cap.
const productLimitKey = "daily_token_limit"

// defaultLimits are the fallback daily caps per account class.
var defaultLimits = map[model.AccountClass]int{
	model.AccountFree:       1000,
	model.AccountBasic:      5000,
	model.AccountPro:        20000,
	model.AccountEnterprise: 100000,
}

// LedgerStore is the read side of usage accounting: user records, their
// subscriptions, and the full spending ledger across all sessions.
type LedgerStore interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	ListSpending(ctx context.Context, userID string) ([]model.SpendingEntry, error)
}

// Limiter computes daily token quotas and allow/deny decisions.
//
// There is no reservation between a check and the eventual ledger write:
// concurrent requests from one user can each pass the check and jointly
// exceed the cap by up to one request's worth of tokens. Best-effort quota,
// kept deliberately.
type Limiter struct {
	store  LedgerStore
	logger *logger.Logger
}

// NewLimiter creates a quota limiter over a ledger store.
func NewLimiter(store LedgerStore, log *logger.Logger) *Limiter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Limiter{store: store, logger: log}
}

// DailyLimit resolves a user's daily token cap: manual override on the user
// record, else the cap in the product metadata of an entitled subscription,
// else the account-class default. Lookup failures degrade to the free tier;
// this path never fails.
func (l *Limiter) DailyLimit(ctx context.Context, userID string) int {
	limit, err := l.dailyLimit(ctx, userID)
	if err != nil {
		l.logger.Error("failed to resolve daily limit, using free tier",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return defaultLimits[model.AccountFree]
	}
	return limit
}

func (l *Limiter) dailyLimit(ctx context.Context, userID string) (int, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load user: %w", err)
	}

	if user.DailyTokenLimit > 0 {
		return user.DailyTokenLimit, nil
	}

	if limit := l.limitFromSubscription(ctx, userID); limit > 0 {
		return limit, nil
	}

	if limit, ok := defaultLimits[user.AccountClass]; ok {
		return limit, nil
	}
	return defaultLimits[model.AccountFree], nil
}

// limitFromSubscription extracts a cap from the first entitled subscription
// item carrying a valid positive integer. Zero means no subscription cap.
func (l *Limiter) limitFromSubscription(ctx context.Context, userID string) int {
	subs, err := l.store.ListSubscriptions(ctx, userID)
	if err != nil {
		l.logger.Warn("failed to load subscriptions",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0
	}

	for _, sub := range subs {
		if !sub.IsEntitled() {
			continue
		}
		for _, item := range sub.Items {
			raw, ok := item.ProductMetadata[productLimitKey]
			if !ok {
				continue
			}
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				continue
			}
			return limit
		}
	}
	return 0
}

// CurrentDailyUsage sums tokens.total from spending entries that occurred
// within the current UTC day, scanning all of the user's sessions. Failures
// degrade to zero usage.
func (l *Limiter) CurrentDailyUsage(ctx context.Context, userID string) model.DailyTokenUsage {
	usage, err := l.currentDailyUsage(ctx, userID)
	if err != nil {
		l.logger.Error("failed to calculate daily usage",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		dayStart := StartOfDayUTC(time.Now())
		return model.DailyTokenUsage{
			Date:    dayStart.Format("2006-01-02"),
			ResetAt: NextResetTime(time.Now()),
		}
	}
	return usage
}

func (l *Limiter) currentDailyUsage(ctx context.Context, userID string) (model.DailyTokenUsage, error) {
	now := time.Now()
	dayStart := StartOfDayUTC(now)

	entries, err := l.store.ListSpending(ctx, userID)
	if err != nil {
		return model.DailyTokenUsage{}, fmt.Errorf("failed to load spending ledger: %w", err)
	}

	total := 0
	for _, entry := range entries {
		if !entry.Timestamp.Before(dayStart) {
			total += entry.Tokens.Total
		}
	}

	return model.DailyTokenUsage{
		Date:       dayStart.Format("2006-01-02"),
		TokensUsed: total,
		ResetAt:    NextResetTime(now),
	}, nil
}

// CheckTokenLimit decides whether a prospective request fits in today's
// quota. Unlike DailyLimit, the gating path fails closed: a lookup failure
// yields allowed=false with a zero limit.
func (l *Limiter) CheckTokenLimit(ctx context.Context, userID string, tokensToUse int) model.TokenLimitCheckResult {
	limit, err := l.dailyLimit(ctx, userID)
	if err != nil {
		return l.failClosed(userID, err)
	}

	current, err := l.currentDailyUsage(ctx, userID)
	if err != nil {
		return l.failClosed(userID, err)
	}

	remaining := limit - current.TokensUsed
	if remaining < 0 {
		remaining = 0
	}
	allowed := current.TokensUsed+tokensToUse <= limit

	result := model.TokenLimitCheckResult{
		Allowed:   allowed,
		Limit:     limit,
		Used:      current.TokensUsed,
		Remaining: remaining,
		ResetAt:   current.ResetAt,
	}
	if !allowed {
		result.Message = fmt.Sprintf("Daily token limit exceeded. Resets at %s",
			current.ResetAt.UTC().Format(time.RFC3339))
	}
	return result
}

func (l *Limiter) failClosed(userID string, err error) model.TokenLimitCheckResult {
	l.logger.Error("token limit check failed",
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return model.TokenLimitCheckResult{
		Allowed: false,
		ResetAt: time.Now().UTC(),
		Message: "Error checking token limit",
	}
}

// UsageStats formats current usage for display, with percentage clamped to
// [0, 100].
func (l *Limiter) UsageStats(ctx context.Context, userID string) model.UsageStats {
	limit := l.DailyLimit(ctx, userID)
	current := l.CurrentDailyUsage(ctx, userID)

	remaining := limit - current.TokensUsed
	if remaining < 0 {
		remaining = 0
	}

	percentage := 0.0
	if limit > 0 {
		percentage = float64(current.TokensUsed) / float64(limit) * 100
	}
	if percentage > 100 {
		percentage = 100
	}

	return model.UsageStats{
		Limit:      limit,
		Used:       current.TokensUsed,
		Remaining:  remaining,
		Percentage: percentage,
		ResetAt:    current.ResetAt,
	}
}

// StartOfDayUTC truncates a time to 00:00 UTC of its day.
func StartOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextResetTime is the next UTC midnight after t.
func NextResetTime(t time.Time) time.Time {
	return StartOfDayUTC(t).Add(24 * time.Hour)
}
