package model

// AccountClass is the coarse account tier used for fallback limits.
type AccountClass string

const (
	AccountFree       AccountClass = "free"
	AccountBasic      AccountClass = "basic"
	AccountPro        AccountClass = "pro"
	AccountEnterprise AccountClass = "enterprise"
)

// User is a chat user as seen by usage accounting.
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	AccountClass AccountClass `json:"account_class"`

	// DailyTokenLimit is a manual override; it wins over any subscription
	// metadata when positive.
	DailyTokenLimit int `json:"daily_token_limit,omitempty"`
}

// SubscriptionStatus mirrors the billing provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionPaused   SubscriptionStatus = "paused"
)

// SubscriptionItem carries the metadata of the product backing one line item.
type SubscriptionItem struct {
	ProductID       string            `json:"product_id"`
	ProductMetadata map[string]string `json:"product_metadata,omitempty"`
}

// Subscription is a user's billing subscription with its line items.
type Subscription struct {
	ID     string             `json:"id"`
	UserID string             `json:"user_id"`
	Status SubscriptionStatus `json:"status"`
	Items  []SubscriptionItem `json:"items"`
}

// IsEntitled reports whether the subscription can carry a token cap.
func (s Subscription) IsEntitled() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}
