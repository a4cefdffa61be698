package models

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// BillingSnapshot is the billing record of a customer as reported by the billing API.
type BillingSnapshot struct {
	ID                string  `json:"id"`
	CustomerID        string  `json:"customerId"`
	MonthlyCredits    float64 `json:"monthlyCredits"`
	UsedCredits       float64 `json:"usedCredits"`
	AdditionalCredits float64 `json:"additionalCredits"`
	RemainingCredits  float64 `json:"remainingCredits"`
	DebtLimit         float64 `json:"debtLimit"`
}

// UsageEntry is one completed chat turn as written to the usage ledger.
type UsageEntry struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	CustomerID       string    `json:"customer_id"`
	SenderID         string    `json:"sender_id"`
	InputChannel     string    `json:"input_channel"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

type UsageSummary struct {
	Turns            int64 `json:"turns"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
