// Package conversation gates chat turns behind a credit check and streams the
// answers of the completion gateway.
package conversation

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/creditchat/internal/models"
	"github.com/RichardoC/creditchat/internal/usage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefusalMessage is the only fragment streamed when the customer is out of credits.
const RefusalMessage = "I'm sorry, but you don't have enough credits to chat with me :("

// Billing is the billing gateway used by a Conversation.
type Billing interface {
	CheckCredits(ctx context.Context, customerID, senderID, inputChannel string) bool
	GetBillingInfo(ctx context.Context, customerID string) *models.BillingSnapshot
	ConsumeCredits(ctx context.Context, customerID string, amount int) bool
}

// Completer is the completion gateway owning the transcript of a Conversation.
type Completer interface {
	StreamSend(ctx context.Context, message, systemPrompt string) iter.Seq2[string, error]
	ResetConversation()
	ConversationHistory() []models.Message
	SetSystemPrompt(prompt string)
}

// UsageRecorder stores completed turns.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, entry *models.UsageEntry) error
}

// Identity is what the billing API is told about the party chatting.
type Identity struct {
	CustomerID   string
	SenderID     string
	InputChannel string
}

// Conversation is one user's chat: a transcript held by the completion
// gateway plus the system prompt and billing identity it runs under.
type Conversation struct {
	billing   Billing
	completer Completer
	identity  Identity
	logger    *zap.Logger

	recorder UsageRecorder
	counter  usage.Counter

	// turn serializes StreamMessage calls.
	turn sync.Mutex

	mu           sync.Mutex
	systemPrompt string
	lastActive   time.Time
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithUsageRecorder records every completed turn in r.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Conversation) { c.recorder = r }
}

// WithTokenCounter sets the counter used for usage entries.
func WithTokenCounter(counter usage.Counter) Option {
	return func(c *Conversation) { c.counter = counter }
}

// New creates a conversation. A non-empty systemPrompt is applied to the
// completer right away.
func New(billing Billing, completer Completer, identity Identity, systemPrompt string, logger *zap.Logger, opts ...Option) *Conversation {
	c := &Conversation{
		billing:    billing,
		completer:  completer,
		identity:   identity,
		logger:     logger,
		counter:    usage.EstimateFunc(usage.Estimate),
		lastActive: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if systemPrompt != "" {
		c.systemPrompt = systemPrompt
		completer.SetSystemPrompt(systemPrompt)
	}
	return c
}

// StreamMessage checks credits and streams the answer to message. Without
// credits it yields RefusalMessage once and leaves the transcript alone.
// Turns of one conversation run one at a time.
func (c *Conversation) StreamMessage(ctx context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.turn.Lock()
		defer c.turn.Unlock()
		c.touch()

		if !c.CheckCredits(ctx) {
			c.logger.Warn("Customer has insufficient credits, the user request has been blocked",
				zap.String("customerId", c.identity.CustomerID))
			yield(RefusalMessage, nil)
			return
		}

		requestID := "turn_" + uuid.New().String()[:8]
		var answer strings.Builder
		for fragment, err := range c.completer.StreamSend(ctx, message, c.SystemPrompt()) {
			if err != nil {
				c.logger.Error("Error streaming message",
					zap.Error(err),
					zap.String("requestId", requestID))
				yield("", err)
				return
			}
			answer.WriteString(fragment)
			if !yield(fragment, nil) {
				return
			}
		}

		c.touch()
		c.account(ctx, requestID, answer.String())
	}
}

// account records a completed turn and reports it to billing.
func (c *Conversation) account(ctx context.Context, requestID, answer string) {
	completionTokens := c.counter.Count(answer)
	history := c.completer.ConversationHistory()
	if n := len(history); n > 0 && history[n-1].Role == models.RoleAssistant {
		history = history[:n-1]
	}
	promptTokens := usage.CountMessages(c.counter, history)

	if c.recorder != nil {
		entry := &models.UsageEntry{
			RequestID:        requestID,
			CustomerID:       c.identity.CustomerID,
			SenderID:         c.identity.SenderID,
			InputChannel:     c.identity.InputChannel,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
		}
		if err := c.recorder.RecordUsage(context.WithoutCancel(ctx), entry); err != nil {
			c.logger.Warn("Failed to record usage", zap.Error(err), zap.String("requestId", requestID))
		}
	}

	c.billing.ConsumeCredits(ctx, c.identity.CustomerID, 1)

	c.logger.Debug("Turn completed",
		zap.String("requestId", requestID),
		zap.Int("promptTokens", promptTokens),
		zap.Int("completionTokens", completionTokens))
}

// CheckCredits asks the billing gateway whether this conversation may
// continue. The gateway is fail-closed, so any billing failure reads as false.
// TODO: forward the real sender and channel once the HTTP surface knows them.
func (c *Conversation) CheckCredits(ctx context.Context) bool {
	ok := c.billing.CheckCredits(ctx, c.identity.CustomerID, c.identity.SenderID, c.identity.InputChannel)
	c.logger.Debug("Credit check", zap.String("customerId", c.identity.CustomerID), zap.Bool("hasCredits", ok))
	return ok
}

// BillingInfo returns the billing snapshot of the conversation's customer, or
// nil when it is unavailable.
func (c *Conversation) BillingInfo(ctx context.Context) *models.BillingSnapshot {
	return c.billing.GetBillingInfo(ctx, c.identity.CustomerID)
}

// Reset clears the transcript and reapplies the system prompt, if any.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completer.ResetConversation()
	if c.systemPrompt != "" {
		c.completer.SetSystemPrompt(c.systemPrompt)
	}
	c.lastActive = time.Now()
}

// UpdateSystemPrompt stores prompt and restarts the transcript with it.
func (c *Conversation) UpdateSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.systemPrompt = prompt
	c.completer.SetSystemPrompt(prompt)
	c.lastActive = time.Now()
}

func (c *Conversation) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

// History returns a copy of the transcript.
func (c *Conversation) History() []models.Message {
	return c.completer.ConversationHistory()
}

func (c *Conversation) CustomerID() string {
	return c.identity.CustomerID
}

// LastActive is the time of the last turn, reset or prompt change.
func (c *Conversation) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Conversation) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}
