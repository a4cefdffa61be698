package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/creditchat/internal/metrics"
	"github.com/RichardoC/creditchat/internal/models"
	"github.com/RichardoC/creditchat/internal/telemetry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrMissingAPIKey is returned by NewModel when no API key is given.
var ErrMissingAPIKey = errors.New("OpenAI API key is required. Provide it as a parameter or set OPENAI_API_KEY environment variable")

// errStreamAbandoned stops the upstream stream once the consumer stops ranging.
var errStreamAbandoned = errors.New("stream abandoned by consumer")

// Generator is the part of a langchaingo model used by Client.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewModel creates the OpenAI-compatible model shared by every conversation.
// An empty baseURL keeps the library default endpoint.
func NewModel(baseURL, token, model string) (*openai.LLM, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	return llm, nil
}

// Client streams chat completions and owns the transcript of one conversation.
type Client struct {
	llm     Generator
	model   string
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	history []models.Message
	// generation changes on every reset so that a stream started before the
	// reset cannot write into the new transcript.
	generation uint64
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New creates a Client with an empty transcript. model is only used for
// logging and tracing; the generator decides which model is called.
func New(llm Generator, model string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		llm:    llm,
		model:  model,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tracer = telemetry.Tracer(c.tracer)
	return c
}

// StreamSend appends message to the transcript and streams the answer of the
// model, one fragment at a time. The whole transcript is sent as context.
//
// The sequence is lazy: nothing is sent before it is ranged over, and each
// range is a new remote call. When the stream completes, the concatenated
// answer is appended as an assistant message. When it fails, the error is
// the last element and the user message is removed again. Stopping the range
// early cancels the upstream call and also removes the user message.
func (c *Client) StreamSend(ctx context.Context, message, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		generation, base, messages := c.beginTurn(message, systemPrompt)

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if c.timeout > 0 {
			var cancelTimeout context.CancelFunc
			streamCtx, cancelTimeout = context.WithTimeout(streamCtx, c.timeout)
			defer cancelTimeout()
		}

		streamCtx, span := c.tracer.Start(streamCtx, "llm.stream_send", trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("llm.messages", len(messages)),
		))
		defer span.End()

		start := time.Now()
		var full strings.Builder
		abandoned := false

		_, err := c.llm.GenerateContent(streamCtx, messages,
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				fragment := string(chunk)
				full.WriteString(fragment)
				c.metrics.RecordFragment()
				if !yield(fragment, nil) {
					abandoned = true
					cancel()
					return errStreamAbandoned
				}
				return nil
			}),
		)

		switch {
		case abandoned:
			c.rollback(generation, base)
			c.metrics.RecordStream("cancelled", time.Since(start))
			span.SetStatus(codes.Error, errStreamAbandoned.Error())
			c.logger.Info("Completion stream abandoned by consumer",
				zap.Int("fragmentBytes", full.Len()))
		case err != nil:
			c.rollback(generation, base)
			c.metrics.RecordStream("error", time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("Error streaming completion", zap.Error(err), zap.String("model", c.model))
			yield("", fmt.Errorf("failed to stream completion: %w", err))
		default:
			c.finishTurn(generation, full.String())
			c.metrics.RecordStream("ok", time.Since(start))
		}
	}
}

// beginTurn inserts the system prompt into an empty transcript, appends the
// user message and returns the request payload together with the transcript
// length before the user message.
func (c *Client) beginTurn(message, systemPrompt string) (uint64, int, []llms.MessageContent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if systemPrompt != "" && len(c.history) == 0 {
		c.history = append(c.history, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	}
	base := len(c.history)
	c.history = append(c.history, models.Message{Role: models.RoleUser, Content: message})

	return c.generation, base, toMessageContent(c.history)
}

func (c *Client) finishTurn(generation uint64, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		c.logger.Info("Dropping answer of a conversation that was reset during streaming")
		return
	}
	c.history = append(c.history, models.Message{Role: models.RoleAssistant, Content: answer})
}

// rollback truncates the transcript back to base unless it was reset meanwhile.
func (c *Client) rollback(generation uint64, base int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || base > len(c.history) {
		return
	}
	c.history = c.history[:base]
}

// ResetConversation clears the transcript.
func (c *Client) ResetConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Client) resetLocked() {
	c.history = nil
	c.generation++
}

// ConversationHistory returns a copy of the transcript.
func (c *Client) ConversationHistory() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := make([]models.Message, len(c.history))
	copy(history, c.history)
	return history
}

// SetSystemPrompt clears the transcript and starts it with prompt.
func (c *Client) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.history = append(c.history, models.Message{Role: models.RoleSystem, Content: prompt})
}

func toMessageContent(history []models.Message) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}
	return messages
}

func chatMessageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
