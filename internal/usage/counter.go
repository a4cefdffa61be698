// Package usage estimates token counts of chat turns.
package usage

import (
	"sync"

	"github.com/RichardoC/creditchat/internal/models"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const fallbackEncoding = "cl100k_base"

// Counter counts the tokens of a text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the BPE encoding of a model. The encoding
// is loaded on first use; when it cannot be loaded the counter falls back to
// an estimate of four bytes per token.
type TiktokenCounter struct {
	model  string
	logger *zap.Logger

	once     sync.Once
	encoding *tiktoken.Tiktoken
}

func NewTiktokenCounter(model string, logger *zap.Logger) *TiktokenCounter {
	return &TiktokenCounter{model: model, logger: logger}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(c.load)
	if c.encoding == nil {
		return Estimate(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *TiktokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err == nil {
		c.encoding = enc
		return
	}
	enc, fallbackErr := tiktoken.GetEncoding(fallbackEncoding)
	if fallbackErr != nil {
		c.logger.Warn("Token encoding unavailable, estimating token counts",
			zap.String("model", c.model),
			zap.Error(fallbackErr))
		return
	}
	c.logger.Debug("No encoding for model, using fallback",
		zap.String("model", c.model),
		zap.String("encoding", fallbackEncoding),
		zap.Error(err))
	c.encoding = enc
}

// Estimate approximates a token count as one token per four bytes.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateFunc adapts Estimate to the Counter interface.
type EstimateFunc func(string) int

func (f EstimateFunc) Count(text string) int { return f(text) }

// CountMessages sums the token counts of every message content.
func CountMessages(c Counter, messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.Count(msg.Content)
	}
	return total
}
