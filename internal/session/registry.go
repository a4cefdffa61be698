// Package session maps external user identifiers to their conversations.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/creditchat/internal/conversation"
	"github.com/RichardoC/creditchat/internal/metrics"
	"go.uber.org/zap"
)

// Factory builds the conversation of a user seen for the first time.
type Factory func(userID string) *conversation.Conversation

// Registry is a process-wide map of user id to conversation. Conversations
// are created lazily on first contact.
type Registry struct {
	factory Factory
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*conversation.Conversation
}

func NewRegistry(factory Factory, logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		factory:  factory,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*conversation.Conversation),
	}
}

// Resolve returns the conversation of userID, creating it on a miss.
// Concurrent calls for the same unseen id get the same instance.
func (r *Registry) Resolve(userID string) *conversation.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.sessions[userID]; ok {
		return conv
	}

	conv := r.factory(userID)
	r.sessions[userID] = conv
	r.metrics.SetSessions(len(r.sessions))
	r.logger.Info("Created conversation", zap.String("userId", userID))
	return conv
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops every conversation idle for longer than ttl and returns how
// many were removed. A ttl of zero or less keeps everything.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for userID, conv := range r.sessions {
		if now.Sub(conv.LastActive()) > ttl {
			delete(r.sessions, userID)
			removed++
			r.logger.Debug("Evicted idle conversation", zap.String("userId", userID))
		}
	}
	if removed > 0 {
		r.metrics.SetSessions(len(r.sessions))
	}
	return removed
}

// Run sweeps every interval until ctx is done. It returns immediately when
// ttl disables eviction.
func (r *Registry) Run(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now, ttl); n > 0 {
				r.logger.Info("Swept idle conversations", zap.Int("removed", n))
			}
		}
	}
}

// Close drops all conversations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*conversation.Conversation)
	r.metrics.SetSessions(0)
}
