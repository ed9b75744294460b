// Package memory is the in-process publisher used when Pub/Sub is disabled. Payloads
// are JSON-encoded exactly as the Pub/Sub publisher sends them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is one recorded publish.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher records published reports and logs them.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	logger   *zap.Logger
}

// New returns a memory Publisher. logger may be nil.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("publisher")}
}

// Publish encodes payload and records it under a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	p.mu.Unlock()
	p.logger.Debug("message published", zap.String("topic", topic), zap.String("message_id", id), zap.Int("bytes", len(data)))
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// DecodeLast unmarshals the most recent message on topic into v.
func (p *Publisher) DecodeLast(topic string, v any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Topic == topic {
			if err := json.Unmarshal(p.messages[i].Data, v); err != nil {
				return fmt.Errorf("decode %s: %w", p.messages[i].ID, err)
			}
			return nil
		}
	}
	return fmt.Errorf("no messages on topic %q", topic)
}
