// Package memory records published events in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements fetch.Publisher without a broker.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns the recorded messages, optionally limited to one topic.
func (p *Publisher) Messages(topic ...string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(topic) == 0 {
		return append([]Message(nil), p.messages...)
	}
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic[0] {
			out = append(out, m)
		}
	}
	return out
}
