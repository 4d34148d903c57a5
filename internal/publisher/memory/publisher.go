// Package memory stands in for the Pub/Sub publisher: it keeps every snapshot
// change notice in process so runs can be inspected without a topic.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/snapshot"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// NewFailing returns a Publisher whose every Publish call fails with err.
func NewFailing(err error) *Publisher {
	return &Publisher{err: err}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Notices returns the change notices published to topic, in publish order.
// Payloads of other types are skipped.
func (p *Publisher) Notices(topic string) []snapshot.ChangeNotice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []snapshot.ChangeNotice
	for _, msg := range p.messages {
		if msg.Topic != topic {
			continue
		}
		if notice, ok := msg.Payload.(snapshot.ChangeNotice); ok {
			out = append(out, notice)
		}
	}
	return out
}
