package testutil

import (
	"context"
	"sync"

	"github.com/questx-lab/rewards-engine/pkg/pubsub"
)

type PublishedPack struct {
	Topic string
	Pack  *pubsub.Pack
}

// MockPublisher records every published pack unless PublishFunc is set.
type MockPublisher struct {
	PublishFunc func(context.Context, string, *pubsub.Pack) error

	mutex     sync.Mutex
	published []PublishedPack
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, pack *pubsub.Pack) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, pack)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.published = append(m.published, PublishedPack{Topic: topic, Pack: pack})
	return nil
}

func (m *MockPublisher) Stop(ctx context.Context) error {
	return nil
}

func (m *MockPublisher) Published() []PublishedPack {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make([]PublishedPack, len(m.published))
	copy(result, m.published)
	return result
}

func (m *MockPublisher) Topics() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var topics []string
	for _, p := range m.published {
		topics = append(topics, p.Topic)
	}

	return topics
}
