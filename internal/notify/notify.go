// Package notify publishes compose lifecycle events and sends mail.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relengtools/composer/internal/config"
)

// Topic names a lifecycle event.
type Topic string

const (
	TopicComposeStart     Topic = "compose.start"
	TopicComposeComposing Topic = "compose.composing"
	TopicComposeComplete  Topic = "compose.complete"
	TopicRepoDone         Topic = "repo.done"
	TopicSyncWait         Topic = "compose.sync.wait"
	TopicSyncDone         Topic = "compose.sync.done"
	TopicImagePublished   Topic = "compose.image.published"
	TopicUpdateEject      Topic = "update.eject"
	TopicCompleteStable   Topic = "update.complete.stable"
	TopicCompleteTesting  Topic = "update.complete.testing"
	TopicPushComplete     Topic = "push.complete"
)

// Event is one published message.
type Event struct {
	ID    string         `json:"id"`
	Topic Topic          `json:"topic"`
	Time  time.Time      `json:"time"`
	Body  map[string]any `json:"body"`
}

// NewEvent stamps a body with a fresh id and the current time.
func NewEvent(topic Topic, body map[string]any) Event {
	return Event{ID: uuid.NewString(), Topic: topic, Time: time.Now().UTC(), Body: body}
}

// Publisher sends lifecycle events. Publishing is fire and forget: callers
// log failures and carry on.
//
//go:generate mockgen -destination=mocks/mock_notify.go -package=mocks -source=notify.go Publisher
type Publisher interface {
	Publish(ctx context.Context, topic Topic, body map[string]any) error
}

// LogPublisher writes events to a logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, topic Topic, body map[string]any) error {
	ev := NewEvent(topic, body)
	p.logger.InfoContext(ctx, "Event", "topic", ev.Topic, "id", ev.ID, "body", ev.Body)
	return nil
}

// redisPublisher is the part of *redis.Client used to publish.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes JSON encoded events on a Redis channel.
type RedisPublisher struct {
	client  redisPublisher
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client redisPublisher, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, topic Topic, body map[string]any) error {
	ev := NewEvent(topic, body)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "Published event", "topic", topic, "id", ev.ID, "receivers", receivers)
	return nil
}

// NewPublisher builds the configured publisher. The returned close function
// releases any connection it opened.
func NewPublisher(cfg *config.Config, logger *slog.Logger) (Publisher, func() error, error) {
	switch backend := cfg.GetNotificationsBackend(); backend {
	case config.NotificationsLog:
		return NewLogPublisher(logger), func() error { return nil }, nil
	case config.NotificationsRedis:
		rc := cfg.Notifications.Redis
		password, err := rc.GetPassword()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Address,
			Password: password,
			DB:       rc.DB,
		})
		return NewRedisPublisher(client, rc.GetChannel(), logger), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifications backend %q", backend)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, topic Topic, body map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewEvent(topic, body))
	return nil
}

// Events returns every recorded event in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Topics returns the topics of every recorded event in publish order.
func (r *Recorder) Topics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]Topic, len(r.events))
	for i, ev := range r.events {
		topics[i] = ev.Topic
	}
	return topics
}

// Filter returns the recorded events with the given topic.
func (r *Recorder) Filter(topic Topic) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
