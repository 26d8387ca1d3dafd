package mqttconn

import (
	"context"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IConsumer subscribes to a changing set of topics and hands every message to
// a single handler.
type IConsumer interface {
	SetHandler(handler func(topic string, message mqtt.Message) error)
	Rotate(topics []string)
	Run(ctx context.Context)
}

// RotatingConsumer keeps a set of live subscriptions that the owner replaces
// on every rotation window. Topics dropped from the set are unsubscribed,
// new ones subscribed; overlap between consecutive sets is left untouched.
type RotatingConsumer struct {
	client mqtt.Client
	qos    byte

	mu      sync.Mutex
	handler func(topic string, message mqtt.Message) error
	topics  map[string]struct{}
}

// NewRotatingConsumer creates a consumer with no active subscriptions.
func NewRotatingConsumer(client mqtt.Client, qos byte) *RotatingConsumer {
	return &RotatingConsumer{
		client: client,
		qos:    qos,
		topics: make(map[string]struct{}),
	}
}

func (c *RotatingConsumer) SetHandler(handler func(topic string, message mqtt.Message) error) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Rotate replaces the active topic set.
func (c *RotatingConsumer) Rotate(topics []string) {
	next := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		next[t] = struct{}{}
	}

	c.mu.Lock()
	prev := c.topics
	c.topics = next
	c.mu.Unlock()

	for t := range prev {
		if _, keep := next[t]; !keep {
			token := c.client.Unsubscribe(t)
			token.Wait()
			if token.Error() != nil {
				log.Printf("[mqtt] unsubscribe %s: %v", t, token.Error())
			}
		}
	}
	for t := range next {
		if _, had := prev[t]; had {
			continue
		}
		topic := t
		token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			if h == nil {
				log.Printf("[mqtt] no handler set for topic %s", topic)
				return
			}
			if err := h(topic, msg); err != nil {
				log.Printf("[mqtt] error handling message on %s: %v", topic, err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			log.Printf("[mqtt] subscribe %s: %v", topic, token.Error())
		} else {
			log.Printf("[mqtt] subscribed to %s", topic)
		}
	}
}

// Run blocks until ctx is done, then unsubscribes everything.
func (c *RotatingConsumer) Run(ctx context.Context) {
	<-ctx.Done()

	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	for _, t := range topics {
		c.client.Unsubscribe(t).Wait()
	}
}
