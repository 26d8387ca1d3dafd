package mqttconn

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher publishes a payload to a topic. Topics rotate, so the topic is
// an argument of every publish rather than fixed at construction.
type IPublisher interface {
	Publish(topic string, payload []byte) error
}

// Publisher wraps the shared MQTT client with a bounded publish wait.
type Publisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

// NewPublisher creates a Publisher. A non-positive timeout defaults to 5s.
func NewPublisher(client mqtt.Client, qos byte, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, qos: qos, timeout: timeout}
}

// Publish sends the payload and waits up to the configured timeout for the
// broker handshake. On timeout the message is dropped; the caller logs and
// moves on rather than blocking the protocol loop.
func (p *Publisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, p.timeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}
