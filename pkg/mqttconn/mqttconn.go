package mqttconn

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config carries the broker connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
}

// NewConn dials the broker, retrying with exponential backoff. The connection
// is torn down when ctx is cancelled.
func NewConn(cfg *Config, ctx context.Context) (mqtt.Client, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("[mqtt] connect to %s failed: %v", connAddr, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(maxRetries-1)))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Printf("[mqtt] connected to %s", connAddr)

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Println("[mqtt] connection closed")
	}()

	return client, nil
}

// CloseConn disconnects if still connected.
func CloseConn(client mqtt.Client) {
	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("[mqtt] connection closed")
	}
}
