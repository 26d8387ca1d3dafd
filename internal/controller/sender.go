package controller

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/internal/protocol"
	"github.com/gfacchetti/wakerelay/pkg/mqttconn"
	"github.com/gfacchetti/wakerelay/pkg/timesync"
)

// Sender is the operator side of the channel: it derives the device's
// current topic, seals a command onto it and waits for the sealed reply.
type Sender struct {
	id       model.Identity
	prefix   string
	rotation time.Duration
	skew     time.Duration
	client   mqtt.Client
	clock    timesync.Clock
}

func NewSender(id model.Identity, prefix string, rotation, skew time.Duration, client mqtt.Client, clock timesync.Clock) *Sender {
	if rotation <= 0 {
		rotation = protocol.DefaultRotationInterval
	}
	if skew <= 0 {
		skew = protocol.DefaultSkewTolerance
	}
	return &Sender{id: id, prefix: prefix, rotation: rotation, skew: skew, client: client, clock: clock}
}

// Send publishes one command. For WAKE the returned response is nil: magic
// packets are fire-and-forget end to end. For STATUS and USAGE it blocks
// until a valid response arrives or ctx expires.
func (s *Sender) Send(ctx context.Context, kind model.CommandKind, args map[string]string) (*model.Response, error) {
	now := s.clock.Now()
	cmd := &model.Command{
		Kind:         kind,
		TargetSerial: s.id.Serial,
		IssuedAt:     now.Unix(),
		Args:         args,
	}
	raw, err := protocol.Seal(cmd, s.id)
	if err != nil {
		return nil, fmt.Errorf("seal command: %w", err)
	}

	wantReply := kind != model.KindWake
	var (
		replies   chan *model.Response
		respTopic []string
	)
	if wantReply {
		replies = make(chan *model.Response, 1)
		// The device answers on whatever its active topic is when it
		// replies; that may already be the next window, so listen on both.
		respTopic = []string{
			protocol.ResponseTopic(protocol.DeriveTopic(s.prefix, s.id.Serial, now, s.rotation)),
			protocol.ResponseTopic(protocol.DeriveTopic(s.prefix, s.id.Serial, now.Add(s.rotation), s.rotation)),
		}
		for _, t := range respTopic {
			token := s.client.Subscribe(t, 0, func(_ mqtt.Client, msg mqtt.Message) {
				resp, reason, err := protocol.OpenResponse(msg.Payload(), s.id, s.clock.Now(), s.skew)
				if err != nil {
					log.Printf("[sec] ignoring response: %s", reason)
					return
				}
				select {
				case replies <- resp:
				default:
				}
			})
			if token.Wait() && token.Error() != nil {
				return nil, fmt.Errorf("subscribe %s: %w", t, token.Error())
			}
		}
		defer func() {
			for _, t := range respTopic {
				s.client.Unsubscribe(t).Wait()
			}
		}()
	}

	topic := protocol.DeriveTopic(s.prefix, s.id.Serial, now, s.rotation)
	pub := mqttconn.NewPublisher(s.client, 0, 5*time.Second)
	if err := pub.Publish(topic, raw); err != nil {
		return nil, err
	}
	log.Printf("[ctl] %s sent to %s", kind, topic)

	if !wantReply {
		return nil, nil
	}
	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no response to %s: %w", kind, ctx.Err())
	}
}
