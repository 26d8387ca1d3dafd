package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/internal/protocol"
	"github.com/gfacchetti/wakerelay/pkg/mqttconn"
	"github.com/gfacchetti/wakerelay/pkg/replay"
	"github.com/gfacchetti/wakerelay/pkg/schedule"
)

// TimeSource is the synchronized clock the whole service hangs off.
type TimeSource interface {
	Sync(ctx context.Context) error
	Now() time.Time
}

// Config carries everything the relay service needs; all of it comes from the
// external configuration surface, none is owned here.
type Config struct {
	Identity         model.Identity
	TopicPrefix      string
	RotationInterval time.Duration
	SkewTolerance    time.Duration
	MQTT             *mqttconn.Config
	RestartAfter     time.Duration // maintenance restart; 0 disables
}

// Service runs the protocol context: time sync, rotating subscription,
// envelope validation, dispatch and responses. Run returns on fault or
// maintenance expiry; the daemon loop restarts it from scratch.
type Service struct {
	cfg        Config
	ts         TimeSource
	machine    *Machine
	dispatcher *Dispatcher
	guard      *replay.Guard
	sched      *schedule.Manager
	metrics    *Metrics

	mu        sync.Mutex
	client    mqtt.Client
	publisher mqttconn.IPublisher
	topic     string // currently-active command topic
	started   time.Time
}

// NewService wires the service. sched may be nil (no auto-wake).
func NewService(cfg Config, ts TimeSource, machine *Machine, dispatcher *Dispatcher, sched *schedule.Manager, metrics *Metrics) *Service {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = protocol.DefaultRotationInterval
	}
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = protocol.DefaultSkewTolerance
	}
	// Replays must be dead once both the timestamp window and the rotation
	// overlap have passed; size the guard TTL to cover both.
	ttl := cfg.SkewTolerance + 2*cfg.RotationInterval
	return &Service{
		cfg:        cfg,
		ts:         ts,
		machine:    machine,
		dispatcher: dispatcher,
		guard:      replay.New(ttl, 10000),
		sched:      sched,
		metrics:    metrics,
	}
}

// Client exposes the live broker connection for the health endpoint.
func (s *Service) Client() mqtt.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Run drives Booting -> Connecting -> Idle and then the main loop. Any error
// return means the machine is in Error and the caller should dwell and
// restart the whole service.
func (s *Service) Run(ctx context.Context) error {
	s.machine.Reset()
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	if err := s.ts.Sync(ctx); err != nil {
		s.machine.OnFault(err)
		return err
	}
	s.machine.OnTimeSynced()

	client, err := mqttconn.NewConn(s.cfg.MQTT, ctx)
	if err != nil {
		s.machine.OnFault(err)
		return err
	}
	defer mqttconn.CloseConn(client)
	s.machine.OnConnected()

	consumer := mqttconn.NewRotatingConsumer(client, 0)
	consumer.SetHandler(s.handleMessage)

	s.mu.Lock()
	s.client = client
	s.publisher = mqttconn.NewPublisher(client, 0, 5*time.Second)
	s.mu.Unlock()

	now := s.ts.Now()
	s.rotate(consumer, now)
	nextRotation := protocol.NextRotation(now, s.cfg.RotationInterval)

	go consumer.Run(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	disconnectedSince := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			now = s.ts.Now()

			if s.cfg.RestartAfter > 0 && time.Since(s.started) > s.cfg.RestartAfter {
				log.Printf("[relay] maintenance restart after %s", s.cfg.RestartAfter)
				return nil
			}

			if !client.IsConnectionOpen() {
				if disconnectedSince.IsZero() {
					disconnectedSince = time.Now()
				} else if time.Since(disconnectedSince) > 30*time.Second {
					err := fmt.Errorf("broker connection lost for %s", time.Since(disconnectedSince))
					s.machine.OnFault(err)
					return err
				}
				continue
			}
			disconnectedSince = time.Time{}

			if !now.Before(nextRotation) {
				log.Printf("[relay] rotating subscription")
				s.rotate(consumer, now)
				nextRotation = protocol.NextRotation(now, s.cfg.RotationInterval)
				// The original firmware re-syncs the clock at every
				// rotation; a failure here is tolerable until the next one.
				if err := s.ts.Sync(ctx); err != nil {
					log.Printf("[ntp] re-sync failed, keeping previous offset: %v", err)
				}
			}

			if s.sched != nil && s.sched.ShouldWake(now) {
				log.Printf("[sched] triggering auto-wake")
				if err := s.dispatcher.AutoWake(); err != nil {
					log.Printf("[sched] auto-wake failed: %v", err)
				} else if s.metrics != nil {
					s.metrics.Wakes.Inc()
				}
				s.machine.Pulse()
			}
		}
	}
}

// rotate recomputes the current and previous window topics and swaps the
// subscription set. Keeping the previous window live for one extra interval
// absorbs commands sealed just before the boundary.
func (s *Service) rotate(consumer mqttconn.IConsumer, now time.Time) {
	current := protocol.DeriveTopic(s.cfg.TopicPrefix, s.cfg.Identity.Serial, now, s.cfg.RotationInterval)
	previous := protocol.PreviousTopic(s.cfg.TopicPrefix, s.cfg.Identity.Serial, now, s.cfg.RotationInterval)

	s.mu.Lock()
	s.topic = current
	s.mu.Unlock()

	consumer.Rotate([]string{current, previous})
}

func (s *Service) handleMessage(_ string, msg mqtt.Message) error {
	if s.metrics != nil {
		s.metrics.Received.Inc()
	}
	s.machine.Pulse()

	payload := msg.Payload()
	if !s.guard.ShouldProcess(replay.Digest(payload)) {
		s.reject(model.RejectReplayed)
		return nil
	}

	cmd, reason, err := protocol.Open(payload, s.cfg.Identity, s.ts.Now(), s.cfg.SkewTolerance)
	if err != nil {
		s.reject(reason)
		return nil
	}

	s.machine.OnCommand(cmd.Kind)
	defer s.machine.OnSignalDone()

	resp, err := s.dispatcher.Handle(cmd)
	if err != nil {
		log.Printf("[relay] %s failed: %v", cmd.Kind, err)
		return nil
	}
	if cmd.Kind == model.KindWake && s.metrics != nil {
		s.metrics.Wakes.Inc()
	}
	if resp == nil {
		return nil
	}

	raw, err := protocol.SealResponse(resp, s.cfg.Identity)
	if err != nil {
		log.Printf("[sec] seal response: %v", err)
		return nil
	}

	// Publish on the currently-active topic, not the one the request came in
	// on; rotation may have advanced underneath.
	s.mu.Lock()
	topic := s.topic
	pub := s.publisher
	s.mu.Unlock()

	if err := pub.Publish(protocol.ResponseTopic(topic), raw); err != nil {
		log.Printf("[mqtt] response dropped: %v", err)
		return nil
	}
	if s.metrics != nil {
		s.metrics.Responses.Inc()
	}
	return nil
}

// reject drops a message locally. Nothing is ever sent back: a sender that
// cannot authenticate learns nothing about why it was ignored.
func (s *Service) reject(reason model.RejectReason) {
	if s.metrics != nil {
		s.metrics.Rejected.WithLabelValues(string(reason)).Inc()
	}
	log.Printf("[sec] dropped message: %s", reason)
}
