package monitor

import (
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/internal/protocol"
	"github.com/gfacchetti/wakerelay/pkg/mqttconn"
	"github.com/gfacchetti/wakerelay/pkg/timesync"
)

// Recorder subscribes to the response topics of a set of devices and records
// every decoded STATUS/USAGE reply to InfluxDB. Topics are opaque hashes, so
// there is no wildcard to subscribe to: the recorder derives each device's
// topics from its identity with the same rotation rule the device uses.
type Recorder struct {
	writer   *Writer
	devices  []model.Identity
	prefix   string
	rotation time.Duration
	skew     time.Duration
	clock    timesync.Clock

	mu      sync.Mutex
	byTopic map[string]model.Identity
}

func NewRecorder(writer *Writer, devices []model.Identity, prefix string, rotation, skew time.Duration, clock timesync.Clock) *Recorder {
	if rotation <= 0 {
		rotation = protocol.DefaultRotationInterval
	}
	if skew <= 0 {
		skew = protocol.DefaultSkewTolerance
	}
	return &Recorder{
		writer:   writer,
		devices:  devices,
		prefix:   prefix,
		rotation: rotation,
		skew:     skew,
		clock:    clock,
		byTopic:  make(map[string]model.Identity),
	}
}

// Rotate recomputes the response-topic set for now and swaps the consumer's
// subscriptions. Previous and current windows are both kept, mirroring the
// device's own overlap.
func (r *Recorder) Rotate(consumer mqttconn.IConsumer, now time.Time) {
	byTopic := make(map[string]model.Identity, 2*len(r.devices))
	topics := make([]string, 0, 2*len(r.devices))
	for _, id := range r.devices {
		for _, t := range []string{
			protocol.ResponseTopic(protocol.DeriveTopic(r.prefix, id.Serial, now, r.rotation)),
			protocol.ResponseTopic(protocol.PreviousTopic(r.prefix, id.Serial, now, r.rotation)),
		} {
			byTopic[t] = id
			topics = append(topics, t)
		}
	}

	r.mu.Lock()
	r.byTopic = byTopic
	r.mu.Unlock()

	consumer.Rotate(topics)
}

// NextRotation tells the caller when Rotate must run again.
func (r *Recorder) NextRotation(now time.Time) time.Time {
	return protocol.NextRotation(now, r.rotation)
}

// Handle decodes one response envelope and writes it as a point. Envelopes
// that fail authentication or freshness are counted out silently.
func (r *Recorder) Handle(topic string, msg mqtt.Message) error {
	r.mu.Lock()
	id, ok := r.byTopic[topic]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	resp, reason, err := protocol.OpenResponse(msg.Payload(), id, r.clock.Now(), r.skew)
	if err != nil {
		log.Printf("[sec] ignoring response on %s: %s", topic, reason)
		return nil
	}

	ts := time.Unix(resp.IssuedAt, 0).UTC()
	switch {
	case resp.Status != nil:
		p := influxdb2.NewPoint("device_status",
			map[string]string{"serial": resp.Serial},
			map[string]interface{}{"online": resp.Status.Online},
			ts)
		r.writer.Write(p, "device_status")
	case resp.Usage != nil:
		p := influxdb2.NewPoint("device_usage",
			map[string]string{"serial": resp.Serial},
			map[string]interface{}{
				"uptime_sec": resp.Usage.UptimeSec,
				"disk_total": int64(resp.Usage.DiskTotal),
				"disk_free":  int64(resp.Usage.DiskFree),
				"mem_total":  int64(resp.Usage.MemTotal),
				"mem_free":   int64(resp.Usage.MemFree),
				"cpu_mhz":    resp.Usage.CPUMHz,
				"cores":      resp.Usage.Cores,
			},
			ts)
		r.writer.Write(p, "device_usage")
	default:
		return nil
	}
	log.Printf("[mon] recorded %s from %s", resp.Kind, resp.Serial)
	return nil
}
