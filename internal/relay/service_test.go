package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/internal/protocol"
)

type stubTimeSource struct{ now time.Time }

func (s stubTimeSource) Sync(context.Context) error { return nil }
func (s stubTimeSource) Now() time.Time             { return s.now }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func newTestService(t *testing.T, waker *fakeWaker, prober *fakeProber) (*Service, *fakePublisher, model.Identity) {
	t.Helper()
	id := model.Identity{Serial: "DEV01", Key: protocol.DeriveKey("test-secret")}
	ts := stubTimeSource{now: time.Unix(1000, 0)}
	machine := NewMachine()
	machine.OnTimeSynced()
	machine.OnConnected()

	d := NewDispatcher("DEV01", ts, waker, prober, "192.168.1.10", &fakeCollector{report: &model.UsageReport{Cores: 1}})
	svc := NewService(Config{
		Identity:         id,
		TopicPrefix:      "wakerelay",
		RotationInterval: 60 * time.Second,
		SkewTolerance:    120 * time.Second,
	}, ts, machine, d, nil, nil)

	pub := &fakePublisher{}
	svc.publisher = pub
	svc.topic = protocol.DeriveTopic("wakerelay", "DEV01", ts.Now(), 60*time.Second)
	return svc, pub, id
}

func seal(t *testing.T, id model.Identity, kind model.CommandKind, issuedAt int64) []byte {
	t.Helper()
	raw, err := protocol.Seal(&model.Command{Kind: kind, TargetSerial: id.Serial, IssuedAt: issuedAt}, id)
	require.NoError(t, err)
	return raw
}

func TestHandleMessageWake(t *testing.T) {
	waker := &fakeWaker{}
	svc, pub, id := newTestService(t, waker, &fakeProber{})

	err := svc.handleMessage("t", fakeMessage{payload: seal(t, id, model.KindWake, 1000)})
	require.NoError(t, err)

	assert.Equal(t, 1, waker.calls)
	assert.Empty(t, pub.topics, "WAKE produces no response")
	assert.Equal(t, PhaseIdle, svc.machine.Current().Phase, "Signaling returns to Idle")
}

func TestHandleMessageStatusPublishesSealedResponse(t *testing.T) {
	svc, pub, id := newTestService(t, &fakeWaker{}, &fakeProber{online: true})

	err := svc.handleMessage("t", fakeMessage{payload: seal(t, id, model.KindStatus, 1000)})
	require.NoError(t, err)

	require.Len(t, pub.topics, 1)
	assert.Equal(t, protocol.ResponseTopic(svc.topic), pub.topics[0],
		"response goes to the currently-active topic")

	resp, reason, err := protocol.OpenResponse(pub.payloads[0], id, time.Unix(1000, 0), 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.RejectNone, reason)
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Status.Online)
}

func TestHandleMessageRejectsTampered(t *testing.T) {
	waker := &fakeWaker{}
	svc, pub, id := newTestService(t, waker, &fakeProber{})

	raw := seal(t, id, model.KindWake, 1000)
	raw[20] ^= 0x01

	err := svc.handleMessage("t", fakeMessage{payload: raw})
	require.NoError(t, err, "rejections are silent drops, not handler errors")
	assert.Zero(t, waker.calls)
	assert.Empty(t, pub.topics)
	assert.Equal(t, PhaseIdle, svc.machine.Current().Phase)
}

func TestHandleMessageReplayDropped(t *testing.T) {
	waker := &fakeWaker{}
	svc, _, id := newTestService(t, waker, &fakeProber{})

	raw := seal(t, id, model.KindWake, 1000)
	require.NoError(t, svc.handleMessage("t", fakeMessage{payload: raw}))
	require.NoError(t, svc.handleMessage("t", fakeMessage{payload: raw}))

	assert.Equal(t, 1, waker.calls, "the identical envelope is processed at most once")
}

func TestHandleMessageExpired(t *testing.T) {
	waker := &fakeWaker{}
	svc, _, id := newTestService(t, waker, &fakeProber{})

	// Sealed 121s before the receiver's clock.
	err := svc.handleMessage("t", fakeMessage{payload: seal(t, id, model.KindWake, 879)})
	require.NoError(t, err)
	assert.Zero(t, waker.calls)
}

func TestHandleMessageWrongTarget(t *testing.T) {
	waker := &fakeWaker{}
	svc, _, id := newTestService(t, waker, &fakeProber{})

	other := model.Identity{Serial: "DEV02", Key: id.Key}
	raw, err := protocol.Seal(&model.Command{Kind: model.KindWake, TargetSerial: "DEV02", IssuedAt: 1000}, other)
	require.NoError(t, err)

	require.NoError(t, svc.handleMessage("t", fakeMessage{payload: raw}))
	assert.Zero(t, waker.calls)
}
