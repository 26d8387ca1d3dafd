package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfacchetti/wakerelay/internal/model"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeWaker struct {
	calls int
	err   error
}

func (w *fakeWaker) Wake() error {
	w.calls++
	return w.err
}

type fakeProber struct {
	online bool
	err    error
	calls  int
}

func (p *fakeProber) Probe(string, time.Duration) (bool, error) {
	p.calls++
	return p.online, p.err
}

type fakeCollector struct {
	report *model.UsageReport
	err    error
}

func (c *fakeCollector) Collect() (*model.UsageReport, error) { return c.report, c.err }

func newTestDispatcher(w *fakeWaker, p *fakeProber, c *fakeCollector) *Dispatcher {
	return NewDispatcher("DEV01", fixedClock{time.Unix(5000, 0)}, w, p, "192.168.1.10", c)
}

func TestDispatchWake(t *testing.T) {
	w := &fakeWaker{}
	d := newTestDispatcher(w, &fakeProber{}, &fakeCollector{})

	resp, err := d.Handle(&model.Command{Kind: model.KindWake, TargetSerial: "DEV01", IssuedAt: 5000})
	require.NoError(t, err)
	assert.Nil(t, resp, "WAKE is fire-and-forget, no response")
	assert.Equal(t, 1, w.calls)
}

func TestDispatchWakeError(t *testing.T) {
	w := &fakeWaker{err: errors.New("network down")}
	d := newTestDispatcher(w, &fakeProber{}, &fakeCollector{})

	_, err := d.Handle(&model.Command{Kind: model.KindWake, TargetSerial: "DEV01", IssuedAt: 5000})
	assert.Error(t, err)
}

func TestDispatchStatus(t *testing.T) {
	p := &fakeProber{online: true}
	d := newTestDispatcher(&fakeWaker{}, p, &fakeCollector{})

	resp, err := d.Handle(&model.Command{Kind: model.KindStatus, TargetSerial: "DEV01", IssuedAt: 5000})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Status)
	assert.Equal(t, model.KindStatus, resp.Kind)
	assert.Equal(t, "DEV01", resp.Serial)
	assert.Equal(t, int64(5000), resp.IssuedAt)
	assert.True(t, resp.Status.Online)
	assert.Equal(t, 1, p.calls)
}

func TestDispatchStatusProbeFailureReportsOffline(t *testing.T) {
	p := &fakeProber{err: errors.New("no raw socket")}
	d := newTestDispatcher(&fakeWaker{}, p, &fakeCollector{})

	resp, err := d.Handle(&model.Command{Kind: model.KindStatus, TargetSerial: "DEV01", IssuedAt: 5000})
	require.NoError(t, err, "a failing probe is advisory, not a command failure")
	require.NotNil(t, resp.Status)
	assert.False(t, resp.Status.Online)
}

func TestDispatchStatusBreakerOpens(t *testing.T) {
	p := &fakeProber{err: errors.New("unreachable")}
	d := newTestDispatcher(&fakeWaker{}, p, &fakeCollector{})
	cmd := &model.Command{Kind: model.KindStatus, TargetSerial: "DEV01", IssuedAt: 5000}

	for i := 0; i < 5; i++ {
		resp, err := d.Handle(cmd)
		require.NoError(t, err)
		assert.False(t, resp.Status.Online)
	}
	// After three consecutive failures the breaker stops calling the probe.
	assert.Equal(t, 3, p.calls)
}

func TestDispatchUsage(t *testing.T) {
	c := &fakeCollector{report: &model.UsageReport{UptimeSec: 7, Cores: 2, MemTotal: 1024}}
	d := newTestDispatcher(&fakeWaker{}, &fakeProber{}, c)

	resp, err := d.Handle(&model.Command{Kind: model.KindUsage, TargetSerial: "DEV01", IssuedAt: 5000})
	require.NoError(t, err)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(7), resp.Usage.UptimeSec)
	assert.Equal(t, 2, resp.Usage.Cores)
}

func TestDispatchUsageCollectError(t *testing.T) {
	c := &fakeCollector{err: errors.New("procfs unavailable")}
	d := newTestDispatcher(&fakeWaker{}, &fakeProber{}, c)

	_, err := d.Handle(&model.Command{Kind: model.KindUsage, TargetSerial: "DEV01", IssuedAt: 5000})
	assert.Error(t, err)
}
