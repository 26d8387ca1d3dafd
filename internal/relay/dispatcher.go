package relay

import (
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gfacchetti/wakerelay/internal/model"
	"github.com/gfacchetti/wakerelay/pkg/sysstat"
	"github.com/gfacchetti/wakerelay/pkg/timesync"
	"github.com/gfacchetti/wakerelay/pkg/wol"
)

// Waker emits the magic packet toward the sleeping target.
type Waker interface {
	Wake() error
}

// WolWaker broadcasts a prebuilt magic packet, fire-and-forget.
type WolWaker struct {
	packet *wol.MagicPacket
	addr   string
}

// NewWolWaker builds the packet once for the configured MAC.
// addr is the broadcast destination, e.g. "192.168.1.255:9".
func NewWolWaker(mac, addr string) (*WolWaker, error) {
	pkt, err := wol.NewMagicPacket(mac)
	if err != nil {
		return nil, fmt.Errorf("bad wake MAC: %w", err)
	}
	return &WolWaker{packet: pkt, addr: addr}, nil
}

func (w *WolWaker) Wake() error {
	log.Printf("[wol] sending magic packet via %s", w.addr)
	return w.packet.Send(w.addr)
}

// Dispatcher maps a verified command to its action and, for STATUS and
// USAGE, builds the plaintext response. It never touches the wire itself.
type Dispatcher struct {
	serial       string
	clock        timesync.Clock
	waker        Waker
	prober       wol.Prober
	probeHost    string
	probeTimeout time.Duration
	collector    sysstat.Collector
	breaker      *gobreaker.CircuitBreaker
}

// NewDispatcher wires the external collaborators. The reachability probe sits
// behind a circuit breaker so a dead target LAN does not stall every STATUS.
func NewDispatcher(serial string, clock timesync.Clock, waker Waker, prober wol.Prober, probeHost string, collector sysstat.Collector) *Dispatcher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "status-probe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
	return &Dispatcher{
		serial:       serial,
		clock:        clock,
		waker:        waker,
		prober:       prober,
		probeHost:    probeHost,
		probeTimeout: 2 * time.Second,
		collector:    collector,
		breaker:      cb,
	}
}

// AutoWake fires the magic packet outside the command path, used by the
// local schedule ticker.
func (d *Dispatcher) AutoWake() error {
	return d.waker.Wake()
}

// Handle executes the command. A nil response with nil error means the
// command has no reply (WAKE). The switch is exhaustive over the closed kind
// set; an unknown kind is a programming error upstream.
func (d *Dispatcher) Handle(cmd *model.Command) (*model.Response, error) {
	switch cmd.Kind {
	case model.KindWake:
		if err := d.waker.Wake(); err != nil {
			return nil, fmt.Errorf("wake: %w", err)
		}
		return nil, nil

	case model.KindStatus:
		online := false
		res, err := d.breaker.Execute(func() (interface{}, error) {
			return d.prober.Probe(d.probeHost, d.probeTimeout)
		})
		if err != nil {
			// Open breaker or probe error both report offline; the probe
			// result is advisory, not a command failure.
			log.Printf("[probe] %s: %v", d.probeHost, err)
		} else {
			online = res.(bool)
		}
		return &model.Response{
			Kind:     model.KindStatus,
			Serial:   d.serial,
			IssuedAt: d.clock.Now().Unix(),
			Status:   &model.StatusReport{Online: online, ProbedAt: d.clock.Now().Unix()},
		}, nil

	case model.KindUsage:
		usage, err := d.collector.Collect()
		if err != nil {
			return nil, fmt.Errorf("collect usage: %w", err)
		}
		return &model.Response{
			Kind:     model.KindUsage,
			Serial:   d.serial,
			IssuedAt: d.clock.Now().Unix(),
			Usage:    usage,
		}, nil

	default:
		return nil, fmt.Errorf("unhandled command kind %q", cmd.Kind)
	}
}
