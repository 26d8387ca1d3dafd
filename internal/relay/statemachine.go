package relay

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/gfacchetti/wakerelay/internal/model"
)

// Phase is the coarse device state rendered by the status indicator.
type Phase string

const (
	PhaseBooting    Phase = "booting"
	PhaseConnecting Phase = "connecting"
	PhaseIdle       Phase = "idle"
	PhaseSignaling  Phase = "signaling"
	PhaseError      Phase = "error"
)

// State is the snapshot published to the indicator context. Signal is set
// only while Phase is PhaseSignaling.
type State struct {
	Phase  Phase
	Signal model.CommandKind
}

// Machine owns the single authoritative device state. Only the protocol
// context mutates it; the indicator context reads the latest snapshot through
// Current and drains one-shot pulses from Pulses. No key material or other
// shared structure crosses that boundary.
type Machine struct {
	mu      sync.Mutex
	state   State
	current atomic.Value // State
	pulses  chan struct{}
}

// NewMachine starts in Booting.
func NewMachine() *Machine {
	m := &Machine{pulses: make(chan struct{}, 8)}
	m.set(State{Phase: PhaseBooting})
	return m
}

// Current returns the latest snapshot without locking against the writer.
func (m *Machine) Current() State {
	return m.current.Load().(State)
}

// Pulses delivers transient "message received" blips. The channel is never
// closed; sends are dropped when the indicator lags.
func (m *Machine) Pulses() <-chan struct{} {
	return m.pulses
}

// Pulse emits a one-shot notification without a substantive state change,
// used for every inbound message including rejected ones.
func (m *Machine) Pulse() {
	select {
	case m.pulses <- struct{}{}:
	default:
	}
}

// Reset re-enters Booting unconditionally. The daemon calls it when it
// restarts the service loop after an Error dwell; in-flight state from the
// previous run is dropped, not resumed.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.set(State{Phase: PhaseBooting})
	m.mu.Unlock()
}

// OnTimeSynced moves Booting to Connecting once the clock is trustworthy.
func (m *Machine) OnTimeSynced() {
	m.transition(State{Phase: PhaseConnecting}, PhaseBooting)
}

// OnConnected moves Connecting to Idle once the broker session is up.
func (m *Machine) OnConnected() {
	m.transition(State{Phase: PhaseIdle}, PhaseConnecting)
}

// OnCommand marks a verified command as in flight.
func (m *Machine) OnCommand(kind model.CommandKind) {
	m.transition(State{Phase: PhaseSignaling, Signal: kind}, PhaseIdle, PhaseSignaling)
}

// OnSignalDone returns to Idle; Signaling is one-shot, never sticky.
func (m *Machine) OnSignalDone() {
	m.transition(State{Phase: PhaseIdle}, PhaseSignaling)
}

// OnFault enters Error from any phase. Recovery is a full restart of the
// service loop, driven by the daemon after the dwell time.
func (m *Machine) OnFault(err error) {
	if err != nil {
		log.Printf("[relay] entering error state: %v", err)
	}
	m.mu.Lock()
	m.set(State{Phase: PhaseError})
	m.mu.Unlock()
}

func (m *Machine) transition(next State, from ...Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		if m.state.Phase == f {
			m.set(next)
			return
		}
	}
	log.Printf("[relay] ignoring transition to %s from %s", next.Phase, m.state.Phase)
}

func (m *Machine) set(s State) {
	m.state = s
	m.current.Store(s)
}
