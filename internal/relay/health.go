package relay

import (
	"encoding/json"
	"net/http"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts protocol outcomes. Rejection reasons are labelled so the
// operator can tell clock drift from tampering at a glance.
type Metrics struct {
	Received  prometheus.Counter
	Rejected  *prometheus.CounterVec
	Wakes     prometheus.Counter
	Responses prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Received: f.NewCounter(prometheus.CounterOpts{
			Name: "wakerelay_messages_received_total",
			Help: "Envelopes received on subscribed topics.",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakerelay_messages_rejected_total",
			Help: "Envelopes dropped before dispatch.",
		}, []string{"reason"}),
		Wakes: f.NewCounter(prometheus.CounterOpts{
			Name: "wakerelay_wake_packets_total",
			Help: "Magic packets transmitted.",
		}),
		Responses: f.NewCounter(prometheus.CounterOpts{
			Name: "wakerelay_responses_published_total",
			Help: "Encrypted responses published.",
		}),
	}
}

type healthHandler struct {
	machine *Machine
	client  func() mqtt.Client
}

// NewHealthHandler reports device phase and broker connectivity. The client
// accessor is lazy because the connection only exists after Connecting.
func NewHealthHandler(m *Machine, client func() mqtt.Client) http.Handler {
	return &healthHandler{machine: m, client: client}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status        string `json:"status"`
		Phase         string `json:"phase"`
		MQTTConnected bool   `json:"mqtt_connected"`
	}
	st := status{Phase: string(h.machine.Current().Phase)}
	if c := h.client(); c != nil {
		st.MQTTConnected = c.IsConnectionOpen()
	}

	switch {
	case st.MQTTConnected && st.Phase != string(PhaseError):
		st.Status = "ok"
	case st.Phase == string(PhaseError):
		st.Status = "down"
	default:
		st.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	machine *Machine
}

// NewReadyHandler answers 200 only once the relay is listening for commands.
func NewReadyHandler(m *Machine) http.Handler {
	return &readyHandler{machine: m}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	phase := h.machine.Current().Phase
	ready := phase == PhaseIdle || phase == PhaseSignaling
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}
