package gate

import "github.com/prometheus/client_golang/prometheus"

// Resolution states recorded by the gate.
const (
	StateNoToken = "no_token"
	StateValid   = "valid"
	StateExpired = "expired"
	StateUnknown = "unknown"
	StateError   = "error"
)

// Metrics counts gate outcomes.
type Metrics struct {
	resolutions *prometheus.CounterVec
}

// NewMetrics registers the gate counters with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sodia",
			Subsystem: "auth_gate",
			Name:      "resolutions_total",
			Help:      "Requests seen by the authentication gate, by resolution state.",
		}, []string{"state"}),
	}
	if reg != nil {
		if err := reg.Register(m.resolutions); err != nil {
			return nil, err
		}
	}
	for _, s := range []string{StateNoToken, StateValid, StateExpired, StateUnknown, StateError} {
		m.resolutions.WithLabelValues(s)
	}
	return m, nil
}

func (m *Metrics) observe(state string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(state).Inc()
}
