package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the daemon's collectors. Methods are safe on a nil receiver so
// components can run without metrics in tests.
type Metrics struct {
	ChannelsJoined   prometheus.Gauge
	Disconnects      *prometheus.CounterVec
	RetriesScheduled prometheus.Counter
	GiveUps          prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	Actions          *prometheus.CounterVec
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		ChannelsJoined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duet_realtime_channels_joined",
			Help: "Realtime channels currently joined.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_realtime_disconnects_total",
			Help: "Channel disconnects by reported status.",
		}, []string{"status"}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_realtime_retries_scheduled_total",
			Help: "Reconnection retries scheduled.",
		}),
		GiveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_realtime_given_up_total",
			Help: "Channels that exhausted their reconnection attempts.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_chat_messages_sent_total",
			Help: "Optimistic message sends by outcome (confirmed, rolled_back).",
		}, []string{"outcome"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_actions_total",
			Help: "Optimistic actions by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ChannelsJoined, m.Disconnects, m.RetriesScheduled,
		m.GiveUps, m.MessagesSent, m.Actions,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) SetJoined(n int) {
	if m == nil {
		return
	}
	m.ChannelsJoined.Set(float64(n))
}

func (m *Metrics) Disconnected(status string) {
	if m == nil {
		return
	}
	m.Disconnects.WithLabelValues(status).Inc()
}

func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.RetriesScheduled.Inc()
}

func (m *Metrics) GaveUp() {
	if m == nil {
		return
	}
	m.GiveUps.Inc()
}

func (m *Metrics) MessageSent(outcome string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Action(kind, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(kind, outcome).Inc()
}
