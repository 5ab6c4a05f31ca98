package listener

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes listener activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	events    *prometheus.CounterVec
	dropped   prometheus.Counter
	bytesRead prometheus.Counter
	replies   prometheus.Gauge
	notes     prometheus.Gauge
}

// NewMetrics creates the listener metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmux_control",
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Decoded control-mode events by lane",
		}, []string{"lane"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tmux_control",
			Subsystem: "listener",
			Name:      "notifications_dropped_total",
			Help:      "Notifications evicted from a full notification lane",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tmux_control",
			Subsystem: "listener",
			Name:      "bytes_read_total",
			Help:      "Bytes read from the control pipe",
		}),
		replies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmux_control",
			Subsystem: "listener",
			Name:      "reply_queue_size",
			Help:      "Replies waiting in the reply lane",
		}),
		notes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmux_control",
			Subsystem: "listener",
			Name:      "notification_queue_size",
			Help:      "Notifications waiting in the notification lane",
		}),
	}
	for _, c := range []prometheus.Collector{m.events, m.dropped, m.bytesRead, m.replies, m.notes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordRead(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) recordReply(queued int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues("reply").Inc()
	m.replies.Set(float64(queued))
}

func (m *Metrics) recordNotification(queued int, evicted bool) {
	if m == nil {
		return
	}
	m.events.WithLabelValues("notification").Inc()
	m.notes.Set(float64(queued))
	if evicted {
		m.dropped.Inc()
	}
}

func (m *Metrics) recordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Dropped returns the eviction counter.
func (m *Metrics) Dropped() prometheus.Counter { return m.dropped }

// BytesRead returns the pipe byte counter.
func (m *Metrics) BytesRead() prometheus.Counter { return m.bytesRead }
