package ws

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans published events out to every connected subscriber. Each
// subscriber owns a bounded FIFO queue drained by its own goroutine, so
// delivery order per subscriber matches publish order and a stalled
// connection never blocks Publish. A subscriber whose queue overflows is
// disconnected.
type Hub struct {
	mu     sync.RWMutex
	sinks  map[Subscriber]*sink
	buffer int
	log    *slog.Logger
	closed bool

	connected prometheus.Gauge
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

type sink struct {
	sub   Subscriber
	queue chan []byte
}

// NewHub creates an initialized Hub.
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sinks:  make(map[Subscriber]*sink),
		buffer: buffer,
		log:    logger,
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feed",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Currently connected real-time subscribers",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feed",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published to the hub",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed",
			Subsystem: "events",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers disconnected because their queue overflowed",
		}),
	}
}

// Instrument registers the hub's collectors.
func (h *Hub) Instrument(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{h.connected, h.published, h.dropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds a client to the broadcast set.
func (h *Hub) Subscribe(client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		client.Close()
		return
	}
	if _, ok := h.sinks[client]; ok {
		return
	}
	s := &sink{sub: client, queue: make(chan []byte, h.buffer)}
	h.sinks[client] = s
	h.connected.Inc()
	go h.pump(s)
}

// Unsubscribe removes a client. Events already queued for it are flushed
// before the client is closed.
func (h *Hub) Unsubscribe(client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client Subscriber) {
	s, ok := h.sinks[client]
	if !ok {
		return
	}
	delete(h.sinks, client)
	close(s.queue)
	h.connected.Dec()
}

// Publish enqueues payload for every subscriber connected at call time.
func (h *Hub) Publish(event string, payload []byte) {
	h.published.WithLabelValues(event).Inc()

	var overflow []Subscriber
	h.mu.RLock()
	for client, s := range h.sinks {
		select {
		case s.queue <- payload:
		default:
			overflow = append(overflow, client)
		}
	}
	h.mu.RUnlock()

	if len(overflow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range overflow {
		if _, ok := h.sinks[client]; ok {
			h.log.Warn("subscriber queue full, disconnecting", "event", event)
			h.dropped.Inc()
			h.removeLocked(client)
		}
	}
	h.mu.Unlock()
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.sinks {
		h.removeLocked(client)
	}
	h.closed = true
}

func (h *Hub) pump(s *sink) {
	failed := false
	for payload := range s.queue {
		if failed {
			continue
		}
		if err := s.sub.Send(payload); err != nil {
			failed = true
			h.log.Debug("subscriber send failed", "error", err)
			go h.Unsubscribe(s.sub)
		}
	}
	s.sub.Close()
}
