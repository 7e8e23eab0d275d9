// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultQueueSize bounds the async event queue.
const DefaultQueueSize = 1000

// Recorder accepts audit events. Record never blocks the caller on I/O
// and never reports failure; auditing must not change an authorization
// outcome.
type Recorder interface {
	Record(event Event)
	Close() error
}

// NopRecorder discards every event.
type NopRecorder struct{}

// Record discards the event.
func (NopRecorder) Record(Event) {}

// Close does nothing.
func (NopRecorder) Close() error { return nil }

// LogRecorder writes events to a structured log. Informational events
// flow through a buffered queue with a single consumer; warning-level
// events are written in the caller's goroutine so a full queue cannot
// lose them.
type LogRecorder struct {
	logger *slog.Logger

	events    chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	recorded *prometheus.CounterVec
	dropped  prometheus.Counter
}

var (
	_ Recorder = (*LogRecorder)(nil)
	_ Recorder = NopRecorder{}
)

// NewLogRecorder creates a recorder over logger. queueSize 0 means
// DefaultQueueSize; reg may be nil to skip metrics registration.
func NewLogRecorder(logger *slog.Logger, queueSize int, reg prometheus.Registerer) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	r := &LogRecorder{
		logger:   logger,
		events:   make(chan Event, queueSize),
		stopChan: make(chan struct{}),
	}
	r.recorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veloauth_audit_events_total",
		Help: "Audit events recorded by type",
	}, []string{"type"})
	r.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_audit_dropped_total",
		Help: "Informational audit events dropped because the queue was full",
	})
	if reg != nil {
		reg.MustRegister(r.recorded, r.dropped)
	}

	r.wg.Add(1)
	go r.consume()
	return r
}

// Record stamps the event and hands it to the log. Warning-level events
// are written before returning; informational ones are queued and, when
// the queue is full, dropped with a counter.
func (r *LogRecorder) Record(event Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	if event.Type.Level() >= slog.LevelWarn {
		r.write(event)
		r.recorded.WithLabelValues(string(event.Type)).Inc()
		return
	}

	select {
	case r.events <- event:
		r.recorded.WithLabelValues(string(event.Type)).Inc()
	default:
		r.dropped.Inc()
	}
}

func (r *LogRecorder) consume() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.events:
			r.write(event)
		case <-r.stopChan:
			r.drain()
			return
		}
	}
}

// drain flushes whatever is still queued at shutdown.
func (r *LogRecorder) drain() {
	for {
		select {
		case event := <-r.events:
			r.write(event)
		default:
			return
		}
	}
}

func (r *LogRecorder) write(event Event) {
	attrs := make([]any, 0, 14)
	attrs = append(attrs, "audit_id", event.ID)
	if event.Nickname != "" {
		attrs = append(attrs, "nickname", event.Nickname)
	}
	if event.PlayerUUID != nil {
		attrs = append(attrs, "uuid", event.PlayerUUID.String())
	}
	if event.IP != "" {
		attrs = append(attrs, "ip", event.IP)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	for k, v := range event.Detail {
		attrs = append(attrs, k, v)
	}
	attrs = append(attrs, "at", event.At)

	r.logger.Log(context.Background(), event.Type.Level(), string(event.Type), attrs...)
}

// Close stops the consumer after draining queued events. Events recorded
// after Close are not delivered.
func (r *LogRecorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
	})
	return nil
}
