package server

import (
	"sync"
	"time"
)

type KindMetrics struct {
	Count        uint64        `json:"count"`
	Bytes        int64         `json:"bytes"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

// Metrics counts connections by outcome. It is the only state shared
// between connection goroutines and is guarded by mu.
type Metrics struct {
	mu            sync.Mutex
	TotalRequests uint64                  `json:"total_requests"`
	TotalErrors   uint64                  `json:"total_errors"`
	InFlight      uint64                  `json:"in_flight"`
	BadRequests   uint64                  `json:"bad_requests"`
	ParseFailures uint64                  `json:"parse_failures"`
	WriteFailures uint64                  `json:"write_failures"`
	BytesWritten  int64                   `json:"bytes_written"`
	ByKind        map[string]*KindMetrics `json:"by_kind"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		ByKind: make(map[string]*KindMetrics),
	}
}

func (m *Metrics) StartRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InFlight++
	m.TotalRequests++
}

func (m *Metrics) EndRequest(entry RequestLog, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InFlight > 0 {
		m.InFlight--
	}
	if entry.Error != "" {
		m.TotalErrors++
	}
	switch entry.Stage {
	case "read", "parse":
		m.ParseFailures++
	case "write":
		m.WriteFailures++
	}
	if entry.Status == 400 {
		m.BadRequests++
	}
	m.BytesWritten += entry.Bytes

	if entry.Kind == "" {
		return
	}
	km := m.ByKind[entry.Kind]
	if km == nil {
		km = &KindMetrics{}
		m.ByKind[entry.Kind] = km
	}
	km.Count++
	km.Bytes += entry.Bytes
	km.TotalLatency += latency
}

func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy := Metrics{
		TotalRequests: m.TotalRequests,
		TotalErrors:   m.TotalErrors,
		InFlight:      m.InFlight,
		BadRequests:   m.BadRequests,
		ParseFailures: m.ParseFailures,
		WriteFailures: m.WriteFailures,
		BytesWritten:  m.BytesWritten,
		ByKind:        make(map[string]*KindMetrics, len(m.ByKind)),
	}

	for kind, km := range m.ByKind {
		kmCopy := *km
		copy.ByKind[kind] = &kmCopy
	}

	return copy
}
