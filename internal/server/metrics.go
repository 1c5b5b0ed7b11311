package server

import "sync/atomic"

// Metrics counts connection and delivery events for the stats endpoint.
type Metrics struct {
	connectionsOpened     atomic.Int64
	connectionsClosed     atomic.Int64
	connectionsActive     atomic.Int64
	authFailures          atomic.Int64
	transportErrors       atomic.Int64
	requestErrors         atomic.Int64
	heartbeatTerminations atomic.Int64
	delivered             atomic.Int64
	queued                atomic.Int64
	replayed              atomic.Int64
	sendFailures          atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	ConnectionsOpened     int64 `json:"connectionsOpened"`
	ConnectionsClosed     int64 `json:"connectionsClosed"`
	ConnectionsActive     int64 `json:"connectionsActive"`
	AuthFailures          int64 `json:"authFailures"`
	TransportErrors       int64 `json:"transportErrors"`
	RequestErrors         int64 `json:"requestErrors"`
	HeartbeatTerminations int64 `json:"heartbeatTerminations"`
	Delivered             int64 `json:"delivered"`
	Queued                int64 `json:"queued"`
	Replayed              int64 `json:"replayed"`
	SendFailures          int64 `json:"sendFailures"`
	Rooms                 int   `json:"rooms"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ConnectionsOpened:     m.connectionsOpened.Load(),
		ConnectionsClosed:     m.connectionsClosed.Load(),
		ConnectionsActive:     m.connectionsActive.Load(),
		AuthFailures:          m.authFailures.Load(),
		TransportErrors:       m.transportErrors.Load(),
		RequestErrors:         m.requestErrors.Load(),
		HeartbeatTerminations: m.heartbeatTerminations.Load(),
		Delivered:             m.delivered.Load(),
		Queued:                m.queued.Load(),
		Replayed:              m.replayed.Load(),
		SendFailures:          m.sendFailures.Load(),
	}
}
