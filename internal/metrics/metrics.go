package metrics

import "sync"

// Event names incremented across packages. Kept as plain strings so the
// registry stays a dumb counter map; the Prometheus handler exposes them
// under a single metric with an `event` label.
const (
	SessionStarted  = "session_started"
	SessionClosed   = "session_closed"
	SessionRejected = "session_rejected"

	OfferReceived      = "offer_received"
	AnswerSent         = "answer_sent"
	CandidateReceived  = "candidate_received"
	CandidateIgnored   = "candidate_ignored"
	BadMessage         = "bad_message"
	RateLimited        = "rate_limited"
	OriginRejected     = "origin_rejected"
	NegotiationFailure = "negotiation_failure"

	PeerConnected        = "peer_connected"
	PeerConnectionFailed = "peer_connection_failed"

	TranscriptionSent        = "transcription_sent"
	TranscriptionSendFailure = "transcription_send_failure"

	TrackReceived    = "track_received"
	RecordingStarted = "recording_started"
	RecordingStopped = "recording_stopped"
	RecordingError   = "recording_error"
	RecordingPruned  = "recording_pruned"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A real deployment would plug into a metrics backend; this type keeps the
// server's enforcement and lifecycle logic testable while still being
// scrapable via the Prometheus handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
