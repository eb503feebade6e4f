// Package signaling terminates WebSocket signaling sessions and drives the
// mock media pipeline behind them.
//
// One session per connection: the client sends an SDP offer, the server
// answers with a peer connection that plays a synthetic tone, records
// whatever audio and video the client sends, and pushes a canned
// transcription message every few seconds. The wire protocol is a flat JSON
// envelope discriminated by "type"; see messages.go.
//
// Sessions are isolated. A protocol violation, negotiation failure, or
// transport error tears down that session's peer connection, recorder, and
// background tasks exactly once, and never affects other sessions or the
// listener.
package signaling
