package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// messageType discriminates the JSON envelope on the signaling socket.
type messageType string

const (
	// Client to server.
	messageTypeOffer     messageType = "offer"
	messageTypeCandidate messageType = "candidate"
	messageTypeClose     messageType = "close"

	// Server to client.
	messageTypeAnswer        messageType = "answer"
	messageTypeTranscription messageType = "transcription"
	messageTypeError         messageType = "error"
)

// signalMessage is the wire envelope for every signaling frame, in both
// directions. Fields beyond Type are populated per type; candidate fields
// stay flat so a browser can spread RTCIceCandidate JSON straight into the
// message.
type signalMessage struct {
	Type messageType `json:"type"`

	// offer, answer
	SDP string `json:"sdp,omitempty"`

	// candidate
	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`

	// transcription
	Text      string   `json:"text,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// parseSignalMessage decodes one inbound frame. Unknown JSON fields are
// ignored so clients may attach extras to candidate payloads; unknown types
// and missing required fields are errors.
func parseSignalMessage(data []byte) (signalMessage, error) {
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return signalMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.validate(); err != nil {
		return signalMessage{}, err
	}
	return msg, nil
}

func (m signalMessage) validate() error {
	switch m.Type {
	case messageTypeOffer:
		if m.SDP == "" {
			return fmt.Errorf("offer without sdp")
		}
	case messageTypeCandidate:
		// An empty candidate string is valid: browsers send one at the end
		// of gathering.
	case messageTypeClose:
	case messageTypeAnswer, messageTypeTranscription, messageTypeError:
		return fmt.Errorf("unexpected server-to-client message type %q", m.Type)
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// candidateInit converts a candidate message into pion's init struct.
func (m signalMessage) candidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        m.Candidate,
		SDPMid:           m.SDPMid,
		SDPMLineIndex:    m.SDPMLineIndex,
		UsernameFragment: m.UsernameFragment,
	}
}
