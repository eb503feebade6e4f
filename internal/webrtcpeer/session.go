package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Handler receives events from a session's peer connection. Callbacks fire
// on pion's goroutines; implementations must not block.
type Handler interface {
	HandleConnectionStateChange(state webrtc.PeerConnectionState)
	HandleTrack(track *webrtc.TrackRemote)
}

// Session owns a server-side PeerConnection for one signaling client. It
// answers the client's offer, carries the outbound tone track, and hands
// inbound tracks to the Handler.
type Session struct {
	log     *slog.Logger
	pc      *webrtc.PeerConnection
	onClose func()
	close   sync.Once
}

func NewSession(api *webrtc.API, iceServers []webrtc.ICEServer, handler Handler, logger *slog.Logger, onClose func()) (*Session, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	s := &Session{
		log:     logger,
		pc:      pc,
		onClose: onClose,
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("remote track received",
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
			"track_id", track.ID(),
		)
		handler.HandleTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("peer connection state changed", "state", state.String())
		handler.HandleConnectionStateChange(state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			// Off the callback goroutine: Close blocks while another
			// teardown is in flight.
			go func() { _ = s.Close() }()
		}
	})

	return s, nil
}

// AddAudioTrack attaches the outbound Opus track. Call it before AnswerOffer
// so the track is part of the negotiated SDP.
func (s *Session) AddAudioTrack() (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	}, "audio", "server-tone")
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	// Drain RTCP so the interceptors see receiver reports.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return track, nil
}

// AnswerOffer applies the client's offer and returns the local answer. It
// waits for ICE gathering to finish so the SDP already carries the server's
// candidates and the client needs no trickle from our side.
func (s *Session) AnswerOffer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return s.pc.LocalDescription().SDP, nil
}

// AddRemoteCandidate feeds one trickled ICE candidate from the client into
// the connection.
func (s *Session) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	return s.pc.ConnectionState()
}

func (s *Session) Close() error {
	var err error
	s.close.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		err = s.pc.Close()
	})
	return err
}
