// Command stream-client-go is a smoke client for a running vitals-media-mock.
// It dials the signaling socket, negotiates a peer connection that sends a
// synthetic mic and camera, and verifies that the mock streams its tone back
// and emits transcriptions. Exit status 0 means the full loop worked.
//
// Configuration (env):
//
//	SERVER_URL  signaling endpoint, default ws://127.0.0.1:8080/ws
//	DURATION    how long to stream before hanging up, default 5s
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// signalMessage is the client's view of the mock's signaling envelope.
type signalMessage struct {
	Type      string  `json:"type"`
	SDP       string  `json:"sdp,omitempty"`
	Text      string  `json:"text,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Code      string  `json:"code,omitempty"`
	Message   string  `json:"message,omitempty"`
}

func main() {
	serverURL := envOrDefault("SERVER_URL", "ws://127.0.0.1:8080/ws")
	duration := envDurationOrDefault("DURATION", 5*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", serverURL, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("connected %s\n", serverURL)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create peer connection: %v\n", err)
		os.Exit(1)
	}
	defer pc.Close()

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fmt.Printf("peer connection %s\n", s)
	})

	var toneRTP atomic.Int64
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fmt.Printf("remote track %s (%s)\n", track.ID(), track.Codec().MimeType)
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
			toneRTP.Add(1)
		}
	})

	audioCap := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	audio, err := webrtc.NewTrackLocalStaticSample(audioCap, "audio", "smoke-mic")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create audio track: %v\n", err)
		os.Exit(1)
	}
	videoCap := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	video, err := webrtc.NewTrackLocalStaticSample(videoCap, "video", "smoke-cam")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create video track: %v\n", err)
		os.Exit(1)
	}
	if _, err := pc.AddTrack(audio); err != nil {
		fmt.Fprintf(os.Stderr, "add audio track: %v\n", err)
		os.Exit(1)
	}
	if _, err := pc.AddTrack(video); err != nil {
		fmt.Fprintf(os.Stderr, "add video track: %v\n", err)
		os.Exit(1)
	}

	// Gather before sending so the offer needs no trickle; the mock answers
	// the same way.
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create offer: %v\n", err)
		os.Exit(1)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		fmt.Fprintf(os.Stderr, "set local description: %v\n", err)
		os.Exit(1)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		os.Exit(1)
	}

	if err := conn.WriteJSON(signalMessage{Type: "offer", SDP: pc.LocalDescription().SDP}); err != nil {
		fmt.Fprintf(os.Stderr, "send offer: %v\n", err)
		os.Exit(1)
	}

	var answer signalMessage
	if err := conn.ReadJSON(&answer); err != nil {
		fmt.Fprintf(os.Stderr, "read answer: %v\n", err)
		os.Exit(1)
	}
	switch answer.Type {
	case "answer":
	case "error":
		fmt.Fprintf(os.Stderr, "server rejected offer: %s: %s\n", answer.Code, answer.Message)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "expected answer, got %q\n", answer.Type)
		os.Exit(1)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		fmt.Fprintf(os.Stderr, "set remote description: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("answer received")

	var transcriptions atomic.Int64
	readDone := make(chan error, 1)
	go func() {
		readDone <- readSignals(conn, &transcriptions)
	}()

	pumpDone := make(chan struct{})
	pumpStop := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pumpMedia(audio, video, pumpStop)
	}()

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		fmt.Println("interrupted")
	case err := <-readDone:
		close(pumpStop)
		<-pumpDone
		fmt.Fprintf(os.Stderr, "signaling ended early: %v\n", err)
		os.Exit(1)
	}

	close(pumpStop)
	<-pumpDone

	if err := conn.WriteJSON(signalMessage{Type: "close"}); err != nil {
		fmt.Fprintf(os.Stderr, "send close: %v\n", err)
		os.Exit(1)
	}
	select {
	case err := <-readDone:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			fmt.Fprintf(os.Stderr, "unexpected close: %v\n", err)
			os.Exit(1)
		}
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for the server to close")
		os.Exit(1)
	}

	fmt.Printf("tone rtp packets: %d\n", toneRTP.Load())
	fmt.Printf("transcriptions: %d\n", transcriptions.Load())
	if toneRTP.Load() == 0 || transcriptions.Load() == 0 {
		fmt.Fprintln(os.Stderr, "FAIL: missing tone media or transcriptions")
		os.Exit(1)
	}
	fmt.Println("PASS")
}

// readSignals consumes server messages until the socket closes and returns
// the terminating read error.
func readSignals(conn *websocket.Conn, transcriptions *atomic.Int64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("unmarshal server message: %w", err)
		}
		switch msg.Type {
		case "transcription":
			transcriptions.Add(1)
			fmt.Printf("transcription %.3f %q\n", msg.Timestamp, msg.Text)
		case "error":
			return fmt.Errorf("server error %s: %s", msg.Code, msg.Message)
		default:
			// The mock answers without trickle, so nothing else is expected.
		}
	}
}

// pumpMedia writes synthetic samples until stop closes: a fake Opus frame
// every 20ms and a minimal VP8 keyframe every fifth tick.
func pumpMedia(audio, video *webrtc.TrackLocalStaticSample, stop <-chan struct{}) {
	keyframe := vp8Keyframe(320, 240)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if err := audio.WriteSample(media.Sample{Data: []byte{0xFC, 0xFF, 0xFE}, Duration: 20 * time.Millisecond}); err != nil {
			return
		}
		if ticks%5 == 0 {
			if err := video.WriteSample(media.Sample{Data: keyframe, Duration: 100 * time.Millisecond}); err != nil {
				return
			}
		}
		ticks++
	}
}

// vp8Keyframe builds the smallest payload the recorder accepts as a VP8
// keyframe: frame tag, start code, and 14-bit little-endian dimensions.
func vp8Keyframe(width, height int) []byte {
	data := make([]byte, 64)
	data[0] = 0x30
	data[3] = 0x9D
	data[4] = 0x01
	data[5] = 0x2A
	data[6] = byte(width)
	data[7] = byte(width >> 8)
	data[8] = byte(height)
	data[9] = byte(height >> 8)
	return data
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q: %v\n", key, v, err)
		os.Exit(2)
	}
	return d
}
