package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/vitalsapp/webrtc-media-mock/internal/metrics"
	"github.com/vitalsapp/webrtc-media-mock/internal/origin"
	"github.com/vitalsapp/webrtc-media-mock/internal/ratelimit"
	"github.com/vitalsapp/webrtc-media-mock/internal/recorder"
	"github.com/vitalsapp/webrtc-media-mock/internal/retention"
	"github.com/vitalsapp/webrtc-media-mock/internal/tone"
	"github.com/vitalsapp/webrtc-media-mock/internal/transcript"
	"github.com/vitalsapp/webrtc-media-mock/internal/webrtcpeer"
)

// Defaults applied by the accessor methods when Config leaves a knob zero,
// so tests can construct a Server with only the pieces they exercise.
const (
	defaultIdleTimeout           = 60 * time.Second
	defaultPingInterval          = 10 * time.Second
	defaultMaxMessageBytes       = 64 * 1024
	defaultMaxMessagesPerSecond  = 50
	defaultAnswerTimeout         = 10 * time.Second
	defaultTranscriptionInterval = 3 * time.Second
	defaultRecordingsDir         = "recordings"

	// wsWriteWait bounds every socket write so a stalled client cannot pin
	// a goroutine.
	wsWriteWait = time.Second
)

var defaultToneParams = tone.Params{
	FrequencyHz:   440,
	SampleRate:    48000,
	FrameDuration: 20 * time.Millisecond,
	Amplitude:     0.3,
}

// Config carries the collaborators and limits for the signaling endpoint.
type Config struct {
	Log     *slog.Logger
	WebRTC  *webrtc.API
	Metrics *metrics.Metrics
	Clock   ratelimit.Clock

	ICEServers     []webrtc.ICEServer
	AllowedOrigins []string

	// MaxSessions caps concurrent signaling sessions; 0 means unlimited.
	MaxSessions                   int
	IdleTimeout                   time.Duration
	PingInterval                  time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// AnswerTimeout bounds remote-description handling plus ICE gathering
	// for the answer.
	AnswerTimeout time.Duration

	TranscriptionInterval time.Duration
	Tone                  tone.Params
	RecordingsDir         string
	// Retention, when set, is applied to the recordings directory every
	// time a session starts.
	Retention *retention.Policy
}

// Server owns the WebSocket signaling endpoint and its live sessions.
type Server struct {
	cfg Config
	log *slog.Logger

	upgrader websocket.Upgrader

	pruneMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	active   int
	sessions map[*wsSession]struct{}
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		cfg:      cfg,
		log:      log,
		sessions: make(map[*wsSession]struct{}),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     srv.checkOrigin,
	}
	return srv
}

// RegisterRoutes attaches the signaling endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
}

// Close terminates every live session. New connections are refused once it
// returns.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	open := make([]*wsSession, 0, len(s.sessions))
	for ws := range s.sessions {
		open = append(open, ws)
	}
	s.mu.Unlock()

	for _, ws := range open {
		ws.Close()
	}
	return nil
}

// ActiveSessions reports the number of sessions currently holding a slot.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// checkOrigin applies the same policy as the HTTP origin middleware:
// requests without an Origin header (non-browser clients) are allowed,
// browsers must match the allow-list or, when it is empty, the request
// host.
func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalizedOrigin, originHost, ok := origin.NormalizeHeader(originHeader)
	if !ok || !origin.IsAllowed(normalizedOrigin, originHost, r.Host, s.cfg.AllowedOrigins) {
		s.countEvent(metrics.OriginRejected)
		s.log.Warn("rejecting signaling connection from disallowed origin", "origin", originHeader)
		return false
	}
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquireSlot() {
		s.countEvent(metrics.SessionRejected)
		s.log.Warn("rejecting signaling connection: session limit reached",
			"limit", s.cfg.MaxSessions, "remote_addr", r.RemoteAddr)
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.releaseSlot()
		s.log.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	ws := s.newWSSession(conn)
	s.track(ws)
	ws.run()
}

func (s *Server) acquireSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if limit := s.cfg.MaxSessions; limit > 0 && s.active >= limit {
		return false
	}
	s.active++
	return true
}

func (s *Server) releaseSlot() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

func (s *Server) track(ws *wsSession) {
	s.mu.Lock()
	s.sessions[ws] = struct{}{}
	s.mu.Unlock()
}

// untrack drops the session and frees its slot. Called exactly once, from
// the session's teardown.
func (s *Server) untrack(ws *wsSession) {
	s.mu.Lock()
	delete(s.sessions, ws)
	s.active--
	s.mu.Unlock()
}

func (s *Server) countEvent(name string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Inc(name)
	}
}

// pruneRecordings applies the retention policy. Prunes triggered while one
// is already in flight are skipped.
func (s *Server) pruneRecordings() {
	if !s.pruneMu.TryLock() {
		return
	}
	defer s.pruneMu.Unlock()

	removed, err := s.cfg.Retention.Prune()
	if err != nil {
		s.log.Warn("pruning recordings failed", "error", err)
		return
	}
	if removed > 0 {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Add(metrics.RecordingPruned, uint64(removed))
		}
		s.log.Info("pruned old recordings", "removed", removed)
	}
}

func (s *Server) clock() ratelimit.Clock {
	if s.cfg.Clock != nil {
		return s.cfg.Clock
	}
	return ratelimit.RealClock{}
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout > 0 {
		return s.cfg.IdleTimeout
	}
	return defaultIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.PingInterval > 0 {
		return s.cfg.PingInterval
	}
	return defaultPingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxSignalingMessageBytes > 0 {
		return s.cfg.MaxSignalingMessageBytes
	}
	return defaultMaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxSignalingMessagesPerSecond > 0 {
		return s.cfg.MaxSignalingMessagesPerSecond
	}
	return defaultMaxMessagesPerSecond
}

func (s *Server) answerTimeout() time.Duration {
	if s.cfg.AnswerTimeout > 0 {
		return s.cfg.AnswerTimeout
	}
	return defaultAnswerTimeout
}

func (s *Server) transcriptionInterval() time.Duration {
	if s.cfg.TranscriptionInterval > 0 {
		return s.cfg.TranscriptionInterval
	}
	return defaultTranscriptionInterval
}

func (s *Server) toneParams() tone.Params {
	if s.cfg.Tone == (tone.Params{}) {
		return defaultToneParams
	}
	return s.cfg.Tone
}

func (s *Server) recordingsDir() string {
	if s.cfg.RecordingsDir != "" {
		return s.cfg.RecordingsDir
	}
	return defaultRecordingsDir
}

// protocolError is a client-attributable failure. The read loop reports it
// in band and closes with the carried close code.
type protocolError struct {
	code        string
	message     string
	closeCode   int
	closeReason string
}

func (e *protocolError) Error() string { return e.message }

// wsSession is one signaling connection and the media session it controls.
//
// The read loop owns negotiation; pion callbacks and the background tasks
// touch shared state only behind mu or the write mutex.
type wsSession struct {
	srv  *Server
	log  *slog.Logger
	conn *websocket.Conn

	limiter *ratelimit.Bucket

	// tasks is the parent context of the ping loop, the tone streamer, and
	// the transcription emitter. Cancelled once on teardown.
	tasks     context.Context
	stopTasks context.CancelFunc
	wg        sync.WaitGroup

	writeMu sync.Mutex

	mu   sync.Mutex
	done bool
	peer *webrtcpeer.Session
	rec  *recorder.Recorder

	closeOnce sync.Once
}

func (s *Server) newWSSession(conn *websocket.Conn) *wsSession {
	perSecond := int64(s.maxMessagesPerSecond())
	ctx, cancel := context.WithCancel(context.Background())
	return &wsSession{
		srv:       s,
		log:       s.log.With("session_id", uuid.NewString()),
		conn:      conn,
		limiter:   ratelimit.NewBucket(s.clock(), perSecond, perSecond),
		tasks:     ctx,
		stopTasks: cancel,
	}
}

// run reads signal messages until the socket dies, the client asks to
// close, or a protocol violation forces a close. It owns teardown.
func (ws *wsSession) run() {
	defer ws.Close()

	ws.srv.countEvent(metrics.SessionStarted)
	ws.log.Info("signaling session started", "remote_addr", ws.conn.RemoteAddr().String())

	if ws.srv.cfg.Retention != nil {
		go ws.srv.pruneRecordings()
	}

	ws.conn.SetReadLimit(ws.srv.maxMessageBytes())
	_ = ws.conn.SetReadDeadline(time.Now().Add(ws.srv.idleTimeout()))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(ws.srv.idleTimeout()))
	})

	if !ws.startTask(ws.pingLoop) {
		return
	}

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				ws.log.Info("closing idle signaling session")
				ws.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent a 1009 close frame.
				ws.srv.countEvent(metrics.BadMessage)
				ws.log.Warn("closing session: signaling message exceeds read limit",
					"limit_bytes", ws.srv.maxMessageBytes())
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				ws.log.Info("client closed signaling session")
			default:
				ws.log.Info("signaling socket read ended", "error", err)
			}
			return
		}

		_ = ws.conn.SetReadDeadline(time.Now().Add(ws.srv.idleTimeout()))

		// Rate-limit after the read: closing before draining the frame can
		// reset the TCP stream early enough that the client never observes
		// the close code.
		if !ws.limiter.Allow() {
			ws.srv.countEvent(metrics.RateLimited)
			ws.fail("rate_limited", "too many signaling messages", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			ws.fail("bad_message", "binary frames are not supported", websocket.CloseUnsupportedData, "text frames only")
			return
		}

		msg, err := parseSignalMessage(data)
		if err != nil {
			// One bad message never kills the session.
			ws.srv.countEvent(metrics.BadMessage)
			ws.log.Warn("ignoring malformed signaling message", "error", err)
			ws.sendError("bad_message", err.Error())
			continue
		}

		switch msg.Type {
		case messageTypeOffer:
			if err := ws.handleOffer(msg); err != nil {
				var perr *protocolError
				if errors.As(err, &perr) {
					ws.fail(perr.code, perr.message, perr.closeCode, perr.closeReason)
				} else {
					ws.srv.countEvent(metrics.NegotiationFailure)
					ws.log.Error("answering offer failed", "error", err)
					ws.fail("negotiation_failed", "could not negotiate a peer connection",
						websocket.CloseInternalServerErr, "negotiation failed")
				}
				return
			}
		case messageTypeCandidate:
			ws.handleRemoteCandidate(msg)
		case messageTypeClose:
			ws.log.Info("client requested close")
			ws.closeWith(websocket.CloseNormalClosure, "session closed")
			return
		}
	}
}

// handleOffer negotiates the peer connection and starts the session's media
// tasks. A non-nil return ends the session.
func (ws *wsSession) handleOffer(msg signalMessage) error {
	ws.mu.Lock()
	already := ws.peer != nil
	ws.mu.Unlock()
	if already {
		return &protocolError{
			code:        "unexpected_message",
			message:     "offer already received",
			closeCode:   websocket.ClosePolicyViolation,
			closeReason: "duplicate offer",
		}
	}

	ws.srv.countEvent(metrics.OfferReceived)
	ws.log.Info("offer received", "sdp_bytes", len(msg.SDP))

	peer, err := webrtcpeer.NewSession(ws.srv.cfg.WebRTC, ws.srv.cfg.ICEServers, ws, ws.log, ws.scheduleClose)
	if err != nil {
		return fmt.Errorf("create peer session: %w", err)
	}
	ws.mu.Lock()
	ws.peer = peer
	ws.mu.Unlock()

	track, err := peer.AddAudioTrack()
	if err != nil {
		return fmt.Errorf("add tone track: %w", err)
	}
	streamer, err := tone.NewStreamer(ws.srv.toneParams(), track, ws.log)
	if err != nil {
		return fmt.Errorf("prepare tone streamer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ws.tasks, ws.srv.answerTimeout())
	answerSDP, err := peer.AnswerOffer(ctx, msg.SDP)
	cancel()
	if err != nil {
		return fmt.Errorf("answer offer: %w", err)
	}

	if err := ws.send(signalMessage{Type: messageTypeAnswer, SDP: answerSDP}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	ws.srv.countEvent(metrics.AnswerSent)
	ws.log.Info("answer sent", "sdp_bytes", len(answerSDP))

	emitter := transcript.NewEmitter(ws.srv.transcriptionInterval(), ws.sendTranscription, ws.log)

	ws.startTask(func() {
		if err := streamer.Run(ws.tasks); err != nil {
			ws.log.Error("tone streamer stopped", "error", err)
			ws.scheduleClose()
		}
	})
	ws.startTask(func() {
		if err := emitter.Run(ws.tasks); err != nil {
			// The socket write failed; the read loop notices on its own.
			ws.log.Warn("transcription emitter stopped", "error", err)
		}
	})
	return nil
}

func (ws *wsSession) handleRemoteCandidate(msg signalMessage) {
	if msg.Candidate == "" {
		// End-of-candidates marker.
		ws.srv.countEvent(metrics.CandidateIgnored)
		return
	}

	ws.mu.Lock()
	peer := ws.peer
	ws.mu.Unlock()
	if peer == nil {
		ws.srv.countEvent(metrics.CandidateIgnored)
		ws.log.Warn("ignoring candidate received before offer")
		return
	}

	ws.srv.countEvent(metrics.CandidateReceived)
	if err := peer.AddRemoteCandidate(msg.candidateInit()); err != nil {
		// A bad candidate is not fatal; ICE keeps working on the rest.
		ws.log.Warn("adding remote candidate failed", "error", err)
	}
}

// HandleConnectionStateChange implements webrtcpeer.Handler. Terminal states
// close the peer session itself, which tears down the rest of this session
// through the close hook.
func (ws *wsSession) HandleConnectionStateChange(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		ws.srv.countEvent(metrics.PeerConnected)
	case webrtc.PeerConnectionStateFailed:
		ws.srv.countEvent(metrics.PeerConnectionFailed)
	}
}

// HandleTrack implements webrtcpeer.Handler. The first inbound track creates
// the session's recorder; every track then feeds it.
func (ws *wsSession) HandleTrack(track *webrtc.TrackRemote) {
	ws.srv.countEvent(metrics.TrackReceived)

	ws.mu.Lock()
	if ws.done {
		ws.mu.Unlock()
		return
	}
	rec := ws.rec
	if rec == nil {
		var err error
		rec, err = recorder.New(ws.srv.recordingsDir(), ws.srv.clock().Now(), ws.log)
		if err != nil {
			ws.mu.Unlock()
			ws.srv.countEvent(metrics.RecordingError)
			ws.log.Error("creating recorder failed", "error", err)
			return
		}
		ws.rec = rec
		ws.srv.countEvent(metrics.RecordingStarted)
	}
	ws.mu.Unlock()

	rec.AddTrack(track)
}

func (ws *wsSession) sendTranscription(tr transcript.Transcription) error {
	msg := signalMessage{
		Type:      messageTypeTranscription,
		Text:      tr.Text,
		Timestamp: &tr.Timestamp,
	}
	if err := ws.send(msg); err != nil {
		ws.srv.countEvent(metrics.TranscriptionSendFailure)
		return err
	}
	ws.srv.countEvent(metrics.TranscriptionSent)
	return nil
}

// startTask runs fn on the session WaitGroup unless teardown already began.
func (ws *wsSession) startTask(fn func()) bool {
	ws.mu.Lock()
	if ws.done {
		ws.mu.Unlock()
		return false
	}
	ws.wg.Add(1)
	ws.mu.Unlock()

	go func() {
		defer ws.wg.Done()
		fn()
	}()
	return true
}

// pingLoop keeps the socket alive. Peers that stop answering pings stop
// extending the read deadline and fall out via the idle timeout.
func (ws *wsSession) pingLoop() {
	ticker := time.NewTicker(ws.srv.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ws.tasks.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			ws.writeMu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline)
			ws.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// send marshals msg and writes it as one text frame. Writes from the read
// loop, pion callbacks, and the emitter all serialize through writeMu.
func (ws *wsSession) send(msg signalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// sendError reports a non-fatal protocol problem in band. Best effort.
func (ws *wsSession) sendError(code, message string) {
	if err := ws.send(signalMessage{Type: messageTypeError, Code: code, Message: message}); err != nil {
		ws.log.Debug("sending error message failed", "error", err)
	}
}

// fail sends an error message followed by a close frame. The caller returns
// from the read loop afterwards.
func (ws *wsSession) fail(code, message string, closeCode int, closeReason string) {
	ws.sendError(code, message)
	ws.closeWith(closeCode, closeReason)
}

func (ws *wsSession) closeWith(closeCode int, reason string) {
	deadline := time.Now().Add(wsWriteWait)
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	err := ws.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		ws.log.Debug("writing close frame failed", "error", err)
	}
}

// scheduleClose tears the session down from a pion callback or task
// goroutine without blocking it.
func (ws *wsSession) scheduleClose() {
	go ws.Close()
}

// Close tears the session down: background tasks, peer connection,
// recorder, socket, server bookkeeping. Safe to call from any goroutine,
// any number of times.
func (ws *wsSession) Close() {
	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		ws.done = true
		peer := ws.peer
		rec := ws.rec
		ws.mu.Unlock()

		ws.stopTasks()

		if peer != nil {
			if err := peer.Close(); err != nil {
				ws.log.Warn("closing peer connection failed", "error", err)
			}
		}
		if rec != nil {
			if err := rec.Stop(); err != nil {
				ws.srv.countEvent(metrics.RecordingError)
				ws.log.Error("stopping recorder failed", "error", err)
			} else {
				ws.srv.countEvent(metrics.RecordingStopped)
			}
		}

		_ = ws.conn.Close()
		ws.wg.Wait()

		ws.srv.untrack(ws)
		ws.srv.countEvent(metrics.SessionClosed)
		ws.log.Info("signaling session closed")
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
