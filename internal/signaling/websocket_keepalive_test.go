package signaling

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestServerPingsClient(t *testing.T) {
	_, ts, _ := newTestServer(t, func(cfg *Config) {
		cfg.PingInterval = 50 * time.Millisecond
		cfg.IdleTimeout = 10 * time.Second
	})
	conn := dialWS(t, ts, nil)

	pingSeen := make(chan struct{}, 1)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Answer so the server keeps the session alive.
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	// Control frames are only processed while a read is in flight.
	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection ended before a ping arrived: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no ping within 5s")
	}
}

func TestIdlePeerClosedNormally(t *testing.T) {
	_, ts, _ := newTestServer(t, func(cfg *Config) {
		cfg.PingInterval = 50 * time.Millisecond
		cfg.IdleTimeout = 300 * time.Millisecond
	})
	conn := dialWS(t, ts, nil)

	// Swallow pings so the server-side read deadline expires, like a client
	// whose tab froze.
	conn.SetPingHandler(func(string) error { return nil })

	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("connection ended with %v, want normal closure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle session was not closed")
	}
}

func TestInboundMessagesExtendIdleDeadline(t *testing.T) {
	_, ts, _ := newTestServer(t, func(cfg *Config) {
		cfg.PingInterval = time.Hour
		cfg.IdleTimeout = 300 * time.Millisecond
	})
	conn := dialWS(t, ts, nil)
	conn.SetPingHandler(func(string) error { return nil })

	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	// Keep talking more often than the idle timeout; the session must
	// outlive several idle windows on data frames alone.
	for i := 0; i < 8; i++ {
		select {
		case err := <-errCh:
			t.Fatalf("session ended while active: %v", err)
		case <-time.After(100 * time.Millisecond):
		}
		if err := conn.WriteJSON(signalMessage{Type: messageTypeCandidate, Candidate: ""}); err != nil {
			t.Fatalf("send keepalive message: %v", err)
		}
	}

	// Then go quiet and fall out via the idle timeout.
	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("connection ended with %v, want normal closure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle session was not closed")
	}
}
