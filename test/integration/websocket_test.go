// Package integration contains integration tests for the relay server.
//
// These tests verify that multiple components work together correctly by testing
// the complete system behavior with real HTTP servers, WebSocket connections,
// and end-to-end functionality. Integration tests ensure that the system works
// as expected when all components are assembled together.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lanrelay/lanrelay/internal/server"
)

func mustMarshalChat(t *testing.T, nickname, text string) []byte {
	if t == nil {
		panic("testing.T is required")
	}
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"type":     server.TypeChat,
		"nickname": nickname,
		"text":     text,
	})
	if err != nil {
		t.Fatalf("Failed to marshal chat frame: %v", err)
	}
	return payload
}

// expectNoChat fails the test if a chat or file frame arrives before the
// timeout. System notices (join and leave announcements) are tolerated
// because peers emit them as connections come and go.
func expectNoChat(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if conn == nil {
		t.Fatalf("nil connection provided to expectNoChat")
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of chat: %v", err)
		}
		var msg server.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to unmarshal frame: %v", err)
		}
		if msg.Type == server.TypeChat || msg.Type == server.TypeFile {
			t.Fatalf("Expected no chat, but received %s", raw)
		}
	}
}

func configureServerForTest(t *testing.T, baseURL string, customize func(cfg *server.Config)) {
	if t == nil {
		panic("testing.T is required")
	}
	t.Helper()
	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{baseURL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// relayURL converts the test server's base URL into a WebSocket URL
// scoped to the given room.
func relayURL(t *testing.T, baseURL, room string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if room != "" {
		u.RawQuery = "room=" + url.QueryEscape(room)
	}
	return u.String()
}

// dialRoom connects to the relay, consumes the join notice, and registers
// cleanup for the connection.
func dialRoom(t *testing.T, baseURL, room string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(relayURL(t, baseURL, room), newOriginHeader(baseURL))
	if err != nil {
		t.Fatalf("Failed to connect to room %q: %v", room, err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = resp.Body.Close()
	})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read join notice: %v", err)
	}
	var notice server.Message
	if err := json.Unmarshal(raw, &notice); err != nil {
		t.Fatalf("Failed to unmarshal join notice: %v", err)
	}
	if notice.Type != server.TypeSystem {
		t.Fatalf("Expected system join notice, got %s", raw)
	}
	return conn
}

// TestWebSocketEndpointIntegration tests the WebSocket endpoint with full server integration.
// It verifies that WebSocket connections can be established, messages can be sent and received,
// and the complete WebSocket functionality works in a real server environment.
func TestWebSocketEndpointIntegration(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	t.Run("Successful WebSocket Connection", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(relayURL(t, testServer.URL, "lobby"), newOriginHeader(testServer.URL))
		if err != nil {
			t.Fatalf("Failed to connect to WebSocket: %v", err)
		}
		defer func() { _ = conn.Close() }()
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusSwitchingProtocols {
			t.Errorf("Expected status %d, got %d", http.StatusSwitchingProtocols, resp.StatusCode)
		}

		err = conn.WriteMessage(websocket.TextMessage, mustMarshalChat(t, "amy", "Hello, relay!"))
		if err != nil {
			t.Errorf("Failed to send message: %v", err)
		}

		err = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			t.Errorf("Failed to send close message: %v", err)
		}
	})

	t.Run("Invalid HTTP Method", func(t *testing.T) {
		resp, err := http.Post(testServer.URL+"/ws", "text/plain", strings.NewReader("test"))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected status %d for POST request, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
		}
	})

	t.Run("GET Without WebSocket Headers", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, testServer.URL+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to build GET request: %v", err)
		}
		req.Header.Set("Origin", testServer.URL)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Failed to make GET request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status %d for GET without WebSocket headers, got %d", http.StatusBadRequest, resp.StatusCode)
		}
	})
}

// TestWebSocketMessageBroadcasting tests the relay's room broadcasting.
// It verifies that chat frames sent by one client are delivered to every
// other member of the same room, stamped with a server timestamp, and
// never echoed back to the sender.
func TestWebSocketMessageBroadcasting(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	const numClients = 3
	connections := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		connections[i] = dialRoom(t, testServer.URL, "broadcast")
	}

	// Give the hub time to register all clients
	time.Sleep(50 * time.Millisecond)

	messageText := "Hello from client 0!"
	if err := connections[0].WriteMessage(websocket.TextMessage, mustMarshalChat(t, "amy", messageText)); err != nil {
		t.Fatalf("Failed to send message from client 0: %v", err)
	}

	for i := 1; i < numClients; i++ {
		if err := connections[i].SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Errorf("Failed to set read deadline for client %d: %v", i, err)
			continue
		}

		messageType, message, err := connections[i].ReadMessage()
		if err != nil {
			t.Errorf("Client %d failed to receive broadcasted message: %v", i, err)
			continue
		}

		if messageType != websocket.TextMessage {
			t.Errorf("Client %d: Expected text message, got type %d", i, messageType)
		}

		var received server.Message
		if err := json.Unmarshal(message, &received); err != nil {
			t.Errorf("Client %d: Failed to unmarshal message: %v", i, err)
			continue
		}

		if received.Type != server.TypeChat {
			t.Errorf("Client %d: Expected chat frame, got %q", i, received.Type)
		}
		if received.Text != messageText {
			t.Errorf("Client %d: Expected text %q, got %q", i, messageText, received.Text)
		}
		if received.Nickname != "amy" {
			t.Errorf("Client %d: Expected nickname %q, got %q", i, "amy", received.Nickname)
		}
		if received.TS <= 0 {
			t.Errorf("Client %d: Expected a server timestamp, got %d", i, received.TS)
		}
	}

	// Ensure the sender does not receive its own message
	expectNoChat(t, connections[0], 200*time.Millisecond)

	// Send malformed JSON from another client and ensure it is ignored
	if err := connections[1].WriteMessage(websocket.TextMessage, []byte("not valid json")); err != nil {
		t.Fatalf("Failed to send malformed message: %v", err)
	}

	for i := 0; i < numClients; i++ {
		if i == 1 {
			continue
		}
		expectNoChat(t, connections[i], 150*time.Millisecond)
	}

	// Close all connections gracefully
	for i, conn := range connections {
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			t.Errorf("Failed to send close message for client %d: %v", i, err)
		}
	}
}

// TestWebSocketConnectionLifecycle tests the complete lifecycle of WebSocket connections.
// It verifies that connections can be established, used for communication, and properly
// closed, including testing multiple sequential connections.
func TestWebSocketConnectionLifecycle(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	t.Run("Connection and Disconnection", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(relayURL(t, testServer.URL, "lifecycle"), newOriginHeader(testServer.URL))
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		err = conn.WriteMessage(websocket.PingMessage, nil)
		if err != nil {
			t.Errorf("Failed to send ping: %v", err)
		}

		err = conn.Close()
		if err != nil {
			t.Errorf("Failed to close connection: %v", err)
		}
	})

	t.Run("Multiple Sequential Connections", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			conn, resp, err := websocket.DefaultDialer.Dial(relayURL(t, testServer.URL, "lifecycle"), newOriginHeader(testServer.URL))
			if err != nil {
				t.Fatalf("Failed to connect on iteration %d: %v", i, err)
			}

			testMsg := "Test message " + string(rune('A'+i))
			if err := conn.WriteMessage(websocket.TextMessage, mustMarshalChat(t, "amy", testMsg)); err != nil {
				t.Errorf("Failed to send message on iteration %d: %v", i, err)
			}

			_ = conn.Close()
			_ = resp.Body.Close()

			time.Sleep(10 * time.Millisecond)
		}
	})
}

// TestWebSocketConcurrentConnections tests concurrent WebSocket connections.
// It verifies that multiple clients can connect simultaneously and exchange messages
// without causing race conditions or system instability.
func TestWebSocketConcurrentConnections(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	const numConcurrentClients = 10
	done := make(chan error, numConcurrentClients)

	for i := 0; i < numConcurrentClients; i++ {
		payload := mustMarshalChat(t, "amy", "Message from client "+string(rune('0'+i)))

		go func(clientID int, msgPayload []byte) {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("client %d panic: %v", clientID, r)
				}
			}()

			conn, resp, err := websocket.DefaultDialer.Dial(relayURL(t, testServer.URL, "concurrent"), newOriginHeader(testServer.URL))
			if err != nil {
				done <- fmt.Errorf("client %d dial: %w", clientID, err)
				return
			}
			defer func() { _ = conn.Close() }()
			defer func() { _ = resp.Body.Close() }()

			if err := conn.WriteMessage(websocket.TextMessage, msgPayload); err != nil {
				done <- fmt.Errorf("client %d write: %w", clientID, err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					default:
						_, _, err := conn.ReadMessage()
						if err != nil {
							return
						}
					}
				}
			}()

			<-ctx.Done()
			done <- nil
		}(i, payload)
	}

	for i := 0; i < numConcurrentClients; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Client %d failed: %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Client %d timed out", i)
		}
	}
}

func TestWebSocketOriginValidation(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()

	allowedOrigin := "http://allowed.test"
	configureServerForTest(t, testServer.URL, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{testServer.URL, allowedOrigin}
	})

	wsURL := relayURL(t, testServer.URL, "origins")

	t.Run("Allowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", allowedOrigin)
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("Expected allowed origin to succeed: %v", err)
		}
		t.Cleanup(func() {
			_ = conn.Close()
			if resp != nil {
				_ = resp.Body.Close()
			}
		})
		if resp.StatusCode != http.StatusSwitchingProtocols {
			t.Fatalf("Expected status %d, got %d", http.StatusSwitchingProtocols, resp.StatusCode)
		}
	})

	t.Run("Disallowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://blocked.test")
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err == nil {
			_ = conn.Close()
			if resp != nil {
				_ = resp.Body.Close()
			}
			t.Fatalf("Expected disallowed origin to fail")
		}
		if resp == nil {
			t.Fatalf("Expected HTTP response for disallowed origin")
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("Expected status %d for disallowed origin, got %d", http.StatusForbidden, resp.StatusCode)
		}
	})
}

func TestWebSocketMessageSizeLimit(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()

	const limit int64 = 64
	configureServerForTest(t, testServer.URL, func(cfg *server.Config) {
		cfg.MaxMessageSize = limit
	})

	sender := dialRoom(t, testServer.URL, "sizelimit")
	receiver := dialRoom(t, testServer.URL, "sizelimit")

	oversizedText := strings.Repeat("A", int(limit)+10)
	oversizedPayload := mustMarshalChat(t, "amy", oversizedText)
	if int64(len(oversizedPayload)) <= limit {
		t.Fatalf("Test payload is not oversized: %d bytes", len(oversizedPayload))
	}

	if err := sender.WriteMessage(websocket.TextMessage, oversizedPayload); err != nil && !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("Unexpected error writing oversized message: %v", err)
	}

	// The receiver must not see the oversized chat, only the departure
	// notice for the disconnected sender.
	expectNoChat(t, receiver, 200*time.Millisecond)

	if err := sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, _, readErr := sender.ReadMessage(); readErr == nil {
		t.Fatalf("Expected connection closure after oversized message")
	}
}

func TestWebSocketRateLimiting(t *testing.T) {
	server.StartHub()

	testServer := httptest.NewServer(server.SetupRoutes())
	defer testServer.Close()

	rateCfg := server.RateLimitConfig{Burst: 2, RefillInterval: 500 * time.Millisecond}
	configureServerForTest(t, testServer.URL, func(cfg *server.Config) {
		cfg.RateLimit = rateCfg
	})

	sender := dialRoom(t, testServer.URL, "ratelimit")
	receiver := dialRoom(t, testServer.URL, "ratelimit")

	for i := 0; i < rateCfg.Burst; i++ {
		text := fmt.Sprintf("msg-%d", i)
		if err := sender.WriteMessage(websocket.TextMessage, mustMarshalChat(t, "amy", text)); err != nil {
			t.Fatalf("Failed to send message %d: %v", i, err)
		}
		if err := receiver.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, raw, err := receiver.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to receive message %d: %v", i, err)
		}
		var msg server.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message %d: %v", i, err)
		}
		if msg.Text != text {
			t.Fatalf("Expected text %q, got %q", text, msg.Text)
		}
	}

	if err := sender.WriteMessage(websocket.TextMessage, mustMarshalChat(t, "amy", "over-limit")); err != nil {
		t.Fatalf("Failed to send over-limit message: %v", err)
	}
	expectNoChat(t, receiver, 200*time.Millisecond)

	time.Sleep(rateCfg.RefillInterval + 100*time.Millisecond)

	if err := sender.WriteMessage(websocket.TextMessage, mustMarshalChat(t, "amy", "after-refill")); err != nil {
		t.Fatalf("Failed to send message after refill: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	received := false
	for time.Now().Before(deadline) {
		if err := receiver.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, raw, err := receiver.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			t.Fatalf("Failed to receive message after refill: %v", err)
		}
		var msg server.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message after refill: %v", err)
		}
		if msg.Type == server.TypeChat && msg.Text == "after-refill" {
			received = true
			break
		}
	}
	if !received {
		t.Fatalf("Expected 'after-refill' message after tokens refilled")
	}
}
