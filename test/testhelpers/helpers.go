// Package testhelpers provides common utilities and helper functions for testing the relay server.
//
// This package contains reusable test utilities that are shared across unit and integration tests.
// It provides functions for creating test servers, making HTTP requests, dialing room-scoped
// WebSocket connections, and exchanging relay frames to reduce code duplication in test files.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// WebSocketURL converts a test server base URL into the ws:// URL of the
// relay endpoint, joined to the given room. An empty room omits the query
// parameter so the server applies its default.
func WebSocketURL(t *testing.T, baseURL, room string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Failed to parse base URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if room != "" {
		u.RawQuery = url.Values{"room": {room}}.Encode()
	}
	return u.String()
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	// Set a proper origin header for testing
	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// JoinRoom dials the relay endpoint for the given room and consumes the
// welcome notice, so subsequent reads see only broadcast traffic.
func JoinRoom(t *testing.T, baseURL, room string) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(WebSocketURL(t, baseURL, room))
	if err != nil {
		t.Fatalf("Failed to connect to room %q: %v", room, err)
	}

	notice := ReceiveFrame(t, conn, 2*time.Second)
	if notice["type"] != "system" {
		t.Fatalf("Expected system welcome notice, got %v", notice)
	}
	return conn
}

// SendChat sends a chat frame with the given nickname and text.
func SendChat(conn *websocket.Conn, nickname, text string) error {
	return conn.WriteJSON(map[string]string{"type": "chat", "nickname": nickname, "text": text})
}

// SendFile sends a file frame carrying the given reference URL.
func SendFile(conn *websocket.Conn, nickname, fileRef string) error {
	return conn.WriteJSON(map[string]string{"type": "file", "nickname": nickname, "file": fileRef})
}

// SendPing sends an application-level ping frame.
func SendPing(conn *websocket.Conn) error {
	return conn.WriteJSON(map[string]string{"type": "ping"})
}

// SendRawMessage sends a raw byte message over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// ReceiveFrame reads one JSON frame from the connection within the timeout.
func ReceiveFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// AssertFrameField checks that the frame carries the expected string value.
func AssertFrameField(t *testing.T, frame map[string]interface{}, field, expected string) {
	t.Helper()

	value, ok := frame[field]
	if !ok {
		t.Errorf("Frame does not contain %q field", field)
		return
	}
	str, ok := value.(string)
	if !ok {
		t.Errorf("Frame field %q is not a string: %v", field, value)
		return
	}
	if str != expected {
		t.Errorf("Expected %q field %q, got %q", field, expected, str)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// UploadFile posts a multipart upload with the given room id and returns the
// decoded JSON response along with the HTTP status code.
func UploadFile(t *testing.T, baseURL, room, fileName string, content []byte) (map[string]interface{}, int) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if room != "" {
		if err := writer.WriteField("roomId", room); err != nil {
			t.Fatalf("Failed to write room field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("Failed to create file part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write file content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to finalize multipart body: %v", err)
	}

	resp, err := http.Post(baseURL+"/upload", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("Failed to post upload: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	return decoded, resp.StatusCode
}
