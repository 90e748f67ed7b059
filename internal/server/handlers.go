// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// roomFromRequest derives the room id from the connection-establishment URL.
// A missing or empty token falls back to the default room.
func roomFromRequest(r *http.Request) string {
	room := r.URL.Query().Get("room")
	if room == "" {
		return DefaultRoom
	}
	return room
}

// WebSocketHandler handles WebSocket upgrade requests. It validates the
// method, upgrades the connection, derives the room assignment from the
// request URL, and registers the new client with the hub. The hub launches
// the pump goroutines and delivers the welcome notice.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, hub, r.RemoteAddr, roomFromRequest(r))
	client.hub.register <- client
}

// writeJSON writes a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

// HealthHandler provides a simple health check endpoint that reports server
// status as JSON.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// TestPageHandler serves an HTML test page for exercising the relay. It
// provides a minimal interface to join a room, send chat messages, and watch
// the frames other room members broadcast.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>LAN Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #text { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        .system { color: gray; font-style: italic; }
        .chat { color: black; }
    </style>
</head>
<body>
    <h1>LAN Relay Test</h1>
    <div>
        <input type="text" id="room" placeholder="Room" value="default">
        <input type="text" id="nickname" placeholder="Nickname">
        <button onclick="connect()">Join</button>
    </div>
    <div id="messages"></div>
    <div>
        <input type="text" id="text" placeholder="Type a message..." disabled>
        <button id="send" onclick="sendChat()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        const messages = document.getElementById('messages');

        function show(text, cls) {
            const div = document.createElement('div');
            div.className = cls;
            div.textContent = text;
            messages.appendChild(div);
            messages.scrollTop = messages.scrollHeight;
        }

        function connect() {
            if (ws) ws.close();
            const room = document.getElementById('room').value || 'default';
            ws = new WebSocket('ws://' + location.host + '/ws?room=' + encodeURIComponent(room));
            ws.onopen = function() {
                document.getElementById('text').disabled = false;
                document.getElementById('send').disabled = false;
            };
            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                if (msg.type === 'system') {
                    show(msg.text, 'system');
                } else if (msg.type === 'chat') {
                    show(msg.nickname + ': ' + msg.text, 'chat');
                } else if (msg.type === 'file') {
                    show(msg.nickname + ' shared ' + msg.file, 'chat');
                }
            };
            ws.onclose = function() {
                show('disconnected', 'system');
                document.getElementById('text').disabled = true;
                document.getElementById('send').disabled = true;
                ws = null;
            };
        }

        function sendChat() {
            const input = document.getElementById('text');
            const text = input.value.trim();
            if (!text || !ws || ws.readyState !== WebSocket.OPEN) return;
            ws.send(JSON.stringify({
                type: 'chat',
                nickname: document.getElementById('nickname').value,
                text: text
            }));
            show('you: ' + text, 'chat');
            input.value = '';
        }

        document.getElementById('text').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendChat();
        });
    </script>
</body>
</html>`
	if _, err := w.Write([]byte(html)); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
