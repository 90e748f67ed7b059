// Package server validates, normalizes, and routes inbound client frames.
package server

import "log"

// route processes one raw frame received from a client. The policy is
// deliberately permissive: a frame that fails to parse, carries an unknown
// type, or is missing a required field is discarded silently and the
// connection stays open. No routing error is ever surfaced back to the
// sender; the only feedback channel is normal message flow.
func (h *Hub) route(client *Client, raw []byte) {
	frame, ok := decodeFrame(raw)
	if !ok {
		metricDiscardedFrames.Inc()
		log.Printf("Discarding unparseable frame from %s", client.addr)
		return
	}

	switch frame.Type {
	case TypePing:
		// Keep-alive echo, replied to the sender only.
		h.safeSend(client, pongPayload())

	case TypeChat:
		text, ok := frame.Text.(string)
		if !ok {
			metricDiscardedFrames.Inc()
			return
		}
		nickname := nicknameOf(frame.Nickname)
		client.rememberNickname(nickname)
		h.broadcast <- BroadcastMessage{
			Room:    client.room,
			Sender:  client,
			Payload: chatPayload(nickname, text),
		}

	case TypeFile:
		fileRef, ok := frame.File.(string)
		if !ok || fileRef == "" {
			metricDiscardedFrames.Inc()
			return
		}
		nickname := nicknameOf(frame.Nickname)
		client.rememberNickname(nickname)
		h.broadcast <- BroadcastMessage{
			Room:    client.room,
			Sender:  client,
			Payload: filePayload(nickname, fileRef),
		}

	default:
		metricDiscardedFrames.Inc()
	}
}
