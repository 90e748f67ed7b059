// Package server coordinates room membership, message fan-out, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// Hub is the long-lived service object that owns all room state: the
// connection registry and the room index. Both structures are guarded by a
// single mutex; lifecycle and broadcast events are serialized through the
// hub's channels. Broadcasts snapshot the peer set under the lock and send
// outside it, so a peer disconnecting mid-broadcast simply misses that
// message.
type Hub struct {
	registry   *registry
	rooms      *roomIndex
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with empty room state.
// The returned Hub is ready to manage connections once Run is started.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   newRegistry(),
		rooms:      newRoomIndex(),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

var hub = NewHub()

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetBroadcastChan returns the channel used for broadcasting messages to room peers.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetBroadcastChan() chan<- BroadcastMessage {
	return h.broadcast
}

// ClientCount returns the number of currently registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.registry.size()
}

// RoomCount returns the number of rooms with at least one member. Empty rooms
// are pruned on departure, so this is also the total number of room keys.
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.rooms.roomCount()
}

// RoomClientCount returns the number of connections joined to the given room.
func (h *Hub) RoomClientCount(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.rooms.memberCount(room)
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and room broadcasts. This method should be called in a
// separate goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)
		}
	}
}

// handleRegister joins the client to its room and starts its pump goroutines.
// A repeated registration of a live client is resolved as leave-then-join so
// a connection can never belong to two rooms at once.
func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	if oldRoom, ok := h.registry.roomOf(client); ok {
		h.rooms.removeMember(oldRoom, client)
		h.registry.leave(client)
	}
	client.closed = false
	h.registry.join(client, client.room)
	h.rooms.addMember(client.room, client)
	clientCount := h.registry.size()
	roomCount := h.rooms.roomCount()
	h.mutex.Unlock()

	metricConnections.Set(float64(clientCount))
	metricRooms.Set(float64(roomCount))
	log.Printf("Client from %s joined room %q. Total clients: %d", client.addr, client.room, clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	// Welcome notice goes to the new connection only, never to its peers.
	h.safeSend(client, systemPayload("joined room "+client.room))
}

// handleUnregister removes the client from all room state and, once the
// removal is complete, tells the remaining peers it left. The departing
// connection can never observe its own departure notice.
func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	room, ok := h.registry.leave(client)
	if !ok {
		// Disconnect for a connection that never joined; nothing to do.
		h.mutex.Unlock()
		return
	}
	h.rooms.removeMember(room, client)
	client.closed = true
	clientCount := h.registry.size()
	roomCount := h.rooms.roomCount()
	h.mutex.Unlock()

	close(client.send)
	metricConnections.Set(float64(clientCount))
	metricRooms.Set(float64(roomCount))
	log.Printf("Client from %s left room %q. Total clients: %d", client.addr, room, clientCount)

	h.notifyRoom(room, systemPayload(client.displayName()+" left the room"))
}

// handleBroadcast fans a payload out to every open peer in the room except
// the sender. Each delivery is independent; a failed or backed-up peer is
// removed without affecting the others.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	peers := h.peerSnapshot(broadcastMsg.Room)

	var clientsToRemove []*Client
	for _, client := range peers {
		if broadcastMsg.Sender != nil && client == broadcastMsg.Sender {
			continue
		}
		if !h.safeSend(client, broadcastMsg.Payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	metricBroadcasts.Inc()
	h.removeFailedClients(clientsToRemove)
}

// notifyRoom delivers a server-generated payload to every current member of
// the room.
func (h *Hub) notifyRoom(room string, payload []byte) {
	var clientsToRemove []*Client
	for _, client := range h.peerSnapshot(room) {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.removeFailedClients(clientsToRemove)
}

// peerSnapshot returns a point-in-time copy of a room's member set that is
// safe to iterate without holding the hub lock.
func (h *Hub) peerSnapshot(room string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.rooms.peersOf(room)
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation so unregistration
	// cannot close the channel mid-send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.registry.roomOf(client); !ok || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients whose send buffer was full or whose
// channel was already closed, pruning their rooms in the process.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		room, ok := h.registry.leave(client)
		if !ok {
			continue
		}
		h.rooms.removeMember(room, client)
		client.closed = true
		channelsToClose = append(channelsToClose, client.send)
		log.Printf("Client from %s removed from room %q due to full send buffer", client.addr, room)
	}
	clientCount := h.registry.size()
	roomCount := h.rooms.roomCount()
	h.mutex.Unlock()

	metricConnections.Set(float64(clientCount))
	metricRooms.Set(float64(roomCount))

	// Close the channels after releasing the lock.
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every active connection and clears all room state.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	var clients []*Client
	for client := range h.registry.assignments {
		clients = append(clients, client)
	}
	h.registry.clear()
	h.rooms.clear()
	h.mutex.Unlock()

	metricConnections.Set(0)
	metricRooms.Set(0)

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete. It returns after all client connections are closed and
// goroutines have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
