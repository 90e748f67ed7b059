// Package server tracks the room assignment of each live connection via the
// registry type, the single source of truth for "which room is this
// connection in".
package server

// registry maps each registered client to exactly one room id. It carries no
// locking of its own; the owning Hub serializes all access behind its mutex.
type registry struct {
	assignments map[*Client]string
}

func newRegistry() *registry {
	return &registry{assignments: make(map[*Client]string)}
}

// join records the client's room assignment. The Hub resolves a second join
// for a live client as leave-then-join before calling this.
func (r *registry) join(client *Client, room string) {
	r.assignments[client] = room
}

// leave removes the client's room association and reports the room it was in.
// Calling leave for an unregistered client is a safe no-op.
func (r *registry) leave(client *Client) (string, bool) {
	room, ok := r.assignments[client]
	if ok {
		delete(r.assignments, client)
	}
	return room, ok
}

// roomOf reports the client's current room, if any.
func (r *registry) roomOf(client *Client) (string, bool) {
	room, ok := r.assignments[client]
	return room, ok
}

func (r *registry) size() int {
	return len(r.assignments)
}

func (r *registry) clear() {
	r.assignments = make(map[*Client]string)
}
