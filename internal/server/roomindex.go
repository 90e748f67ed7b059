// Package server maintains the room to member-set mapping via the roomIndex
// type, with strict pruning of empty rooms.
package server

// roomIndex maps a room id to the set of clients currently joined to it.
// Room entries are created lazily on first join and deleted the instant the
// member set becomes empty, so an empty room never lingers in the index.
// Like the registry, it relies on the owning Hub's mutex for synchronization.
type roomIndex struct {
	members map[string]map[*Client]struct{}
}

func newRoomIndex() *roomIndex {
	return &roomIndex{members: make(map[string]map[*Client]struct{})}
}

// addMember inserts the client into the room's set, creating the room entry
// if absent. Inserting an already-present client is a no-op.
func (ri *roomIndex) addMember(room string, client *Client) {
	set, ok := ri.members[room]
	if !ok {
		set = make(map[*Client]struct{})
		ri.members[room] = set
	}
	set[client] = struct{}{}
}

// removeMember removes the client from the room's set and deletes the room
// entry if the set empties. A nonexistent room or member is a safe no-op.
func (ri *roomIndex) removeMember(room string, client *Client) {
	set, ok := ri.members[room]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(ri.members, room)
	}
}

// peersOf returns a point-in-time snapshot of the room's member set, safe to
// iterate after the lock is released.
func (ri *roomIndex) peersOf(room string) []*Client {
	set, ok := ri.members[room]
	if !ok {
		return nil
	}
	peers := make([]*Client, 0, len(set))
	for client := range set {
		peers = append(peers, client)
	}
	return peers
}

func (ri *roomIndex) roomCount() int {
	return len(ri.members)
}

func (ri *roomIndex) memberCount(room string) int {
	return len(ri.members[room])
}

func (ri *roomIndex) clear() {
	ri.members = make(map[string]map[*Client]struct{})
}
