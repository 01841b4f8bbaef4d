package relay

import "sync"

// Rooms tracks which connections joined which rooms. It is live session
// state and is never persisted.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[Conn]struct{}
	joined  map[Conn]map[string]struct{}
}

// NewRooms creates an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[Conn]struct{}),
		joined:  make(map[Conn]map[string]struct{}),
	}
}

// Join adds conn to room. Joining twice is a no-op.
func (r *Rooms) Join(conn Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[room]; !ok {
		r.members[room] = make(map[Conn]struct{})
	}
	r.members[room][conn] = struct{}{}
	if _, ok := r.joined[conn]; !ok {
		r.joined[conn] = make(map[string]struct{})
	}
	r.joined[conn][room] = struct{}{}
}

// Leave removes conn from room. Leaving a room that was never joined is a no-op.
func (r *Rooms) Leave(conn Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn, room)
}

func (r *Rooms) leaveLocked(conn Conn, room string) {
	if conns, ok := r.members[room]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.joined[conn]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, conn)
		}
	}
}

// MembersOf returns a snapshot of the connections in room.
func (r *Rooms) MembersOf(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.members[room]))
	for conn := range r.members[room] {
		conns = append(conns, conn)
	}
	return conns
}

// RoomsOf returns the rooms conn currently belongs to.
func (r *Rooms) RoomsOf(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.joined[conn]))
	for room := range r.joined[conn] {
		rooms = append(rooms, room)
	}
	return rooms
}

// RemoveConn drops conn from every room it joined and returns those rooms.
func (r *Rooms) RemoveConn(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]string, 0, len(r.joined[conn]))
	for room := range r.joined[conn] {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(conn, room)
	}
	return left
}
