package collab

import (
	"log"
	"sort"
	"sync"
)

// Conn is the send side of a client connection. Send must not block
// indefinitely; implementations queue the payload and report an error
// when the client can no longer accept messages.
type Conn interface {
	Send(data []byte) error
}

type member struct {
	user UserInfo
	seq  uint64
}

// Hub tracks which connections are present in which document room and
// fans presence events and client messages out to room members.
//
// A single mutex guards all rooms. Sends go through buffered per-client
// queues, so holding the lock across a fan-out is cheap and preserves
// per-member message ordering.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[Conn]*member
	docs  map[Conn]string
	seq   uint64
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[Conn]*member),
		docs:  make(map[Conn]string),
	}
}

// Join adds conn to the document room, announces the new user to everyone
// already present, and sends the full roster (including the joiner) back
// to conn. A conn that joins again is moved: the previous membership is
// dropped without a user_left announcement.
func (h *Hub) Join(documentID string, conn Conn, user UserInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prevDoc, ok := h.docs[conn]; ok {
		h.detachLocked(conn, prevDoc)
	}

	room := h.rooms[documentID]
	if room == nil {
		room = make(map[Conn]*member)
		h.rooms[documentID] = room
	}
	h.seq++
	room[conn] = &member{user: user, seq: h.seq}
	h.docs[conn] = documentID

	failed := h.broadcastLocked(documentID, conn, encodeUserJoined(user))
	h.pruneLocked(failed)

	if err := conn.Send(encodeRoster(h.rosterLocked(documentID))); err != nil {
		h.pruneLocked([]Conn{conn})
	}
}

// Leave removes conn from its room and announces the departure to the
// remaining members. Unknown conns are ignored.
func (h *Hub) Leave(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	documentID, ok := h.docs[conn]
	if !ok {
		return
	}
	user, removed := h.detachLocked(conn, documentID)
	if !removed {
		return
	}

	failed := h.broadcastLocked(documentID, nil, encodeUserLeft(user))
	h.pruneLocked(failed)
}

// Broadcast sends data to every member of the document room except sender.
// Members whose send queue has failed are dropped from the room.
func (h *Hub) Broadcast(documentID string, sender Conn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	failed := h.broadcastLocked(documentID, sender, data)
	h.pruneLocked(failed)
}

// Roster returns the users currently present in the document room, in
// join order.
func (h *Hub) Roster(documentID string) []UserInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked(documentID)
}

// Count returns the number of connections in the document room.
func (h *Hub) Count(documentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[documentID])
}

func (h *Hub) rosterLocked(documentID string) []UserInfo {
	room := h.rooms[documentID]
	members := make([]*member, 0, len(room))
	for _, m := range room {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	users := make([]UserInfo, 0, len(members))
	for _, m := range members {
		users = append(users, m.user)
	}
	return users
}

func (h *Hub) broadcastLocked(documentID string, except Conn, data []byte) []Conn {
	var failed []Conn
	for conn := range h.rooms[documentID] {
		if conn == except {
			continue
		}
		if err := conn.Send(data); err != nil {
			log.Printf("collab: dropping member of %s: %v", documentID, err)
			failed = append(failed, conn)
		}
	}
	return failed
}

// pruneLocked removes dead connections and announces each departure.
// Announcing can surface further dead connections, so it loops until the
// room is quiescent.
func (h *Hub) pruneLocked(failed []Conn) {
	for len(failed) > 0 {
		conn := failed[0]
		failed = failed[1:]

		documentID, ok := h.docs[conn]
		if !ok {
			continue
		}
		user, removed := h.detachLocked(conn, documentID)
		if !removed {
			continue
		}
		failed = append(failed, h.broadcastLocked(documentID, nil, encodeUserLeft(user))...)
	}
}

// detachLocked removes conn from the room without any announcement and
// deletes the room when it empties.
func (h *Hub) detachLocked(conn Conn, documentID string) (UserInfo, bool) {
	room := h.rooms[documentID]
	m, ok := room[conn]
	if !ok {
		delete(h.docs, conn)
		return UserInfo{}, false
	}
	delete(room, conn)
	delete(h.docs, conn)
	if len(room) == 0 {
		delete(h.rooms, documentID)
	}
	return m.user, true
}
