package collab

import "sync"

// Router groups connections into per-document rooms and fans events out to
// them. Delivery is at-most-once and unordered across rooms; within one
// broadcast call every member receives the same single event value.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[string]EventSender
}

// NewRouter constructs an empty room router.
func NewRouter() *Router {
	return &Router{rooms: make(map[string]map[string]EventSender)}
}

// Join adds the connection to the room. Joining a room the connection is
// already in replaces the sender and is otherwise a no-op.
func (r *Router) Join(room, connectionID string, sender EventSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]EventSender)
		r.rooms[room] = members
	}
	members[connectionID] = sender
}

// Leave removes the connection from the room. Leaving a room the connection
// is not in is a no-op. Empty rooms are dropped.
func (r *Router) Leave(room, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// BroadcastToRoom delivers the event to every member, including the caller
// if present.
func (r *Router) BroadcastToRoom(room string, event ServerEvent) {
	for _, sender := range r.snapshot(room, "") {
		sender.Send(event)
	}
}

// BroadcastToOthers delivers the event to every member except the given
// connection.
func (r *Router) BroadcastToOthers(room, connectionID string, event ServerEvent) {
	for _, sender := range r.snapshot(room, connectionID) {
		sender.Send(event)
	}
}

// MemberCount reports the current room size.
func (r *Router) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// snapshot copies the member senders under the read lock so sends happen
// outside it.
func (r *Router) snapshot(room, excludeConnectionID string) []EventSender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	senders := make([]EventSender, 0, len(members))
	for connectionID, sender := range members {
		if connectionID == excludeConnectionID {
			continue
		}
		senders = append(senders, sender)
	}
	return senders
}
