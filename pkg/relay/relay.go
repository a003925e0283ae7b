// Package relay implements the room-based broadcast server. The relay
// is content-agnostic: it never decodes the document payloads, it only
// forwards binary frames to every other member of the sender's room.
package relay

import (
	"log/slog"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// DefaultRoom is used when the connection path carries no room name.
const DefaultRoom = "default"

// sendBuffer is the per-member outbound queue size. A member that
// falls this far behind is dropped rather than stalling the room.
const sendBuffer = 256

// Server owns the room registry. The registry mutex only guards room
// creation and teardown; fan-out within a room synchronizes on the
// room's own member set, so traffic in unrelated rooms never contends.
type Server struct {
	mu       sync.Mutex
	rooms    map[string]*room
	upgrader websocket.Upgrader
	router   *mux.Router
}

func NewServer() *Server {
	s := &Server{
		rooms: make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	r := mux.NewRouter()
	r.Path("/").HandlerFunc(s.handleJoin)
	r.Path("/{room}").HandlerFunc(s.handleJoin)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RoomCount reports the number of live rooms.
func (s *Server) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// MemberCount reports the number of connections in the named room,
// zero if the room does not exist.
func (s *Server) MemberCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.rooms[name]; ok {
		return rm.members.Cardinality()
	}
	return 0
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["room"]
	if name == "" {
		name = DefaultRoom
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}
	m := &member{conn: conn, send: make(chan []byte, sendBuffer)}
	rm := s.joinRoom(name, m)
	slog.Info("joined", "room", name, "members", rm.members.Cardinality())

	go m.writePump()
	m.readPump(rm)

	s.leaveRoom(rm, m)
	slog.Info("left", "room", name)
}

// joinRoom adds the member to the named room, creating the room on
// first join. The add happens under the registry mutex so a concurrent
// last leave cannot delete the room between lookup and membership.
func (s *Server) joinRoom(name string, m *member) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[name]
	if !ok {
		rm = &room{name: name, members: mapset.NewSet[*member]()}
		s.rooms[name] = rm
	}
	rm.members.Add(m)
	return rm
}

// leaveRoom removes a member and deletes the room once it is empty.
// The registry entry is only deleted while it still maps to this room,
// so draining a stale room never evicts a live replacement.
func (s *Server) leaveRoom(rm *room, m *member) {
	m.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	rm.members.Remove(m)
	if rm.members.Cardinality() == 0 && s.rooms[rm.name] == rm {
		delete(s.rooms, rm.name)
	}
}

// room is an isolated broadcast group. The thread-safe member set is
// the only shared mutable state touched by concurrent join, leave and
// broadcast.
type room struct {
	name    string
	members mapset.Set[*member]
}

// broadcast queues a frame to every member except the sender. A full
// or closed peer queue is a per-peer failure: it is logged and the
// peer dropped, and delivery to the rest of the room continues. Stale
// members are collected first since the set lock is held during Each.
func (rm *room) broadcast(from *member, msg []byte) {
	var stale []*member
	rm.members.Each(func(m *member) bool {
		if m == from {
			return false
		}
		if !m.trySend(msg) {
			stale = append(stale, m)
		}
		return false
	})
	for _, m := range stale {
		slog.Error("dropping unresponsive member", "room", rm.name)
		rm.members.Remove(m)
		m.close()
	}
}

type member struct {
	conn *websocket.Conn

	mu     sync.Mutex // guards send vs close
	send   chan []byte
	closed bool
}

func (m *member) trySend(msg []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.send <- msg:
		return true
	default:
		return false
	}
}

func (m *member) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.send)
	}
}

// readPump forwards binary frames from the member into its room until
// the transport fails or closes. Text and control frames are ignored.
func (m *member) readPump(rm *room) {
	for {
		mt, msg, err := m.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("read failed", "room", rm.name, "err", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		rm.broadcast(m, msg)
	}
}

// writePump drains the member's queue onto the transport. In-flight
// sends after the member leaves complete or fail silently.
func (m *member) writePump() {
	defer m.conn.Close()
	for msg := range m.send {
		if err := m.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			slog.Info("write failed", "err", err)
			return
		}
	}
	_ = m.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
