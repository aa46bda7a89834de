package rooms

import (
	"errors"
	"sync"

	"github.com/voxcall/signaling-relay/internal/metrics"
)

var (
	ErrRoomNotFound  = errors.New("rooms: room not found")
	ErrTooManyRooms  = errors.New("rooms: too many rooms")
	ErrRoomFull      = errors.New("rooms: room full")
	ErrAlreadyInRoom = errors.New("rooms: connection already in a room")
)

// Connection identifies one live transport connection. Implementations must
// be comparable (pointer receivers are fine); the store never writes to the
// transport itself.
type Connection interface {
	ID() string
}

// MemberRef pairs a member connection with its user identity, as observed at
// the time of the call that returned it.
type MemberRef struct {
	Conn   Connection
	UserID string
}

// Membership records which room and identity a connection was registered
// under when it was removed.
type Membership struct {
	RoomID string
	UserID string
}

// Validation is the result of a validate-room lookup. PasswordCorrect is
// only meaningful when the caller supplied a password; it is false whenever
// the room is absent, open, or no password was given.
type Validation struct {
	Exists           bool
	PasswordRequired bool
	PasswordCorrect  bool
}

type Config struct {
	// MaxRooms caps concurrently-live rooms. 0 means unlimited.
	MaxRooms int
	// MaxMembersPerRoom caps members in a single room. 0 means unlimited.
	MaxMembersPerRoom int
}

type room struct {
	// password is immutable after creation; nil means no password required.
	password *string
	members  map[Connection]string
}

// Store maps room ids to member sets. byConn is a reverse index kept in
// lockstep with the rooms map under the same mutex, so a connection's room
// resolves in O(1) on every relay and disconnect.
type Store struct {
	cfg     Config
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[string]*room
	byConn map[Connection]string
}

func NewStore(cfg Config, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.New()
	}
	return &Store{
		cfg:     cfg,
		metrics: m,
		rooms:   make(map[string]*room),
		byConn:  make(map[Connection]string),
	}
}

// CreateRoom allocates a new empty room and returns its id. The password is
// fixed for the room's lifetime; nil means the room is open. Ids are retried
// on collision so an existing room is never overwritten.
func (s *Store) CreateRoom(password *string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := newRoomID()
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		if s.cfg.MaxRooms > 0 && len(s.rooms) >= s.cfg.MaxRooms {
			s.mu.Unlock()
			return "", ErrTooManyRooms
		}
		if _, exists := s.rooms[id]; exists {
			s.mu.Unlock()
			continue
		}
		s.rooms[id] = &room{
			password: password,
			members:  make(map[Connection]string),
		}
		s.mu.Unlock()

		s.metrics.Inc(metrics.RoomsCreated)
		return id, nil
	}

	return "", errors.New("rooms: failed to allocate unique room id")
}

func (s *Store) RoomExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok
}

func (s *Store) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Store) MemberCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return 0
	}
	return len(r.members)
}

// Validate reports room existence and password requirements in one lookup.
// An absent room yields the zero Validation (all flags false).
func (s *Store) Validate(id string, password *string) Validation {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return Validation{}
	}
	return Validation{
		Exists:           true,
		PasswordRequired: r.password != nil,
		PasswordCorrect:  r.password != nil && password != nil && *password == *r.password,
	}
}

// CheckPassword compares the supplied password against the room's. An open
// room never matches: there is nothing to validate against.
func (s *Store) CheckPassword(id, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return false, ErrRoomNotFound
	}
	return r.password != nil && password == *r.password, nil
}

// AddMember registers conn in the room under userID and returns the members
// that were present before the join, for new-user notification. The room
// must already exist; joins never create rooms implicitly. A connection may
// be a member of at most one room.
func (s *Store) AddMember(roomID string, conn Connection, userID string) ([]MemberRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, joined := s.byConn[conn]; joined {
		return nil, ErrAlreadyInRoom
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if s.cfg.MaxMembersPerRoom > 0 && len(r.members) >= s.cfg.MaxMembersPerRoom {
		return nil, ErrRoomFull
	}

	others := make([]MemberRef, 0, len(r.members))
	for c, uid := range r.members {
		others = append(others, MemberRef{Conn: c, UserID: uid})
	}

	r.members[conn] = userID
	s.byConn[conn] = roomID

	s.metrics.Inc(metrics.MembersJoined)
	return others, nil
}

// RemoveMember drops conn's membership, deleting the room when it becomes
// empty. It returns the removed membership plus the remaining members for
// user-left notification, or ok=false when conn was not in any room. Safe to
// call more than once for the same connection.
func (s *Store) RemoveMember(conn Connection) (Membership, []MemberRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.byConn[conn]
	if !ok {
		return Membership{}, nil, false
	}
	r := s.rooms[roomID]

	userID := r.members[conn]
	delete(r.members, conn)
	delete(s.byConn, conn)

	remaining := make([]MemberRef, 0, len(r.members))
	for c, uid := range r.members {
		remaining = append(remaining, MemberRef{Conn: c, UserID: uid})
	}

	if len(r.members) == 0 {
		delete(s.rooms, roomID)
		s.metrics.Inc(metrics.RoomsDeleted)
	}

	s.metrics.Inc(metrics.MembersLeft)
	return Membership{RoomID: roomID, UserID: userID}, remaining, true
}

// MemberRoom resolves which room a connection currently belongs to.
func (s *Store) MemberRoom(conn Connection) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.byConn[conn]
	return roomID, ok
}

// ResolveTargets returns the sender's user id and every member of the
// sender's room whose user id equals target. Duplicated user ids fan out to
// all matches; the sender itself is not excluded. ok is false when the
// sender is not in any room.
func (s *Store) ResolveTargets(sender Connection, target string) (from string, targets []MemberRef, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, joined := s.byConn[sender]
	if !joined {
		return "", nil, false
	}
	r := s.rooms[roomID]

	from = r.members[sender]
	for c, uid := range r.members {
		if uid == target {
			targets = append(targets, MemberRef{Conn: c, UserID: uid})
		}
	}
	return from, targets, true
}
