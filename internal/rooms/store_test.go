package rooms

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/voxcall/signaling-relay/internal/metrics"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string { return c.id }

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func ptr(s string) *string { return &s }

func TestCreateRoom_UniqueIDs(t *testing.T) {
	s := NewStore(Config{}, nil)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := s.CreateRoom(nil)
		if err != nil {
			t.Fatalf("create room: %v", err)
		}
		if len(id) != roomIDLength {
			t.Fatalf("unexpected room id length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate room id %q", id)
		}
		seen[id] = true
		if !s.RoomExists(id) {
			t.Fatalf("created room %q does not exist", id)
		}
	}
}

func TestCreateRoom_MaxRooms(t *testing.T) {
	s := NewStore(Config{MaxRooms: 2}, nil)

	for i := 0; i < 2; i++ {
		if _, err := s.CreateRoom(nil); err != nil {
			t.Fatalf("create room %d: %v", i, err)
		}
	}
	if _, err := s.CreateRoom(nil); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("expected ErrTooManyRooms, got %v", err)
	}
}

func TestValidate_PasswordRoundTrip(t *testing.T) {
	s := NewStore(Config{}, nil)

	id, err := s.CreateRoom(ptr("secret"))
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	v := s.Validate(id, nil)
	if !v.Exists || !v.PasswordRequired || v.PasswordCorrect {
		t.Fatalf("unexpected validation without password: %+v", v)
	}

	v = s.Validate(id, ptr("secret"))
	if !v.PasswordCorrect {
		t.Fatalf("expected correct password to validate: %+v", v)
	}
	v = s.Validate(id, ptr("wrong"))
	if v.PasswordCorrect {
		t.Fatalf("expected wrong password to fail: %+v", v)
	}

	ok, err := s.CheckPassword(id, "secret")
	if err != nil || !ok {
		t.Fatalf("CheckPassword(secret) = (%v, %v)", ok, err)
	}
	ok, err = s.CheckPassword(id, "wrong")
	if err != nil || ok {
		t.Fatalf("CheckPassword(wrong) = (%v, %v)", ok, err)
	}
}

func TestValidate_OpenRoom(t *testing.T) {
	s := NewStore(Config{}, nil)

	id, err := s.CreateRoom(nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	v := s.Validate(id, nil)
	if !v.Exists || v.PasswordRequired || v.PasswordCorrect {
		t.Fatalf("unexpected open-room validation: %+v", v)
	}

	// An open room has nothing to validate against.
	if ok, err := s.CheckPassword(id, ""); err != nil || ok {
		t.Fatalf("CheckPassword on open room = (%v, %v)", ok, err)
	}
}

func TestValidate_AbsentRoom(t *testing.T) {
	s := NewStore(Config{}, nil)

	v := s.Validate("nonexistent", ptr("whatever"))
	if v.Exists || v.PasswordRequired || v.PasswordCorrect {
		t.Fatalf("expected all-false validation for absent room: %+v", v)
	}

	if _, err := s.CheckPassword("nonexistent", "x"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAddMember_ReturnsPriorMembers(t *testing.T) {
	s := NewStore(Config{}, nil)
	id, _ := s.CreateRoom(nil)

	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")

	others, err := s.AddMember(id, a, "alice")
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("expected empty room before first join, got %v", others)
	}

	others, err = s.AddMember(id, b, "bob")
	if err != nil {
		t.Fatalf("add b: %v", err)
	}
	if len(others) != 1 || others[0].UserID != "alice" {
		t.Fatalf("expected alice as prior member, got %v", others)
	}

	others, err = s.AddMember(id, c, "carol")
	if err != nil {
		t.Fatalf("add c: %v", err)
	}
	ids := memberUserIDs(others)
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Fatalf("expected alice+bob as prior members, got %v", ids)
	}
}

func TestAddMember_Errors(t *testing.T) {
	s := NewStore(Config{MaxMembersPerRoom: 1}, nil)
	id, _ := s.CreateRoom(nil)

	a, b := newFakeConn("a"), newFakeConn("b")

	if _, err := s.AddMember("missing", a, "alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if _, err := s.AddMember(id, a, "alice"); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if _, err := s.AddMember(id, a, "alice2"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
	if _, err := s.AddMember(id, b, "bob"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestRemoveMember_DeletesEmptyRoom(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := NewStore(Config{}, nil)
			id, _ := s.CreateRoom(nil)

			conns := make([]*fakeConn, n)
			for i := range conns {
				conns[i] = newFakeConn(fmt.Sprintf("c%d", i))
				if _, err := s.AddMember(id, conns[i], fmt.Sprintf("u%d", i)); err != nil {
					t.Fatalf("add member %d: %v", i, err)
				}
			}

			for i, c := range conns {
				m, remaining, ok := s.RemoveMember(c)
				if !ok {
					t.Fatalf("remove member %d: not found", i)
				}
				if m.RoomID != id || m.UserID != fmt.Sprintf("u%d", i) {
					t.Fatalf("unexpected membership %+v", m)
				}
				if len(remaining) != n-i-1 {
					t.Fatalf("expected %d remaining, got %d", n-i-1, len(remaining))
				}
			}

			if s.RoomExists(id) {
				t.Fatalf("room %q should be deleted after last departure", id)
			}
			if s.RoomCount() != 0 {
				t.Fatalf("expected empty store, got %d rooms", s.RoomCount())
			}
		})
	}
}

func TestRemoveMember_Idempotent(t *testing.T) {
	s := NewStore(Config{}, nil)
	id, _ := s.CreateRoom(nil)
	a := newFakeConn("a")
	if _, err := s.AddMember(id, a, "alice"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, _, ok := s.RemoveMember(a); !ok {
		t.Fatalf("first remove should succeed")
	}
	if _, _, ok := s.RemoveMember(a); ok {
		t.Fatalf("second remove should report not found")
	}
	if _, _, ok := s.RemoveMember(newFakeConn("never-joined")); ok {
		t.Fatalf("remove of unknown connection should report not found")
	}
}

func TestResolveTargets(t *testing.T) {
	s := NewStore(Config{}, nil)
	id, _ := s.CreateRoom(nil)
	other, _ := s.CreateRoom(nil)

	a, b, c, d := newFakeConn("a"), newFakeConn("b"), newFakeConn("c"), newFakeConn("d")
	mustAdd(t, s, id, a, "alice")
	mustAdd(t, s, id, b, "bob")
	mustAdd(t, s, id, c, "bob") // duplicated user id
	mustAdd(t, s, other, d, "bob")

	from, targets, ok := s.ResolveTargets(a, "bob")
	if !ok {
		t.Fatalf("sender should be in a room")
	}
	if from != "alice" {
		t.Fatalf("expected sender identity alice, got %q", from)
	}
	if len(targets) != 2 {
		t.Fatalf("expected fan-out to both bobs in the sender's room, got %d", len(targets))
	}
	for _, tr := range targets {
		if tr.Conn == d {
			t.Fatalf("relay must not cross rooms")
		}
	}

	if _, targets, ok := s.ResolveTargets(a, "nobody"); !ok || len(targets) != 0 {
		t.Fatalf("unknown target should resolve to zero members, got %v ok=%v", targets, ok)
	}

	if _, _, ok := s.ResolveTargets(newFakeConn("loner"), "bob"); ok {
		t.Fatalf("sender outside any room must not resolve")
	}
}

func TestResolveTargets_SenderCanTargetItself(t *testing.T) {
	s := NewStore(Config{}, nil)
	id, _ := s.CreateRoom(nil)
	a := newFakeConn("a")
	mustAdd(t, s, id, a, "alice")

	_, targets, ok := s.ResolveTargets(a, "alice")
	if !ok || len(targets) != 1 || targets[0].Conn != Connection(a) {
		t.Fatalf("expected self-targeting to resolve the sender, got %v ok=%v", targets, ok)
	}
}

func TestStore_ConcurrentJoinLeave(t *testing.T) {
	s := NewStore(Config{}, metrics.New())
	id, _ := s.CreateRoom(nil)

	// Keep one resident member so the room never empties mid-test.
	resident := newFakeConn("resident")
	mustAdd(t, s, id, resident, "resident")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c := newFakeConn(fmt.Sprintf("c%d-%d", i, j))
				if _, err := s.AddMember(id, c, "u"); err != nil {
					t.Errorf("add: %v", err)
					return
				}
				if _, _, ok := s.RemoveMember(c); !ok {
					t.Errorf("remove: membership lost")
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := s.MemberCount(id); got != 1 {
		t.Fatalf("expected only the resident member, got %d", got)
	}
	s.RemoveMember(resident)
	if s.RoomExists(id) {
		t.Fatalf("room should be gone")
	}
}

func mustAdd(t *testing.T, s *Store, roomID string, c Connection, userID string) {
	t.Helper()
	if _, err := s.AddMember(roomID, c, userID); err != nil {
		t.Fatalf("add member %s: %v", userID, err)
	}
}

func memberUserIDs(refs []MemberRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.UserID)
	}
	sort.Strings(ids)
	return ids
}
