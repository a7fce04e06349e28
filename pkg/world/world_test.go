package world

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jastadj/sfmlmud2/pkg/direction"
)

// memStore records saved rooms in memory.
type memStore struct {
	rooms map[RoomID]Room
	order []RoomID
	fail  error
	saves int
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[RoomID]Room)}
}

func (m *memStore) SaveRooms(_ context.Context, rooms ...Room) error {
	if m.fail != nil {
		return m.fail
	}
	for _, r := range rooms {
		if _, ok := m.rooms[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.rooms[r.ID] = r
		m.saves++
	}
	return nil
}

func (m *memStore) LoadRooms(context.Context) ([]Room, error) {
	out := make([]Room, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rooms[id])
	}
	return out, nil
}

func newTestWorld(t *testing.T, n int) (*World, *memStore) {
	t.Helper()
	st := newMemStore()
	w := New(st)
	if err := w.CreateZone("testzone"); err != nil {
		t.Fatalf("CreateZone: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := w.CreateRoom(context.Background(), "testzone"); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
	}
	return w, st
}

func TestCreateZone(t *testing.T) {
	w := New(nil)
	tests := []struct {
		name string
		want error
	}{
		{"alpha", nil},
		{"alpha", ErrZoneExists},
		{"", ErrInvalidZoneName},
		{"two words", ErrInvalidZoneName},
		{"tab\tzone", ErrInvalidZoneName},
		{"Alpha", nil},
	}
	for _, tt := range tests {
		err := w.CreateZone(tt.name)
		if !errors.Is(err, tt.want) {
			t.Errorf("CreateZone(%q) = %v, want %v", tt.name, err, tt.want)
		}
	}
	if got := w.Zones(); !cmp.Equal(got, []string{"alpha", "Alpha"}) {
		t.Errorf("Zones() = %v", got)
	}
}

func TestCreateRoomIDs(t *testing.T) {
	w, st := newTestWorld(t, 3)
	for id := RoomID(1); id <= 3; id++ {
		if !w.RoomExists(id) {
			t.Errorf("RoomExists(%d) = false", id)
		}
	}
	if w.RoomExists(NoRoom) {
		t.Error("RoomExists(0) = true")
	}
	if w.RoomExists(4) {
		t.Error("RoomExists(4) = true")
	}
	if st.saves != 3 {
		t.Errorf("saves = %d, want 3", st.saves)
	}
	r, _ := w.Room(2)
	want := Room{ID: 2, Zone: "testzone", Name: DefaultName, Description: DefaultDescription}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("Room(2) mismatch (-want +got):\n%s", diff)
	}
	if got := w.ZoneRooms("testzone"); !cmp.Equal(got, []RoomID{1, 2, 3}) {
		t.Errorf("ZoneRooms = %v", got)
	}
}

func TestCreateRoomUnknownZone(t *testing.T) {
	w := New(nil)
	id, err := w.CreateRoom(context.Background(), "nowhere")
	if !errors.Is(err, ErrNoZone) || id != NoRoom {
		t.Errorf("CreateRoom(nowhere) = %d, %v", id, err)
	}
}

func TestCreateRoomSaveFailureKeepsRoom(t *testing.T) {
	w, st := newTestWorld(t, 0)
	st.fail = errors.New("disk full")
	id, err := w.CreateRoom(context.Background(), "testzone")
	if err == nil {
		t.Fatal("expected save error")
	}
	if id != 1 || !w.RoomExists(1) {
		t.Errorf("room not kept in memory: id=%d", id)
	}
}

func TestLinkRoomsAllDirections(t *testing.T) {
	for _, d := range direction.All() {
		w, _ := newTestWorld(t, 2)
		ctx := context.Background()
		if err := w.LinkRooms(ctx, 1, 2, d); err != nil {
			t.Fatalf("LinkRooms(1, 2, %s): %v", d, err)
		}
		if got := w.GetRoomInDirection(1, d); got != 2 {
			t.Errorf("%s: GetRoomInDirection(1) = %d, want 2", d, got)
		}
		if got := w.GetRoomInDirection(2, d.Opposite()); got != 1 {
			t.Errorf("%s: GetRoomInDirection(2, %s) = %d, want 1", d, d.Opposite(), got)
		}

		before1, _ := w.Room(1)
		before2, _ := w.Room(2)
		if err := w.LinkRooms(ctx, 1, 2, d); !errors.Is(err, ErrExitTaken) {
			t.Errorf("%s: second link = %v, want ErrExitTaken", d, err)
		}
		after1, _ := w.Room(1)
		after2, _ := w.Room(2)
		if !cmp.Equal(before1, after1) || !cmp.Equal(before2, after2) {
			t.Errorf("%s: failed link mutated rooms", d)
		}
	}
}

func TestLinkRoomsRefusesOverwriteOnFarSide(t *testing.T) {
	w, _ := newTestWorld(t, 3)
	ctx := context.Background()
	if err := w.LinkRooms(ctx, 1, 2, direction.West); err != nil {
		t.Fatal(err)
	}
	// Room 2 already has an east exit, so 3 -> 2 west must fail.
	if err := w.LinkRooms(ctx, 3, 2, direction.West); !errors.Is(err, ErrExitTaken) {
		t.Errorf("LinkRooms(3, 2, west) = %v", err)
	}
	if got := w.GetRoomInDirection(3, direction.West); got != NoRoom {
		t.Errorf("room 3 west = %d, want none", got)
	}
}

func TestLinkRoomsValidation(t *testing.T) {
	w, st := newTestWorld(t, 2)
	ctx := context.Background()
	saves := st.saves
	if err := w.LinkRooms(ctx, 1, 2, direction.Direction(direction.Count)); !errors.Is(err, ErrBadDirection) {
		t.Errorf("bad direction: %v", err)
	}
	if err := w.LinkRooms(ctx, 1, NoRoom, direction.North); !errors.Is(err, ErrNoRoom) {
		t.Errorf("room 0: %v", err)
	}
	if err := w.LinkRooms(ctx, 1, 9, direction.North); !errors.Is(err, ErrNoRoom) {
		t.Errorf("room 9: %v", err)
	}
	if st.saves != saves {
		t.Error("failed links persisted rooms")
	}
	if err := w.LinkRooms(ctx, 1, 2, direction.North); err != nil {
		t.Fatal(err)
	}
	if st.saves != saves+2 {
		t.Errorf("saves = %d, want %d", st.saves, saves+2)
	}
}

func TestGetRoomInDirectionOutOfRange(t *testing.T) {
	w, _ := newTestWorld(t, 1)
	if got := w.GetRoomInDirection(1, direction.None); got != NoRoom {
		t.Errorf("invalid direction = %d", got)
	}
	if got := w.GetRoomInDirection(7, direction.North); got != NoRoom {
		t.Errorf("invalid room = %d", got)
	}
	if got := w.GetRoomInDirection(1, direction.North); got != NoRoom {
		t.Errorf("unlinked = %d", got)
	}
}

func TestLookRoom(t *testing.T) {
	w := New(nil)
	if err := w.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := w.LookRoom(1)
	if err != nil {
		t.Fatal(err)
	}
	want := "Main room\nThis is the main room.\n[ west ]\n"
	if got != want {
		t.Errorf("LookRoom(1) = %q, want %q", got, want)
	}
	got, _ = w.LookRoom(2)
	if !strings.HasPrefix(got, "Storage\n") || !strings.Contains(got, "[ east ]") {
		t.Errorf("LookRoom(2) = %q", got)
	}
	if _, err := w.LookRoom(NoRoom); !errors.Is(err, ErrNoRoom) {
		t.Errorf("LookRoom(0) err = %v", err)
	}

	w2, _ := newTestWorld(t, 1)
	got, _ = w2.LookRoom(1)
	if !strings.Contains(got, "[ no obvious exits ]") {
		t.Errorf("LookRoom without exits = %q", got)
	}
}

func TestLoadReplaysStoredRooms(t *testing.T) {
	src := New(newMemStore())
	ctx := context.Background()
	if err := src.Seed(ctx); err != nil {
		t.Fatal(err)
	}
	st := src.store.(*memStore)

	w := New(st)
	loaded, mismatches, err := w.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != 2 || mismatches != 0 {
		t.Errorf("Load = %d, %d", loaded, mismatches)
	}
	for id := RoomID(1); id <= 2; id++ {
		a, _ := src.Room(id)
		b, _ := w.Room(id)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("room %d differs (-src +loaded):\n%s", id, diff)
		}
	}
	if !w.ZoneExists(SeedZone) {
		t.Error("zone not recreated")
	}
	if _, _, err := w.Load(ctx); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("second Load = %v", err)
	}
}

func TestLoadCountsMismatches(t *testing.T) {
	st := newMemStore()
	st.SaveRooms(context.Background(),
		Room{ID: 1, Zone: "a", Name: "one"},
		Room{ID: 3, Zone: "a", Name: "three"},
	)
	w := New(st)
	loaded, mismatches, err := w.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loaded != 2 || mismatches != 1 {
		t.Errorf("Load = %d loaded, %d mismatches; want 2, 1", loaded, mismatches)
	}
	r, _ := w.Room(2)
	if r.Name != "three" {
		t.Errorf("room 2 name = %q", r.Name)
	}
}
