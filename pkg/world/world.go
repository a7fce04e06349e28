// Package world holds the in-memory room graph: zones, rooms and the exits
// linking them. Rooms are written through to a Store as they change.
package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode"

	"github.com/jastadj/sfmlmud2/pkg/direction"
)

// RoomID identifies a room. IDs are dense and start at 1.
type RoomID int

// NoRoom is the reserved id 0. It never names a real room and doubles as
// "no exit" in an exit table.
const NoRoom RoomID = 0

// Default text for freshly created rooms.
const (
	DefaultName        = "no_name"
	DefaultDescription = "no_description"
)

var (
	ErrInvalidZoneName = errors.New("world: invalid zone name")
	ErrZoneExists      = errors.New("world: zone already exists")
	ErrNoZone          = errors.New("world: no such zone")
	ErrNoRoom          = errors.New("world: no such room")
	ErrBadDirection    = errors.New("world: direction out of range")
	ErrExitTaken       = errors.New("world: exit already linked")
	ErrNotEmpty        = errors.New("world: rooms already loaded")
)

// Room is a navigable location.
type Room struct {
	ID          RoomID
	Zone        string
	Name        string
	Description string
	Exits       [direction.Count]RoomID
}

// Exit returns the room linked in direction d, or NoRoom.
func (r *Room) Exit(d direction.Direction) RoomID {
	if !d.Valid() {
		return NoRoom
	}
	return r.Exits[d]
}

// Zone is a named group of rooms. A room belongs to exactly one zone.
type Zone struct {
	Name  string
	Rooms []RoomID
}

// Store is the persistence contract the room graph writes through to.
type Store interface {
	SaveRooms(ctx context.Context, rooms ...Room) error
	LoadRooms(ctx context.Context) ([]Room, error)
}

// World owns every zone and room. Zone and room lists are guarded by their
// own locks and no method holds both at once.
type World struct {
	store Store

	zoneMu sync.Mutex
	zones  []*Zone
	byName map[string]*Zone

	roomMu sync.RWMutex
	rooms  []*Room // rooms[0] is the reserved NoRoom slot
}

// New creates an empty world. store may be nil, in which case nothing is
// persisted.
func New(store Store) *World {
	return &World{
		store:  store,
		byName: make(map[string]*Zone),
		rooms:  []*Room{nil},
	}
}

// CreateZone adds a zone. Names must be non-empty, contain no whitespace and
// be unused.
func (w *World) CreateZone(name string) error {
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidZoneName, name)
	}
	w.zoneMu.Lock()
	defer w.zoneMu.Unlock()
	if _, ok := w.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrZoneExists, name)
	}
	z := &Zone{Name: name}
	w.zones = append(w.zones, z)
	w.byName[name] = z
	return nil
}

// ZoneExists reports whether a zone with this exact name exists.
func (w *World) ZoneExists(name string) bool {
	w.zoneMu.Lock()
	defer w.zoneMu.Unlock()
	_, ok := w.byName[name]
	return ok
}

// Zones returns zone names in creation order.
func (w *World) Zones() []string {
	w.zoneMu.Lock()
	defer w.zoneMu.Unlock()
	names := make([]string, len(w.zones))
	for i, z := range w.zones {
		names[i] = z.Name
	}
	return names
}

// ZoneRooms returns the ids of the rooms in a zone.
func (w *World) ZoneRooms(name string) []RoomID {
	w.zoneMu.Lock()
	defer w.zoneMu.Unlock()
	z, ok := w.byName[name]
	if !ok {
		return nil
	}
	return append([]RoomID(nil), z.Rooms...)
}

// CreateRoom allocates the next room id in zone and persists the new room.
// If only the save fails, the room still exists in memory and its id is
// returned along with the error.
func (w *World) CreateRoom(ctx context.Context, zone string) (RoomID, error) {
	return w.createRoom(ctx, zone, true)
}

func (w *World) createRoom(ctx context.Context, zone string, persist bool) (RoomID, error) {
	if !w.ZoneExists(zone) {
		return NoRoom, fmt.Errorf("%w: %s", ErrNoZone, zone)
	}

	w.roomMu.Lock()
	r := &Room{
		ID:          RoomID(len(w.rooms)),
		Zone:        zone,
		Name:        DefaultName,
		Description: DefaultDescription,
	}
	w.rooms = append(w.rooms, r)
	snap := *r
	w.roomMu.Unlock()

	w.zoneMu.Lock()
	z := w.byName[zone]
	z.Rooms = append(z.Rooms, snap.ID)
	w.zoneMu.Unlock()

	if persist {
		if err := w.save(ctx, snap); err != nil {
			return snap.ID, err
		}
	}
	return snap.ID, nil
}

// RoomExists reports whether id names a real room. RoomExists(NoRoom) is false.
func (w *World) RoomExists(id RoomID) bool {
	w.roomMu.RLock()
	defer w.roomMu.RUnlock()
	return w.valid(id)
}

func (w *World) valid(id RoomID) bool {
	return id > NoRoom && int(id) < len(w.rooms)
}

// Room returns a copy of the room with the given id.
func (w *World) Room(id RoomID) (Room, bool) {
	w.roomMu.RLock()
	defer w.roomMu.RUnlock()
	if !w.valid(id) {
		return Room{}, false
	}
	return *w.rooms[id], true
}

// RoomCount returns the number of real rooms.
func (w *World) RoomCount() int {
	w.roomMu.RLock()
	defer w.roomMu.RUnlock()
	return len(w.rooms) - 1
}

// LinkRooms sets a's exit in d to b and b's opposite exit to a, then
// persists both rooms. Existing exits are never overwritten.
func (w *World) LinkRooms(ctx context.Context, a, b RoomID, d direction.Direction) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %d", ErrBadDirection, d)
	}
	back := d.Opposite()

	w.roomMu.Lock()
	if !w.valid(a) || !w.valid(b) {
		w.roomMu.Unlock()
		return fmt.Errorf("%w: link %d -> %d", ErrNoRoom, a, b)
	}
	ra, rb := w.rooms[a], w.rooms[b]
	if ra.Exits[d] != NoRoom || rb.Exits[back] != NoRoom {
		w.roomMu.Unlock()
		return fmt.Errorf("%w: %d %s / %d %s", ErrExitTaken, a, d, b, back)
	}
	ra.Exits[d] = b
	rb.Exits[back] = a
	snaps := []Room{*ra}
	if a != b {
		snaps = append(snaps, *rb)
	}
	w.roomMu.Unlock()

	return w.save(ctx, snaps...)
}

// GetRoomInDirection returns the room linked from id in direction d, or
// NoRoom when there is no exit or the inputs are out of range.
func (w *World) GetRoomInDirection(id RoomID, d direction.Direction) RoomID {
	if !d.Valid() {
		return NoRoom
	}
	w.roomMu.RLock()
	defer w.roomMu.RUnlock()
	if !w.valid(id) {
		return NoRoom
	}
	return w.rooms[id].Exits[d]
}

// SetRoomName renames a room and persists it.
func (w *World) SetRoomName(ctx context.Context, id RoomID, name string) error {
	return w.update(ctx, id, func(r *Room) { r.Name = name })
}

// SetRoomDescription replaces a room's long description and persists it.
func (w *World) SetRoomDescription(ctx context.Context, id RoomID, desc string) error {
	return w.update(ctx, id, func(r *Room) { r.Description = desc })
}

func (w *World) update(ctx context.Context, id RoomID, fn func(*Room)) error {
	w.roomMu.Lock()
	if !w.valid(id) {
		w.roomMu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoRoom, id)
	}
	fn(w.rooms[id])
	snap := *w.rooms[id]
	w.roomMu.Unlock()
	return w.save(ctx, snap)
}

// LookRoom renders a room as three lines: name, description, and the
// bracketed exit list.
func (w *World) LookRoom(id RoomID) (string, error) {
	r, ok := w.Room(id)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNoRoom, id)
	}
	var exits []string
	for _, d := range direction.All() {
		if r.Exits[d] != NoRoom {
			exits = append(exits, d.String())
		}
	}
	list := "[ no obvious exits ]"
	if len(exits) > 0 {
		list = "[ " + strings.Join(exits, " ") + " ]"
	}
	return r.Name + "\n" + r.Description + "\n" + list + "\n", nil
}

// Load replays every stored room, in storage order, through room creation
// without persisting. A replayed room whose new id differs from its stored
// id is counted in mismatches but does not stop the load.
func (w *World) Load(ctx context.Context) (loaded, mismatches int, err error) {
	if w.store == nil {
		return 0, 0, nil
	}
	if w.RoomCount() > 0 {
		return 0, 0, ErrNotEmpty
	}
	rows, err := w.store.LoadRooms(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("world: load rooms: %w", err)
	}
	for _, row := range rows {
		if !w.ZoneExists(row.Zone) {
			if err := w.CreateZone(row.Zone); err != nil {
				log.Printf("world: ERROR: room %d: %v", row.ID, err)
				mismatches++
				continue
			}
		}
		id, err := w.createRoom(ctx, row.Zone, false)
		if err != nil {
			log.Printf("world: ERROR: room %d: %v", row.ID, err)
			mismatches++
			continue
		}
		if id != row.ID {
			log.Printf("world: ERROR: stored room %d loaded as %d", row.ID, id)
			mismatches++
		}
		w.roomMu.Lock()
		r := w.rooms[id]
		r.Name = row.Name
		r.Description = row.Description
		r.Exits = row.Exits
		w.roomMu.Unlock()
		loaded++
	}
	return loaded, mismatches, nil
}

func (w *World) save(ctx context.Context, rooms ...Room) error {
	if w.store == nil {
		return nil
	}
	if err := w.store.SaveRooms(ctx, rooms...); err != nil {
		log.Printf("world: ERROR: save room %d: %v", rooms[0].ID, err)
		return fmt.Errorf("world: save room %d: %w", rooms[0].ID, err)
	}
	return nil
}
