package world

import (
	"context"
	"fmt"

	"github.com/jastadj/sfmlmud2/pkg/direction"
)

// Seed zone and rooms for a brand new database.
const (
	SeedZone = "testzone"
	seedMain = "Main room"
	seedDesc = "This is the main room."
	seedAux  = "Storage"
	seedAuxD = "Dusty shelves line the walls."
)

// Seed creates the starter zone: a main room with a storage room to its
// west. It refuses to run on a world that already has rooms.
func (w *World) Seed(ctx context.Context) error {
	if w.RoomCount() > 0 {
		return ErrNotEmpty
	}
	if err := w.CreateZone(SeedZone); err != nil {
		return err
	}
	main, err := w.CreateRoom(ctx, SeedZone)
	if err != nil {
		return err
	}
	store, err := w.CreateRoom(ctx, SeedZone)
	if err != nil {
		return err
	}
	for _, step := range []func() error{
		func() error { return w.SetRoomName(ctx, main, seedMain) },
		func() error { return w.SetRoomDescription(ctx, main, seedDesc) },
		func() error { return w.SetRoomName(ctx, store, seedAux) },
		func() error { return w.SetRoomDescription(ctx, store, seedAuxD) },
		func() error { return w.LinkRooms(ctx, main, store, direction.West) },
	} {
		if err := step(); err != nil {
			return fmt.Errorf("world: seed: %w", err)
		}
	}
	return nil
}
