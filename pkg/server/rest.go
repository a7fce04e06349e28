package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jastadj/sfmlmud2/pkg/direction"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

// registerRESTRoutes adds the read-only JSON API. Every route needs a token.
func (ws *WebServer) registerRESTRoutes() {
	ws.mux.Handle("GET /api/v1/who",
		authMiddleware(ws.auth, http.HandlerFunc(ws.handleWho)))
	ws.mux.Handle("GET /api/v1/rooms/{id}",
		authMiddleware(ws.auth, http.HandlerFunc(ws.handleGetRoom)))
}

type whoEntry struct {
	Name      string `json:"name"`
	Room      int    `json:"room"`
	Transport string `json:"transport"`
	Idle      int    `json:"idle_seconds"`
	Self      bool   `json:"self,omitempty"`
}

func (ws *WebServer) handleWho(w http.ResponseWriter, r *http.Request) {
	var me string
	if c := ClaimsFromContext(r.Context()); c != nil {
		me = c.AccountName
	}
	var list []whoEntry
	err := ws.srv.Call(r.Context(), func() {
		for _, sess := range ws.srv.Sessions() {
			if !sess.inGame || sess.Closed() {
				continue
			}
			list = append(list, whoEntry{
				Name:      sess.Name,
				Room:      int(sess.Room),
				Transport: sess.Transport().String(),
				Idle:      int(time.Since(sess.LastCmd).Seconds()),
				Self:      strings.EqualFold(sess.Name, me),
			})
		}
	})
	if err != nil {
		http.Error(w, `{"error":"server unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"players": list, "count": len(list)})
}

type roomJSON struct {
	ID          int            `json:"id"`
	Zone        string         `json:"zone"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Exits       map[string]int `json:"exits"`
}

func (ws *WebServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid room id"}`, http.StatusBadRequest)
		return
	}
	room, ok := ws.srv.World.Room(world.RoomID(id))
	if !ok {
		http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
		return
	}
	out := roomJSON{
		ID:          int(room.ID),
		Zone:        room.Zone,
		Name:        room.Name,
		Description: room.Description,
		Exits:       make(map[string]int),
	}
	for _, d := range direction.All() {
		if to := room.Exit(d); to != world.NoRoom {
			out.Exits[d.String()] = int(to)
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
