package server

import (
	"runtime"
	"strconv"
	"time"
)

// ConnectionStats returns a breakdown of current connections.
func (s *Server) ConnectionStats() map[string]any {
	sessions := s.Sessions()

	tcp, ws := 0, 0
	login, playing := 0, 0
	bytesSent := 0
	for _, sess := range sessions {
		switch sess.Transport() {
		case TransportTCP:
			tcp++
		case TransportWebSocket:
			ws++
		}
		if sess.Mode() == ModeGameplay {
			playing++
		} else {
			login++
		}
		bytesSent += sess.BytesSent()
	}

	return map[string]any{
		"total":        len(sessions),
		"tcp":          tcp,
		"websocket":    ws,
		"login_screen": login,
		"playing":      playing,
		"bytes_sent":   bytesSent,
	}
}

// MemoryStats returns Go runtime memory statistics.
func MemoryStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"heap_alloc": m.HeapAlloc,
		"sys":        m.Sys,
		"num_gc":     m.NumGC,
		"goroutines": runtime.NumGoroutine(),
	}
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// msspVars answers MSSP crawlers. It runs on connection reader goroutines,
// so it only reads state that is safe to share.
func (s *Server) msspVars() map[string]string {
	return map[string]string{
		"NAME":     s.Config.MudName,
		"PLAYERS":  strconv.Itoa(s.Count()),
		"UPTIME":   strconv.FormatInt(s.startTime.Unix(), 10),
		"ROOMS":    strconv.Itoa(s.World.RoomCount()),
		"CODEBASE": VersionString(),
	}
}
