package server

import (
	"fmt"
	"log"
	"strings"

	"github.com/jastadj/sfmlmud2/pkg/command"
	"github.com/jastadj/sfmlmud2/pkg/direction"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

const (
	msgNowhere        = "You are nowhere.\n"
	msgNoExit         = "You can't go that way.\n"
	msgLookArgs       = "Looking at things is not implemented.\n"
	msgMoveArgs       = "Moving with arguments is not implemented.\n"
	msgSayWhat        = "Say what?\n"
	msgFarewell       = "Goodbye, %s!\n"
	msgWelcomePlayer  = "Welcome, %s!\n"
	msgPlayerArrived  = "%s has connected.\n"
	msgPlayerLeft     = "%s has disconnected.\n"
	msgPlayerWalksOut = "%s %s.\n"
)

// registerBuiltins adds the verbs every logged-in session receives.
func (s *Server) registerBuiltins() {
	s.Commands.Register("quit", "Disconnect from the game.", s.cmdQuit)
	s.Commands.Register("look", "Describe the room you are in.", s.cmdLook)
	s.Commands.Register("help", "help [command] lists commands or describes one.", s.cmdHelp)
	s.Commands.Register("say", "say <message> speaks to the room.", s.cmdSay)
	s.Commands.Register("who", "List who is online.", s.cmdWho)
	for _, d := range direction.All() {
		s.Commands.Register(d.String(), fmt.Sprintf("Walk %s.", d), s.moveHandler(d))
		s.Commands.AddAlias(d.Short(), d.String(), "")
	}
}

// gameplayMode runs the game entry on the first call after login and
// dispatches input lines after that.
func (s *Server) gameplayMode(sess *Session) {
	if !sess.inGame {
		s.enterGame(sess)
		return
	}
	sess.CmdCount++
	s.Metrics.commandsTotal.Inc()
	if !command.Dispatch(sess, sess.Commands, sess.LastInput) {
		s.Metrics.unknownCommands.Inc()
	}
}

// enterGame grants the gameplay verbs, places the session in its last
// known room (or the start room) and shows it.
func (s *Server) enterGame(sess *Session) {
	for _, verb := range s.Commands.Verbs() {
		s.Commands.Grant(sess.Commands, verb)
	}
	sess.Room = s.startRoom(sess)
	sess.inGame = true
	log.Printf("[%d] %s entered the game in room %d", sess.ID, sess.Name, sess.Room)

	sess.Send(fmt.Sprintf(msgWelcomePlayer, sess.Name))
	s.BroadcastToRoomExcluding(sess.Room, fmt.Sprintf(msgPlayerArrived, sess.Name), sess)
	s.look(sess)
}

func (s *Server) startRoom(sess *Session) world.RoomID {
	if sess.Account != nil {
		if id := world.RoomID(sess.Account.Room); s.World.RoomExists(id) {
			return id
		}
	}
	if id := world.RoomID(s.Config.StartRoom); s.World.RoomExists(id) {
		return id
	}
	return world.NoRoom
}

// leaveGame announces the departure and saves the last known room.
func (s *Server) leaveGame(sess *Session) {
	sess.inGame = false
	s.BroadcastToRoom(sess.Room, fmt.Sprintf(msgPlayerLeft, sess.Name))
	s.saveRoom(sess)
}

func (s *Server) saveRoom(sess *Session) {
	if sess.Account == nil {
		return
	}
	sess.Account.Room = int(sess.Room)
	if err := s.Accounts.SaveRoom(s.ctx, sess.Account.Name, int(sess.Room)); err != nil {
		log.Printf("[%d] ERROR: save room for %s: %v", sess.ID, sess.Name, err)
	}
}

func (s *Server) look(sess *Session) {
	text, err := s.World.LookRoom(sess.Room)
	if err != nil {
		sess.Send(msgNowhere)
		return
	}
	sess.Send(text)
}

func (s *Server) cmdQuit(sess *Session, _, _ string) bool {
	sess.Send(fmt.Sprintf(msgFarewell, sess.Name))
	sess.Disconnect()
	return true
}

func (s *Server) cmdLook(sess *Session, _, args string) bool {
	if strings.TrimSpace(args) != "" {
		sess.Send(msgLookArgs)
		return false
	}
	s.look(sess)
	return true
}

func (s *Server) cmdHelp(sess *Session, _, args string) bool {
	return command.Help(sess, sess.Commands, args)
}

func (s *Server) cmdSay(sess *Session, _, args string) bool {
	if args == "" {
		sess.Send(msgSayWhat)
		return false
	}
	sess.Send(fmt.Sprintf("You say \"%s\"\n", args))
	s.BroadcastToRoomExcluding(sess.Room, fmt.Sprintf("%s says \"%s\"\n", sess.Name, args), sess)
	return true
}

func (s *Server) cmdWho(sess *Session, _, _ string) bool {
	var b strings.Builder
	b.WriteString("Players online:\n")
	n := 0
	for _, other := range s.Sessions() {
		if !other.inGame || other.Closed() {
			continue
		}
		fmt.Fprintf(&b, "  %s\n", other.Name)
		n++
	}
	fmt.Fprintf(&b, "%d player(s) connected.\n", n)
	sess.Send(b.String())
	return true
}

func (s *Server) moveHandler(d direction.Direction) command.Handler[*Session] {
	return func(sess *Session, _, args string) bool {
		if strings.TrimSpace(args) != "" {
			sess.Send(msgMoveArgs)
			return false
		}
		return s.move(sess, d)
	}
}

// move walks sess through the exit in direction d and looks at the new
// room.
func (s *Server) move(sess *Session, d direction.Direction) bool {
	to := s.World.GetRoomInDirection(sess.Room, d)
	if to == world.NoRoom {
		sess.Send(msgNoExit)
		return false
	}
	from := sess.Room
	s.BroadcastToRoomExcluding(from, fmt.Sprintf(msgPlayerWalksOut, sess.Name, d.LeaveMessage()), sess)
	sess.Room = to
	s.BroadcastToRoomExcluding(to, fmt.Sprintf(msgPlayerWalksOut, sess.Name, d.Opposite().ArriveMessage()), sess)
	s.saveRoom(sess)
	s.look(sess)
	return true
}
