package server

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jastadj/sfmlmud2/pkg/account"
)

// Login states, kept in the session's first integer register.
const (
	loginStart       = 0
	loginUser        = 10
	loginPassPrompt  = 20
	loginPass        = 21
	loginConfirm     = 50
	loginConfirmWait = 54
	loginNewPass     = 60
	loginNewPassWait = 65
	loginVerify      = 70
	loginCreate      = 90
	loginDone        = 100
)

// Scratch register slots used during login.
const (
	regState = 0 // Int: current state
	regTries = 1 // Int: retry counter
	regName  = 0 // Str: candidate username
	regPass  = 1 // Str: password entry
)

// Login prompts and feedback.
const (
	msgUserPrompt     = "User:\n"
	msgInvalidName    = "Invalid username.  Usernames may only contain alphabetic characters.\n"
	msgPassPrompt     = "Password:\n"
	msgBadPassword    = "Incorrect password.  Please try again.\n"
	msgTooMany        = "Too many retries.\n"
	msgNewPassPrompt  = "Enter new password:\n"
	msgReenterPrompt  = "Re-enter password:\n"
	msgPassMismatch   = "Passwords do not match.\n"
	msgCreateFailed   = "There was an error trying to create new user.\n"
	msgLookupFailed   = "There was an error looking up that user.\n"
	msgLoginFailed    = "Unable to log in.\n"
	msgConfirmNewUser = "Create new user '%s'?  (y/n)\n"
)

func (s *Server) welcomeMode(sess *Session) {
	sess.Send(s.Banner.Text())
}

// loginMode runs the login state machine. States that need no new input
// chain within the same call.
func (s *Server) loginMode(sess *Session) {
	for s.loginStep(sess) && !sess.Closed() && sess.Mode() == ModeLogin {
	}
}

// loginStep performs one state and reports whether the next state should
// run immediately.
func (s *Server) loginStep(sess *Session) bool {
	input := sess.LastInput
	// Input is consumed by the first input-reading state in a chain.
	sess.LastInput = ""

	switch sess.Int[regState] {
	case loginStart:
		sess.ClearScratch()
		sess.Send(msgUserPrompt)
		sess.Int[regState] = loginUser
		return false

	case loginUser:
		name := strings.TrimSpace(input)
		sess.Str[regName] = name
		if !account.ValidUsername(name) || s.badNames[strings.ToLower(name)] {
			sess.Send(msgInvalidName)
			sess.Int[regState] = loginStart
			return true
		}
		exists, err := s.Accounts.Exists(s.ctx, name)
		switch {
		case err != nil:
			sess.Send(msgLookupFailed)
			sess.Int[regState] = loginStart
		case exists:
			sess.Int[regState] = loginPassPrompt
		default:
			sess.Int[regState] = loginConfirm
		}
		return true

	case loginPassPrompt:
		if sess.Int[regTries] >= s.Config.MaxRetries {
			log.Printf("[%d] Too many password attempts for %s", sess.ID, sess.Str[regName])
			s.Metrics.loginsTotal.WithLabelValues("too_many").Inc()
			sess.Send(msgTooMany)
			sess.Disconnect()
			return false
		}
		sess.Send(msgPassPrompt)
		sess.Int[regState] = loginPass
		return false

	case loginPass:
		sess.Str[regPass] = input
		a, err := s.Accounts.Login(s.ctx, sess.Str[regName], sess.Str[regPass])
		switch {
		case err == nil:
			s.Metrics.loginsTotal.WithLabelValues("success").Inc()
			sess.Account = a
			sess.Int[regState] = loginDone
		case errors.Is(err, account.ErrBadPassword):
			log.Printf("[%d] Bad password for %s", sess.ID, sess.Str[regName])
			s.Metrics.loginsTotal.WithLabelValues("bad_password").Inc()
			sess.Int[regTries]++
			sess.Send(msgBadPassword)
			sess.Int[regState] = loginPassPrompt
		default:
			s.Metrics.loginsTotal.WithLabelValues("error").Inc()
			sess.Send(msgLoginFailed)
			sess.Int[regState] = loginStart
		}
		return true

	case loginConfirm:
		sess.Send(fmt.Sprintf(msgConfirmNewUser, account.FormatUsername(sess.Str[regName])))
		sess.Int[regState] = loginConfirmWait
		return false

	case loginConfirmWait:
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "y", "yes":
			sess.Int[regTries] = 0
			sess.Int[regState] = loginNewPass
		default:
			sess.Int[regState] = loginStart
		}
		return true

	case loginNewPass:
		sess.Send(msgNewPassPrompt)
		sess.Int[regState] = loginNewPassWait
		return false

	case loginNewPassWait:
		sess.Str[regPass] = input
		sess.Send(msgReenterPrompt)
		sess.Int[regState] = loginVerify
		return false

	case loginVerify:
		if input == sess.Str[regPass] {
			sess.Int[regState] = loginCreate
			return true
		}
		sess.Int[regTries]++
		if sess.Int[regTries] >= s.Config.MaxRetries {
			sess.Send(msgTooMany)
			sess.Disconnect()
			return false
		}
		sess.Send(msgPassMismatch + msgReenterPrompt)
		return false

	case loginCreate:
		_, err := s.Accounts.Create(s.ctx, sess.Str[regName], sess.Str[regPass], s.Config.StartRoom)
		if err == nil {
			s.Metrics.accountsCreated.Inc()
			sess.Account, err = s.Accounts.Login(s.ctx, sess.Str[regName], sess.Str[regPass])
		}
		if err != nil {
			log.Printf("[%d] ERROR: create user %s: %v", sess.ID, sess.Str[regName], err)
			sess.Send(msgCreateFailed)
			sess.Int[regState] = loginStart
			return true
		}
		log.Printf("[%d] Created new user %s", sess.ID, sess.Account.Name)
		sess.Int[regState] = loginDone
		return true

	case loginDone:
		sess.ClearScratch()
		sess.LastInput = ""
		sess.Name = sess.Account.Name
		sess.SetMode(ModeGameplay)
		return false
	}

	log.Printf("[%d] WARNING: unknown login state %d, restarting", sess.ID, sess.Int[regState])
	sess.Int[regState] = loginStart
	return true
}
