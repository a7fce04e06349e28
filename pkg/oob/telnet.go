// Package oob handles the telnet side channel of a MUD connection: it
// filters IAC sequences out of the input stream, answers option
// negotiation, and serves MSSP (MUD Server Status Protocol) to crawlers.
package oob

// Telnet protocol constants.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	SE   byte = 240 // Subnegotiation End
	NOP  byte = 241

	TeloptEcho byte = 1
	TeloptMSSP byte = 70 // MSSP option number
)

// MSSP subnegotiation type bytes.
const (
	MSSPVar byte = 1 // variable name follows
	MSSPVal byte = 2 // variable value follows
)
