package server

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
)

// AliasEntry is one "alias <token> <verb> [args...]" line.
type AliasEntry struct {
	Token string
	Verb  string
	Args  string
}

// AliasConfig holds parsed alias configuration files.
type AliasConfig struct {
	Aliases  []AliasEntry
	BadNames []string // forbidden player names
}

// LoadAliasConfig parses one or more alias config files and merges them.
func LoadAliasConfig(paths ...string) (*AliasConfig, error) {
	ac := &AliasConfig{}
	for _, path := range paths {
		if err := ac.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return ac, nil
}

func (ac *AliasConfig) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "alias":
			if len(fields) < 3 {
				log.Printf("aliasconf: %s:%d: alias needs a token and a verb", path, lineNo)
				continue
			}
			ac.Aliases = append(ac.Aliases, AliasEntry{
				Token: strings.ToLower(fields[1]),
				Verb:  strings.ToLower(fields[2]),
				Args:  strings.Join(fields[3:], " "),
			})
		case "badname":
			if len(fields) < 2 {
				log.Printf("aliasconf: %s:%d: badname needs a name", path, lineNo)
				continue
			}
			ac.BadNames = append(ac.BadNames, strings.ToLower(fields[1]))
		default:
			log.Printf("aliasconf: %s:%d: unknown directive %q", path, lineNo, fields[0])
		}
	}
	return scanner.Err()
}

// ApplyAliasConfig registers the configured aliases and banned names.
// Entries that fail to register are logged and skipped.
func (s *Server) ApplyAliasConfig(ac *AliasConfig) int {
	applied := 0
	for _, e := range ac.Aliases {
		if !s.Commands.IsCommand(e.Verb) {
			log.Printf("aliasconf: alias %q names unknown verb %q, skipped", e.Token, e.Verb)
			continue
		}
		if err := s.Commands.AddAlias(e.Token, e.Verb, e.Args); err != nil {
			continue
		}
		applied++
	}
	for _, name := range ac.BadNames {
		s.badNames[name] = true
	}
	log.Printf("aliasconf: applied %d of %d aliases, %d bad names", applied, len(ac.Aliases), len(ac.BadNames))
	return applied
}
