package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/archive"
	"github.com/jastadj/sfmlmud2/pkg/boltstore"
	"github.com/jastadj/sfmlmud2/pkg/server"
	"github.com/jastadj/sfmlmud2/pkg/sqlstore"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func envList(envVar string) []string {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// gameStore is what both storage backends provide.
type gameStore interface {
	account.Store
	world.Store
	AccountCount(ctx context.Context) (int, error)
	Close() error
}

func main() {
	flags := pflag.NewFlagSet("sfmlmud", pflag.ExitOnError)
	confFile := flags.String("conf", envDefault("MUD_CONF", ""), "Path to YAML config file (env: MUD_CONF)")
	port := flags.Int("port", 0, "TCP port to listen on, overrides config (env: MUD_PORT)")
	storage := flags.String("storage", envDefault("MUD_STORAGE", ""), "Storage backend, sqlite or bolt (env: MUD_STORAGE)")
	dbPath := flags.String("db", envDefault("MUD_DB", ""), "Path to SQLite database (env: MUD_DB)")
	boltPath := flags.String("bolt", envDefault("MUD_BOLT", ""), "Path to bbolt database (env: MUD_BOLT)")
	welcome := flags.String("welcome", envDefault("MUD_WELCOME", ""), "Path to welcome banner (env: MUD_WELCOME)")
	aliasConf := flags.StringSlice("aliasconf", envList("MUD_ALIASCONF"), "Alias config file(s), comma-separated (env: MUD_ALIASCONF)")
	web := flags.Bool("web", os.Getenv("MUD_WEB") == "true", "Enable the HTTP/WebSocket gateway (env: MUD_WEB)")
	restore := flags.String("restore", envDefault("MUD_RESTORE", ""), "Restore from archive before boot (env: MUD_RESTORE)")
	flags.Parse(os.Args[1:])

	log.Printf("Welcome to %s", server.VersionString())

	if *port == 0 {
		if envPort := os.Getenv("MUD_PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil {
				*port = p
			}
		}
	}

	cfg := server.DefaultConfig()
	if *confFile != "" {
		var err error
		if cfg, err = server.LoadConfig(*confFile); err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		log.Printf("Loaded config from %s", *confFile)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *storage != "" {
		cfg.Storage = *storage
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *boltPath != "" {
		cfg.BoltPath = *boltPath
	}
	if *welcome != "" {
		cfg.WelcomeFile = *welcome
	}
	if len(*aliasConf) > 0 {
		cfg.AliasFiles = *aliasConf
	}
	if *web {
		cfg.WebEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *restore != "" {
		restoreArchive(cfg, *restore, *confFile)
	}

	store, snapshot, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}

	ctx := context.Background()
	w := world.New(store)
	loaded, mismatches, err := w.Load(ctx)
	if err != nil {
		log.Fatalf("Error loading rooms: %v", err)
	}
	if mismatches > 0 {
		log.Printf("WARNING: %d room(s) loaded with a different id than stored", mismatches)
	}
	log.Printf("Loaded %d room(s) in %d zone(s)", loaded, len(w.Zones()))
	if loaded == 0 && cfg.SeedWorld {
		if err := w.Seed(ctx); err != nil {
			log.Fatalf("Error seeding world: %v", err)
		}
		log.Printf("Seeded empty world with zone %s", world.SeedZone)
	}

	accounts := account.NewManager(store)
	if cfg.CreateTestUser {
		createTestAccount(ctx, accounts, cfg.StartRoom)
	}
	if n, err := store.AccountCount(ctx); err != nil {
		log.Printf("WARNING: %v", err)
	} else {
		log.Printf("Store holds %d account(s)", n)
	}

	srv := server.NewServer(cfg, w, accounts)
	if len(cfg.AliasFiles) > 0 {
		ac, err := server.LoadAliasConfig(cfg.AliasFiles...)
		if err != nil {
			log.Printf("WARNING: alias config: %v", err)
		} else {
			srv.ApplyAliasConfig(ac)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ArchiveInterval > 0 {
		go archive.Run(ctx, time.Duration(cfg.ArchiveInterval)*time.Minute, cfg.ArchiveRetain, func() archive.Params {
			return archive.Params{
				Dir:      cfg.ArchiveDir,
				Snapshot: snapshot,
				DataName: filepath.Base(dataPath(cfg)),
				Storage:  cfg.Storage,
				Text:     []string{cfg.WelcomeFile},
				Conf:     append([]string{*confFile}, cfg.AliasFiles...),
				MudName:  cfg.MudName,
				Rooms:    w.RoomCount(),
			}
		})
		log.Printf("Auto-archive enabled: every %d minutes, retain %d, dir %s",
			cfg.ArchiveInterval, cfg.ArchiveRetain, cfg.ArchiveDir)
	}

	log.Printf("Starting %s on port %d...", cfg.MudName, cfg.Port)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	if cp, ok := store.(interface{ Checkpoint(context.Context) error }); ok {
		if err := cp.Checkpoint(context.Background()); err != nil {
			log.Printf("WARNING: checkpoint: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Printf("WARNING: closing database: %v", err)
	}
}

func dataPath(cfg *server.Config) string {
	if cfg.Storage == "bolt" {
		return cfg.BoltPath
	}
	return cfg.DBPath
}

// openStore opens the configured backend and returns it with a function
// that writes a consistent copy of it for archives.
func openStore(cfg *server.Config) (gameStore, func(dst string) error, error) {
	switch cfg.Storage {
	case "bolt":
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using bbolt database %s", s.Path())
		return s, s.Backup, nil
	case "sqlite":
		s, err := sqlstore.Open(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using SQLite database %s", s.Path())
		snap := func(dst string) error { return s.Snapshot(context.Background(), dst) }
		return s, snap, nil
	}
	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func restoreArchive(cfg *server.Config, path, confFile string) {
	log.Printf("Restoring from archive: %s", path)
	p := archive.RestoreParams{
		Archive:  path,
		Storage:  cfg.Storage,
		DataDest: dataPath(cfg),
	}
	if cfg.WelcomeFile != "" {
		p.TextDir = filepath.Dir(cfg.WelcomeFile)
	}
	if confFile != "" {
		p.ConfDir = filepath.Dir(confFile)
	}
	res, err := archive.Restore(p)
	if err != nil {
		log.Fatalf("Restore failed: %v", err)
	}
	log.Printf("Restore complete: %d file(s) from %s", res.Restored, res.Manifest.Timestamp)
	for _, w := range res.Warnings {
		log.Printf("Restore warning: %s", w)
	}
}

// createTestAccount adds the test/test account if it is missing.
func createTestAccount(ctx context.Context, accounts *account.Manager, room int) {
	_, err := accounts.Create(ctx, "test", "test", room)
	switch {
	case err == nil:
		log.Printf("Created test account")
	case errors.Is(err, account.ErrExists):
	default:
		log.Printf("WARNING: creating test account: %v", err)
	}
}
