package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration loaded from a YAML file and
// overridden by command-line flags.
type Config struct {
	MudName string `yaml:"mud_name"`
	Port    int    `yaml:"port"`

	Storage      string `yaml:"storage"` // "sqlite" or "bolt"
	DBPath       string `yaml:"db_path"`
	BoltPath     string `yaml:"bolt_path"`
	QueryTimeout int    `yaml:"query_timeout_sec"`

	WelcomeFile string   `yaml:"welcome_file"`
	WatchText   bool     `yaml:"watch_text"`
	AliasFiles  []string `yaml:"alias_files"`

	MaxInput        int  `yaml:"max_input"`
	WriteTimeoutSec int  `yaml:"write_timeout_sec"`
	MaxRetries      int  `yaml:"max_retries"`
	StartRoom       int  `yaml:"start_room"`
	CreateTestUser  bool `yaml:"create_test_account"`
	SeedWorld       bool `yaml:"seed_world"`

	WebEnabled     bool     `yaml:"web_enabled"`
	WebHost        string   `yaml:"web_host"`
	WebPort        int      `yaml:"web_port"`
	JWTSecret      string   `yaml:"jwt_secret"`
	JWTExpiryHours int      `yaml:"jwt_expiry_hours"`
	WebRateLimit   int      `yaml:"web_rate_limit"`
	CORSOrigins    []string `yaml:"cors_origins"`

	ArchiveDir      string `yaml:"archive_dir"`
	ArchiveInterval int    `yaml:"archive_interval_min"` // 0 disables
	ArchiveRetain   int    `yaml:"archive_retain"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MudName:         "sfmlmud",
		Port:            1212,
		Storage:         "sqlite",
		DBPath:          "mud.db",
		BoltPath:        "mud.bolt",
		QueryTimeout:    5,
		WelcomeFile:     "welcome.txt",
		MaxInput:        1024,
		WriteTimeoutSec: 5,
		MaxRetries:      3,
		StartRoom:       1,
		CreateTestUser:  true,
		SeedWorld:       true,
		WebPort:         8080,
		JWTExpiryHours:  24,
		WebRateLimit:    60,
		ArchiveDir:      "archives",
		ArchiveRetain:   10,
	}
}

// LoadConfig reads a YAML config file over the defaults. Relative
// welcome_file and alias_files paths are resolved against the file's
// directory.
func LoadConfig(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config %s: unsupported format (want .yaml)", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	if c.WelcomeFile != "" && !filepath.IsAbs(c.WelcomeFile) {
		c.WelcomeFile = filepath.Join(baseDir, c.WelcomeFile)
	}
	if c.ArchiveDir != "" && !filepath.IsAbs(c.ArchiveDir) {
		c.ArchiveDir = filepath.Join(baseDir, c.ArchiveDir)
	}
	for i, af := range c.AliasFiles {
		if !filepath.IsAbs(af) {
			c.AliasFiles[i] = filepath.Join(baseDir, af)
		}
	}
	return c, c.Validate()
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Storage {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	if c.MaxInput <= 0 {
		return fmt.Errorf("config: max_input must be positive")
	}
	if c.ArchiveInterval < 0 {
		return fmt.Errorf("config: archive_interval_min must not be negative")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("config: max_retries must be positive")
	}
	return nil
}
