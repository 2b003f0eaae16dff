// Package config assembles the small set of settings cmd/crystald needs to
// open a project and start serving it: where the project lives, what host
// and port to bind, and the ambient logging/event-bus settings. Environment
// variables are decoded with joeshaw/envdecode, the same library the
// teacher's services use for their Postgres connection settings; command
// line flags, parsed separately, take precedence over the environment so a
// developer can override a deployed default for one run.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the replay server's default bind port, tried first before
// falling back to the next free port, per spec.md §6.
const DefaultPort = 2797

// Config is the fully resolved configuration for one crystald process.
type Config struct {
	ProjectPath string `env:"CRYSTAL_PROJECT_PATH,optional" description:"path to the .crystalproj directory to open"`
	Host        string `env:"CRYSTAL_HOST,optional" description:"host to bind the replay server to, default 127.0.0.1"`
	Port        int    `env:"CRYSTAL_PORT,optional" description:"port to bind the replay server to, default 2797"`
	ReadOnly    bool   `env:"CRYSTAL_READONLY,optional" description:"force the project open read-only"`
	LogLevel    string `env:"CRYSTAL_LOG_LEVEL,optional" description:"logrus level name, default info"`
	UserAgent   string `env:"CRYSTAL_USER_AGENT,optional" description:"User-Agent header sent by the downloader"`

	// KafkaBrokers, if non-empty, enables the archive event bus.
	KafkaBrokers []string `env:"CRYSTAL_KAFKA_BROKERS,optional" description:"comma-separated Kafka broker addresses"`
	KafkaTopic   string   `env:"CRYSTAL_KAFKA_TOPIC,optional" description:"Kafka topic for archive events"`
}

// defaults fills in every field FromEnv left at its zero value, matching
// the teacher's "optional env, code-level default" convention.
func (c *Config) defaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UserAgent == "" {
		c.UserAgent = "Crystal/1.0 (+web archiver)"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "crystal.archive.events"
	}
}

// FromEnv decodes a Config from the process environment and applies
// defaults for anything left unset.
func FromEnv() (*Config, error) {
	var c Config
	if err := envdecode.Decode(&c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("cannot decode configuration from environment: %w", err)
	}
	c.defaults()
	return &c, nil
}

// ParseFlags parses the CLI surface described in spec.md §6
// (`crystal [--serve] [--host H] [--port P] [--readonly] [<project-path>]`)
// into cfg, overriding whatever FromEnv already populated. args excludes
// the program name, matching flag.FlagSet.Parse's convention.
func (c *Config) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("crystal", flag.ContinueOnError)
	host := fs.String("host", c.Host, "host to bind the replay server to")
	port := fs.Int("port", c.Port, "port to bind the replay server to")
	readonly := fs.Bool("readonly", c.ReadOnly, "force the project open read-only")
	fs.Bool("serve", true, "start the replay server (always on; kept for CLI compatibility)")
	fs.Bool("shell", false, "start an interactive shell instead of serving (not implemented)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Host = *host
	c.Port = *port
	c.ReadOnly = *readonly
	if fs.NArg() > 0 {
		c.ProjectPath = fs.Arg(0)
	}
	return nil
}

// LogLevelValue parses LogLevel into a logrus.Level, defaulting to Info on
// an unrecognized name.
func (c *Config) LogLevelValue() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// BindAddress returns host:port suitable for net.Listen.
func (c *Config) BindAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
