// Package config loads the per-process YAML configuration files.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig wraps every configuration failure so callers can treat
// them uniformly as fatal startup errors.
var ErrInvalidConfig = errors.New("invalid configuration")

// Endpoint is a host:port pair used for both listen and connect addresses.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) validate(name string) error {
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidConfig, name, e.Port)
	}
	return nil
}

// Duration parses YAML values like "1s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidConfig, s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Scheduler configures the skiff-scheduler process.
type Scheduler struct {
	GRPC Endpoint `yaml:"grpc"` // NodeService + InstanceService listen address
	Ops  Endpoint `yaml:"ops"`  // health + metrics HTTP listen address

	// AgentPort is the port every node agent's instance service listens
	// on; the host part comes from the registration's source address.
	AgentPort int `yaml:"agent_port"`

	// EnrollSecret, when set, makes Register validate node credentials as
	// HS256 enrollment tokens. Empty means opaque-credential mode.
	EnrollSecret string `yaml:"enroll_secret"`

	// HeartbeatTimeout evicts nodes whose last status report is older
	// than this. Zero disables eviction.
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`

	Log Log `yaml:"log"`
}

// Agent configures the skiff-agent process.
type Agent struct {
	Server Endpoint `yaml:"server"` // instance service listen address
	Client Endpoint `yaml:"client"` // scheduler NodeService address

	Certificate string `yaml:"certificate"` // opaque node credential

	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	RetryDelay        Duration `yaml:"retry_delay"`
	RetryAttempts     uint64   `yaml:"retry_attempts"` // total attempts, not retries

	// DiskPath is the mount point whose capacity the agent reports.
	DiskPath string `yaml:"disk_path"`

	Log Log `yaml:"log"`
}

// Controller configures the skiff-controller process.
type Controller struct {
	Listen    Endpoint `yaml:"listen"`    // REST API listen address
	Scheduler Endpoint `yaml:"scheduler"` // scheduler InstanceService address

	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	EnrollSecret  string   `yaml:"enroll_secret"`

	Log Log `yaml:"log"`
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// LoadScheduler reads and validates a scheduler config file.
func LoadScheduler(path string) (*Scheduler, error) {
	cfg := &Scheduler{
		GRPC:      Endpoint{Host: "0.0.0.0", Port: 50051},
		Ops:       Endpoint{Host: "0.0.0.0", Port: 8080},
		AgentPort: 50053,
		Log:       Log{Level: "info", Format: "text"},
	}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.GRPC.validate("grpc"); err != nil {
		return nil, err
	}
	if err := cfg.Ops.validate("ops"); err != nil {
		return nil, err
	}
	if cfg.AgentPort <= 0 || cfg.AgentPort > 65535 {
		return nil, fmt.Errorf("%w: agent_port %d out of range", ErrInvalidConfig, cfg.AgentPort)
	}
	return cfg, nil
}

// LoadAgent reads and validates a node agent config file.
func LoadAgent(path string) (*Agent, error) {
	cfg := &Agent{
		Server:            Endpoint{Host: "0.0.0.0", Port: 50053},
		Client:            Endpoint{Host: "127.0.0.1", Port: 50051},
		HeartbeatInterval: Duration(time.Second),
		RetryDelay:        Duration(time.Second),
		RetryAttempts:     11,
		DiskPath:          "/",
		Log:               Log{Level: "info", Format: "text"},
	}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Server.validate("server"); err != nil {
		return nil, err
	}
	if err := cfg.Client.validate("client"); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts == 0 {
		return nil, fmt.Errorf("%w: retry_attempts must be at least 1", ErrInvalidConfig)
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidConfig)
	}
	return cfg, nil
}

// LoadController reads and validates an API controller config file.
func LoadController(path string) (*Controller, error) {
	cfg := &Controller{
		Listen:    Endpoint{Host: "0.0.0.0", Port: 3000},
		Scheduler: Endpoint{Host: "127.0.0.1", Port: 50051},
		Log:       Log{Level: "info", Format: "text"},
	}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Listen.validate("listen"); err != nil {
		return nil, err
	}
	if err := cfg.Scheduler.validate("scheduler"); err != nil {
		return nil, err
	}
	return cfg, nil
}
