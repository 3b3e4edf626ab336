package common

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// DispatcherConfig configures the dispatcher. Nodes is the ordered node list
// and is required. CallTimeout bounds every node call during a phase.
// LockBackend is memory, redis or badger.
type DispatcherConfig struct {
	Address       string            `json:"address"`
	Nodes         []string          `json:"nodes"`
	CallTimeout   Duration          `json:"call_timeout"`
	LockTTL       Duration          `json:"lock_ttl"`
	LockBackend   string            `json:"lock_backend"`
	RedisAddress  string            `json:"redis_address"`
	BadgerDir     string            `json:"badger_dir"`
	MaxUploadSize datasize.ByteSize `json:"max_upload_size"`
}

// NodeConfig configures a replica node. Peers are the nodes a request without
// a mode is replicated to. PendingTTL is how long a proposed transaction waits
// for its commit. LockBackend guards those requests with path locks and is
// none, memory, redis or badger.
type NodeConfig struct {
	Address       string            `json:"address"`
	StorageRoot   string            `json:"storage_root"`
	Peers         []string          `json:"peers"`
	CallTimeout   Duration          `json:"call_timeout"`
	PendingTTL    Duration          `json:"pending_ttl"`
	MaxUploadSize datasize.ByteSize `json:"max_upload_size"`
	LockBackend   string            `json:"lock_backend"`
	LockTTL       Duration          `json:"lock_ttl"`
	RedisAddress  string            `json:"redis_address"`
	BadgerDir     string            `json:"badger_dir"`
}

type ClientConfig struct {
	DispatcherAddress string
	Timeout           time.Duration
}

// Default configurations
var (
	DefaultDispatcherConfig = DispatcherConfig{
		Address:       "localhost:8080",
		CallTimeout:   Duration(10 * time.Second),
		LockTTL:       Duration(60 * time.Second),
		LockBackend:   "memory",
		RedisAddress:  "localhost:6379",
		BadgerDir:     "/tmp/quorumfs-locks",
		MaxUploadSize: 64 * datasize.MB,
	}

	DefaultNodeConfig = NodeConfig{
		Address:       "localhost:8081",
		StorageRoot:   "/tmp/quorumfs",
		CallTimeout:   Duration(10 * time.Second),
		PendingTTL:    Duration(5 * time.Minute),
		MaxUploadSize: 64 * datasize.MB,
		LockBackend:   "none",
		LockTTL:       Duration(60 * time.Second),
		RedisAddress:  "localhost:6379",
		BadgerDir:     "/tmp/quorumfs-node-locks",
	}

	DefaultClientConfig = ClientConfig{
		DispatcherAddress: "localhost:8080",
		Timeout:           30 * time.Second,
	}
)

// Duration is a time.Duration that reads and writes as "10s" in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LoadDispatcherConfig reads a JSON config file on top of the defaults
func LoadDispatcherConfig(path string) (DispatcherConfig, error) {
	config := DefaultDispatcherConfig
	if err := readConfigFile(path, &config); err != nil {
		return config, err
	}
	return config, nil
}

// LoadNodeConfig reads a JSON config file on top of the defaults
func LoadNodeConfig(path string) (NodeConfig, error) {
	config := DefaultNodeConfig
	if err := readConfigFile(path, &config); err != nil {
		return config, err
	}
	return config, nil
}

func readConfigFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate fails fast on settings the dispatcher cannot run with
func (c DispatcherConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", time.Duration(c.CallTimeout))
	}
	if c.LockTTL < Duration(time.Second) {
		return fmt.Errorf("lock ttl must be at least 1s, got %s", time.Duration(c.LockTTL))
	}
	switch c.LockBackend {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
	return nil
}

// Validate fails fast on settings a node cannot run with
func (c NodeConfig) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", time.Duration(c.CallTimeout))
	}
	// go-cache keeps entries forever without a positive expiration
	if c.PendingTTL <= 0 {
		return fmt.Errorf("pending ttl must be positive, got %s", time.Duration(c.PendingTTL))
	}
	switch c.LockBackend {
	case "", "none":
	case "memory", "redis", "badger":
		if c.LockTTL < Duration(time.Second) {
			return fmt.Errorf("lock ttl must be at least 1s, got %s", time.Duration(c.LockTTL))
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
	return nil
}

// SplitList splits a comma separated flag value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
