// Package mempoolcfg loads and validates the mempool tracker's
// configuration, in the manner of this codebase's lncfg package:
// struct tags parsed by go-flags, with a small amount of
// normalization and validation layered on top.
package mempoolcfg

import (
	"fmt"
	"net"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// TargetProfile gates which capabilities the tracker advertises.
// Only "public" enables the spend index.
type TargetProfile string

const (
	ProfilePersonal TargetProfile = "personal"
	ProfilePublic   TargetProfile = "public"
)

const (
	defaultRPCPoolCount     = 4
	defaultRPCPoolSize      = 8
	defaultListenPort       = "8333"
	defaultLogLevel         = "info"
	defaultMaxLogFileSizeKB = 10 * 1024
	defaultMaxLogFiles      = 3
)

// NotificationEndpoints is the set of ZMQ endpoints the node
// publishes its three streams on.
type NotificationEndpoints struct {
	Sequence string `long:"sequence" description:"zmq endpoint for the sequence stream (bitcoind -zmqpubsequence)"`
	RawTx    string `long:"rawtx" description:"zmq endpoint for the raw transaction stream (bitcoind -zmqpubrawtx)"`
	RawBlock string `long:"rawblock" description:"zmq endpoint for the raw block stream (bitcoind -zmqpubrawblock)"`
}

// Config enumerates every tracker option: the RPC endpoint and
// credentials, the three ZMQ endpoints, the RPC pool sizing, the
// target profile, logging, the resync cadence, and the listen port
// for the downstream query API.
type Config struct {
	RPCEndpoint       string `long:"rpcendpoint" description:"host:port of the node's JSON-RPC server"`
	RPCUser           string `long:"rpcuser" description:"rpc username"`
	RPCPass           string `long:"rpcpass" description:"rpc password"`
	RPCCookiePath     string `long:"rpccookiepath" description:"path to the node's .cookie file, used instead of rpcuser/rpcpass when set"`
	RPCPoolCount      int    `long:"rpcpoolcount" description:"number of pooled rpc connections"`
	RPCPoolSize       int    `long:"rpcpoolsize" description:"requests per second allowed across the rpc pool"`
	Notifications     NotificationEndpoints
	TargetProfile     string `long:"profile" description:"personal or public" choice:"personal" choice:"public"`
	LogLevel          string `long:"loglevel" description:"subsystem log level"`
	LogDir            string `long:"logdir" description:"directory to write a rotating log file to; logging to stdout only if unset"`
	MaxLogFileSizeKB  int    `long:"maxlogfilesize" description:"maximum log file size in kilobytes before rotation"`
	MaxLogFiles       int    `long:"maxlogfiles" description:"number of rotated log files to retain"`
	ListenPort        string `long:"listenport" description:"port the downstream query api listens on"`
	ResyncInterval    string `long:"resyncinterval" description:"how often to re-run the reconciler, e.g. 10m"`
}

// DefaultConfig returns a Config populated with the same defaults
// cmd/mempoold falls back to before applying flags/config file
// overrides.
func DefaultConfig() *Config {
	return &Config{
		RPCPoolCount:     defaultRPCPoolCount,
		RPCPoolSize:      defaultRPCPoolSize,
		TargetProfile:    string(ProfilePersonal),
		LogLevel:         defaultLogLevel,
		MaxLogFileSizeKB: defaultMaxLogFileSizeKB,
		MaxLogFiles:      defaultMaxLogFiles,
		ListenPort:       defaultListenPort,
		ResyncInterval:   "10m",
	}
}

// Load parses command-line arguments into a Config seeded with
// defaults, in the manner of cmd/lnd's main.go.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the combination of options for internal
// consistency: an unrecognized profile, a missing RPC endpoint, or a
// listen port that doesn't parse as one are all rejected here rather
// than surfacing as a confusing runtime failure.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("rpcendpoint is required")
	}

	switch TargetProfile(c.TargetProfile) {
	case ProfilePersonal, ProfilePublic:
	default:
		return fmt.Errorf("unrecognized target profile %q", c.TargetProfile)
	}

	if _, err := net.LookupPort("tcp", c.ListenPort); err != nil {
		return fmt.Errorf("invalid listen port %q: %v", c.ListenPort, err)
	}

	if c.RPCPoolCount <= 0 {
		return fmt.Errorf("rpcpoolcount must be positive")
	}
	if c.RPCPoolSize <= 0 {
		return fmt.Errorf("rpcpoolsize must be positive")
	}

	if _, err := time.ParseDuration(c.ResyncInterval); err != nil {
		return fmt.Errorf("invalid resyncinterval %q: %v", c.ResyncInterval, err)
	}

	return nil
}

// ResyncPeriod parses ResyncInterval, already validated by Validate.
func (c *Config) ResyncPeriod() time.Duration {
	d, _ := time.ParseDuration(c.ResyncInterval)
	return d
}

// Profile returns the parsed, validated target profile.
func (c *Config) Profile() TargetProfile {
	return TargetProfile(c.TargetProfile)
}

// ListenAddr normalizes the configured listen port into a bindable
// TCP address. A bare port is bound on localhost only.
func (c *Config) ListenAddr() (net.Addr, error) {
	addrs, err := NormalizeAddresses(
		[]string{c.ListenPort}, defaultListenPort, resolveTCP,
	)
	if err != nil {
		return nil, err
	}
	return addrs[0], nil
}
