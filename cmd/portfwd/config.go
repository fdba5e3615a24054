package main

import (
	"flag"
	"fmt"
	"strconv"
)

// Config holds all runtime configuration derived from flags and the
// positional arguments.
type Config struct {
	LocalPort  int
	RemoteHost string
	RemotePort int
	AllowedIP  string // empty means allow all
	Verbose    bool

	MetricsAddr string
	MaxConns    int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

const usageText = `Usage: portfwd [flags] <local_port> <remote_host> <remote_port> [allowed_ip] [-v|--verbose]

Forwards TCP connections from the local port to the remote host:port.
If allowed_ip is given, only that exact source address is admitted.

Examples:
  portfwd 8080 192.168.1.100 80
  portfwd 8080 192.168.1.100 80 192.168.1.50
  portfwd 8080 192.168.1.100 80 192.168.1.50 -v

Flags:
`

// parseConfig registers flags on fs and parses args. The verbose switch is
// also accepted after the positional arguments, matching the traditional
// invocation.
func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics, health and dashboard listen address (empty disables)")
	fs.IntVar(&cfg.MaxConns, "max-conns", 100, "maximum simultaneous forwarded connections")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "redis address for shared live state (empty: in-memory)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose: log rejected connections")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "verbose: log rejected connections")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	pos := make([]string, 0, 4)
	for _, a := range fs.Args() {
		switch a {
		case "-v", "--verbose":
			cfg.Verbose = true
		default:
			pos = append(pos, a)
		}
	}
	if len(pos) < 3 || len(pos) > 4 {
		return cfg, fmt.Errorf("expected 3 or 4 positional arguments, got %d", len(pos))
	}
	var err error
	if cfg.LocalPort, err = parsePort(pos[0]); err != nil {
		return cfg, fmt.Errorf("local port: %w", err)
	}
	cfg.RemoteHost = pos[1]
	if cfg.RemotePort, err = parsePort(pos[2]); err != nil {
		return cfg, fmt.Errorf("remote port: %w", err)
	}
	if len(pos) == 4 {
		cfg.AllowedIP = pos[3]
	}
	if cfg.MaxConns <= 0 {
		return cfg, fmt.Errorf("max-conns must be positive, got %d", cfg.MaxConns)
	}
	return cfg, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}
