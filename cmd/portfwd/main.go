package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkarls/portfwd/internal/obs"
	"github.com/pkarls/portfwd/internal/relay"
	"github.com/pkarls/portfwd/internal/state"
)

func main() {
	fs := flag.NewFlagSet("portfwd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		fs.PrintDefaults()
	}
	cfg, err := parseConfig(fs, os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
			fs.Usage()
		}
		os.Exit(1)
	}
	if cfg.Verbose {
		obs.EnableVerbose(true)
	}

	allowed := cfg.AllowedIP
	if allowed == "" {
		allowed = "any"
	}
	obs.Info("portfwd.start", obs.Fields{
		"local_port": cfg.LocalPort,
		"remote":     net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)),
		"allowed_ip": allowed,
		"max_conns":  cfg.MaxConns,
		"verbose":    cfg.Verbose,
	})

	store, err := state.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("state.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go store.StartMaintenance(ctx)

	srv := relay.NewServer(relay.Config{
		ListenAddr: fmt.Sprintf(":%d", cfg.LocalPort),
		RemoteAddr: net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)),
		AllowedIP:  cfg.AllowedIP,
		MaxConns:   cfg.MaxConns,
	}, store)
	if err := srv.Listen(); err != nil {
		obs.Error("listen", obs.Fields{"port": cfg.LocalPort, "err": err.Error()})
		os.Exit(1)
	}
	if cfg.MetricsAddr != "" {
		go startMetricsServer(cfg.MetricsAddr, store)
	}
	store.SetReady(true)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case <-ctx.Done():
		// Restore default signal handling so a second interrupt during
		// the drain terminates immediately.
		stop()
		obs.Info("signal.received", obs.Fields{})
		srv.Shutdown()
	case err := <-errCh:
		if err != nil && !errors.Is(err, relay.ErrServerClosed) {
			obs.Error("serve", obs.Fields{"err": err.Error()})
			srv.Shutdown()
			os.Exit(1)
		}
	}
	obs.Info("portfwd.exit", obs.Fields{})
}
