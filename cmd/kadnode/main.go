// Command kadnode runs one DHT node as a standalone UDP process. It loads
// its configuration from the environment (.env supported), binds a real
// UDP socket, and either waits for inbound connections as a bootstrap
// node or joins an existing network via -bootstrap, mirroring the
// genesis/join split of a conventional Kademlia launcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kademlia-core/kadnode/kademliacfg"
	"github.com/kademlia-core/kadnode/node"
	"github.com/kademlia-core/kadnode/transport"
	"github.com/sirupsen/logrus"
)

func main() {
	listenAddr := flag.String("listen", "", "UDP address to bind (overrides KADNODE_LISTEN_ADDR)")
	bootstrapAddr := flag.String("bootstrap", "", "host:port of an existing node to join through")
	logLevel := flag.String("log-level", "", "overrides KADNODE_LOG_LEVEL")
	flag.Parse()

	cfg, err := kademliacfg.LoadEnv(kademliacfg.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "kadnode: config error:", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "kadnode: invalid config:", err)
		os.Exit(1)
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.SetFormatter(&logrus.JSONFormatter{})

	tr, err := transport.NewUDPTransport(cfg.ListenAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to bind UDP transport")
	}

	n := node.New(cfg, tr, log)
	log.WithFields(logrus.Fields{"event": "startup", "id": n.Local.String(), "addr": tr.LocalAddr().String()}).Info("node initialized")

	n.Run()

	if *bootstrapAddr != "" {
		addr, err := parseAddr(*bootstrapAddr)
		if err != nil {
			log.WithError(err).Fatal("invalid bootstrap address")
		}
		log.WithFields(logrus.Fields{"event": "join", "bootstrap": addr.String()}).Info("joining network")
		if err := n.Bootstrap(context.Background(), addr); err != nil {
			log.WithError(err).Fatal("failed to join network")
		}
		log.Info("join complete")
	} else {
		log.Info("running as bootstrap node, waiting for peers")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	n.Close()
	tr.Close()
}

func parseAddr(s string) (transport.Addr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return transport.Addr{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return transport.Addr{}, fmt.Errorf("kadnode: invalid port in %q: %w", s, err)
	}
	return transport.Addr{Host: host, Port: port}, nil
}
