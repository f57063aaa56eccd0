/*
Usage:

	go run ./cmd/rcvd --candidates=Alice,Bob,Charlie --duration=10m --data=./ballots
	go run ./cmd/rcvd --config=election.json --addr=0.0.0.0:9981
	go run ./cmd/rcvd --config=election.json --tls-cert=tally.pem --tls-key=tally.key --tls-client-cas=voters-ca.pem
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danl5/gorcv"
	"github.com/danl5/gorcv/pkg/config"
	"github.com/danl5/gorcv/pkg/log"
	"github.com/danl5/gorcv/pkg/model"
	"github.com/danl5/gorcv/pkg/transport/rpc"
)

var (
	// listenAddress is the address the tally server listens on
	listenAddress = flag.String("addr", "127.0.0.1:9981", "listen address")
	// configPath is an optional JSON election config
	configPath = flag.String("config", "", "election config file")

	candidates = flag.String("candidates", "", "candidate names separated by comma, overrides the config")
	duration   = flag.Duration("duration", 0, "voting period starting now, overrides the config deadline")
	dataDir    = flag.String("data", "", "ballot journal directory, overrides the config")
	tieBreak   = flag.String("tie-break", "", "elimination tie-break: lowest_index or highest_index")
	admins     = flag.String("admins", "", "callers allowed to run the tally separated by comma")
	logLevel   = flag.String("log-level", "info", "log level: debug, info, warn or error")

	tlsCert = flag.String("tls-cert", "", "server certificate, serves TLS together with --tls-key")
	tlsKey  = flag.String("tls-key", "", "server private key")
	tlsCAs  = flag.String("tls-client-cas", "", "CA files verifying client certificates separated by comma, any client when empty")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := log.New(os.Stderr, *logLevel)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e, err := gorcv.NewElection(cfg, logger, gorcv.WithCallBacks(&gorcv.StateCallBacks{
		EnterClosed:  announce(logger),
		EnterDecided: announce(logger),
	}))
	if err != nil {
		return fmt.Errorf("create election: %w", err)
	}
	defer e.Close()

	rpcTransport, err := rpc.NewRPC(logger)
	if err != nil {
		return err
	}
	if err := e.Serve(rpcTransport, *listenAddress, transportConfig()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ctrlc:
			logger.Info("shutting down")
			return nil
		case err := <-e.Errors():
			logger.Warn("state callback error", "error", err.Error())
		}
	}
}

// loadConfig reads the config file when given and applies the flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg, err = config.Parse(raw)
		if err != nil {
			return nil, err
		}
	}

	if *candidates != "" {
		cfg.Candidates = splitList(*candidates)
	}
	if *duration > 0 {
		cfg.Deadline = time.Now().UTC().Add(*duration)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *tieBreak != "" {
		cfg.TieBreak = config.TieBreak(*tieBreak)
	}
	if *admins != "" {
		cfg.Admins = splitList(*admins)
	}

	return cfg, cfg.Validate()
}

// transportConfig builds the server side of the rpc transport from the TLS flags.
func transportConfig() *rpc.Config {
	cfg := &rpc.Config{
		ServerCert: *tlsCert,
		ServerKey:  *tlsKey,
		ServerCAs:  splitList(*tlsCAs),
	}
	cfg.ServerSkipVerify = cfg.ServerTLS() && len(cfg.ServerCAs) == 0
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func announce(logger *slog.Logger) gorcv.StateHandler {
	return func(_ context.Context, st model.StateTransition) error {
		logger.Info("election entered state", "state", st.State.String(), "from", st.SrcState.String())
		return nil
	}
}
