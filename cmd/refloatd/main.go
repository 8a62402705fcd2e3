// Command refloatd runs one node of a refloat cluster: it loads a YAML
// config, opens the node's on-disk log, wires up the Raft automaton and
// its HTTP transport, and serves both the peer protocol and a
// Prometheus /metrics endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cole-miller/refloat/config"
	"github.com/cole-miller/refloat/fsm"
	"github.com/cole-miller/refloat/raft"
	rafthttp "github.com/cole-miller/refloat/raft/http"
	"github.com/cole-miller/refloat/raftlog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "refloatd",
		Short: "Run a refloat consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "refloat.yaml", "path to node config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	return cmd
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "parse log level")
	}
	log.SetLevel(level)
	entry := log.WithField("node", cfg.Id)

	if cfg.MinimumElectionTimeoutMs > 0 {
		raft.MinimumElectionTimeoutMs = cfg.MinimumElectionTimeoutMs
	}

	store, err := raftlog.Open(cfg.DataDir)
	if err != nil {
		return errors.Wrap(err, "open log")
	}
	if err := store.Recover(); err != nil {
		return errors.Wrap(err, "recover log")
	}
	defer store.Close()

	register := fsm.NewRegister()
	reports := make(chan raft.ClientReport, 64)

	mux := http.NewServeMux()
	peers := make(raft.Peers, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers[p.Id] = rafthttp.NewPeer(p.Id, p.Address, nil)
	}

	env := raft.NewLiveEnvironment(cfg.Id, peers, store, register.Apply, func(r raft.ClientReport) {
		select {
		case reports <- r:
		default:
			entry.Warn("dropping client report: channel full")
		}
	}, func(err error, msg string) {
		raft.Fatal(entry, err, msg)
	})

	go func() {
		for r := range reports {
			switch r.Kind {
			case raft.BecameLeader:
				entry.Info("became leader")
			case raft.NotLeader:
				entry.WithField("tag", r.Tag).Debug("rejected submission: not leader")
			}
		}
	}()

	registry := prometheus.NewRegistry()
	server := raft.NewServer(env, entry, registry)
	server.Start()

	httpServer := rafthttp.NewServer(server)
	httpServer.Install(mux)

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	if cfg.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		go func() {
			entry.WithField("address", cfg.MetricsAddress).Info("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddress, metricsMux); err != nil {
				entry.WithError(err).Error("metrics listener exited")
			}
		}()
	} else {
		mux.Handle("/metrics", metricsHandler)
	}

	mux.HandleFunc("/fsm/get", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		v, ok := register.Get(key)
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(v))
	})

	entry.WithField("address", cfg.ListenAddress).Info("listening")
	return http.ListenAndServe(cfg.ListenAddress, mux)
}
