package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-txdb/pkg/controller"
	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
	"github.com/dd0wney/cluso-txdb/pkg/metrics"
	"github.com/dd0wney/cluso-txdb/pkg/transport"
)

// fileConfig is the on-disk configuration shape
type fileConfig struct {
	// LocalAddress is this controller's own address, exempt from failure
	// detection
	LocalAddress string            `yaml:"local_address"`
	MetricsAddr  string            `yaml:"metrics_addr"`
	Controller   controller.Config `yaml:"controller"`
	Transport    transport.Config  `yaml:"transport"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		LocalAddress: "tcp://127.0.0.1:4500",
		MetricsAddr:  ":9620",
		Controller:   controller.DefaultConfig(),
		Transport:    transport.DefaultConfig(),
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// localStatusFetcher summarizes what the controller itself knows. The
// full aggregator lives with the status subsystem; this keeps the status
// endpoint useful in a standalone deployment.
func localStatusFetcher(ctx context.Context, workers []controller.WorkerDetails, clientIssues, workerIssues map[string]string, incompatiblePeers []string) (controller.StatusReply, error) {
	summary := map[string]any{
		"workers":            len(workers),
		"client_issues":      clientIssues,
		"worker_issues":      workerIssues,
		"incompatible_peers": incompatiblePeers,
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return controller.StatusReply{}, err
	}
	return controller.StatusReply{Data: data}, nil
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.NewDefaultLogger()
	registry := metrics.NewRegistry()
	factory := transport.NewFactory()

	cc, err := controller.New(cfg.Controller, cfg.LocalAddress, controller.Dependencies{
		Logger:        logger,
		Metrics:       registry,
		Dialer:        controller.NewTransportDialer(factory, cfg.Controller.WorkerFailureTime),
		Store:         coordkv.NewMemStore(),
		StatusFetcher: localStatusFetcher,
	})
	if err != nil {
		log.Fatalf("Failed to create cluster controller: %v", err)
	}

	server := controller.NewServer(cc, factory, cfg.Transport, logger)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start RPC server: %v", err)
	}
	cc.SetBroadcaster(server.BroadcastCoordinationPing)

	cc.Start()
	log.Printf("Cluster controller %s running", cc.ID())

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("Metrics listener failed: %v", err)
		}
	}()
	log.Printf("Metrics on %s/metrics", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down")
	server.Stop()
	cc.Stop()
	if err := cc.Err(); err != nil {
		log.Fatalf("Cluster controller ended with error: %v", err)
	}
}
